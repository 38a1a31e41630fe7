package model

import "errors"

// ErrNotFound reports an absent position, pool, token, or sample row.
var ErrNotFound = errors.New("not found")
