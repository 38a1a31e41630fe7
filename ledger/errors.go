package ledger

import "fmt"

// InvariantError reports an event that would break the ledger chain:
// a token id mismatch, a non-monotonic append, or a decrease against an
// empty position.
type InvariantError struct {
	Reason string
}

func (e *InvariantError) Error() string {
	return "ledger invariant violated: " + e.Reason
}

func invariantf(format string, args ...any) *InvariantError {
	return &InvariantError{Reason: fmt.Sprintf(format, args...)}
}
