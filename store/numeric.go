package store

import (
	"fmt"
	"math/big"

	"github.com/0xNedAlbo/midcurve-services/model"
)

// bigFromText converts a nullable NUMERIC::text column into a BigInt.
func bigFromText(s *string) (*model.BigInt, error) {
	if s == nil {
		return nil, nil
	}
	return model.BigIntFromString(*s)
}

// mustBigFromText converts a NOT NULL NUMERIC::text column.
func mustBigFromText(s string) (*model.BigInt, error) {
	b, err := model.BigIntFromString(s)
	if err != nil {
		return nil, fmt.Errorf("corrupt numeric column: %w", err)
	}
	return b, nil
}

// textFromBig renders a BigInt for a nullable NUMERIC parameter.
func textFromBig(b *model.BigInt) *string {
	if b == nil {
		return nil
	}
	s := b.String()
	return &s
}

// textFromBigOrZero renders a BigInt for a NOT NULL NUMERIC parameter.
func textFromBigOrZero(b *model.BigInt) string {
	if b == nil {
		return "0"
	}
	return b.String()
}

// bigIntText renders a bare big.Int for a NUMERIC parameter.
func bigIntText(b *big.Int) string {
	if b == nil {
		return "0"
	}
	return b.String()
}
