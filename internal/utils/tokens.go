package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const CodeLength = 6

var codeSpace = big.NewInt(1_000_000)

// NewNumericCode returns a zero-padded six digit code.
func NewNumericCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

// IsNumericCode checks shape only: exactly six ASCII digits.
func IsNumericCode(s string) bool {
	if len(s) != CodeLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
