package utils

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode"
)

const MinPasswordLength = 8

var (
	ErrWeakPassword = errors.New("password does not meet policy")
	ErrBadEmail     = errors.New("malformed email")
)

// CheckPasswordPolicy: длина ≥ 8, хотя бы одна заглавная, одна строчная, одна цифра.
func CheckPasswordPolicy(pw string) error {
	if len([]rune(pw)) < MinPasswordLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrWeakPassword, MinPasswordLength)
	}
	var upper, lower, digit bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	switch {
	case !upper:
		return fmt.Errorf("%w: needs an uppercase letter", ErrWeakPassword)
	case !lower:
		return fmt.Errorf("%w: needs a lowercase letter", ErrWeakPassword)
	case !digit:
		return fmt.Errorf("%w: needs a digit", ErrWeakPassword)
	}
	return nil
}

// NormalizeEmail trims, lowercases and checks the address is a bare addr-spec.
func NormalizeEmail(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", ErrBadEmail
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return "", ErrBadEmail
	}
	return s, nil
}
