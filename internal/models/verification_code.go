package models

import (
	"fmt"
	"time"
)

// Purpose scopes a verification code. Validation only ever looks at codes
// of the same (subject, purpose) pair.
type Purpose string

const (
	PurposeTwoFactor     Purpose = "two_factor"
	PurposePasswordReset Purpose = "password_reset"
)

func (p Purpose) Valid() bool {
	return p == PurposeTwoFactor || p == PurposePasswordReset
}

func ParsePurpose(s string) (Purpose, error) {
	p := Purpose(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown purpose %q", s)
	}
	return p, nil
}

// VerificationCode: одна запись на каждый выпущенный код.
// Храним только bcrypt-хэш кода, TTL и счётчик попыток.
type VerificationCode struct {
	ID          string     `json:"id"`
	SubjectID   string     `json:"subject_id"`
	Purpose     Purpose    `json:"purpose"`
	CodeHash    string     `json:"-"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	ConsumedAt  *time.Time `json:"consumed_at,omitempty"`
}

// IsExpired: a code is usable in [CreatedAt, ExpiresAt). Superseded and
// cancelled codes get ExpiresAt = the moment they stopped being valid.
func (c *VerificationCode) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

func (c *VerificationCode) IsExhausted() bool {
	return c.Attempts >= c.MaxAttempts
}

func (c *VerificationCode) IsConsumed() bool {
	return c.ConsumedAt != nil
}

func (c *VerificationCode) AttemptsRemaining() int {
	return max(c.MaxAttempts-c.Attempts, 0)
}
