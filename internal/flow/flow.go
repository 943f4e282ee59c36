// Package flow holds the client-side verification sessions. A session is a
// disposable cache of server state: expiry and attempts are always decided
// by the backend, the session only mirrors them for display.
package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"turapp/internal/models"
)

var (
	ErrNoPendingSession = errors.New("no pending verification")
	ErrBusy             = errors.New("verification already in flight")
	ErrNotVerified      = errors.New("not_verified")
	ErrInvalidEmail     = errors.New("invalid email")
	// ErrLoginRequired: the challenge is gone or its code was used up, only
	// a fresh password login gets a new one.
	ErrLoginRequired = errors.New("login_required")
)

// CooldownError is returned by Resend inside the cooldown window.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("resend available in %s", FormatCountdown(e.Remaining))
}

type State string

const (
	StateIdle      State = "idle"
	StatePending   State = "pending"
	StateVerifying State = "verifying"
	StateVerified  State = "verified"
	StateFailed    State = "failed"
)

// Identity is what the password login returned. Challenge is the only
// thing the backend accepts for the second step.
type Identity struct {
	UserID      string
	Email       string
	DisplayName string
	Language    models.Language
	Challenge   string
}

type AccessToken struct {
	Token     string    `json:"access_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ResetGrant struct {
	UserID    string    `json:"user_id"`
	Token     string    `json:"reset_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type TwoFactorBackend interface {
	StartTwoFactor(ctx context.Context, challenge string, lang models.Language) (time.Time, error)
	VerifyTwoFactor(ctx context.Context, challenge, code string) (models.VerifyResult, *AccessToken, error)
	CancelTwoFactor(ctx context.Context, challenge string) error
}

type PasswordResetBackend interface {
	// RequestReset returns the code expiry; zero means the backend did not say.
	RequestReset(ctx context.Context, email string, lang models.Language) (time.Time, error)
	VerifyReset(ctx context.Context, email, code string) (models.VerifyResult, *ResetGrant, error)
	CompleteReset(ctx context.Context, grant, newPassword string) error
	CancelReset(ctx context.Context, email string) error
}

// FormatCountdown renders d as M:SS, rounding partial seconds up so the
// display reaches 0:00 only when the code is actually dead.
func FormatCountdown(d time.Duration) string {
	if d <= 0 {
		return "0:00"
	}
	secs := int((d + time.Second - 1) / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
