package flow

import (
	"context"
	"sync"
	"time"

	"turapp/internal/models"
	"turapp/internal/utils"
)

const DefaultResetCodeTTL = 10 * time.Minute

// PasswordResetSession walks idle → pending → verified → idle. Verified
// here only unlocks the UI; the server checks the grant again.
type PasswordResetSession struct {
	mu      sync.Mutex
	backend PasswordResetBackend
	now     func() time.Time
	ttl     time.Duration
	lang    models.Language

	state     State
	loading   bool
	email     string
	expiresAt time.Time
	grant     *ResetGrant
	remaining *int
	lastError models.VerifyError
}

type PasswordResetSnapshot struct {
	State             State
	Email             string
	UserID            string
	IsVerified        bool
	IsLoading         bool
	Countdown         string
	AttemptsRemaining *int
	LastError         models.VerifyError
}

func NewPasswordResetSession(backend PasswordResetBackend, lang models.Language, now func() time.Time) *PasswordResetSession {
	if now == nil {
		now = time.Now
	}
	return &PasswordResetSession{backend: backend, now: now, ttl: DefaultResetCodeTTL, lang: lang, state: StateIdle}
}

// Initiate reports success for every well-formed email. Whether an account
// exists is never known on this side.
func (s *PasswordResetSession) Initiate(ctx context.Context, email string) (bool, error) {
	email, err := utils.NormalizeEmail(email)
	if err != nil {
		return false, ErrInvalidEmail
	}
	if !s.begin() {
		return false, ErrBusy
	}
	expiresAt, err := s.backend.RequestReset(ctx, email, s.lang)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	s.resetLocked()
	if err != nil {
		return false, err
	}
	if expiresAt.IsZero() {
		expiresAt = s.now().Add(s.ttl)
	}
	s.state = StatePending
	s.email = email
	s.expiresAt = expiresAt
	return true, nil
}

func (s *PasswordResetSession) VerifyCode(ctx context.Context, code string) (models.VerifyResult, error) {
	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return models.VerifyResult{}, ErrBusy
	}
	if s.state != StatePending {
		s.mu.Unlock()
		return models.VerifyFailure(models.VerifyErrNoCodeFound), ErrNoPendingSession
	}
	if !s.now().Before(s.expiresAt) {
		s.lastError = models.VerifyErrCodeExpired
		s.mu.Unlock()
		return models.VerifyFailure(models.VerifyErrCodeExpired), nil
	}
	s.loading = true
	email := s.email
	s.mu.Unlock()

	res, grant, err := s.backend.VerifyReset(ctx, email, code)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if s.state != StatePending {
		return models.VerifyFailure(models.VerifyErrNoCodeFound), ErrNoPendingSession
	}
	if err != nil && res.Error == "" {
		res = models.VerifyFailure(models.VerifyErrUnknown)
	}
	if res.Success && grant != nil {
		s.state = StateVerified
		s.grant = grant
		s.lastError = ""
		return res, nil
	}
	if res.Success {
		res = models.VerifyFailure(models.VerifyErrUnknown)
	}
	s.lastError = res.Error
	if res.AttemptsRemaining != nil {
		n := *res.AttemptsRemaining
		s.remaining = &n
	}
	return res, err
}

// UpdatePassword needs a verified session and a password that passes the
// local policy check before anything is sent.
func (s *PasswordResetSession) UpdatePassword(ctx context.Context, newPassword string) error {
	s.mu.Lock()
	if s.state != StateVerified || s.grant == nil {
		s.mu.Unlock()
		return ErrNotVerified
	}
	if s.loading {
		s.mu.Unlock()
		return ErrBusy
	}
	if err := utils.CheckPasswordPolicy(newPassword); err != nil {
		s.mu.Unlock()
		return err
	}
	s.loading = true
	grant := s.grant.Token
	s.mu.Unlock()

	err := s.backend.CompleteReset(ctx, grant, newPassword)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if err != nil {
		return err
	}
	s.resetLocked()
	return nil
}

// Cancel clears the session and, if a code was outstanding, asks the
// backend to drop it. The local reset happens even if that call fails.
func (s *PasswordResetSession) Cancel(ctx context.Context) error {
	s.mu.Lock()
	email := s.email
	active := s.state == StatePending || s.state == StateVerified
	s.resetLocked()
	s.mu.Unlock()

	if !active || email == "" {
		return nil
	}
	return s.backend.CancelReset(ctx, email)
}

func (s *PasswordResetSession) Snapshot() PasswordResetSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := PasswordResetSnapshot{
		State:      s.state,
		Email:      s.email,
		IsVerified: s.state == StateVerified,
		IsLoading:  s.loading,
		LastError:  s.lastError,
		Countdown:  "0:00",
	}
	if s.grant != nil {
		snap.UserID = s.grant.UserID
	}
	if s.remaining != nil {
		n := *s.remaining
		snap.AttemptsRemaining = &n
	}
	if s.state == StatePending {
		snap.Countdown = FormatCountdown(s.expiresAt.Sub(s.now()))
	}
	return snap
}

func (s *PasswordResetSession) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loading {
		return false
	}
	s.loading = true
	return true
}

func (s *PasswordResetSession) resetLocked() {
	s.state = StateIdle
	s.email = ""
	s.expiresAt = time.Time{}
	s.grant = nil
	s.remaining = nil
	s.lastError = ""
}
