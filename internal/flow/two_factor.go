package flow

import (
	"context"
	"errors"
	"sync"
	"time"

	"turapp/internal/models"
)

const DefaultResendCooldown = 60 * time.Second

// TwoFactorSession tracks one pending login verification. It is created per
// authentication flow and passed explicitly; there is no package state.
type TwoFactorSession struct {
	mu       sync.Mutex
	backend  TwoFactorBackend
	now      func() time.Time
	cooldown time.Duration
	signOut  func()

	state     State
	loading   bool
	identity  Identity
	expiresAt time.Time
	sentAt    time.Time
	remaining *int
	lastError models.VerifyError
	token     *AccessToken
}

type TwoFactorOption func(*TwoFactorSession)

func WithClock(now func() time.Time) TwoFactorOption {
	return func(s *TwoFactorSession) { s.now = now }
}

func WithResendCooldown(d time.Duration) TwoFactorOption {
	return func(s *TwoFactorSession) { s.cooldown = d }
}

// WithSignOut is called when the code is burned by too many attempts or the
// challenge is rejected: the whole login has to start over.
func WithSignOut(fn func()) TwoFactorOption {
	return func(s *TwoFactorSession) { s.signOut = fn }
}

func NewTwoFactorSession(backend TwoFactorBackend, opts ...TwoFactorOption) *TwoFactorSession {
	s := &TwoFactorSession{
		backend:  backend,
		now:      time.Now,
		cooldown: DefaultResendCooldown,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type TwoFactorSnapshot struct {
	State             State
	UserID            string
	Email             string
	DisplayName       string
	ExpiresAt         time.Time
	TimeRemaining     time.Duration
	Countdown         string
	AttemptsRemaining *int
	LastError         models.VerifyError
	IsVerifying       bool
	IsLoading         bool
	ResendIn          time.Duration
}

// Resume enters pending with the code the password login already sent.
func (s *TwoFactorSession) Resume(id Identity, expiresAt time.Time) error {
	if id.Challenge == "" {
		return ErrLoginRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loading || s.state == StateVerifying {
		return ErrBusy
	}
	s.pendingLocked(id, expiresAt)
	return nil
}

// Initiate asks the backend for a fresh code under id.Challenge. On failure
// nothing is left pending.
func (s *TwoFactorSession) Initiate(ctx context.Context, id Identity) (bool, error) {
	if id.Challenge == "" {
		return false, ErrLoginRequired
	}
	s.mu.Lock()
	if s.loading || s.state == StateVerifying {
		s.mu.Unlock()
		return false, ErrBusy
	}
	s.loading = true
	s.mu.Unlock()

	expiresAt, err := s.backend.StartTwoFactor(ctx, id.Challenge, id.Language)

	s.mu.Lock()
	s.loading = false
	if err != nil {
		s.resetLocked()
		s.mu.Unlock()
		if errors.Is(err, ErrLoginRequired) && s.signOut != nil {
			s.signOut()
		}
		return false, err
	}
	s.pendingLocked(id, expiresAt)
	s.mu.Unlock()
	return true, nil
}

func (s *TwoFactorSession) pendingLocked(id Identity, expiresAt time.Time) {
	s.state = StatePending
	s.identity = id
	s.expiresAt = expiresAt
	s.sentAt = s.now()
	s.remaining = nil
	s.lastError = ""
	s.token = nil
}

// Submit forwards code to the backend, which is authoritative even when the
// local countdown already hit zero.
func (s *TwoFactorSession) Submit(ctx context.Context, code string) (models.VerifyResult, error) {
	s.mu.Lock()
	switch {
	case s.state == StateVerifying || s.loading:
		s.mu.Unlock()
		return models.VerifyResult{}, ErrBusy
	case s.state != StatePending:
		s.mu.Unlock()
		return models.VerifyFailure(models.VerifyErrNoCodeFound), ErrNoPendingSession
	}
	s.state = StateVerifying
	challenge := s.identity.Challenge
	s.mu.Unlock()

	res, token, err := s.backend.VerifyTwoFactor(ctx, challenge, code)

	s.mu.Lock()
	if s.state != StateVerifying {
		// cancelled while in flight
		s.mu.Unlock()
		return models.VerifyFailure(models.VerifyErrNoCodeFound), ErrNoPendingSession
	}
	if err != nil && res.Error == "" {
		res = models.VerifyFailure(models.VerifyErrUnknown)
	}

	var signOut func()
	switch {
	case res.Success:
		s.resetLocked()
		s.state = StateVerified
		s.token = token
	case errors.Is(err, ErrLoginRequired):
		s.state = StateFailed
		s.lastError = res.Error
		signOut = s.signOut
	case res.Error == models.VerifyErrMaxAttemptsExceeded:
		s.state = StateFailed
		s.lastError = res.Error
		zero := 0
		s.remaining = &zero
		signOut = s.signOut
	default:
		s.state = StatePending
		s.lastError = res.Error
		if res.AttemptsRemaining != nil {
			n := *res.AttemptsRemaining
			s.remaining = &n
		}
	}
	s.mu.Unlock()

	if signOut != nil {
		signOut()
	}
	return res, err
}

// Resend re-runs Initiate for the same identity once the cooldown passed.
// Inside the window nothing is issued.
func (s *TwoFactorSession) Resend(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.state != StatePending {
		s.mu.Unlock()
		return false, ErrNoPendingSession
	}
	if wait := s.sentAt.Add(s.cooldown).Sub(s.now()); wait > 0 {
		s.mu.Unlock()
		return false, &CooldownError{Remaining: wait}
	}
	id := s.identity
	s.mu.Unlock()

	return s.Initiate(ctx, id)
}

// Tick recomputes the countdown and flags expiry locally once it runs out.
func (s *TwoFactorSession) Tick() TwoFactorSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StatePending && !s.now().Before(s.expiresAt) {
		s.lastError = models.VerifyErrCodeExpired
	}
	return s.snapshotLocked()
}

func (s *TwoFactorSession) Snapshot() TwoFactorSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Token is set after a successful Submit.
func (s *TwoFactorSession) Token() *AccessToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Cancel drops the local session and asks the backend to kill the code.
// The local reset happens even if that call fails.
func (s *TwoFactorSession) Cancel(ctx context.Context) error {
	s.mu.Lock()
	challenge := s.identity.Challenge
	active := s.state == StatePending || s.state == StateVerifying
	s.resetLocked()
	s.mu.Unlock()

	if !active || challenge == "" {
		return nil
	}
	return s.backend.CancelTwoFactor(ctx, challenge)
}

// SignOut forgets everything, including a minted token.
func (s *TwoFactorSession) SignOut() {
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()
}

func (s *TwoFactorSession) resetLocked() {
	s.state = StateIdle
	s.identity = Identity{}
	s.expiresAt = time.Time{}
	s.sentAt = time.Time{}
	s.remaining = nil
	s.lastError = ""
	s.token = nil
}

func (s *TwoFactorSession) snapshotLocked() TwoFactorSnapshot {
	now := s.now()
	snap := TwoFactorSnapshot{
		State:       s.state,
		UserID:      s.identity.UserID,
		Email:       s.identity.Email,
		DisplayName: s.identity.DisplayName,
		ExpiresAt:   s.expiresAt,
		LastError:   s.lastError,
		IsVerifying: s.state == StateVerifying,
		IsLoading:   s.loading,
		Countdown:   "0:00",
	}
	if s.remaining != nil {
		n := *s.remaining
		snap.AttemptsRemaining = &n
	}
	if !s.expiresAt.IsZero() {
		snap.TimeRemaining = max(s.expiresAt.Sub(now), 0)
		snap.Countdown = FormatCountdown(snap.TimeRemaining)
	}
	if s.state == StatePending {
		snap.ResendIn = max(s.sentAt.Add(s.cooldown).Sub(now), 0)
	}
	return snap
}
