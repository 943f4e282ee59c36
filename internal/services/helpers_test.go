package services

import (
	"context"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"turapp/internal/models"
	"turapp/internal/repositories"
	"turapp/internal/utils"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fixedCodes hands out the given codes in order, then repeats the last.
func fixedCodes(codes ...string) func() (string, error) {
	var mu sync.Mutex
	i := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		c := codes[min(i, len(codes)-1)]
		i++
		return c, nil
	}
}

type recordingEmails struct {
	mu   sync.Mutex
	sent []VerificationEmail
	err  error
}

func (r *recordingEmails) SendVerificationCode(_ context.Context, msg VerificationEmail) (*SendResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.sent = append(r.sent, msg)
	return &SendResult{Success: true, MessageID: "msg-1"}, nil
}

func (r *recordingEmails) Sent() []VerificationEmail {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]VerificationEmail(nil), r.sent...)
}

func (r *recordingEmails) Last() VerificationEmail {
	sent := r.Sent()
	if len(sent) == 0 {
		return VerificationEmail{}
	}
	return sent[len(sent)-1]
}

func newCodes(clock *fakeClock, opts ...CodeOption) (CodeService, *repositories.InMemoryVerificationCodeRepository) {
	repo := repositories.NewInMemoryVerificationCodeRepository()
	base := []CodeOption{WithCodeClock(clock.Now), WithCodeHashCost(bcrypt.MinCost)}
	return NewCodeService(repo, append(base, opts...)...), repo
}

func newTokens(clock *fakeClock) *utils.TokenIssuer {
	return utils.NewTokenIssuer("test-secret", 15*time.Minute, 15*time.Minute).WithClock(clock.Now)
}

func seedUser(users *repositories.InMemoryUserRepository, auth AuthService, id, email, password string, twoFactor bool) *models.User {
	hash, err := auth.HashPassword(password)
	if err != nil {
		panic(err)
	}
	u := &models.User{
		ID:               id,
		Email:            email,
		DisplayName:      "Aigerim",
		Language:         models.LanguageRussian,
		PasswordHash:     hash,
		RoleID:           10,
		TwoFactorEnabled: twoFactor,
	}
	if err := users.Create(context.Background(), u); err != nil {
		panic(err)
	}
	return u
}
