package repositories

import (
	"context"
	"strings"
	"sync"
	"time"

	"turapp/internal/models"
)

type InMemoryUserRepository struct {
	mu      sync.RWMutex
	byID    map[string]*models.User
	byEmail map[string]string
}

func NewInMemoryUserRepository() *InMemoryUserRepository {
	return &InMemoryUserRepository{
		byID:    make(map[string]*models.User),
		byEmail: make(map[string]string),
	}
}

func (r *InMemoryUserRepository) Create(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	email := strings.ToLower(user.Email)
	if _, ok := r.byEmail[email]; ok {
		return ErrConflict
	}
	if _, ok := r.byID[user.ID]; ok {
		return ErrConflict
	}
	cp := *user
	cp.Email = email
	r.byID[user.ID] = &cp
	r.byEmail[email] = user.ID
	return nil
}

func (r *InMemoryUserRepository) GetByID(_ context.Context, id string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *InMemoryUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	r.mu.RLock()
	id, ok := r.byEmail[strings.ToLower(strings.TrimSpace(email))]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *InMemoryUserRepository) UpdatePassword(_ context.Context, id, passwordHash string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = at
	return nil
}

func (r *InMemoryUserRepository) ReplacePassword(_ context.Context, id, oldHash, newHash string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	if u.PasswordHash != oldHash {
		return ErrConflict
	}
	u.PasswordHash = newHash
	u.UpdatedAt = at
	return nil
}

func (r *InMemoryUserRepository) SetTwoFactor(_ context.Context, id string, enabled bool, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	u.TwoFactorEnabled = enabled
	u.UpdatedAt = at
	return nil
}
