package repositories

import (
	"context"
	"sync"
	"time"

	"turapp/internal/models"
)

// InMemoryVerificationCodeRepository keeps codes in insertion order. RunInTx
// holds the store mutex for the whole callback, which gives the same
// read-check-increment atomicity as a locked row in Postgres.
type InMemoryVerificationCodeRepository struct {
	mu    sync.Mutex
	codes []*models.VerificationCode
}

func NewInMemoryVerificationCodeRepository() *InMemoryVerificationCodeRepository {
	return &InMemoryVerificationCodeRepository{}
}

func (r *InMemoryVerificationCodeRepository) Create(_ context.Context, code *models.VerificationCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.codes {
		if c.ID == code.ID {
			return ErrConflict
		}
	}
	r.invalidateLocked(code.SubjectID, code.Purpose, code.CreatedAt)
	r.codes = append(r.codes, cloneCode(code))
	return nil
}

func (r *InMemoryVerificationCodeRepository) GetLatest(_ context.Context, subjectID string, purpose models.Purpose) (*models.VerificationCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.latestLocked(subjectID, purpose)
	if c == nil {
		return nil, ErrNotFound
	}
	return cloneCode(c), nil
}

func (r *InMemoryVerificationCodeRepository) RunInTx(_ context.Context, fn func(tx VerificationCodeTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(memoryCodeTx{r: r})
}

func (r *InMemoryVerificationCodeRepository) Invalidate(_ context.Context, subjectID string, purpose models.Purpose, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidateLocked(subjectID, purpose, at)
	return nil
}

func (r *InMemoryVerificationCodeRepository) DeleteDead(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.codes[:0]
	var removed int64
	for _, c := range r.codes {
		if c.ExpiresAt.Before(cutoff) || (c.ConsumedAt != nil && c.ConsumedAt.Before(cutoff)) {
			removed++
			continue
		}
		kept = append(kept, c)
	}
	r.codes = kept
	return removed, nil
}

func (r *InMemoryVerificationCodeRepository) latestLocked(subjectID string, purpose models.Purpose) *models.VerificationCode {
	for i := len(r.codes) - 1; i >= 0; i-- {
		c := r.codes[i]
		if c.SubjectID == subjectID && c.Purpose == purpose {
			return c
		}
	}
	return nil
}

func (r *InMemoryVerificationCodeRepository) invalidateLocked(subjectID string, purpose models.Purpose, at time.Time) {
	for _, c := range r.codes {
		if c.SubjectID == subjectID && c.Purpose == purpose && c.ConsumedAt == nil && c.ExpiresAt.After(at) {
			c.ExpiresAt = at
		}
	}
}

func (r *InMemoryVerificationCodeRepository) findLocked(id string) *models.VerificationCode {
	for _, c := range r.codes {
		if c.ID == id {
			return c
		}
	}
	return nil
}

type memoryCodeTx struct {
	r *InMemoryVerificationCodeRepository
}

func (t memoryCodeTx) LatestForUpdate(_ context.Context, subjectID string, purpose models.Purpose) (*models.VerificationCode, error) {
	c := t.r.latestLocked(subjectID, purpose)
	if c == nil {
		return nil, ErrNotFound
	}
	return cloneCode(c), nil
}

func (t memoryCodeTx) IncrementAttempts(_ context.Context, id string) (int, error) {
	c := t.r.findLocked(id)
	if c == nil {
		return 0, ErrNotFound
	}
	if c.Attempts < c.MaxAttempts {
		c.Attempts++
	}
	return c.Attempts, nil
}

func (t memoryCodeTx) MarkConsumed(_ context.Context, id string, at time.Time) error {
	c := t.r.findLocked(id)
	if c == nil {
		return ErrNotFound
	}
	if c.ConsumedAt != nil {
		return ErrConflict
	}
	c.ConsumedAt = &at
	return nil
}

func cloneCode(c *models.VerificationCode) *models.VerificationCode {
	cp := *c
	if c.ConsumedAt != nil {
		t := *c.ConsumedAt
		cp.ConsumedAt = &t
	}
	return &cp
}
