package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"turapp/internal/metrics"
	"turapp/internal/models"
	"turapp/internal/repositories"
	"turapp/internal/utils"
)

const (
	defaultCodeTTL     = 10 * time.Minute
	defaultMaxAttempts = 5
)

// CodePolicy is the per-purpose lifetime and attempt budget of a code.
type CodePolicy struct {
	TTL         time.Duration
	MaxAttempts int
}

type IssuedCode struct {
	ID        string
	Code      string
	ExpiresAt time.Time
}

// CodeService issues and checks one-time numeric codes scoped to
// (subject, purpose). Only the most recent code of a pair is ever checked.
type CodeService interface {
	Issue(ctx context.Context, subjectID string, purpose models.Purpose) (*IssuedCode, error)
	Validate(ctx context.Context, subjectID string, purpose models.Purpose, submitted string) (models.VerifyResult, error)
	Invalidate(ctx context.Context, subjectID string, purpose models.Purpose) error
	// Spent reports whether the latest code was consumed or burned by
	// wrong attempts.
	Spent(ctx context.Context, subjectID string, purpose models.Purpose) (bool, error)
	Policy(purpose models.Purpose) CodePolicy
}

type codeService struct {
	repo     repositories.VerificationCodeRepository
	policies map[models.Purpose]CodePolicy
	hashCost int
	generate func() (string, error)
	now      func() time.Time
	metrics  *metrics.Metrics
	log      *zap.Logger
}

type CodeOption func(*codeService)

func WithCodeClock(now func() time.Time) CodeOption {
	return func(s *codeService) { s.now = now }
}

// WithCodeGenerator replaces the random source of plaintext codes.
func WithCodeGenerator(gen func() (string, error)) CodeOption {
	return func(s *codeService) { s.generate = gen }
}

// WithCodeHashCost lowers bcrypt cost in tests.
func WithCodeHashCost(cost int) CodeOption {
	return func(s *codeService) { s.hashCost = cost }
}

func WithCodePolicy(purpose models.Purpose, p CodePolicy) CodeOption {
	return func(s *codeService) { s.policies[purpose] = p }
}

func WithCodeMetrics(m *metrics.Metrics) CodeOption {
	return func(s *codeService) { s.metrics = m }
}

func WithCodeLogger(log *zap.Logger) CodeOption {
	return func(s *codeService) { s.log = log }
}

func NewCodeService(repo repositories.VerificationCodeRepository, opts ...CodeOption) CodeService {
	s := &codeService{
		repo: repo,
		policies: map[models.Purpose]CodePolicy{
			models.PurposeTwoFactor:     {TTL: defaultCodeTTL, MaxAttempts: defaultMaxAttempts},
			models.PurposePasswordReset: {TTL: defaultCodeTTL, MaxAttempts: defaultMaxAttempts},
		},
		hashCost: bcrypt.DefaultCost,
		generate: utils.NewNumericCode,
		now:      time.Now,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *codeService) Policy(purpose models.Purpose) CodePolicy {
	p, ok := s.policies[purpose]
	if !ok {
		return CodePolicy{TTL: defaultCodeTTL, MaxAttempts: defaultMaxAttempts}
	}
	if p.TTL <= 0 {
		p.TTL = defaultCodeTTL
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	return p
}

func (s *codeService) Issue(ctx context.Context, subjectID string, purpose models.Purpose) (*IssuedCode, error) {
	if subjectID == "" || !purpose.Valid() {
		return nil, fmt.Errorf("issue code: subject and purpose are required")
	}
	code, err := s.generate()
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("bcrypt generate: %w", err)
	}

	policy := s.Policy(purpose)
	now := s.now()
	rec := &models.VerificationCode{
		ID:          uuid.NewString(),
		SubjectID:   subjectID,
		Purpose:     purpose,
		CodeHash:    string(hash),
		CreatedAt:   now,
		ExpiresAt:   now.Add(policy.TTL),
		MaxAttempts: policy.MaxAttempts,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("store code: %w", err)
	}
	s.metrics.IncCodeIssued(string(purpose))
	s.log.Debug("[code][issue] ok", zap.String("subject_id", subjectID), zap.String("purpose", string(purpose)), zap.Time("expires_at", rec.ExpiresAt))
	return &IssuedCode{ID: rec.ID, Code: code, ExpiresAt: rec.ExpiresAt}, nil
}

// Validate checks submitted against the latest code of the pair. The whole
// read-check-increment runs in one store transaction.
func (s *codeService) Validate(ctx context.Context, subjectID string, purpose models.Purpose, submitted string) (models.VerifyResult, error) {
	var result models.VerifyResult
	err := s.repo.RunInTx(ctx, func(tx repositories.VerificationCodeTx) error {
		rec, err := tx.LatestForUpdate(ctx, subjectID, purpose)
		if errors.Is(err, repositories.ErrNotFound) {
			result = models.VerifyFailure(models.VerifyErrNoCodeFound)
			return nil
		}
		if err != nil {
			return err
		}

		now := s.now()
		switch {
		case rec.IsConsumed():
			result = models.VerifyFailure(models.VerifyErrNoCodeFound)
			return nil
		case rec.IsExpired(now):
			result = models.VerifyFailure(models.VerifyErrCodeExpired)
			return nil
		case rec.IsExhausted():
			result = models.VerifyFailure(models.VerifyErrMaxAttemptsExceeded)
			return nil
		}

		if !codeMatches(rec.CodeHash, submitted) {
			attempts, err := tx.IncrementAttempts(ctx, rec.ID)
			if err != nil {
				return err
			}
			if attempts >= rec.MaxAttempts {
				result = models.VerifyFailure(models.VerifyErrMaxAttemptsExceeded)
				return nil
			}
			result = models.VerifyInvalid(rec.MaxAttempts - attempts)
			return nil
		}

		if err := tx.MarkConsumed(ctx, rec.ID, now); err != nil {
			if errors.Is(err, repositories.ErrConflict) {
				result = models.VerifyFailure(models.VerifyErrNoCodeFound)
				return nil
			}
			return err
		}
		result = models.VerifySuccess()
		return nil
	})
	if err != nil {
		s.metrics.IncVerifyResult(string(purpose), string(models.VerifyErrUnknown))
		return models.VerifyFailure(models.VerifyErrUnknown), fmt.Errorf("validate code: %w", err)
	}
	s.metrics.IncVerifyResult(string(purpose), resultLabel(result))
	return result, nil
}

func (s *codeService) Invalidate(ctx context.Context, subjectID string, purpose models.Purpose) error {
	if err := s.repo.Invalidate(ctx, subjectID, purpose, s.now()); err != nil {
		return fmt.Errorf("invalidate code: %w", err)
	}
	return nil
}

func (s *codeService) Spent(ctx context.Context, subjectID string, purpose models.Purpose) (bool, error) {
	rec, err := s.repo.GetLatest(ctx, subjectID, purpose)
	if errors.Is(err, repositories.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("latest code: %w", err)
	}
	return rec.IsConsumed() || rec.IsExhausted(), nil
}

// codeMatches: malformed input is a plain mismatch and skips bcrypt.
func codeMatches(hash, submitted string) bool {
	if !utils.IsNumericCode(submitted) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(submitted)) == nil
}

func resultLabel(r models.VerifyResult) string {
	if r.Success {
		return "success"
	}
	return string(r.Error)
}
