package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"turapp/internal/models"
	"turapp/internal/ratelimit"
)

// SendThrottle caps verification e-mails per (subject, purpose).
type SendThrottle struct {
	limiter  ratelimit.Limiter
	limit    int
	window   time.Duration
	cooldown time.Duration
	log      *zap.Logger
}

func NewSendThrottle(limiter ratelimit.Limiter, limit int, window time.Duration, log *zap.Logger) *SendThrottle {
	if log == nil {
		log = zap.NewNop()
	}
	return &SendThrottle{limiter: limiter, limit: limit, window: window, log: log}
}

// WithCooldown adds a minimum gap between two sends to the same subject.
func (t *SendThrottle) WithCooldown(d time.Duration) *SendThrottle {
	t.cooldown = d
	return t
}

// Allow fails open when the limiter backend is down: the attempt budget and
// the TTL still bound guessing.
func (t *SendThrottle) Allow(ctx context.Context, subjectID string, purpose models.Purpose) (ratelimit.Decision, error) {
	if t == nil || t.limiter == nil {
		return ratelimit.Decision{Allowed: true}, nil
	}
	key := string(purpose) + ":" + subjectID
	if t.cooldown > 0 {
		d, err := t.limiter.Allow(ctx, "cooldown:"+key, 1, t.cooldown)
		if err != nil {
			t.log.Warn("[throttle] limiter unavailable", zap.Error(err))
			return ratelimit.Decision{Allowed: true}, nil
		}
		if !d.Allowed {
			return d, nil
		}
	}
	d, err := t.limiter.Allow(ctx, key, t.limit, t.window)
	if err != nil {
		t.log.Warn("[throttle] limiter unavailable", zap.Error(err))
		return ratelimit.Decision{Allowed: true}, nil
	}
	return d, nil
}

type VerificationRequest struct {
	SubjectID   string
	Email       string
	DisplayName string
	Language    models.Language
	Purpose     models.Purpose
}

type StartedVerification struct {
	ExpiresAt time.Time `json:"expires_at"`
	MessageID string    `json:"message_id,omitempty"`
}

// ThrottledError carries how long the caller has to wait.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("%s, retry in %s", ErrSendThrottled, e.RetryAfter.Round(time.Second))
}

func (e *ThrottledError) Unwrap() error { return ErrSendThrottled }

// VerificationService issues a code and sends it in one step.
type VerificationService interface {
	Start(ctx context.Context, req VerificationRequest) (*StartedVerification, error)
}

type verificationService struct {
	codes    CodeService
	emails   EmailService
	throttle *SendThrottle
	log      *zap.Logger
}

func NewVerificationService(codes CodeService, emails EmailService, throttle *SendThrottle, log *zap.Logger) VerificationService {
	if log == nil {
		log = zap.NewNop()
	}
	return &verificationService{codes: codes, emails: emails, throttle: throttle, log: log}
}

// Start returns an error when either the issue or the dispatch fails. A code
// whose e-mail failed stays valid; the caller may resend.
func (s *verificationService) Start(ctx context.Context, req VerificationRequest) (*StartedVerification, error) {
	if req.SubjectID == "" || req.Email == "" || !req.Purpose.Valid() {
		return nil, errors.New("start verification: subject, email and purpose are required")
	}

	d, err := s.throttle.Allow(ctx, req.SubjectID, req.Purpose)
	if err != nil {
		return nil, err
	}
	if !d.Allowed {
		s.log.Info("[verification] throttled", zap.String("subject_id", req.SubjectID), zap.String("purpose", string(req.Purpose)))
		return nil, &ThrottledError{RetryAfter: d.RetryAfter}
	}

	issued, err := s.codes.Issue(ctx, req.SubjectID, req.Purpose)
	if err != nil {
		return nil, err
	}

	res, err := s.emails.SendVerificationCode(ctx, VerificationEmail{
		To:          req.Email,
		Code:        issued.Code,
		DisplayName: req.DisplayName,
		Language:    req.Language,
		Purpose:     req.Purpose,
		ExpiresIn:   s.codes.Policy(req.Purpose).TTL,
	})
	if err != nil {
		return nil, err
	}
	return &StartedVerification{ExpiresAt: issued.ExpiresAt, MessageID: res.MessageID}, nil
}
