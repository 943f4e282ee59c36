package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"turapp/internal/models"
	"turapp/internal/repositories"
	"turapp/internal/utils"
)

// ResetGrant is handed out after a successful password_reset verification
// and is the only thing CredentialService accepts for a self-service reset.
type ResetGrant struct {
	UserID    string    `json:"user_id"`
	Token     string    `json:"reset_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type PasswordResetService interface {
	// RequestReset answers every well-formed email the same way, registered
	// or not. The expiry is derived from the policy before any lookup.
	RequestReset(ctx context.Context, email string, lang models.Language) (time.Time, error)
	VerifyCode(ctx context.Context, email, code string) (models.VerifyResult, *ResetGrant, error)
	ResetPassword(ctx context.Context, grant, newPassword string) error
	// CancelReset drops the outstanding code for the email, if any.
	CancelReset(ctx context.Context, email string) error
}

type passwordResetService struct {
	users       repositories.UserRepository
	codes       CodeService
	emails      EmailService
	credentials CredentialService
	tokens      *utils.TokenIssuer
	throttle    *SendThrottle
	defaultLang models.Language
	log         *zap.Logger

	// dispatch runs the e-mail send; tests replace it to run inline.
	dispatch func(fn func())
	now      func() time.Time
}

func NewPasswordResetService(
	users repositories.UserRepository,
	codes CodeService,
	emails EmailService,
	credentials CredentialService,
	tokens *utils.TokenIssuer,
	throttle *SendThrottle,
	defaultLang models.Language,
	log *zap.Logger,
) PasswordResetService {
	if log == nil {
		log = zap.NewNop()
	}
	return &passwordResetService{
		users:       users,
		codes:       codes,
		emails:      emails,
		credentials: credentials,
		tokens:      tokens,
		throttle:    throttle,
		defaultLang: defaultLang,
		log:         log,
		dispatch:    func(fn func()) { go fn() },
		now:         time.Now,
	}
}

// decoySubject stands in for unknown emails so the stored state and the
// hashing work match a real request.
func decoySubject(email string) string {
	sum := sha256.Sum256([]byte(email))
	return "decoy:" + hex.EncodeToString(sum[:])
}

func (s *passwordResetService) resolve(ctx context.Context, email string) (subject string, user *models.User, err error) {
	user, err = s.users.GetByEmail(ctx, email)
	if errors.Is(err, repositories.ErrNotFound) {
		return decoySubject(email), nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("get user: %w", err)
	}
	return user.ID, user, nil
}

func (s *passwordResetService) RequestReset(ctx context.Context, email string, lang models.Language) (time.Time, error) {
	email, err := utils.NormalizeEmail(email)
	if err != nil {
		return time.Time{}, ErrInvalidEmail
	}
	expiresAt := s.now().Add(s.codes.Policy(models.PurposePasswordReset).TTL)

	subject, user, err := s.resolve(ctx, email)
	if err != nil {
		// не раскрываем причину клиенту
		s.log.Error("[password-reset] lookup failed", zap.Error(err))
		return expiresAt, nil
	}

	d, err := s.throttle.Allow(ctx, subject, models.PurposePasswordReset)
	if err != nil || !d.Allowed {
		s.log.Info("[password-reset] throttled")
		return expiresAt, nil
	}

	issued, err := s.codes.Issue(ctx, subject, models.PurposePasswordReset)
	if err != nil {
		s.log.Error("[password-reset] issue failed", zap.Error(err))
		return expiresAt, nil
	}
	if user == nil {
		return expiresAt, nil
	}

	if lang == "" {
		lang = models.ParseLanguage(string(user.Language), s.defaultLang)
	}
	msg := VerificationEmail{
		To:          user.Email,
		Code:        issued.Code,
		DisplayName: user.DisplayName,
		Language:    lang,
		Purpose:     models.PurposePasswordReset,
		ExpiresIn:   s.codes.Policy(models.PurposePasswordReset).TTL,
	}
	sendCtx := context.WithoutCancel(ctx)
	s.dispatch(func() {
		if _, err := s.emails.SendVerificationCode(sendCtx, msg); err != nil {
			s.log.Error("[password-reset] failed to send email", zap.String("user_id", user.ID), zap.Error(err))
		}
	})
	return expiresAt, nil
}

func (s *passwordResetService) VerifyCode(ctx context.Context, email, code string) (models.VerifyResult, *ResetGrant, error) {
	email, err := utils.NormalizeEmail(email)
	if err != nil {
		return models.VerifyResult{}, nil, ErrInvalidEmail
	}
	subject, user, err := s.resolve(ctx, email)
	if err != nil {
		return models.VerifyFailure(models.VerifyErrUnknown), nil, err
	}

	res, err := s.codes.Validate(ctx, subject, models.PurposePasswordReset, code)
	if err != nil || !res.Success {
		return res, nil, err
	}
	if user == nil {
		// nobody received a decoy code
		return models.VerifyFailure(models.VerifyErrNoCodeFound), nil, nil
	}

	token, exp, err := s.tokens.IssueResetGrant(user.ID, user.PasswordHash)
	if err != nil {
		return models.VerifyFailure(models.VerifyErrUnknown), nil, err
	}
	return res, &ResetGrant{UserID: user.ID, Token: token, ExpiresAt: exp}, nil
}

func (s *passwordResetService) ResetPassword(ctx context.Context, grant, newPassword string) error {
	if err := utils.CheckPasswordPolicy(newPassword); err != nil {
		return err
	}
	claims, err := s.tokens.ParseResetGrant(grant)
	if err != nil {
		return ErrInvalidGrant
	}
	return s.credentials.UpdatePassword(ctx, claims.Subject, newPassword, grant)
}

func (s *passwordResetService) CancelReset(ctx context.Context, email string) error {
	email, err := utils.NormalizeEmail(email)
	if err != nil {
		return ErrInvalidEmail
	}
	subject, _, err := s.resolve(ctx, email)
	if err != nil {
		return err
	}
	if err := s.codes.Invalidate(ctx, subject, models.PurposePasswordReset); err != nil {
		return fmt.Errorf("invalidate reset code: %w", err)
	}
	s.log.Info("[password-reset] cancelled")
	return nil
}
