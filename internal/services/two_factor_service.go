package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"turapp/internal/models"
	"turapp/internal/repositories"
	"turapp/internal/utils"
)

type AccessToken struct {
	Token     string    `json:"access_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TwoFactorService runs the second login step. Start is called by a
// password login; everything after it is addressed by the challenge token
// that login handed out, never by a bare user id.
type TwoFactorService interface {
	Start(ctx context.Context, userID string, lang models.Language) (*StartedVerification, error)
	// Resend refuses once the code was used up: the client has to sign in
	// with the password again.
	Resend(ctx context.Context, challenge string, lang models.Language) (*StartedVerification, error)
	// Verify returns a token only when the result is a success.
	Verify(ctx context.Context, challenge, code string) (models.VerifyResult, *AccessToken, error)
	Cancel(ctx context.Context, challenge string) error
}

type twoFactorService struct {
	users       repositories.UserRepository
	starter     VerificationService
	codes       CodeService
	tokens      *utils.TokenIssuer
	defaultLang models.Language
	log         *zap.Logger
}

func NewTwoFactorService(users repositories.UserRepository, starter VerificationService, codes CodeService, tokens *utils.TokenIssuer, defaultLang models.Language, log *zap.Logger) TwoFactorService {
	if log == nil {
		log = zap.NewNop()
	}
	return &twoFactorService{
		users:       users,
		starter:     starter,
		codes:       codes,
		tokens:      tokens,
		defaultLang: defaultLang,
		log:         log,
	}
}

func (s *twoFactorService) Start(ctx context.Context, userID string, lang models.Language) (*StartedVerification, error) {
	user, err := s.lookup(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.TwoFactorEnabled {
		return nil, ErrTwoFactorDisabled
	}
	if lang == "" {
		lang = models.ParseLanguage(string(user.Language), s.defaultLang)
	}
	return s.starter.Start(ctx, VerificationRequest{
		SubjectID:   user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Language:    lang,
		Purpose:     models.PurposeTwoFactor,
	})
}

func (s *twoFactorService) Resend(ctx context.Context, challenge string, lang models.Language) (*StartedVerification, error) {
	userID, err := s.subject(challenge)
	if err != nil {
		return nil, err
	}
	spent, err := s.codes.Spent(ctx, userID, models.PurposeTwoFactor)
	if err != nil {
		return nil, err
	}
	if spent {
		s.log.Info("[2fa][resend] code spent, login required", zap.String("user_id", userID))
		return nil, ErrLoginRestartRequired
	}
	return s.Start(ctx, userID, lang)
}

func (s *twoFactorService) Verify(ctx context.Context, challenge, code string) (models.VerifyResult, *AccessToken, error) {
	userID, err := s.subject(challenge)
	if err != nil {
		return models.VerifyFailure(models.VerifyErrNoCodeFound), nil, err
	}
	user, err := s.lookup(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return models.VerifyFailure(models.VerifyErrNoCodeFound), nil, nil
	}
	if err != nil {
		return models.VerifyFailure(models.VerifyErrUnknown), nil, err
	}
	if !user.TwoFactorEnabled {
		return models.VerifyFailure(models.VerifyErrNoCodeFound), nil, nil
	}

	res, err := s.codes.Validate(ctx, user.ID, models.PurposeTwoFactor, code)
	if err != nil || !res.Success {
		if res.Error == models.VerifyErrMaxAttemptsExceeded {
			s.log.Warn("[2fa][verify] attempts exhausted", zap.String("user_id", user.ID))
		}
		return res, nil, err
	}

	token, exp, err := s.tokens.IssueAccess(user.ID, user.RoleID)
	if err != nil {
		return models.VerifyFailure(models.VerifyErrUnknown), nil, err
	}
	return res, &AccessToken{Token: token, ExpiresAt: exp}, nil
}

func (s *twoFactorService) Cancel(ctx context.Context, challenge string) error {
	userID, err := s.subject(challenge)
	if err != nil {
		return err
	}
	return s.codes.Invalidate(ctx, userID, models.PurposeTwoFactor)
}

func (s *twoFactorService) subject(challenge string) (string, error) {
	claims, err := s.tokens.ParseChallenge(challenge)
	if err != nil {
		return "", ErrInvalidChallenge
	}
	return claims.Subject, nil
}

func (s *twoFactorService) lookup(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}
