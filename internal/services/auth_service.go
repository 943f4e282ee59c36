package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"turapp/internal/models"
	"turapp/internal/repositories"
	"turapp/internal/utils"
)

type LoginResult struct {
	User               *models.User `json:"user"`
	TwoFactorRequired  bool         `json:"two_factor_required"`
	CodeExpiresAt      *time.Time   `json:"code_expires_at,omitempty"`
	ChallengeToken     string       `json:"challenge_token,omitempty"`
	ChallengeExpiresAt *time.Time   `json:"challenge_expires_at,omitempty"`
	AccessToken        string       `json:"access_token,omitempty"`
	AccessExpiresAt    *time.Time   `json:"access_expires_at,omitempty"`
}

type AuthService interface {
	HashPassword(password string) (string, error)
	CheckPassword(hash, password string) bool
	// Login checks the password. Users with two-factor enabled get a code
	// and a challenge token instead of an access token.
	Login(ctx context.Context, email, password string, lang models.Language) (*LoginResult, error)
}

type authService struct {
	users     repositories.UserRepository
	twoFactor TwoFactorService
	tokens    *utils.TokenIssuer
	cost      int
	dummyHash []byte
	log       *zap.Logger
}

func NewAuthService(users repositories.UserRepository, twoFactor TwoFactorService, tokens *utils.TokenIssuer, cost int, log *zap.Logger) AuthService {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if log == nil {
		log = zap.NewNop()
	}
	// unknown emails still pay for one bcrypt comparison
	dummy, _ := bcrypt.GenerateFromPassword([]byte("turapp-dummy-password"), cost)
	return &authService{users: users, twoFactor: twoFactor, tokens: tokens, cost: cost, dummyHash: dummy, log: log}
}

func (s *authService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt generate: %w", err)
	}
	return string(hash), nil
}

func (s *authService) CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func (s *authService) Login(ctx context.Context, email, password string, lang models.Language) (*LoginResult, error) {
	email, err := utils.NormalizeEmail(email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repositories.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !s.CheckPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	if user.TwoFactorEnabled {
		started, err := s.twoFactor.Start(ctx, user.ID, lang)
		if err != nil {
			return nil, err
		}
		challenge, challengeExp, err := s.tokens.IssueChallenge(user.ID)
		if err != nil {
			return nil, err
		}
		s.log.Info("[auth][login] two-factor required", zap.String("user_id", user.ID))
		return &LoginResult{
			User:               user,
			TwoFactorRequired:  true,
			CodeExpiresAt:      &started.ExpiresAt,
			ChallengeToken:     challenge,
			ChallengeExpiresAt: &challengeExp,
		}, nil
	}

	token, exp, err := s.tokens.IssueAccess(user.ID, user.RoleID)
	if err != nil {
		return nil, err
	}
	return &LoginResult{User: user, AccessToken: token, AccessExpiresAt: &exp}, nil
}
