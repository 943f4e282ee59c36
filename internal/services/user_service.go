package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"turapp/internal/authz"
	"turapp/internal/models"
	"turapp/internal/repositories"
	"turapp/internal/utils"
)

type RegisterInput struct {
	Email       string `json:"email" binding:"required"`
	Password    string `json:"password" binding:"required"`
	DisplayName string `json:"display_name"`
	Language    string `json:"language"`
}

type UserService interface {
	Register(ctx context.Context, in RegisterInput) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	SetTwoFactor(ctx context.Context, id string, enabled bool) error
}

type userService struct {
	repo        repositories.UserRepository
	auth        AuthService
	defaultLang models.Language
	now         func() time.Time
	log         *zap.Logger
}

func NewUserService(repo repositories.UserRepository, auth AuthService, defaultLang models.Language, log *zap.Logger) UserService {
	if log == nil {
		log = zap.NewNop()
	}
	return &userService{repo: repo, auth: auth, defaultLang: defaultLang, now: time.Now, log: log}
}

func (s *userService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	email, err := utils.NormalizeEmail(in.Email)
	if err != nil {
		return nil, ErrInvalidEmail
	}
	if err := utils.CheckPasswordPolicy(in.Password); err != nil {
		return nil, err
	}
	hash, err := s.auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := &models.User{
		ID:           uuid.NewString(),
		Email:        email,
		DisplayName:  strings.TrimSpace(in.DisplayName),
		Language:     models.ParseLanguage(in.Language, s.defaultLang),
		PasswordHash: hash,
		RoleID:       authz.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.log.Info("[user] registered", zap.String("user_id", user.ID))
	return user, nil
}

func (s *userService) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.get(s.repo.GetByID(ctx, id))
}

func (s *userService) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	email, err := utils.NormalizeEmail(email)
	if err != nil {
		return nil, ErrInvalidEmail
	}
	return s.get(s.repo.GetByEmail(ctx, email))
}

func (s *userService) SetTwoFactor(ctx context.Context, id string, enabled bool) error {
	err := s.repo.SetTwoFactor(ctx, id, enabled, s.now())
	if errors.Is(err, repositories.ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}

func (s *userService) get(u *models.User, err error) (*models.User, error) {
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}
