package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"turapp/internal/metrics"
	"turapp/internal/repositories"
	"turapp/internal/utils"
)

// CredentialService is the privileged password write. It never trusts the
// caller: the policy and, for self-service resets, the grant are checked
// again here.
type CredentialService interface {
	UpdatePassword(ctx context.Context, userID, newPassword, grant string) error
	AdminSetPassword(ctx context.Context, userID, newPassword string) error
}

type credentialService struct {
	users   repositories.UserRepository
	auth    AuthService
	tokens  *utils.TokenIssuer
	now     func() time.Time
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewCredentialService(users repositories.UserRepository, auth AuthService, tokens *utils.TokenIssuer, m *metrics.Metrics, log *zap.Logger) CredentialService {
	if log == nil {
		log = zap.NewNop()
	}
	return &credentialService{users: users, auth: auth, tokens: tokens, now: time.Now, metrics: m, log: log}
}

func (s *credentialService) UpdatePassword(ctx context.Context, userID, newPassword, grant string) error {
	if userID == "" || grant == "" {
		return ErrInvalidGrant
	}
	if err := utils.CheckPasswordPolicy(newPassword); err != nil {
		return err
	}
	claims, err := s.tokens.ParseResetGrant(grant)
	if err != nil || claims.Subject != userID {
		return ErrInvalidGrant
	}

	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repositories.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	// grant is bound to the hash it was minted against: one use only
	if claims.PasswordVersion != utils.PasswordVersion(user.PasswordHash) {
		return ErrInvalidGrant
	}
	if err := s.replace(ctx, user.ID, user.PasswordHash, newPassword); err != nil {
		return err
	}
	s.log.Info("[credentials] password reset completed", zap.String("user_id", userID))
	return nil
}

func (s *credentialService) AdminSetPassword(ctx context.Context, userID, newPassword string) error {
	if userID == "" {
		return ErrUserNotFound
	}
	if err := utils.CheckPasswordPolicy(newPassword); err != nil {
		return err
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("get user: %w", err)
	}
	if err := s.store(ctx, userID, newPassword); err != nil {
		return err
	}
	s.log.Info("[credentials] password set by admin", zap.String("user_id", userID))
	return nil
}

// replace is the grant path: the write only lands if nobody changed the
// hash since the grant was checked, so a grant completes at most once.
func (s *credentialService) replace(ctx context.Context, userID, oldHash, newPassword string) error {
	hash, err := s.auth.HashPassword(newPassword)
	if err != nil {
		return err
	}
	err = s.users.ReplacePassword(ctx, userID, oldHash, hash, s.now())
	switch {
	case errors.Is(err, repositories.ErrConflict):
		return ErrInvalidGrant
	case errors.Is(err, repositories.ErrNotFound):
		return ErrUserNotFound
	case err != nil:
		return fmt.Errorf("replace password: %w", err)
	}
	s.metrics.IncPasswordChanged()
	return nil
}

func (s *credentialService) store(ctx context.Context, userID, newPassword string) error {
	hash, err := s.auth.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, userID, hash, s.now()); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("update password: %w", err)
	}
	s.metrics.IncPasswordChanged()
	return nil
}
