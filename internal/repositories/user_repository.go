package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"turapp/internal/models"
)

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) error
	// ReplacePassword writes newHash only while the stored hash is still
	// oldHash. A lost race reports ErrConflict.
	ReplacePassword(ctx context.Context, id, oldHash, newHash string, at time.Time) error
	SetTwoFactor(ctx context.Context, id string, enabled bool, at time.Time) error
}

type userRepository struct {
	DB *sql.DB
}

func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{DB: db}
}

const userColumns = `id, email, display_name, language, password_hash, role_id, two_factor_enabled, created_at, updated_at`

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	const q = `
		INSERT INTO users (id, email, display_name, language, password_hash, role_id, two_factor_enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.DB.ExecContext(ctx, q,
		user.ID,
		strings.ToLower(user.Email),
		nullString(user.DisplayName),
		user.Language,
		user.PasswordHash,
		user.RoleID,
		user.TwoFactorEnabled,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.getOne(ctx, q, id)
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	q := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.getOne(ctx, q, strings.ToLower(strings.TrimSpace(email)))
}

func (r *userRepository) UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) error {
	const q = `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`
	return r.execOne(ctx, "update password", q, id, passwordHash, at)
}

func (r *userRepository) ReplacePassword(ctx context.Context, id, oldHash, newHash string, at time.Time) error {
	const q = `UPDATE users SET password_hash = $3, updated_at = $4 WHERE id = $1 AND password_hash = $2`
	err := r.execOne(ctx, "replace password", q, id, oldHash, newHash, at)
	if errors.Is(err, ErrNotFound) {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return ErrConflict
	}
	return err
}

func (r *userRepository) SetTwoFactor(ctx context.Context, id string, enabled bool, at time.Time) error {
	const q = `UPDATE users SET two_factor_enabled = $2, updated_at = $3 WHERE id = $1`
	return r.execOne(ctx, "set two factor", q, id, enabled, at)
}

func (r *userRepository) getOne(ctx context.Context, q string, arg any) (*models.User, error) {
	u := &models.User{}
	var (
		displayName sql.NullString
		language    string
	)
	err := r.DB.QueryRowContext(ctx, q, arg).Scan(
		&u.ID, &u.Email, &displayName, &language, &u.PasswordHash, &u.RoleID, &u.TwoFactorEnabled, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	if displayName.Valid {
		u.DisplayName = displayName.String
	}
	u.Language = models.Language(language)
	return u, nil
}

func (r *userRepository) execOne(ctx context.Context, op, q string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
