package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"turapp/internal/models"
)

// VerificationCodeTx is the view of the store inside RunInTx. The latest
// row returned by LatestForUpdate stays locked until fn returns.
type VerificationCodeTx interface {
	LatestForUpdate(ctx context.Context, subjectID string, purpose models.Purpose) (*models.VerificationCode, error)
	IncrementAttempts(ctx context.Context, id string) (int, error)
	MarkConsumed(ctx context.Context, id string, at time.Time) error
}

type VerificationCodeRepository interface {
	// Create stores a new code and expires every other active code of the
	// same (subject, purpose) pair.
	Create(ctx context.Context, code *models.VerificationCode) error
	GetLatest(ctx context.Context, subjectID string, purpose models.Purpose) (*models.VerificationCode, error)
	RunInTx(ctx context.Context, fn func(tx VerificationCodeTx) error) error
	Invalidate(ctx context.Context, subjectID string, purpose models.Purpose, at time.Time) error
	// DeleteDead removes codes that expired or were consumed before cutoff.
	DeleteDead(ctx context.Context, cutoff time.Time) (int64, error)
}

type verificationCodeRepository struct {
	DB *sql.DB
}

func NewVerificationCodeRepository(db *sql.DB) VerificationCodeRepository {
	return &verificationCodeRepository{DB: db}
}

const verificationCodeColumns = `id, subject_id, purpose, code_hash, created_at, expires_at, attempts, max_attempts, consumed_at`

func (r *verificationCodeRepository) Create(ctx context.Context, code *models.VerificationCode) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("verification_code create begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const supersede = `
		UPDATE verification_codes
		SET expires_at = $3
		WHERE subject_id = $1 AND purpose = $2 AND consumed_at IS NULL AND expires_at > $3
	`
	if _, err := tx.ExecContext(ctx, supersede, code.SubjectID, code.Purpose, code.CreatedAt); err != nil {
		return fmt.Errorf("verification_code supersede: %w", err)
	}

	const insert = `
		INSERT INTO verification_codes (id, subject_id, purpose, code_hash, created_at, expires_at, attempts, max_attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := tx.ExecContext(ctx, insert,
		code.ID, code.SubjectID, code.Purpose, code.CodeHash, code.CreatedAt, code.ExpiresAt, code.Attempts, code.MaxAttempts,
	); err != nil {
		return fmt.Errorf("verification_code create: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("verification_code create commit: %w", err)
	}
	return nil
}

func (r *verificationCodeRepository) GetLatest(ctx context.Context, subjectID string, purpose models.Purpose) (*models.VerificationCode, error) {
	q := `
		SELECT ` + verificationCodeColumns + `
		FROM verification_codes
		WHERE subject_id = $1 AND purpose = $2
		ORDER BY created_at DESC, seq DESC
		LIMIT 1
	`
	code, err := scanVerificationCode(r.DB.QueryRowContext(ctx, q, subjectID, purpose))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("verification_code latest: %w", err)
	}
	return code, nil
}

func (r *verificationCodeRepository) RunInTx(ctx context.Context, fn func(tx VerificationCodeTx) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("verification_code begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := fn(&verificationCodeTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("verification_code commit: %w", err)
	}
	return nil
}

func (r *verificationCodeRepository) Invalidate(ctx context.Context, subjectID string, purpose models.Purpose, at time.Time) error {
	const q = `
		UPDATE verification_codes
		SET expires_at = $3
		WHERE subject_id = $1 AND purpose = $2 AND consumed_at IS NULL AND expires_at > $3
	`
	if _, err := r.DB.ExecContext(ctx, q, subjectID, purpose, at); err != nil {
		return fmt.Errorf("verification_code invalidate: %w", err)
	}
	return nil
}

func (r *verificationCodeRepository) DeleteDead(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `
		DELETE FROM verification_codes
		WHERE expires_at < $1 OR (consumed_at IS NOT NULL AND consumed_at < $1)
	`
	res, err := r.DB.ExecContext(ctx, q, cutoff)
	if err != nil {
		return 0, fmt.Errorf("verification_code delete dead: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("verification_code delete dead rows: %w", err)
	}
	return n, nil
}

type verificationCodeTx struct {
	tx *sql.Tx
}

func (t *verificationCodeTx) LatestForUpdate(ctx context.Context, subjectID string, purpose models.Purpose) (*models.VerificationCode, error) {
	q := `
		SELECT ` + verificationCodeColumns + `
		FROM verification_codes
		WHERE subject_id = $1 AND purpose = $2
		ORDER BY created_at DESC, seq DESC
		LIMIT 1
		FOR UPDATE
	`
	code, err := scanVerificationCode(t.tx.QueryRowContext(ctx, q, subjectID, purpose))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("verification_code latest for update: %w", err)
	}
	return code, nil
}

// IncrementAttempts: +1 попытка, возвращает новое значение attempts.
// The row is capped at max_attempts.
func (t *verificationCodeTx) IncrementAttempts(ctx context.Context, id string) (int, error) {
	const q = `
		UPDATE verification_codes
		SET attempts = LEAST(attempts + 1, max_attempts)
		WHERE id = $1
		RETURNING attempts
	`
	var attempts int
	if err := t.tx.QueryRowContext(ctx, q, id).Scan(&attempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("verification_code increment attempts: %w", err)
	}
	return attempts, nil
}

func (t *verificationCodeTx) MarkConsumed(ctx context.Context, id string, at time.Time) error {
	const q = `
		UPDATE verification_codes SET consumed_at = $2
		WHERE id = $1 AND consumed_at IS NULL
	`
	res, err := t.tx.ExecContext(ctx, q, id, at)
	if err != nil {
		return fmt.Errorf("verification_code mark consumed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("verification_code mark consumed rows: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVerificationCode(row rowScanner) (*models.VerificationCode, error) {
	var (
		c          models.VerificationCode
		purpose    string
		consumedAt sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.SubjectID, &purpose, &c.CodeHash, &c.CreatedAt, &c.ExpiresAt, &c.Attempts, &c.MaxAttempts, &consumedAt); err != nil {
		return nil, err
	}
	c.Purpose = models.Purpose(purpose)
	if consumedAt.Valid {
		t := consumedAt.Time
		c.ConsumedAt = &t
	}
	return &c, nil
}
