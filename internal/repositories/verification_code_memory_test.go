package repositories

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"turapp/internal/models"
)

type InMemoryVerificationCodeSuite struct {
	suite.Suite
	repo *InMemoryVerificationCodeRepository
	now  time.Time
}

func TestInMemoryVerificationCodeSuite(t *testing.T) {
	suite.Run(t, new(InMemoryVerificationCodeSuite))
}

func (s *InMemoryVerificationCodeSuite) SetupTest() {
	s.repo = NewInMemoryVerificationCodeRepository()
	s.now = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
}

func (s *InMemoryVerificationCodeSuite) newCode(id string, createdAt time.Time) *models.VerificationCode {
	return &models.VerificationCode{
		ID:          id,
		SubjectID:   "user-1",
		Purpose:     models.PurposeTwoFactor,
		CodeHash:    "hash-" + id,
		CreatedAt:   createdAt,
		ExpiresAt:   createdAt.Add(10 * time.Minute),
		MaxAttempts: 5,
	}
}

func (s *InMemoryVerificationCodeSuite) TestGetLatest() {
	ctx := context.Background()

	s.Run("missing pair returns ErrNotFound", func() {
		_, err := s.repo.GetLatest(ctx, "nobody", models.PurposeTwoFactor)
		s.ErrorIs(err, ErrNotFound)
	})

	s.Run("latest is scoped by purpose", func() {
		s.Require().NoError(s.repo.Create(ctx, s.newCode("a", s.now)))
		reset := s.newCode("b", s.now.Add(time.Second))
		reset.Purpose = models.PurposePasswordReset
		s.Require().NoError(s.repo.Create(ctx, reset))

		got, err := s.repo.GetLatest(ctx, "user-1", models.PurposeTwoFactor)
		s.Require().NoError(err)
		s.Equal("a", got.ID)
	})
}

func (s *InMemoryVerificationCodeSuite) TestCreateSupersedesActiveCodes() {
	ctx := context.Background()
	s.Require().NoError(s.repo.Create(ctx, s.newCode("first", s.now)))
	later := s.now.Add(time.Minute)
	s.Require().NoError(s.repo.Create(ctx, s.newCode("second", later)))

	latest, err := s.repo.GetLatest(ctx, "user-1", models.PurposeTwoFactor)
	s.Require().NoError(err)
	s.Equal("second", latest.ID)

	var first *models.VerificationCode
	for _, c := range s.repo.codes {
		if c.ID == "first" {
			first = c
		}
	}
	s.Require().NotNil(first)
	s.Equal(later, first.ExpiresAt)
}

func (s *InMemoryVerificationCodeSuite) TestCreateRejectsDuplicateID() {
	ctx := context.Background()
	s.Require().NoError(s.repo.Create(ctx, s.newCode("dup", s.now)))
	s.ErrorIs(s.repo.Create(ctx, s.newCode("dup", s.now)), ErrConflict)
}

func (s *InMemoryVerificationCodeSuite) TestTxIncrementIsCapped() {
	ctx := context.Background()
	s.Require().NoError(s.repo.Create(ctx, s.newCode("c", s.now)))

	var last int
	for i := 0; i < 7; i++ {
		err := s.repo.RunInTx(ctx, func(tx VerificationCodeTx) error {
			n, err := tx.IncrementAttempts(ctx, "c")
			last = n
			return err
		})
		s.Require().NoError(err)
	}
	s.Equal(5, last)
}

func (s *InMemoryVerificationCodeSuite) TestTxMarkConsumedOnce() {
	ctx := context.Background()
	s.Require().NoError(s.repo.Create(ctx, s.newCode("c", s.now)))

	err := s.repo.RunInTx(ctx, func(tx VerificationCodeTx) error {
		return tx.MarkConsumed(ctx, "c", s.now)
	})
	s.Require().NoError(err)

	err = s.repo.RunInTx(ctx, func(tx VerificationCodeTx) error {
		return tx.MarkConsumed(ctx, "c", s.now)
	})
	s.ErrorIs(err, ErrConflict)
}

func (s *InMemoryVerificationCodeSuite) TestConcurrentIncrementsAreSerialised() {
	ctx := context.Background()
	code := s.newCode("c", s.now)
	code.MaxAttempts = 100
	s.Require().NoError(s.repo.Create(ctx, code))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.repo.RunInTx(ctx, func(tx VerificationCodeTx) error {
				latest, err := tx.LatestForUpdate(ctx, "user-1", models.PurposeTwoFactor)
				if err != nil {
					return err
				}
				_, err = tx.IncrementAttempts(ctx, latest.ID)
				return err
			})
		}()
	}
	wg.Wait()

	got, err := s.repo.GetLatest(ctx, "user-1", models.PurposeTwoFactor)
	s.Require().NoError(err)
	s.Equal(50, got.Attempts)
}

func (s *InMemoryVerificationCodeSuite) TestInvalidateAndDeleteDead() {
	ctx := context.Background()
	s.Require().NoError(s.repo.Create(ctx, s.newCode("c", s.now)))

	s.Require().NoError(s.repo.Invalidate(ctx, "user-1", models.PurposeTwoFactor, s.now.Add(time.Minute)))
	got, err := s.repo.GetLatest(ctx, "user-1", models.PurposeTwoFactor)
	s.Require().NoError(err)
	s.Equal(s.now.Add(time.Minute), got.ExpiresAt)

	n, err := s.repo.DeleteDead(ctx, s.now)
	s.Require().NoError(err)
	s.Zero(n)

	n, err = s.repo.DeleteDead(ctx, s.now.Add(time.Hour))
	s.Require().NoError(err)
	s.EqualValues(1, n)
	_, err = s.repo.GetLatest(ctx, "user-1", models.PurposeTwoFactor)
	s.ErrorIs(err, ErrNotFound)
}
