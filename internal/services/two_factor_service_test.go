package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"turapp/internal/models"
	"turapp/internal/ratelimit"
	"turapp/internal/repositories"
	"turapp/internal/utils"
)

type TwoFactorSuite struct {
	suite.Suite
	ctx    context.Context
	clock  *fakeClock
	users  *repositories.InMemoryUserRepository
	emails *recordingEmails
	tokens *utils.TokenIssuer
	codes  CodeService
	tfa    TwoFactorService
	auth   AuthService
	user   *models.User
}

func (s *TwoFactorSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = newFakeClock()
	s.users = repositories.NewInMemoryUserRepository()
	s.emails = &recordingEmails{}
	s.tokens = newTokens(s.clock)
	s.codes, _ = newCodes(s.clock)

	limiter := ratelimit.NewMemoryLimiter().WithClock(s.clock.Now)
	throttle := NewSendThrottle(limiter, 3, 10*time.Minute, nil)
	starter := NewVerificationService(s.codes, s.emails, throttle, nil)
	s.tfa = NewTwoFactorService(s.users, starter, s.codes, s.tokens, models.LanguageEnglish, nil)
	s.auth = NewAuthService(s.users, s.tfa, s.tokens, bcrypt.MinCost, nil)
	s.user = seedUser(s.users, s.auth, "u-2fa", "dana@example.com", "Secret123", true)
}

func TestTwoFactorSuite(t *testing.T) {
	suite.Run(t, new(TwoFactorSuite))
}

// login runs the password step and returns the challenge it handed out.
func (s *TwoFactorSuite) login() string {
	res, err := s.auth.Login(s.ctx, s.user.Email, "Secret123", models.LanguageEnglish)
	s.Require().NoError(err)
	s.Require().True(res.TwoFactorRequired)
	return res.ChallengeToken
}

func (s *TwoFactorSuite) wrongCode() string {
	if s.emails.Last().Code == "000000" {
		return "000001"
	}
	return "000000"
}

func (s *TwoFactorSuite) TestLoginStartsTwoFactor() {
	res, err := s.auth.Login(s.ctx, "Dana@Example.com", "Secret123", "")
	s.Require().NoError(err)
	s.True(res.TwoFactorRequired)
	s.Empty(res.AccessToken)
	s.Require().NotNil(res.CodeExpiresAt)
	s.Equal(s.clock.Now().Add(10*time.Minute), *res.CodeExpiresAt)

	s.Require().NotEmpty(res.ChallengeToken)
	claims, err := s.tokens.ParseChallenge(res.ChallengeToken)
	s.Require().NoError(err)
	s.Equal(s.user.ID, claims.Subject)
	s.Require().NotNil(res.ChallengeExpiresAt)
	s.Equal(s.clock.Now().Add(utils.DefaultChallengeTTL), *res.ChallengeExpiresAt)

	sent := s.emails.Last()
	s.Equal("dana@example.com", sent.To)
	s.Equal(models.PurposeTwoFactor, sent.Purpose)
	s.Equal(models.LanguageRussian, sent.Language)
	s.Equal(10*time.Minute, sent.ExpiresIn)
	s.Len(sent.Code, utils.CodeLength)
}

func (s *TwoFactorSuite) TestLoginWithoutTwoFactorReturnsToken() {
	seedUser(s.users, s.auth, "u-plain", "plain@example.com", "Secret123", false)
	res, err := s.auth.Login(s.ctx, "plain@example.com", "Secret123", models.LanguageEnglish)
	s.Require().NoError(err)
	s.False(res.TwoFactorRequired)
	s.NotEmpty(res.AccessToken)
	s.Empty(res.ChallengeToken)
	s.Empty(s.emails.Sent())
}

func (s *TwoFactorSuite) TestLoginRejectsBadCredentials() {
	_, err := s.auth.Login(s.ctx, "dana@example.com", "wrong", "")
	s.ErrorIs(err, ErrInvalidCredentials)
	_, err = s.auth.Login(s.ctx, "ghost@example.com", "Secret123", "")
	s.ErrorIs(err, ErrInvalidCredentials)
	_, err = s.auth.Login(s.ctx, "not-an-email", "Secret123", "")
	s.ErrorIs(err, ErrInvalidCredentials)
}

func (s *TwoFactorSuite) TestVerifyIssuesAccessToken() {
	challenge := s.login()
	code := s.emails.Last().Code

	res, tok, err := s.tfa.Verify(s.ctx, challenge, code)
	s.Require().NoError(err)
	s.True(res.Success)
	s.Require().NotNil(tok)

	claims, err := s.tokens.ParseAccess(tok.Token)
	s.Require().NoError(err)
	s.Equal(s.user.ID, claims.UserID)
	s.Equal(s.user.RoleID, claims.RoleID)

	res, tok, err = s.tfa.Verify(s.ctx, challenge, code)
	s.Require().NoError(err)
	s.Equal(models.VerifyErrNoCodeFound, res.Error)
	s.Nil(tok)
}

func (s *TwoFactorSuite) TestVerifyWrongCode() {
	challenge := s.login()

	res, tok, err := s.tfa.Verify(s.ctx, challenge, s.wrongCode())
	s.Require().NoError(err)
	s.Nil(tok)
	s.Equal(models.VerifyErrInvalidCode, res.Error)
	s.Equal(4, *res.AttemptsRemaining)
}

func (s *TwoFactorSuite) TestRejectsMissingOrForeignChallenge() {
	s.login()
	code := s.emails.Last().Code
	access, _, err := s.tokens.IssueAccess(s.user.ID, s.user.RoleID)
	s.Require().NoError(err)
	grant, _, err := s.tokens.IssueResetGrant(s.user.ID, s.user.PasswordHash)
	s.Require().NoError(err)

	for _, bad := range []string{"", s.user.ID, access, grant} {
		res, tok, err := s.tfa.Verify(s.ctx, bad, code)
		s.ErrorIs(err, ErrInvalidChallenge)
		s.Nil(tok)
		s.False(res.Success)

		_, err = s.tfa.Resend(s.ctx, bad, "")
		s.ErrorIs(err, ErrInvalidChallenge)
		s.ErrorIs(s.tfa.Cancel(s.ctx, bad), ErrInvalidChallenge)
	}
	s.Len(s.emails.Sent(), 1)

	// nothing was burned: the real challenge still works
	challenge, _, err := s.tokens.IssueChallenge(s.user.ID)
	s.Require().NoError(err)
	res, tok, err := s.tfa.Verify(s.ctx, challenge, code)
	s.Require().NoError(err)
	s.True(res.Success)
	s.NotNil(tok)
}

func (s *TwoFactorSuite) TestExpiredChallenge() {
	challenge := s.login()
	code := s.emails.Last().Code
	s.clock.Advance(utils.DefaultChallengeTTL)

	_, tok, err := s.tfa.Verify(s.ctx, challenge, code)
	s.ErrorIs(err, ErrInvalidChallenge)
	s.Nil(tok)
}

func (s *TwoFactorSuite) TestVerifyUnknownUser() {
	challenge, _, err := s.tokens.IssueChallenge("nobody")
	s.Require().NoError(err)
	res, tok, err := s.tfa.Verify(s.ctx, challenge, "123456")
	s.Require().NoError(err)
	s.Nil(tok)
	s.Equal(models.VerifyErrNoCodeFound, res.Error)
}

func (s *TwoFactorSuite) TestStartRefusesUserWithoutTwoFactor() {
	plain := seedUser(s.users, s.auth, "u-plain", "plain@example.com", "Secret123", false)
	_, err := s.tfa.Start(s.ctx, plain.ID, "")
	s.ErrorIs(err, ErrTwoFactorDisabled)

	challenge, _, err := s.tokens.IssueChallenge(plain.ID)
	s.Require().NoError(err)
	_, err = s.tfa.Resend(s.ctx, challenge, "")
	s.ErrorIs(err, ErrTwoFactorDisabled)
	s.Empty(s.emails.Sent())

	// 2FA switched off between login and verify
	challenge = s.login()
	code := s.emails.Last().Code
	s.Require().NoError(s.users.SetTwoFactor(s.ctx, s.user.ID, false, s.clock.Now()))
	res, tok, err := s.tfa.Verify(s.ctx, challenge, code)
	s.Require().NoError(err)
	s.Nil(tok)
	s.Equal(models.VerifyErrNoCodeFound, res.Error)
}

func (s *TwoFactorSuite) TestExhaustedCodeNeedsNewLogin() {
	challenge := s.login()
	code := s.emails.Last().Code
	wrong := s.wrongCode()

	var res models.VerifyResult
	for i := 0; i < 5; i++ {
		var err error
		res, _, err = s.tfa.Verify(s.ctx, challenge, wrong)
		s.Require().NoError(err)
	}
	s.Equal(models.VerifyErrMaxAttemptsExceeded, res.Error)

	_, err := s.tfa.Resend(s.ctx, challenge, "")
	s.ErrorIs(err, ErrLoginRestartRequired)
	s.Len(s.emails.Sent(), 1)

	res, tok, err := s.tfa.Verify(s.ctx, challenge, code)
	s.Require().NoError(err)
	s.Nil(tok)
	s.Equal(models.VerifyErrMaxAttemptsExceeded, res.Error)

	fresh := s.login()
	res, tok, err = s.tfa.Verify(s.ctx, fresh, s.emails.Last().Code)
	s.Require().NoError(err)
	s.True(res.Success)
	s.NotNil(tok)
}

func (s *TwoFactorSuite) TestResendAfterSuccessNeedsNewLogin() {
	challenge := s.login()
	res, _, err := s.tfa.Verify(s.ctx, challenge, s.emails.Last().Code)
	s.Require().NoError(err)
	s.Require().True(res.Success)

	_, err = s.tfa.Resend(s.ctx, challenge, "")
	s.ErrorIs(err, ErrLoginRestartRequired)
}

func (s *TwoFactorSuite) TestResendIssuesFreshCode() {
	challenge := s.login()
	first := s.emails.Last().Code
	wrong := s.wrongCode()
	_, _, err := s.tfa.Verify(s.ctx, challenge, wrong)
	s.Require().NoError(err)

	s.Equal(models.LanguageEnglish, s.emails.Last().Language)
	started, err := s.tfa.Resend(s.ctx, challenge, models.LanguageRussian)
	s.Require().NoError(err)
	s.Equal(s.clock.Now().Add(10*time.Minute), started.ExpiresAt)
	s.Len(s.emails.Sent(), 2)
	s.Equal(models.LanguageRussian, s.emails.Last().Language)

	if first != s.emails.Last().Code {
		res, _, err := s.tfa.Verify(s.ctx, challenge, first)
		s.Require().NoError(err)
		s.False(res.Success)
	}
	res, tok, err := s.tfa.Verify(s.ctx, challenge, s.emails.Last().Code)
	s.Require().NoError(err)
	s.True(res.Success)
	s.NotNil(tok)
}

func (s *TwoFactorSuite) TestCancelInvalidatesCode() {
	challenge := s.login()
	code := s.emails.Last().Code

	s.Require().NoError(s.tfa.Cancel(s.ctx, challenge))
	res, _, err := s.tfa.Verify(s.ctx, challenge, code)
	s.Require().NoError(err)
	s.False(res.Success)
	s.Equal(models.VerifyErrCodeExpired, res.Error)
}

func (s *TwoFactorSuite) TestStartIsThrottled() {
	for i := 0; i < 3; i++ {
		_, err := s.tfa.Start(s.ctx, s.user.ID, "")
		s.Require().NoError(err)
	}
	_, err := s.tfa.Start(s.ctx, s.user.ID, "")
	s.Require().ErrorIs(err, ErrSendThrottled)
	var te *ThrottledError
	s.Require().True(errors.As(err, &te))
	s.Equal(10*time.Minute, te.RetryAfter)
	s.Len(s.emails.Sent(), 3)

	s.clock.Advance(10 * time.Minute)
	_, err = s.tfa.Start(s.ctx, s.user.ID, "")
	s.NoError(err)
}

func (s *TwoFactorSuite) TestStartUnknownUser() {
	_, err := s.tfa.Start(s.ctx, "nobody", "")
	s.ErrorIs(err, ErrUserNotFound)
}

func TestVerificationService_DispatchFailureKeepsCode(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	codes, _ := newCodes(clock, WithCodeGenerator(fixedCodes("246810")))
	emails := &recordingEmails{err: ErrDeliveryFailed}
	starter := NewVerificationService(codes, emails, nil, nil)

	_, err := starter.Start(ctx, VerificationRequest{
		SubjectID: "u1", Email: "u1@example.com", Purpose: models.PurposeTwoFactor,
	})
	require.ErrorIs(t, err, ErrDeliveryFailed)

	res, err := codes.Validate(ctx, "u1", models.PurposeTwoFactor, "246810")
	require.NoError(t, err)
	require.True(t, res.Success)
}

type downLimiter struct{}

func (downLimiter) Allow(context.Context, string, int, time.Duration) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("redis: connection refused")
}

func TestSendThrottle_FailsOpen(t *testing.T) {
	th := NewSendThrottle(downLimiter{}, 1, time.Minute, nil)
	d, err := th.Allow(context.Background(), "u1", models.PurposeTwoFactor)
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestVerificationService_RejectsIncompleteRequest(t *testing.T) {
	codes, _ := newCodes(newFakeClock())
	starter := NewVerificationService(codes, &recordingEmails{}, nil, nil)
	_, err := starter.Start(context.Background(), VerificationRequest{SubjectID: "u1", Purpose: models.PurposeTwoFactor})
	require.Error(t, err)
}

func TestSendThrottle_Cooldown(t *testing.T) {
	clock := newFakeClock()
	limiter := ratelimit.NewMemoryLimiter().WithClock(clock.Now)
	th := NewSendThrottle(limiter, 5, 10*time.Minute, nil).WithCooldown(time.Minute)
	ctx := context.Background()

	d, err := th.Allow(ctx, "u1", models.PurposeTwoFactor)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	clock.Advance(20 * time.Second)
	d, err = th.Allow(ctx, "u1", models.PurposeTwoFactor)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, 40*time.Second, d.RetryAfter)

	// другой пользователь не ждёт
	d, err = th.Allow(ctx, "u2", models.PurposeTwoFactor)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	clock.Advance(time.Minute)
	d, err = th.Allow(ctx, "u1", models.PurposeTwoFactor)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, 2, d.Count)
}
