package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"turapp/internal/config"
	"turapp/internal/ratelimit"
	"turapp/internal/repositories"
)

type countingMailer struct {
	mu sync.Mutex
	n  int
}

func (m *countingMailer) DialAndSend(msgs ...*gomail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.n += len(msgs)
	return nil
}

func (m *countingMailer) sent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.n
}

func testConfig() *config.Config {
	return &config.Config{
		Email: config.EmailConfig{FromEmail: "no-reply@turapp.test", FromName: "TurApp"},
		Verification: config.VerificationConfig{
			TwoFactorTTLMinutes:     10,
			PasswordResetTTLMinutes: 10,
			MaxAttempts:             5,
			ResendCooldownSeconds:   60,
			SendLimit:               5,
			SendWindowMinutes:       10,
			ResetGrantTTLMinutes:    15,
			DefaultLanguage:         "ru",
		},
		JWT: config.JWTConfig{Secret: "test", AccessTTLMinutes: 15},
	}
}

func post(r http.Handler, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(body)
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestNewRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	users := repositories.NewInMemoryUserRepository()
	mailer := &countingMailer{}
	r := NewRouter(testConfig(), zap.NewNop(), Deps{
		Users:   users,
		Codes:   repositories.NewInMemoryVerificationCodeRepository(),
		Limiter: ratelimit.NewMemoryLimiter(),
		Mailer:  mailer,
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = post(r, "/register", gin.H{"email": "aida@turapp.test", "password": "Secret123", "display_name": "Аида"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NoError(t, users.SetTwoFactor(context.Background(), created.ID, true, time.Now()))

	w = post(r, "/login", gin.H{"email": "aida@turapp.test", "password": "Secret123"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	require.Equal(t, 1, mailer.sent())
	var login struct {
		ChallengeToken string `json:"challenge_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))
	require.NotEmpty(t, login.ChallengeToken)

	// повторный запрос раньше минуты упирается в cooldown
	w = post(r, "/login/2fa/resend", gin.H{"challenge_token": login.ChallengeToken})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.NotEmpty(t, w.Header().Get("Retry-After"))
	require.Equal(t, 1, mailer.sent())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `turapp_verification_emails_total{outcome="sent",purpose="two_factor"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(corsMiddleware())
	r.POST("/login", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/login", nil))
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
