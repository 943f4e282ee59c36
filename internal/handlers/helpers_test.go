package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"turapp/internal/models"
	"turapp/internal/services"
)

func TestVerifyStatus(t *testing.T) {
	require.Equal(t, http.StatusOK, verifyStatus(models.VerifySuccess()))
	require.Equal(t, http.StatusBadRequest, verifyStatus(models.VerifyInvalid(3)))
	require.Equal(t, http.StatusBadRequest, verifyStatus(models.VerifyFailure(models.VerifyErrMaxAttemptsExceeded)))
	require.Equal(t, http.StatusInternalServerError, verifyStatus(models.VerifyFailure(models.VerifyErrUnknown)))
}

func TestWriteSendError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name   string
		err    error
		status int
		header string
	}{
		{"throttled", &services.ThrottledError{RetryAfter: 90 * time.Second}, http.StatusTooManyRequests, "90"},
		{"provider down", fmt.Errorf("%w: dial tcp: refused", services.ErrDeliveryFailed), http.StatusBadGateway, ""},
		{"not configured", services.ErrProviderNotConfigured, http.StatusBadGateway, ""},
		{"no user", services.ErrUserNotFound, http.StatusNotFound, ""},
		{"bad challenge", services.ErrInvalidChallenge, http.StatusUnauthorized, ""},
		{"code spent", services.ErrLoginRestartRequired, http.StatusUnauthorized, ""},
		{"2fa off", services.ErrTwoFactorDisabled, http.StatusConflict, ""},
		{"other", errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			writeSendError(c, zap.NewNop(), "[test]", tt.err)
			require.Equal(t, tt.status, w.Code)
			require.Equal(t, tt.header, w.Header().Get("Retry-After"))
			require.NotContains(t, w.Body.String(), "refused")
		})
	}
}

func TestGetUserAndRole(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Set("user_id", "u-1")
	c.Set("role_id", 50)
	id, role := getUserAndRole(c)
	require.Equal(t, "u-1", id)
	require.Equal(t, 50, role)
}
