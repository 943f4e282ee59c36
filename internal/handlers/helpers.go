package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"turapp/internal/models"
	"turapp/internal/services"
)

func getUserAndRole(c *gin.Context) (userID string, roleID int) {
	userID = c.GetString("user_id")
	// более устойчиво к типам (int / int64 / float64)
	switch t := c.Value("role_id").(type) {
	case int:
		roleID = t
	case int64:
		roleID = int(t)
	case float64:
		roleID = int(t)
	}
	return
}

// verifyStatus: expected verification failures are 400, store trouble is 500.
func verifyStatus(res models.VerifyResult) int {
	switch {
	case res.Success:
		return http.StatusOK
	case res.Error == models.VerifyErrUnknown:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// writeSendError maps issue/dispatch failures. Provider details stay in
// the log.
func writeSendError(c *gin.Context, log *zap.Logger, op string, err error) {
	var throttled *services.ThrottledError
	switch {
	case errors.As(err, &throttled):
		secs := int(math.Ceil(throttled.RetryAfter.Seconds()))
		c.Header("Retry-After", strconv.Itoa(secs))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests, try later", "retry_after": secs})
	case errors.Is(err, services.ErrSendThrottled):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests, try later"})
	case errors.Is(err, services.ErrInvalidChallenge), errors.Is(err, services.ErrLoginRestartRequired):
		writeLoginRequired(c)
	case errors.Is(err, services.ErrTwoFactorDisabled):
		c.JSON(http.StatusConflict, gin.H{"error": "two-factor authentication is not enabled"})
	case errors.Is(err, services.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	case errors.Is(err, services.ErrProviderNotConfigured), errors.Is(err, services.ErrDeliveryFailed):
		log.Error(op+" dispatch failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to send verification code"})
	default:
		log.Error(op+" failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// writeLoginRequired: the client has to start over with POST /login.
func writeLoginRequired(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, gin.H{"error": "login_required"})
}
