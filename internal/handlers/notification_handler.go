package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"turapp/internal/models"
	"turapp/internal/services"
)

// NotificationHandler exposes e-mail dispatch to trusted backends.
type NotificationHandler struct {
	emails      services.EmailService
	defaultLang models.Language
	defaultTTL  time.Duration
	log         *zap.Logger
}

func NewNotificationHandler(emails services.EmailService, defaultLang models.Language, defaultTTL time.Duration, log *zap.Logger) *NotificationHandler {
	return &NotificationHandler{emails: emails, defaultLang: defaultLang, defaultTTL: defaultTTL, log: log}
}

type verificationEmailRequest struct {
	Email            string `json:"email" binding:"required,email"`
	Code             string `json:"code" binding:"required,len=6,numeric"`
	DisplayName      string `json:"displayName"`
	Language         string `json:"language"`
	Purpose          string `json:"purpose" binding:"required"`
	ExpiresInMinutes int    `json:"expiresInMinutes"`
}

// @Summary      Отправка письма с кодом
// @Description  Внутренний эндпоинт, требует X-Service-Key
// @Tags         Internal
// @Accept       json
// @Produce      json
// @Param        X-Service-Key  header    string                    true  "Service key"
// @Param        body           body      verificationEmailRequest  true  "Письмо"
// @Success      200            {object}  services.SendResult
// @Failure      400            {object}  map[string]string
// @Failure      502            {object}  map[string]string
// @Router       /internal/notifications/verification-email [post]
func (h *NotificationHandler) SendVerificationEmail(c *gin.Context) {
	var req verificationEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	purpose, err := models.ParsePurpose(req.Purpose)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ttl := h.defaultTTL
	if req.ExpiresInMinutes > 0 {
		ttl = time.Duration(req.ExpiresInMinutes) * time.Minute
	}

	res, err := h.emails.SendVerificationCode(c.Request.Context(), services.VerificationEmail{
		To:          req.Email,
		Code:        req.Code,
		DisplayName: req.DisplayName,
		Language:    models.ParseLanguage(req.Language, h.defaultLang),
		Purpose:     purpose,
		ExpiresIn:   ttl,
	})
	if err != nil {
		if errors.Is(err, services.ErrProviderNotConfigured) {
			// misconfiguration is fatal for the caller, not retryable
			h.log.Error("[notifications] provider not configured")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "email provider not configured"})
			return
		}
		writeSendError(c, h.log, "[notifications]", err)
		return
	}
	c.JSON(http.StatusOK, res)
}
