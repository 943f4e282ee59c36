package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"turapp/internal/models"
	"turapp/internal/services"
	"turapp/internal/utils"
)

type PasswordResetHandler struct {
	service     services.PasswordResetService
	defaultLang models.Language
	log         *zap.Logger
}

func NewPasswordResetHandler(service services.PasswordResetService, defaultLang models.Language, log *zap.Logger) *PasswordResetHandler {
	return &PasswordResetHandler{service: service, defaultLang: defaultLang, log: log}
}

type resetRequest struct {
	Email    string `json:"email" binding:"required"`
	Language string `json:"language"`
}

type resetVerifyRequest struct {
	Email string `json:"email" binding:"required"`
	Code  string `json:"code" binding:"required"`
}

type resetCompleteRequest struct {
	ResetToken  string `json:"reset_token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// @Summary      Запрос сброса пароля
// @Description  Всегда отвечает success для корректного email, зарегистрирован он или нет
// @Tags         PasswordReset
// @Accept       json
// @Produce      json
// @Param        body  body      resetRequest  true  "email"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Router       /password-reset/request [post]
func (h *PasswordResetHandler) Request(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var lang models.Language
	if req.Language != "" {
		lang = models.ParseLanguage(req.Language, h.defaultLang)
	}
	expiresAt, err := h.service.RequestReset(c.Request.Context(), req.Email, lang)
	if errors.Is(err, services.ErrInvalidEmail) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email"})
		return
	}
	if err != nil {
		h.log.Error("[password-reset] request failed", zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "expires_at": expiresAt})
}

type resetCancelRequest struct {
	Email string `json:"email" binding:"required"`
}

// @Summary      Отмена сброса пароля
// @Description  Делает код сброса недействительным. Ответ не зависит от существования email
// @Tags         PasswordReset
// @Accept       json
// @Param        body  body  resetCancelRequest  true  "email"
// @Success      204
// @Failure      400   {object}  map[string]string
// @Router       /password-reset/cancel [post]
func (h *PasswordResetHandler) Cancel(c *gin.Context) {
	var req resetCancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.service.CancelReset(c.Request.Context(), req.Email); err != nil {
		h.log.Warn("[password-reset] cancel failed", zap.Error(err))
	}
	c.Status(http.StatusNoContent)
}

// @Summary      Проверка кода сброса
// @Description  При успехе возвращает reset_token для смены пароля
// @Tags         PasswordReset
// @Accept       json
// @Produce      json
// @Param        body  body      resetVerifyRequest  true  "email и код"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  models.VerifyResult
// @Router       /password-reset/verify [post]
func (h *PasswordResetHandler) Verify(c *gin.Context) {
	var req resetVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, grant, err := h.service.VerifyCode(c.Request.Context(), req.Email, req.Code)
	if errors.Is(err, services.ErrInvalidEmail) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email"})
		return
	}
	if err != nil {
		h.log.Error("[password-reset] verify failed", zap.Error(err))
	}
	if !res.Success || grant == nil {
		c.JSON(verifyStatus(res), res)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"user_id":     grant.UserID,
		"reset_token": grant.Token,
		"expires_at":  grant.ExpiresAt,
	})
}

// @Summary      Установка нового пароля
// @Tags         PasswordReset
// @Accept       json
// @Produce      json
// @Param        body  body      resetCompleteRequest  true  "reset_token и новый пароль"
// @Success      200   {object}  map[string]bool
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Router       /password-reset/complete [post]
func (h *PasswordResetHandler) Complete(c *gin.Context) {
	var req resetCompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.service.ResetPassword(c.Request.Context(), req.ResetToken, req.NewPassword); err != nil {
		writeCredentialError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func writeCredentialError(c *gin.Context, log *zap.Logger, err error) {
	switch {
	case errors.Is(err, utils.ErrWeakPassword):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrInvalidGrant):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not_verified"})
	case errors.Is(err, services.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
	default:
		log.Error("[credentials] update failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update password"})
	}
}
