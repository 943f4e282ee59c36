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

type AuthHandler struct {
	authService      services.AuthService
	twoFactorService services.TwoFactorService
	defaultLang      models.Language
	log              *zap.Logger
}

func NewAuthHandler(authService services.AuthService, twoFactorService services.TwoFactorService, defaultLang models.Language, log *zap.Logger) *AuthHandler {
	return &AuthHandler{authService: authService, twoFactorService: twoFactorService, defaultLang: defaultLang, log: log}
}

// challenge_token приходит из ответа /login
type twoFactorCodeRequest struct {
	ChallengeToken string `json:"challenge_token" binding:"required"`
	Code           string `json:"code" binding:"required"`
}

type twoFactorChallengeRequest struct {
	ChallengeToken string `json:"challenge_token" binding:"required"`
	Language       string `json:"language"`
}

// @Summary      Вход в систему
// @Description  Проверяет пароль. Если включена 2FA, отправляет код на почту вместо токена
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        login  body      models.LoginRequest  true  "Данные для входа"
// @Success      200    {object}  services.LoginResult
// @Success      202    {object}  services.LoginResult
// @Failure      400    {object}  map[string]string
// @Failure      401    {object}  map[string]string
// @Failure      429    {object}  map[string]string
// @Failure      502    {object}  map[string]string
// @Router       /login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	start := time.Now()

	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.authService.Login(c.Request.Context(), req.Email, req.Password, h.language(req.Language))
	if errors.Is(err, services.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}
	if err != nil {
		writeSendError(c, h.log, "[auth][login]", err)
		return
	}

	h.log.Info("[auth][login] success",
		zap.String("user_id", res.User.ID),
		zap.Bool("two_factor", res.TwoFactorRequired),
		zap.Duration("took", time.Since(start).Truncate(time.Millisecond)),
	)
	if res.TwoFactorRequired {
		c.JSON(http.StatusAccepted, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

// @Summary      Подтверждение входа кодом
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body      twoFactorCodeRequest  true  "challenge_token и код"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  models.VerifyResult
// @Failure      401   {object}  map[string]string
// @Router       /login/2fa/verify [post]
func (h *AuthHandler) VerifyTwoFactor(c *gin.Context) {
	var req twoFactorCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, token, err := h.twoFactorService.Verify(c.Request.Context(), req.ChallengeToken, req.Code)
	if errors.Is(err, services.ErrInvalidChallenge) {
		writeLoginRequired(c)
		return
	}
	if err != nil {
		h.log.Error("[auth][2fa] verify failed", zap.Error(err))
	}
	if !res.Success {
		c.JSON(verifyStatus(res), res)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"tokens":  token,
	})
}

// @Summary      Повторная отправка кода 2FA
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Description  Код, исчерпавший попытки, не перевыпускается: нужен новый вход по паролю
// @Param        body  body      twoFactorChallengeRequest  true  "challenge_token"
// @Success      200   {object}  services.StartedVerification
// @Failure      401   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Failure      429   {object}  map[string]string
// @Failure      502   {object}  map[string]string
// @Router       /login/2fa/resend [post]
func (h *AuthHandler) ResendTwoFactor(c *gin.Context) {
	var req twoFactorChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	started, err := h.twoFactorService.Resend(c.Request.Context(), req.ChallengeToken, h.language(req.Language))
	if err != nil {
		writeSendError(c, h.log, "[auth][2fa][resend]", err)
		return
	}
	c.JSON(http.StatusOK, started)
}

// @Summary      Отмена входа с 2FA
// @Description  Делает текущий код недействительным
// @Tags         Auth
// @Accept       json
// @Param        body  body  twoFactorChallengeRequest  true  "challenge_token"
// @Success      204
// @Failure      401   {object}  map[string]string
// @Router       /login/2fa/cancel [post]
func (h *AuthHandler) CancelTwoFactor(c *gin.Context) {
	var req twoFactorChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := h.twoFactorService.Cancel(c.Request.Context(), req.ChallengeToken)
	if errors.Is(err, services.ErrInvalidChallenge) {
		writeLoginRequired(c)
		return
	}
	if err != nil {
		h.log.Warn("[auth][2fa] cancel failed", zap.Error(err))
	}
	c.Status(http.StatusNoContent)
}

func (h *AuthHandler) language(s string) models.Language {
	if s == "" {
		return ""
	}
	return models.ParseLanguage(s, h.defaultLang)
}
