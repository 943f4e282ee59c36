package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"turapp/internal/authz"
	"turapp/internal/models"
	"turapp/internal/services"
)

type UserHandler struct {
	service     services.UserService
	credentials services.CredentialService
	log         *zap.Logger
}

func NewUserHandler(service services.UserService, credentials services.CredentialService, log *zap.Logger) *UserHandler {
	return &UserHandler{service: service, credentials: credentials, log: log}
}

type twoFactorToggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

type adminPasswordRequest struct {
	NewPassword string `json:"new_password" binding:"required"`
}

// небольшое маскирование для роли Audit
func maskIfAudit(callerRole int, u *models.User) *models.User {
	cp := *u
	cp.PasswordHash = ""
	if callerRole == authz.RoleAudit {
		cp.Email = ""
		cp.DisplayName = ""
	}
	return &cp
}

// @Summary      Регистрация
// @Tags         Users
// @Accept       json
// @Produce      json
// @Param        body  body      services.RegisterInput  true  "Данные пользователя"
// @Success      201   {object}  models.User
// @Failure      400   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Router       /register [post]
func (h *UserHandler) Register(c *gin.Context) {
	var req services.RegisterInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := h.service.Register(c.Request.Context(), req)
	switch {
	case errors.Is(err, services.ErrInvalidEmail), errors.Is(err, services.ErrWeakPassword):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, services.ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
		return
	case err != nil:
		h.log.Error("[user] register failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}
	c.JSON(http.StatusCreated, user)
}

// @Summary      Текущий пользователь
// @Tags         Users
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  models.User
// @Router       /me [get]
func (h *UserHandler) Me(c *gin.Context) {
	userID, _ := getUserAndRole(c)
	user, err := h.service.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, user)
}

// @Summary      Включение/выключение 2FA
// @Tags         Users
// @Accept       json
// @Security     BearerAuth
// @Param        body  body  twoFactorToggleRequest  true  "enabled"
// @Success      204
// @Router       /me/two-factor [put]
func (h *UserHandler) SetTwoFactor(c *gin.Context) {
	userID, _ := getUserAndRole(c)
	var req twoFactorToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.service.SetTwoFactor(c.Request.Context(), userID, *req.Enabled); err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		h.log.Error("[user] two-factor toggle failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.Status(http.StatusNoContent)
}

// @Summary      Пользователь (админка)
// @Tags         Admin
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "ID пользователя"
// @Success      200  {object}  models.User
// @Failure      404  {object}  map[string]string
// @Router       /admin/users/{id} [get]
func (h *UserHandler) GetUser(c *gin.Context) {
	_, roleID := getUserAndRole(c)
	user, err := h.service.GetUserByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, maskIfAudit(roleID, user))
}

// @Summary      Установка пароля администратором
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id    path      string                true  "ID пользователя"
// @Param        body  body      adminPasswordRequest  true  "Новый пароль"
// @Success      200   {object}  map[string]bool
// @Failure      400   {object}  map[string]string
// @Failure      403   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Router       /admin/users/{id}/password [post]
func (h *UserHandler) SetPassword(c *gin.Context) {
	_, roleID := getUserAndRole(c)
	if !authz.CanManageCredentials(roleID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "only admin can set passwords"})
		return
	}
	var req adminPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.credentials.AdminSetPassword(c.Request.Context(), c.Param("id"), req.NewPassword); err != nil {
		writeCredentialError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
