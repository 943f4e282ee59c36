package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"turapp/internal/authz"
	"turapp/internal/handlers"
	"turapp/internal/middleware"
	"turapp/internal/utils"
)

func SetupRoutes(
	r *gin.Engine,
	tokens *utils.TokenIssuer,
	serviceKey string,
	authHandler *handlers.AuthHandler,
	resetHandler *handlers.PasswordResetHandler,
	userHandler *handlers.UserHandler,
	notificationHandler *handlers.NotificationHandler,
) *gin.Engine {

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// ---- public
	r.POST("/login", authHandler.Login)
	r.POST("/register", userHandler.Register)

	twoFactor := r.Group("/login/2fa")
	{
		twoFactor.POST("/verify", authHandler.VerifyTwoFactor)
		twoFactor.POST("/resend", authHandler.ResendTwoFactor)
		twoFactor.POST("/cancel", authHandler.CancelTwoFactor)
	}

	reset := r.Group("/password-reset")
	{
		reset.POST("/request", resetHandler.Request)
		reset.POST("/verify", resetHandler.Verify)
		reset.POST("/complete", resetHandler.Complete)
		reset.POST("/cancel", resetHandler.Cancel)
	}

	// ---- service-to-service
	internal := r.Group("/internal", middleware.RequireServiceKey(serviceKey))
	{
		internal.POST("/notifications/verification-email", notificationHandler.SendVerificationEmail)
	}

	// ---- protected
	protected := r.Group("/", middleware.AuthMiddleware(tokens))
	{
		protected.GET("/me", userHandler.Me)
		protected.PUT("/me/two-factor", userHandler.SetTwoFactor)
	}

	admin := r.Group("/admin",
		middleware.AuthMiddleware(tokens),
		middleware.RequireRoles(authz.RoleSupport, authz.RoleAudit, authz.RoleAdmin),
		middleware.ReadOnlyGuard(),
	)
	{
		admin.GET("/users/:id", userHandler.GetUser)
		admin.POST("/users/:id/password", userHandler.SetPassword)
	}

	return r
}
