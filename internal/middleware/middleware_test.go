package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"turapp/internal/authz"
	"turapp/internal/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(tokens *utils.TokenIssuer) *gin.Engine {
	r := gin.New()
	r.Use(AuthMiddleware(tokens))
	r.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetString(ctxUserID), "role_id": c.GetInt(ctxRoleID)})
	})
	r.POST("/password-reset/request", func(c *gin.Context) { c.Status(http.StatusAccepted) })
	admin := r.Group("/admin", RequireRoles(authz.RoleAdmin, authz.RoleAudit), ReadOnlyGuard())
	admin.GET("/users/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	admin.POST("/users/:id/password", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func do(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	tokens := utils.NewTokenIssuer("k", time.Minute, time.Minute)
	r := newRouter(tokens)

	tok, _, err := tokens.IssueAccess("u-1", authz.RoleUser)
	require.NoError(t, err)

	require.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/me", "").Code)
	require.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/me", "nonsense").Code)

	w := do(r, http.MethodGet, "/me", tok)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"user_id":"u-1","role_id":10}`, w.Body.String())

	require.Equal(t, http.StatusAccepted, do(r, http.MethodPost, "/password-reset/request", "").Code)

	other := utils.NewTokenIssuer("other-key", time.Minute, time.Minute)
	forged, _, err := other.IssueAccess("u-1", authz.RoleAdmin)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/me", forged).Code)

	// reset grants and login challenges are signed with the same key
	grant, _, err := tokens.IssueResetGrant("u-1", "$2a$hash")
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/me", grant).Code)
	challenge, _, err := tokens.IssueChallenge("u-1")
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/me", challenge).Code)
}

func TestRoleGuards(t *testing.T) {
	tokens := utils.NewTokenIssuer("k", time.Minute, time.Minute)
	r := newRouter(tokens)
	issue := func(role int) string {
		tok, _, err := tokens.IssueAccess("u", role)
		require.NoError(t, err)
		return tok
	}

	require.Equal(t, http.StatusForbidden, do(r, http.MethodGet, "/admin/users/x", issue(authz.RoleUser)).Code)
	require.Equal(t, http.StatusOK, do(r, http.MethodGet, "/admin/users/x", issue(authz.RoleAudit)).Code)
	require.Equal(t, http.StatusForbidden, do(r, http.MethodPost, "/admin/users/x/password", issue(authz.RoleAudit)).Code)
	require.Equal(t, http.StatusNoContent, do(r, http.MethodPost, "/admin/users/x/password", issue(authz.RoleAdmin)).Code)
}

func TestRequireServiceKey(t *testing.T) {
	r := gin.New()
	r.POST("/internal/x", RequireServiceKey("svc-key"), func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/internal/x", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/internal/x", nil)
	req.Header.Set(ServiceKeyHeader, "svc-key")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	disabled := gin.New()
	disabled.POST("/internal/x", RequireServiceKey(""), func(c *gin.Context) { c.Status(http.StatusOK) })
	w = httptest.NewRecorder()
	disabled.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/internal/x", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	r := gin.New()
	r.Use(RequestLogger(zap.New(core)))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusBadGateway) })

	do(r, http.MethodGet, "/ok", "")
	do(r, http.MethodGet, "/boom", "")

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, zapcore.InfoLevel, entries[0].Level)
	require.Equal(t, "/ok", entries[0].ContextMap()["path"])
	require.Equal(t, zapcore.ErrorLevel, entries[1].Level)
}
