package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dumeirei/loyalty-settlement/internal/common/jwt"
	"github.com/dumeirei/loyalty-settlement/internal/common/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestJWT() *jwt.Manager {
	return jwt.NewManager(&jwt.Config{
		Secret:           "middleware-test-secret",
		AccessExpireTime: time.Hour,
		Issuer:           "test",
	})
}

func newAuthRouter(m *jwt.Manager, roles ...string) *gin.Engine {
	r := gin.New()
	group := r.Group("/admin", AdminAuth(m))
	if len(roles) > 0 {
		group.Use(RequireRoles(roles...))
	}
	group.GET("/me", func(c *gin.Context) {
		response.Success(c, gin.H{"admin_id": GetAdminID(c), "role": GetRole(c)})
	})
	return r
}

func doRequest(r http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/admin/me", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAdminAuth(t *testing.T) {
	m := newTestJWT()
	r := newAuthRouter(m)

	t.Run("缺少令牌", func(t *testing.T) {
		w := doRequest(r, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("无效令牌", func(t *testing.T) {
		w := doRequest(r, "garbage")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("有效令牌", func(t *testing.T) {
		token, _, err := m.GenerateAccessToken(42, jwt.RoleFinance)
		require.NoError(t, err)

		w := doRequest(r, token)
		require.Equal(t, http.StatusOK, w.Code)

		var resp response.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		data := resp.Data.(map[string]interface{})
		assert.Equal(t, float64(42), data["admin_id"])
		assert.Equal(t, jwt.RoleFinance, data["role"])
	})

	t.Run("查询参数令牌", func(t *testing.T) {
		token, _, err := m.GenerateAccessToken(1, jwt.RoleViewer)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/admin/me?token="+token, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestRequireRoles(t *testing.T) {
	m := newTestJWT()
	r := newAuthRouter(m, jwt.RoleFinance)

	viewer, _, _ := m.GenerateAccessToken(1, jwt.RoleViewer)
	finance, _, _ := m.GenerateAccessToken(2, jwt.RoleFinance)
	super, _, _ := m.GenerateAccessToken(3, jwt.RoleSuperAdmin)

	assert.Equal(t, http.StatusForbidden, doRequest(r, viewer).Code)
	assert.Equal(t, http.StatusOK, doRequest(r, finance).Code)
	assert.Equal(t, http.StatusOK, doRequest(r, super).Code)
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, GetRequestID(c)) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, w.Header().Get("X-Request-ID"), w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "fixed-id", w.Body.String())
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	r := gin.New()
	r.Use(RequestID(), Recovery(zap.New(core)))
	r.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 1, logs.FilterMessage("Panic recovered").Len())
}

func TestAccessLog(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := gin.New()
	r.Use(RequestID(), AccessLog(zap.New(core)))
	r.POST("/settlements/:id/reject", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	body := strings.NewReader(`{"reason":"` + strings.Repeat("x", 2000) + `"}`)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/settlements/5/reject", body))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	entries := logs.FilterMessage("HTTP Request").All()
	require.Len(t, entries, 2)

	fields := entries[0].ContextMap()
	assert.Equal(t, "/settlements/5/reject", fields["path"])
	assert.Equal(t, "/settlements/:id/reject", fields["route"])
	assert.NotEmpty(t, fields["request_id"])
	assert.NotContains(t, fields, "trace_id")
	assert.True(t, strings.HasSuffix(fields["request_body"].(string), "...(truncated)"))

	assert.Equal(t, zap.WarnLevel, entries[1].Level)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 0))
	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "ab...(truncated)", truncate("abc", 2))
}
