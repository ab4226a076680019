package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/kine-api/internal/handler"
	"github.com/jwalitptl/kine-api/internal/model"
	"github.com/jwalitptl/kine-api/pkg/auth"
	"github.com/jwalitptl/kine-api/pkg/clock"
	apperrors "github.com/jwalitptl/kine-api/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(engine *gin.Engine, method, path string, header map[string]string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestAuthenticateAndRequireRole(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC))
	tokens := auth.NewJWTService("secret", "kine-api", time.Hour, clk)
	m := NewAuthMiddleware(tokens)

	engine := gin.New()
	engine.GET("/staff", m.Authenticate(), m.RequireRole(model.RolePractitioner, model.RoleAdmin), func(c *gin.Context) {
		caller, err := handler.Caller(c)
		require.NoError(t, err)
		c.String(http.StatusOK, string(caller.Role))
	})

	bearer := func(role model.Role) map[string]string {
		token, err := tokens.GenerateAccessToken(model.Caller{UserID: uuid.New(), Role: role})
		require.NoError(t, err)
		return map[string]string{"Authorization": "Bearer " + token}
	}

	w := serve(engine, http.MethodGet, "/staff", bearer(model.RolePractitioner), "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "practitioner", w.Body.String())

	w = serve(engine, http.MethodGet, "/staff", bearer(model.RolePatient), "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = serve(engine, http.MethodGet, "/staff", map[string]string{"Authorization": "Token abc"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid authorization format")

	w = serve(engine, http.MethodGet, "/staff", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRateLimitIsPerClient(t *testing.T) {
	limiter := NewRateLimiter(RateLimiterConfig{Rate: 0.001, Burst: 2})
	engine := gin.New()
	engine.Use(limiter.RateLimit())
	engine.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, serve(engine, http.MethodGet, "/", nil, "").Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, serve(engine, http.MethodGet, "/", nil, "").Code)

	other := map[string]string{"X-Forwarded-For": "10.0.0.9"}
	assert.Equal(t, http.StatusOK, serve(engine, http.MethodGet, "/", other, "").Code)
}

func TestSizeLimit(t *testing.T) {
	engine := gin.New()
	engine.Use(SizeLimit(SizeLimitConfig{MaxBodySize: 8}))
	engine.POST("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, serve(engine, http.MethodPost, "/", nil, "small").Code)
	assert.Equal(t, http.StatusRequestEntityTooLarge, serve(engine, http.MethodPost, "/", nil, "far too large").Code)
}

func TestRecoveryAndRequestID(t *testing.T) {
	engine := gin.New()
	engine.Use(RequestID(), Recovery())
	engine.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := serve(engine, http.MethodGet, "/panic", map[string]string{HeaderXRequestID: "req-1"}, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "req-1", w.Header().Get(HeaderXRequestID))
	assert.Contains(t, w.Body.String(), `"status":"error"`)
}

func TestErrorHandlerRendersUnwrittenErrors(t *testing.T) {
	engine := gin.New()
	engine.Use(ErrorHandler())
	engine.GET("/conflict", func(c *gin.Context) {
		_ = c.Error(apperrors.Conflict("slot taken"))
	})
	engine.GET("/boom", func(c *gin.Context) {
		_ = c.Error(errors.New("db password leaked in message"))
	})

	w := serve(engine, http.MethodGet, "/conflict", nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "slot taken")

	w = serve(engine, http.MethodGet, "/boom", nil, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "password")
}
