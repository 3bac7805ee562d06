package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/blindtest-party/backend/internal/auth"
)

func init() { gin.SetMode(gin.TestMode) }

func newRouter(jwtSvc *auth.JWTService, limiter *KeyedRateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(CORS("http://host.local"), Logger(zap.NewNop()))
	ok := func(c *gin.Context) { c.String(http.StatusOK, "ok") }
	g := r.Group("/sessions/:code", JWT(jwtSvc), RequireSession())
	g.POST("/play", RequireRole(auth.RoleHost), ok)
	g.POST("/buzz", RequireRole(auth.RolePlayer), RateLimit(limiter), ok)
	return r
}

func do(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Origin", "http://host.local")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAndRoles(t *testing.T) {
	svc := auth.NewJWTService("secret", 1)
	r := newRouter(svc, NewKeyedRateLimiter(rate.Inf, 1))
	host, err := svc.GenerateHost("ABC123")
	require.NoError(t, err)
	player, err := svc.GeneratePlayer("ABC123", "p-1")
	require.NoError(t, err)
	otherHost, err := svc.GenerateHost("ZZZ999")
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodPost, "/sessions/ABC123/play", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodPost, "/sessions/ABC123/play", "nope").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/sessions/ABC123/play", host).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/sessions/abc123/play", host).Code, "codes compare case-insensitively")
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodPost, "/sessions/ABC123/play", player).Code)
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodPost, "/sessions/ABC123/play", otherHost).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/sessions/ABC123/buzz", player).Code)

	w := do(r, http.MethodPost, "/sessions/ABC123/play", host)
	assert.Equal(t, "http://host.local", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSPreflight(t *testing.T) {
	r := gin.New()
	r.Use(CORS("*"))
	r.OPTIONS("/x", func(c *gin.Context) { c.Status(http.StatusTeapot) })
	w := do(r, http.MethodOptions, "/x", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimitPerPlayer(t *testing.T) {
	svc := auth.NewJWTService("secret", 1)
	limiter := NewKeyedRateLimiter(rate.Every(time.Hour), 2)
	r := newRouter(svc, limiter)
	p1, _ := svc.GeneratePlayer("ABC123", "p-1")
	p2, _ := svc.GeneratePlayer("ABC123", "p-2")

	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/sessions/ABC123/buzz", p1).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/sessions/ABC123/buzz", p1).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(r, http.MethodPost, "/sessions/ABC123/buzz", p1).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/sessions/ABC123/buzz", p2).Code, "buckets are per player")
}

func TestKeyedRateLimiter_PrunesIdleKeys(t *testing.T) {
	l := NewKeyedRateLimiter(rate.Every(time.Minute), 1)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return start }
	for i := 0; i <= cleanupThreshold; i++ {
		l.Allow(string(rune('a'+i%26)) + time.Duration(i).String())
	}
	require.Greater(t, len(l.entries), cleanupThreshold)

	l.now = func() time.Time { return start.Add(maxIdleAge + time.Second) }
	assert.True(t, l.Allow("fresh"))
	assert.Len(t, l.entries, 1)
}
