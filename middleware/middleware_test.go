package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"webpay-gateway-api/models"
	"webpay-gateway-api/services/auth"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", seen)
}

func TestAuthMiddleware(t *testing.T) {
	jwtService := auth.NewJWTService("secret", "webpay-gateway-api")
	issued, err := jwtService.GenerateToken(models.Operator{Subject: "ops", Role: models.RoleOperator}, time.Hour)
	require.NoError(t, err)

	var operator *models.Operator
	handler := AuthMiddleware(jwtService, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		operator = GetOperatorFromContext(r.Context())
	}))

	tests := map[string]struct {
		header string
		want   int
	}{
		"missing":    {"", http.StatusUnauthorized},
		"not bearer": {"Basic abc", http.StatusUnauthorized},
		"invalid":    {"Bearer nope", http.StatusUnauthorized},
		"valid":      {"Bearer " + issued.Token, http.StatusOK},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	require.NotNil(t, operator)
	assert.Equal(t, "ops", operator.Subject)
}

func TestAuthMiddlewareDisabled(t *testing.T) {
	handler := AuthMiddleware(auth.NewJWTService("", "x"), zap.NewNop())(ok)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	limiter := NewRateLimiter(client, zap.NewNop()).WithConfig("/limited", RateLimitConfig{
		Requests: 2,
		Window:   time.Minute,
		Message:  "slow down",
	})
	handler := limiter.RateLimitMiddleware()(ok)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/limited", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			assert.NotEmpty(t, rec.Header().Get("Retry-After"))
			assert.Contains(t, rec.Body.String(), "slow down")
		}
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// other clients have their own window
	req := httptest.NewRequest(http.MethodPost, "/limited", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	mr.FastForward(time.Minute + time.Second)
	req = httptest.NewRequest(http.MethodPost, "/limited", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterIgnoresForwardedForFromUntrustedPeers(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	limiter := NewRateLimiter(client, zap.NewNop()).WithConfig("/limited", RateLimitConfig{
		Requests: 1,
		Window:   time.Minute,
		Message:  "slow down",
	})
	handler := limiter.RateLimitMiddleware()(ok)

	send := func(h http.Handler, remote, forwarded string) int {
		req := httptest.NewRequest(http.MethodPost, "/limited", nil)
		req.RemoteAddr = remote
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	// rotating the header does not open a new window
	assert.Equal(t, http.StatusOK, send(handler, "203.0.113.7:4000", "1.1.1.1"))
	assert.Equal(t, http.StatusTooManyRequests, send(handler, "203.0.113.7:4000", "2.2.2.2"))

	trusted, err := limiter.WithTrustedProxies("10.0.0.0/8")
	require.NoError(t, err)
	handler = trusted.RateLimitMiddleware()(ok)

	assert.Equal(t, http.StatusOK, send(handler, "10.0.0.5:4000", "198.51.100.1, 10.0.0.9"))
	assert.Equal(t, http.StatusTooManyRequests, send(handler, "10.0.0.6:4000", "spoofed, 198.51.100.1"))
	assert.Equal(t, http.StatusOK, send(handler, "10.0.0.5:4000", "198.51.100.2"))
}

func TestWithTrustedProxiesRejectsGarbage(t *testing.T) {
	_, err := NewRateLimiter(nil, zap.NewNop()).WithTrustedProxies("not-an-ip")
	assert.Error(t, err)

	_, err = NewRateLimiter(nil, zap.NewNop()).WithTrustedProxies("192.168.1.1", "fd00::/8")
	assert.NoError(t, err)
}

func TestRateLimiterFailsOpen(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	handler := NewRateLimiter(client, zap.NewNop()).RateLimitMiddleware()(ok)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/anything", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAccessLogOnlyLogsFailuresAndSlowRequests(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	fail := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	AccessLog(logger)(ok).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, 0, logs.Len())

	AccessLog(logger)(fail).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fail", nil))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "request failed", entry.Message)
	assert.Equal(t, int64(http.StatusBadGateway), entry.ContextMap()["status"])
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeadersMiddleware(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-cache, no-store, must-revalidate", rec.Header().Get("Cache-Control"))
}
