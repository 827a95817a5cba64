package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuth(t *testing.T) {
	tests := []struct {
		name       string
		apiKey     string
		header     string
		value      string
		wantStatus int
	}{
		{"disabled when no key configured", "", "", "", http.StatusOK},
		{"missing token", "secret", "", "", http.StatusUnauthorized},
		{"valid bearer token", "secret", "Authorization", "Bearer secret", http.StatusOK},
		{"bearer scheme case-insensitive", "secret", "Authorization", "bearer secret", http.StatusOK},
		{"valid api key header", "secret", "X-API-Key", "secret", http.StatusOK},
		{"wrong token", "secret", "Authorization", "Bearer nope", http.StatusUnauthorized},
		{"basic scheme rejected", "secret", "Authorization", "Basic secret", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := Auth(tt.apiKey)(okHandler())
			req := httptest.NewRequest(http.MethodGet, "/api/positions", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

type stubLimiter struct {
	allowed bool
	err     error
	keys    []string
}

func (l *stubLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allowed, l.err
}

func (l *stubLimiter) Wait(ctx context.Context, key string) error { return nil }

func TestRateLimitAllows(t *testing.T) {
	limiter := &stubLimiter{allowed: true}
	handler := RateLimit(limiter, 60, time.Minute)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/rates", nil)
	req.RemoteAddr = "203.0.113.7:50000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"ratelimit:api:203.0.113.7"}, limiter.keys)
}

func TestRateLimitBlocks(t *testing.T) {
	handler := RateLimit(&stubLimiter{allowed: false}, 60, time.Minute)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rates", nil))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestRateLimitFailsOpen(t *testing.T) {
	handler := RateLimit(&stubLimiter{err: errors.New("redis down")}, 60, time.Minute)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rates", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExtractClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.2:4242"
	assert.Equal(t, "198.51.100.2", extractClientIP(req))

	req.Header.Set("X-Real-IP", "203.0.113.9")
	assert.Equal(t, "203.0.113.9", extractClientIP(req))

	// X-Forwarded-For wins and only the first hop counts.
	req.Header.Set("X-Forwarded-For", "192.0.2.1, 10.0.0.1")
	assert.Equal(t, "192.0.2.1", extractClientIP(req))
}
