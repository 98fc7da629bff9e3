package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/mentorlink/session-server/internal/errors"
	"github.com/mentorlink/session-server/internal/httputil"
)

type fakeLimiter struct {
	mu       sync.Mutex
	allow    bool
	resetAt  time.Time
	subjects []string
}

func (f *fakeLimiter) CheckLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (bool, time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, scope+"|"+subject)
	return f.allow, f.resetAt
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestIPRateLimitMiddleware(t *testing.T) {
	t.Run("passes requests under the limit", func(t *testing.T) {
		limiter := &fakeLimiter{allow: true}
		mw := NewIPRateLimitMiddleware(limiter, 10, time.Minute, "api")

		req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
		req.RemoteAddr = "203.0.113.7:51234"
		rec := httptest.NewRecorder()
		mw.Handler(okHandler).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"api|203.0.113.7"}, limiter.subjects)
	})

	t.Run("rejects with retry-after", func(t *testing.T) {
		limiter := &fakeLimiter{allow: false, resetAt: time.Now().Add(30 * time.Second)}
		mw := NewIPRateLimitMiddleware(limiter, 10, time.Minute, "api")

		req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
		rec := httptest.NewRecorder()
		mw.Handler(okHandler).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))

		var resp httputil.ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, apperrors.ErrCodeRateLimitExceeded, resp.Code)
	})

	t.Run("zero limit disables the check", func(t *testing.T) {
		limiter := &fakeLimiter{allow: false}
		mw := NewIPRateLimitMiddleware(limiter, 0, time.Minute, "api")

		rec := httptest.NewRecorder()
		mw.Handler(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, limiter.subjects)
	})
}

func TestBodyLimitMiddleware(t *testing.T) {
	mw := NewBodyLimitMiddleware(16)
	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	t.Run("small body passes", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mw.Handler(echo).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1}`)))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("declared length over the limit is rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mw.Handler(echo).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 64))))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Contains(t, rec.Body.String(), "Request body too large")
	})

	t.Run("default applies for non-positive size", func(t *testing.T) {
		assert.Equal(t, int64(DefaultMaxBodySize), NewBodyLimitMiddleware(0).maxSize)
	})
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	rec := httptest.NewRecorder()
	NewSecurityHeadersMiddleware(true).Handler(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "default-src 'none'")

	rec = httptest.NewRecorder()
	NewSecurityHeadersMiddleware(false).Handler(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))
}

func TestRequestLogger(t *testing.T) {
	teapot := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	})

	rec := httptest.NewRecorder()
	RequestLogger(teapot).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/brew", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "short and stout", rec.Body.String())
}
