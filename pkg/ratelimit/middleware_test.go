package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestStore_Allow(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewStore(RateLimitConfig{RPS: 1, Burst: 2})
	s.now = func() time.Time { return now }

	ok, remaining := s.Allow("a")
	assert.True(t, ok)
	assert.Equal(t, 1, remaining)
	ok, _ = s.Allow("a")
	assert.True(t, ok)
	ok, remaining = s.Allow("a")
	assert.False(t, ok)
	assert.Equal(t, 0, remaining)

	ok, _ = s.Allow("b")
	assert.True(t, ok, "clients have separate buckets")

	now = now.Add(time.Second)
	ok, _ = s.Allow("a")
	assert.True(t, ok, "bucket refills")
}

func TestStore_Cleanup(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewStore(RateLimitConfig{RPS: 1, Burst: 1, MaxAge: time.Minute})
	s.now = func() time.Time { return now }

	s.Allow("old")
	now = now.Add(2 * time.Minute)
	s.Allow("new")

	s.Cleanup()
	assert.Equal(t, 1, s.Len())
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimitMiddleware(NewStore(RateLimitConfig{RPS: 0.001, Burst: 1})))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0.001", w.Header().Get("X-RateLimit-Limit"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded","error_code":"rate_limited"}`, w.Body.String())
}
