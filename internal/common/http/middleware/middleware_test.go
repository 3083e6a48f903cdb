package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"academyjudge/internal/common/cache"
	pkgerrors "academyjudge/pkg/errors"
	"academyjudge/pkg/utils/contextkey"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestCache(t *testing.T) (*miniredis.Miniredis, cache.Cache) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}
	return mr, c
}

func TestTraceContextMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(TraceContextMiddleware())
	var traceID, requestID, userID interface{}
	r.GET("/x", func(c *gin.Context) {
		ctx := c.Request.Context()
		traceID = ctx.Value(contextkey.TraceID)
		requestID = ctx.Value(contextkey.RequestID)
		userID = ctx.Value(contextkey.UserID)
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(traceIDHeader, "trace-1")
	req.Header.Set(userIDHeader, "student-7")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if traceID != "trace-1" || w.Header().Get(traceIDHeader) != "trace-1" {
		t.Fatalf("expected propagated trace id, got %v", traceID)
	}
	if s, _ := requestID.(string); s == "" || w.Header().Get(requestIDHeader) != s {
		t.Fatalf("expected generated request id, got %v", requestID)
	}
	if userID != "student-7" {
		t.Fatalf("expected user id in context, got %v", userID)
	}
	if w.Header().Get(userIDHeader) != "" {
		t.Fatalf("user id must not be echoed by default")
	}
}

func TestRateLimiterAllow(t *testing.T) {
	mr, c := newTestCache(t)
	limiter := NewRateLimiter(c, time.Minute, time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := limiter.Allow(ctx, "k", 3, 0); err != nil {
			t.Fatalf("hit %d unexpectedly rejected: %v", i+1, err)
		}
	}
	err := limiter.Allow(ctx, "k", 3, 0)
	if !pkgerrors.Is(err, pkgerrors.TooManyRequests) {
		t.Fatalf("expected TooManyRequests, got %v", err)
	}

	mr.FastForward(time.Minute + time.Second)
	if err := limiter.Allow(ctx, "k", 3, 0); err != nil {
		t.Fatalf("expected new window to allow, got %v", err)
	}
}

func TestRateLimiterWithoutCache(t *testing.T) {
	err := NewRateLimiter(nil, 0, 0).Allow(context.Background(), "k", 1, 0)
	if !pkgerrors.Is(err, pkgerrors.ServiceUnavailable) {
		t.Fatalf("expected ServiceUnavailable, got %v", err)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	_, c := newTestCache(t)
	r := gin.New()
	r.Use(RateLimitMiddleware(NewRateLimiter(c, time.Minute, time.Second), RateLimitPolicy{IPMax: 2}))
	r.GET("/run", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/run", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}
}

func TestRateLimitMiddlewareFailsOpen(t *testing.T) {
	down, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond}))
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}
	r := gin.New()
	r.Use(RateLimitMiddleware(NewRateLimiter(down, time.Minute, 200*time.Millisecond), RateLimitPolicy{IPMax: 1}))
	r.GET("/run", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/run", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected request to pass during cache outage, got %d", w.Code)
	}
}
