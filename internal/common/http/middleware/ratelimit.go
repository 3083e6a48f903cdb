package middleware

import (
	"context"
	"fmt"
	"time"

	"academyjudge/internal/common/cache"
	pkgerrors "academyjudge/pkg/errors"
	"academyjudge/pkg/utils/logger"
	"academyjudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultRateWindow       = time.Minute
	defaultRateRedisTimeout = 100 * time.Millisecond
)

// RateLimitPolicy bounds requests per client IP within a fixed window.
type RateLimitPolicy struct {
	Window time.Duration `yaml:"window"`
	IPMax  int           `yaml:"ipMax"`
}

// RateLimiter enforces fixed-window limits using Redis.
type RateLimiter struct {
	cache        cache.BasicOps
	window       time.Duration
	redisTimeout time.Duration
}

func NewRateLimiter(cacheClient cache.BasicOps, window, redisTimeout time.Duration) *RateLimiter {
	if window <= 0 {
		window = defaultRateWindow
	}
	if redisTimeout <= 0 {
		redisTimeout = defaultRateRedisTimeout
	}
	return &RateLimiter{cache: cacheClient, window: window, redisTimeout: redisTimeout}
}

// Allow counts one hit for key and returns TooManyRequests once max is exceeded.
func (s *RateLimiter) Allow(ctx context.Context, key string, max int, window time.Duration) error {
	if s.cache == nil {
		return pkgerrors.New(pkgerrors.ServiceUnavailable).WithMessage("rate limit cache is unavailable")
	}
	if max <= 0 {
		return nil
	}
	if window <= 0 {
		window = s.window
	}

	ctxCache, cancel := context.WithTimeout(ctx, s.redisTimeout)
	defer cancel()

	acquired, err := s.cache.SetNX(ctxCache, key, 1, window)
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
	}
	var count int64
	if acquired {
		count = 1
	} else {
		count, err = s.cache.Incr(ctxCache, key)
		if err != nil {
			return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
		}
		ttl, ttlErr := s.cache.TTL(ctxCache, key)
		if ttlErr == nil && ttl <= 0 {
			_ = s.cache.Expire(ctxCache, key, window)
		}
	}
	if int(count) > max {
		return pkgerrors.New(pkgerrors.TooManyRequests).WithMessage(fmt.Sprintf("rate limit exceeded for %s", key))
	}
	return nil
}

// RateLimitMiddleware rejects clients that exceed policy. Cache outages fail open.
func RateLimitMiddleware(limiter *RateLimiter, policy RateLimitPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || policy.IPMax <= 0 {
			c.Next()
			return
		}
		key := fmt.Sprintf("grader:rate:ip:%s:%s", c.ClientIP(), c.FullPath())
		err := limiter.Allow(c.Request.Context(), key, policy.IPMax, policy.Window)
		if err == nil {
			c.Next()
			return
		}
		if pkgerrors.Is(err, pkgerrors.TooManyRequests) {
			response.AbortWithError(c, err)
			return
		}
		logger.Warn(c.Request.Context(), "rate limit check skipped", zap.Error(err))
		c.Next()
	}
}
