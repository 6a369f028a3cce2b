package middleware

import (
	"context"
	"fmt"
	"time"

	"judgebox/internal/common/cache"
	pkgerrors "judgebox/pkg/errors"
	"judgebox/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const (
	defaultRateWindow       = time.Minute
	defaultRateCacheTimeout = 200 * time.Millisecond
	rateKeyPrefix           = "judgebox:rate"
)

// RateLimitConfig limits judge requests per user and per client ip in fixed windows.
type RateLimitConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Window       time.Duration `yaml:"window"`
	UserMax      int           `yaml:"userMax"`
	IPMax        int           `yaml:"ipMax"`
	CacheTimeout time.Duration `yaml:"cacheTimeout"`
}

func (c *RateLimitConfig) ApplyDefaults() {
	if c.Window <= 0 {
		c.Window = defaultRateWindow
	}
	if c.CacheTimeout <= 0 {
		c.CacheTimeout = defaultRateCacheTimeout
	}
}

// RateLimiter enforces fixed-window counters stored in the cache.
type RateLimiter struct {
	cache        cache.BasicOps
	window       time.Duration
	cacheTimeout time.Duration
}

func NewRateLimiter(cacheClient cache.BasicOps, window, cacheTimeout time.Duration) *RateLimiter {
	if window <= 0 {
		window = defaultRateWindow
	}
	if cacheTimeout <= 0 {
		cacheTimeout = defaultRateCacheTimeout
	}
	return &RateLimiter{cache: cacheClient, window: window, cacheTimeout: cacheTimeout}
}

// Allow counts one hit on key and fails with TooManyRequests once max is exceeded.
func (l *RateLimiter) Allow(ctx context.Context, key string, max int) error {
	if l.cache == nil {
		return pkgerrors.New(pkgerrors.ServiceUnavailable).WithMessage("rate limit cache is unavailable")
	}
	if max <= 0 {
		return nil
	}

	ctxCache, cancel := context.WithTimeout(ctx, l.cacheTimeout)
	defer cancel()

	count, err := l.cache.Incr(ctxCache, key)
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed: %v", err)
	}
	if count == 1 {
		if err := l.cache.Expire(ctxCache, key, l.window); err != nil {
			return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit expire failed: %v", err)
		}
	}
	if int(count) > max {
		return pkgerrors.New(pkgerrors.TooManyRequests).WithMessage(fmt.Sprintf("rate limit exceeded for %s", key))
	}
	return nil
}

// RateLimitMiddleware applies the ip and user limits for routeKey. A nil limiter passes everything.
// It must run after AuthMiddleware for the user limit to apply.
func RateLimitMiddleware(limiter *RateLimiter, routeKey string, cfg RateLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		if cfg.IPMax > 0 {
			key := fmt.Sprintf("%s:ip:%s:%s", rateKeyPrefix, c.ClientIP(), routeKey)
			if err := limiter.Allow(c.Request.Context(), key, cfg.IPMax); err != nil {
				response.AbortWithError(c, err)
				return
			}
		}
		if cfg.UserMax > 0 {
			if userID := UserID(c); userID != "" && userID != AnonymousUser {
				key := fmt.Sprintf("%s:user:%s:%s", rateKeyPrefix, userID, routeKey)
				if err := limiter.Allow(c.Request.Context(), key, cfg.UserMax); err != nil {
					response.AbortWithError(c, err)
					return
				}
			}
		}
		c.Next()
	}
}
