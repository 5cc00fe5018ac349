// ratelimit.go provides Gin middleware that enforces per-client token-bucket rate limits,
// returning 429 responses when the configured requests-per-minute threshold is exceeded.
package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimitConfig holds configuration for rate limiting
type RateLimitConfig struct {
	// RequestsPerMinute is the maximum number of requests allowed per minute
	RequestsPerMinute int
	// BurstSize is the maximum burst of requests allowed
	BurstSize int
	// CleanupInterval is how often to clean up expired entries
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig returns limits for general authenticated API usage
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 120,
		BurstSize:         30,
		CleanupInterval:   5 * time.Minute,
	}
}

// GeneralRateLimitConfig builds the general API limiter from the operator's
// configured requests-per-minute and burst, keeping the defaults for any
// value left unset.
func GeneralRateLimitConfig(requestsPerMinute, burst int) RateLimitConfig {
	cfg := DefaultRateLimitConfig()
	if requestsPerMinute > 0 {
		cfg.RequestsPerMinute = requestsPerMinute
	}
	if burst > 0 {
		cfg.BurstSize = burst
	}
	return cfg
}

// ValidateRateLimitConfig returns stricter limits for the license validation
// endpoint, which takes an unauthenticated raw key and is the natural target
// for key enumeration.
func ValidateRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 20,
		BurstSize:         10,
		CleanupInterval:   5 * time.Minute,
	}
}

// UploadRateLimitConfig returns limits for config upload endpoints
func UploadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 10,
		BurstSize:         3,
		CleanupInterval:   5 * time.Minute,
	}
}

// rateLimitEntry tracks request counts for a single client
type rateLimitEntry struct {
	tokens     float64
	lastUpdate time.Time
}

// RateLimiter implements a token bucket rate limiter
type RateLimiter struct {
	config  RateLimitConfig
	entries map[string]*rateLimitEntry
	mu      sync.RWMutex
	stopCh  chan struct{}
}

// NewRateLimiter creates a new rate limiter with the given config
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		entries: make(map[string]*rateLimitEntry),
		stopCh:  make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// cleanup periodically removes expired entries
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for key, entry := range rl.entries {
				// Remove entries that haven't been accessed in 10 minutes
				if now.Sub(entry.lastUpdate) > 10*time.Minute {
					delete(rl.entries, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// Allow checks if a request from the given key should be allowed
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	entry, exists := rl.entries[key]

	if !exists {
		// New client, give them full burst
		rl.entries[key] = &rateLimitEntry{
			tokens:     float64(rl.config.BurstSize) - 1,
			lastUpdate: now,
		}
		return true
	}

	// Refill based on time elapsed, capped at burst size
	elapsed := now.Sub(entry.lastUpdate)
	tokensPerSecond := float64(rl.config.RequestsPerMinute) / 60.0
	entry.tokens = min(float64(rl.config.BurstSize), entry.tokens+elapsed.Seconds()*tokensPerSecond)
	entry.lastUpdate = now

	if entry.tokens >= 1 {
		entry.tokens--
		return true
	}

	return false
}

// RemainingTokens returns how many tokens are left for a key
func (rl *RateLimiter) RemainingTokens(key string) int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	entry, exists := rl.entries[key]
	if !exists {
		return rl.config.BurstSize
	}

	elapsed := time.Since(entry.lastUpdate)
	tokensPerSecond := float64(rl.config.RequestsPerMinute) / 60.0
	currentTokens := min(float64(rl.config.BurstSize), entry.tokens+elapsed.Seconds()*tokensPerSecond)

	return int(currentTokens)
}

// RateLimitMiddleware creates a Gin middleware that rate limits requests
func RateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := getRateLimitKey(c)

		if !limiter.Allow(key) {
			remaining := limiter.RemainingTokens(key)
			c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": 60,
			})
			return
		}

		remaining := limiter.RemainingTokens(key)
		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.config.RequestsPerMinute))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		c.Next()
	}
}

// getRateLimitKey determines the key to use for rate limiting.
// Priority: device_id > IP address. Device identity is available once
// SessionAuthMiddleware has run; unauthenticated routes fall back to IP.
func getRateLimitKey(c *gin.Context) string {
	if deviceID, exists := c.Get(DeviceIDKey); exists {
		if id, ok := deviceID.(string); ok && id != "" {
			return "device:" + id
		}
	}

	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}
