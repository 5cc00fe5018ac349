package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

// ---------------------------------------------------------------------------
// Config constructors
// ---------------------------------------------------------------------------

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerMinute != 120 {
		t.Errorf("RequestsPerMinute = %d, want 120", cfg.RequestsPerMinute)
	}
	if cfg.BurstSize != 30 {
		t.Errorf("BurstSize = %d, want 30", cfg.BurstSize)
	}
	if cfg.CleanupInterval != 5*time.Minute {
		t.Errorf("CleanupInterval = %v, want 5m", cfg.CleanupInterval)
	}
}

func TestValidateRateLimitConfig(t *testing.T) {
	cfg := ValidateRateLimitConfig()
	if cfg.RequestsPerMinute != 20 {
		t.Errorf("RequestsPerMinute = %d, want 20", cfg.RequestsPerMinute)
	}
	if cfg.BurstSize != 10 {
		t.Errorf("BurstSize = %d, want 10", cfg.BurstSize)
	}
}

func TestGeneralRateLimitConfig(t *testing.T) {
	cfg := GeneralRateLimitConfig(77, 5)
	if cfg.RequestsPerMinute != 77 {
		t.Errorf("RequestsPerMinute = %d, want 77", cfg.RequestsPerMinute)
	}
	if cfg.BurstSize != 5 {
		t.Errorf("BurstSize = %d, want 5", cfg.BurstSize)
	}

	// Unset values keep the defaults
	cfg = GeneralRateLimitConfig(0, 0)
	if cfg.RequestsPerMinute != 120 {
		t.Errorf("RequestsPerMinute = %d, want default 120", cfg.RequestsPerMinute)
	}
	if cfg.BurstSize != 30 {
		t.Errorf("BurstSize = %d, want default 30", cfg.BurstSize)
	}
}

func TestUploadRateLimitConfig(t *testing.T) {
	cfg := UploadRateLimitConfig()
	if cfg.RequestsPerMinute != 10 {
		t.Errorf("RequestsPerMinute = %d, want 10", cfg.RequestsPerMinute)
	}
	if cfg.BurstSize != 3 {
		t.Errorf("BurstSize = %d, want 3", cfg.BurstSize)
	}
}

// ---------------------------------------------------------------------------
// RateLimiter.Allow
// ---------------------------------------------------------------------------

func newTestLimiter(rpm, burst int) *RateLimiter {
	cfg := RateLimitConfig{
		RequestsPerMinute: rpm,
		BurstSize:         burst,
		CleanupInterval:   time.Hour, // Don't clean up during tests
	}
	return NewRateLimiter(cfg)
}

func TestRateLimiter_NewClientGetsFullBurst(t *testing.T) {
	rl := newTestLimiter(60, 5)
	defer rl.Stop()

	if !rl.Allow("client-a") {
		t.Error("Allow() = false for new client, want true")
	}
}

func TestRateLimiter_AllowsUpToBurstSize(t *testing.T) {
	burst := 3
	rl := newTestLimiter(600, burst)
	defer rl.Stop()

	key := "burst-test"
	// The first request starts with burst-1 tokens, and we consume one per
	// Allow call, so exactly `burst` requests succeed.
	allowed := 0
	for i := 0; i < burst+2; i++ {
		if rl.Allow(key) {
			allowed++
		}
	}
	if allowed != burst {
		t.Errorf("allowed %d requests at burst=%d, want exactly %d", allowed, burst, burst)
	}
}

func TestRateLimiter_TokensRefillOverTime(t *testing.T) {
	// Use a high RPM so tokens refill quickly
	rl := newTestLimiter(600, 2) // 10 tokens/sec
	defer rl.Stop()

	key := "refill-test"
	for rl.Allow(key) {
	}

	time.Sleep(150 * time.Millisecond)

	if !rl.Allow(key) {
		t.Error("Allow() = false after refill window, want true")
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	rl := newTestLimiter(600, 1)
	defer rl.Stop()

	for rl.Allow("device:a") {
	}

	if !rl.Allow("device:b") {
		t.Error("exhausting one key must not affect another")
	}
}

// ---------------------------------------------------------------------------
// RateLimitMiddleware
// ---------------------------------------------------------------------------

func TestRateLimitMiddleware_Returns429WhenExhausted(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := newTestLimiter(1, 1)
	defer rl.Stop()

	router := gin.New()
	router.Use(RateLimitMiddleware(rl))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	status := func() int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		router.ServeHTTP(w, req)
		return w.Code
	}

	if got := status(); got != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", got)
	}
	if got := status(); got != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", got)
	}
}

func TestRateLimitMiddleware_PrefersDeviceKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := newTestLimiter(60, 1)
	defer rl.Stop()

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(DeviceIDKey, "device-1")
		c.Next()
	})
	router.Use(RateLimitMiddleware(rl))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if _, ok := rl.entries["device:device-1"]; !ok {
		t.Error("expected rate limit entry keyed by device id")
	}
}
