package middleware

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/relaykit/ratelimitd/internal/ratelimit"
	"github.com/gin-gonic/gin"
)

// Gin context keys shared with the demo server's request-identity middleware.
const (
	ContextKeyAPIKeyName   = "apiKeyName"
	ContextKeyRateLimitRPM = "rateLimitRPM"
)

// rateLimitEntry records request count for a single client
type rateLimitEntry struct {
	count     int
	windowEnd time.Time
}

// RateLimitInfo contains rate limit status information
type RateLimitInfo struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimiter is a dynamic rate limiter that supports hot-reload configuration
type RateLimiter struct {
	mu       sync.RWMutex
	entries  map[string]*rateLimitEntry
	window   time.Duration
	maxReqs  int
	enabled  bool
	stopChan chan struct{}
}

// NewRateLimiterWithConfig creates a rate limiter with the given configuration
func NewRateLimiterWithConfig(cfg ratelimit.EndpointRateLimit) *RateLimiter {
	rl := &RateLimiter{
		entries:  make(map[string]*rateLimitEntry),
		window:   time.Minute, // Fixed 1-minute window for RPM
		maxReqs:  cfg.RequestsPerMinute,
		enabled:  cfg.Enabled,
		stopChan: make(chan struct{}),
	}

	go rl.cleanup()
	return rl
}

// UpdateConfig updates the rate limiter configuration dynamically
func (rl *RateLimiter) UpdateConfig(cfg ratelimit.EndpointRateLimit) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.maxReqs = cfg.RequestsPerMinute
	rl.enabled = cfg.Enabled
	log.Printf("🔄 Rate limiter config updated: enabled=%v, rpm=%d", cfg.Enabled, cfg.RequestsPerMinute)
}

// cleanup periodically removes expired rate limit entries
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for key, entry := range rl.entries {
				if now.After(entry.windowEnd) {
					delete(rl.entries, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopChan:
			return
		}
	}
}

// Stop stops the rate limiter
func (rl *RateLimiter) Stop() {
	close(rl.stopChan)
}

// getClientKey returns the client identifier
// Prioritizes API Key name, falls back to IP address
func getClientKey(c *gin.Context) string {
	if keyName, exists := c.Get(ContextKeyAPIKeyName); exists {
		if name, ok := keyName.(string); ok && name != "" {
			return "key:" + name
		}
	}
	return "ip:" + c.ClientIP()
}

// Allow checks if a request is allowed
func (rl *RateLimiter) Allow(clientKey string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if !rl.enabled || rl.maxReqs <= 0 {
		return true
	}

	now := time.Now()
	entry, exists := rl.entries[clientKey]

	if !exists || now.After(entry.windowEnd) {
		rl.entries[clientKey] = &rateLimitEntry{
			count:     1,
			windowEnd: now.Add(rl.window),
		}
		return true
	}

	if entry.count >= rl.maxReqs {
		return false
	}

	entry.count++
	return true
}

// CheckWithCustomLimit checks rate limit and returns detailed info
func (rl *RateLimiter) CheckWithCustomLimit(clientKey string, customRPM int) RateLimitInfo {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if !rl.enabled {
		return RateLimitInfo{Allowed: true, Limit: 0, Remaining: 0}
	}

	// Determine the effective limit
	effectiveLimit := rl.maxReqs
	if customRPM > 0 {
		effectiveLimit = customRPM
	}
	if effectiveLimit <= 0 {
		return RateLimitInfo{Allowed: true, Limit: 0, Remaining: 0}
	}

	now := time.Now()
	entry, exists := rl.entries[clientKey]

	if !exists || now.After(entry.windowEnd) {
		windowEnd := now.Add(rl.window)
		rl.entries[clientKey] = &rateLimitEntry{
			count:     1,
			windowEnd: windowEnd,
		}
		return RateLimitInfo{
			Allowed:   true,
			Limit:     effectiveLimit,
			Remaining: effectiveLimit - 1,
			ResetAt:   windowEnd,
		}
	}

	if entry.count >= effectiveLimit {
		return RateLimitInfo{
			Allowed:   false,
			Limit:     effectiveLimit,
			Remaining: 0,
			ResetAt:   entry.windowEnd,
		}
	}

	entry.count++
	return RateLimitInfo{
		Allowed:   true,
		Limit:     effectiveLimit,
		Remaining: effectiveLimit - entry.count,
		ResetAt:   entry.windowEnd,
	}
}

// APIRateLimitMiddleware creates a rate limit middleware for this
// server's own API endpoints (/v1/*, /admin/*). Supports a per-key
// custom RPM threaded through the request context and adds RFC
// 6585-style rate limit headers.
func APIRateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl == nil {
			c.Next()
			return
		}

		clientKey := getClientKey(c)

		customRPM := 0
		if rpm, exists := c.Get(ContextKeyRateLimitRPM); exists {
			if rpmVal, ok := rpm.(int); ok {
				customRPM = rpmVal
			}
		}

		info := rl.CheckWithCustomLimit(clientKey, customRPM)

		// Add rate limit headers (RFC 6585 style)
		if info.Limit > 0 {
			c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", info.Limit))
			c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", info.Remaining))
			c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", info.ResetAt.Unix()))
		}

		if !info.Allowed {
			log.Printf("🚫 [API Rate Limit] Client %s exceeded request limit (custom=%d)", clientKey, customRPM)
			c.Header("Retry-After", fmt.Sprintf("%d", int(time.Until(info.ResetAt).Seconds())+1))
			c.JSON(429, gin.H{
				"error":   "Too Many Requests",
				"message": "Request rate limit exceeded, please try again later",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
