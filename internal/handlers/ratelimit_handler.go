package handlers

import (
	"github.com/relaykit/ratelimitd/internal/ratelimit"
	"github.com/gin-gonic/gin"
)

// GetRateLimitConfig returns the demo server's own client-facing rate
// limit configuration (distinct from the upstream lockouts the tracker
// records).
func GetRateLimitConfig() gin.HandlerFunc {
	return func(c *gin.Context) {
		rm := ratelimit.GetManager()
		if rm == nil {
			c.JSON(500, gin.H{"error": "rate limit manager not initialized"})
			return
		}
		c.JSON(200, rm.GetConfig())
	}
}

// UpdateRateLimitConfig updates the client-facing rate limit configuration.
func UpdateRateLimitConfig() gin.HandlerFunc {
	return func(c *gin.Context) {
		rm := ratelimit.GetManager()
		if rm == nil {
			c.JSON(500, gin.H{"error": "rate limit manager not initialized"})
			return
		}

		var cfg ratelimit.RateLimitConfig
		if err := c.ShouldBindJSON(&cfg); err != nil {
			c.JSON(400, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}

		if err := rm.UpdateConfig(cfg); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		c.JSON(200, gin.H{"message": "rate limit configuration updated", "config": cfg})
	}
}

// ResetRateLimitConfig resets the client-facing rate limit configuration
// to its defaults.
func ResetRateLimitConfig() gin.HandlerFunc {
	return func(c *gin.Context) {
		rm := ratelimit.GetManager()
		if rm == nil {
			c.JSON(500, gin.H{"error": "rate limit manager not initialized"})
			return
		}

		defaultCfg := ratelimit.GetDefaultConfig()
		if err := rm.UpdateConfig(defaultCfg); err != nil {
			c.JSON(500, gin.H{"error": "failed to reset rate limit config: " + err.Error()})
			return
		}

		c.JSON(200, gin.H{"message": "rate limit configuration reset to defaults", "config": defaultCfg})
	}
}
