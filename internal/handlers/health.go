package handlers

import (
	"time"

	"github.com/relaykit/ratelimitd/internal/config"
	"github.com/gin-gonic/gin"
)

// HealthCheck returns a minimal liveness response with no auth and no
// internal detail.
func HealthCheck() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "healthy"})
	}
}

// HealthCheckDetailed returns process uptime and the active environment,
// for operator dashboards rather than external health probes.
func HealthCheckDetailed(envCfg *config.EnvConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().Format(time.RFC3339),
			"uptime":    time.Since(startTime).Seconds(),
			"mode":      envCfg.Env,
			"version":   versionString,
		})
	}
}

var (
	versionString = "v0.0.0-dev"
	buildTime     = "unknown"
	gitCommit     = "unknown"
)

// SetVersionInfo records build metadata injected by main via -ldflags.
func SetVersionInfo(version, build, commit string) {
	versionString = version
	buildTime = build
	gitCommit = commit
}

var startTime = time.Now()
