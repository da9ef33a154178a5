package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaykit/ratelimitd/internal/config"
	"github.com/relaykit/ratelimitd/internal/handlers"
	"github.com/relaykit/ratelimitd/internal/logger"
	"github.com/relaykit/ratelimitd/internal/middleware"
	"github.com/relaykit/ratelimitd/internal/ratelimit"
	"github.com/relaykit/ratelimitd/internal/upstreamlimit"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

var (
	Version   = "v0.0.0-dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables or defaults")
	}

	handlers.SetVersionInfo(Version, BuildTime, GitCommit)
	envCfg := config.NewEnvConfig()

	logCfg := &logger.Config{
		LogDir:       envCfg.LogDir,
		LogFile:      envCfg.LogFile,
		MaxSize:      envCfg.LogMaxSize,
		MaxBackups:   envCfg.LogMaxBackups,
		MaxAge:       envCfg.LogMaxAge,
		Compress:     envCfg.LogCompress,
		Console:      envCfg.LogToConsole,
		RotateBySize: envCfg.LogRotateBySize,
	}
	if err := logger.Setup(logCfg); err != nil {
		log.Fatalf("failed to initialize logging: %v", err)
	}

	scheduleCfg, err := upstreamlimit.NewScheduleConfigManager(envCfg.ScheduleConfigFile)
	if err != nil {
		log.Fatalf("failed to initialize backoff schedule config: %v", err)
	}
	defer scheduleCfg.Close()

	tracker := upstreamlimit.New(upstreamlimit.SystemClock())
	if envCfg.ShouldLog("debug") {
		log.Printf("upstream rate-limit tracker initialized")
	}

	rateLimitCfgManager, err := ratelimit.InitManager(".config/ratelimit.json")
	if err != nil {
		log.Printf("rate limit config manager init failed: %v (using defaults)", err)
	}

	if envCfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	var clientLimiter *middleware.RateLimiter
	clientCfg := ratelimit.EndpointRateLimit{Enabled: envCfg.EnableRateLimit, RequestsPerMinute: envCfg.ClientRateLimitRPM}
	if rateLimitCfgManager != nil {
		cfg := rateLimitCfgManager.GetConfig()
		clientLimiter = middleware.NewRateLimiterWithConfig(cfg.API)
		rateLimitCfgManager.SetOnChangeCallback(func(newCfg ratelimit.RateLimitConfig) {
			clientLimiter.UpdateConfig(newCfg.API)
		})
	} else {
		clientLimiter = middleware.NewRateLimiterWithConfig(clientCfg)
	}

	r := gin.New()
	r.Use(gin.Recovery())

	if len(envCfg.TrustedProxies) > 0 {
		if err := r.SetTrustedProxies(envCfg.TrustedProxies); err != nil {
			log.Printf("failed to set trusted proxies: %v", err)
		}
	} else if envCfg.IsProduction() {
		if err := r.SetTrustedProxies(nil); err != nil {
			log.Printf("failed to disable trusted proxies: %v", err)
		}
	}

	r.Use(middleware.SecurityHeadersMiddleware())
	r.Use(middleware.CORSMiddleware(envCfg))
	r.Use(requestIDMiddleware())
	r.Use(middleware.APIRateLimitMiddleware(clientLimiter))

	r.GET("/health", handlers.HealthCheck())
	r.GET("/health/details", handlers.HealthCheckDetailed(envCfg))

	admin := r.Group("/admin")
	{
		admin.GET("/ratelimit", handlers.GetRateLimitConfig())
		admin.PUT("/ratelimit", handlers.UpdateRateLimitConfig())
		admin.POST("/ratelimit/reset", handlers.ResetRateLimitConfig())
	}

	v1 := r.Group("/v1/upstream")
	{
		v1.GET("/:account/status", handlers.UpstreamStatus(tracker))
		v1.POST("/:account/report", handlers.UpstreamReportError(tracker, scheduleCfg))
		v1.POST("/:account/success", handlers.UpstreamMarkSuccess(tracker))
		v1.POST("/clear-all", handlers.UpstreamClearAll(tracker))
		v1.GET("/schedule", handlers.GetBackoffSchedule(scheduleCfg))
		v1.PUT("/schedule", handlers.UpdateBackoffSchedule(scheduleCfg))
	}

	go runExpiredLockoutSweep(tracker, envCfg)

	addr := fmt.Sprintf(":%d", envCfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		fmt.Printf("\nupstream rate-limit tracker listening on %s\n", addr)
		fmt.Printf("version: %s (build %s, commit %s)\n", Version, BuildTime, GitCommit)
		fmt.Printf("environment: %s\n\n", envCfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

// requestIDMiddleware stamps every request with an X-Request-Id header,
// generating one when the caller didn't supply it.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("requestId", id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

// runExpiredLockoutSweep periodically evicts elapsed lockout entries so
// the tracker's map doesn't retain stale tombstones indefinitely for
// accounts that never report another error after recovering.
func runExpiredLockoutSweep(tracker *upstreamlimit.Tracker, envCfg *config.EnvConfig) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		if removed := tracker.CleanupExpired(); removed > 0 && envCfg.ShouldLog("debug") {
			log.Printf("cleaned up %d expired lockout entries", removed)
		}
	}
}
