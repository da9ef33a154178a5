package config

import (
	"os"
	"strconv"
	"strings"
)

// EnvConfig holds the environment-derived settings for the demo server
// hosting the upstream rate-limit tracker.
type EnvConfig struct {
	Port     int
	Env      string
	LogLevel string

	EnableCORS bool
	CORSOrigin string

	TrustedProxies []string

	// ScheduleConfigFile is where the QuotaExhausted backoff escalation
	// ladder is persisted and hot-reloaded from.
	ScheduleConfigFile string

	// ClientRateLimitRPM and EnableRateLimit configure the throttle on
	// this server's own HTTP surface (distinct from the upstream lockouts
	// the tracker records) only when main has no rate-limit config
	// manager; otherwise the manager's config file supplies those limits.
	ClientRateLimitRPM int
	EnableRateLimit    bool

	LogDir          string
	LogFile         string
	LogMaxSize      int
	LogMaxBackups   int
	LogMaxAge       int
	LogCompress     bool
	LogToConsole    bool
	LogRotateBySize bool
}

// NewEnvConfig reads configuration from the process environment,
// falling back to sane defaults for anything unset.
func NewEnvConfig() *EnvConfig {
	env := getEnv("ENV", "")
	if env == "" {
		env = getEnv("NODE_ENV", "development")
	}

	return &EnvConfig{
		Port:     getEnvAsInt("PORT", 8080),
		Env:      env,
		LogLevel: getEnv("LOG_LEVEL", "info"),

		EnableCORS: getEnv("ENABLE_CORS", "true") != "false",
		CORSOrigin: getEnv("CORS_ORIGIN", ""),

		TrustedProxies: parseCommaSeparated(getEnv("TRUSTED_PROXIES", "")),

		ScheduleConfigFile: getEnv("SCHEDULE_CONFIG_FILE", ".config/backoff_schedule.json"),

		ClientRateLimitRPM: getEnvAsInt("CLIENT_RATE_LIMIT_RPM", 120),
		EnableRateLimit:    getEnv("ENABLE_RATE_LIMIT", "true") != "false",

		LogDir:          getEnv("LOG_DIR", "logs"),
		LogFile:         getEnv("LOG_FILE", "upstreamlimit.log"),
		LogMaxSize:      getEnvAsInt("LOG_MAX_SIZE", 100),
		LogMaxBackups:   getEnvAsInt("LOG_MAX_BACKUPS", 10),
		LogMaxAge:       getEnvAsInt("LOG_MAX_AGE", 30),
		LogCompress:     getEnv("LOG_COMPRESS", "true") != "false",
		LogToConsole:    getEnv("LOG_TO_CONSOLE", "true") != "false",
		LogRotateBySize: getEnv("LOG_ROTATE_BY_SIZE", "false") == "true",
	}
}

// IsDevelopment reports whether Env is "development".
func (c *EnvConfig) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction reports whether Env is "production".
func (c *EnvConfig) IsProduction() bool {
	return c.Env == "production"
}

// ShouldLog reports whether a message at level should be emitted given
// the configured LogLevel.
func (c *EnvConfig) ShouldLog(level string) bool {
	levels := map[string]int{"error": 0, "warn": 1, "info": 2, "debug": 3}

	currentLevel, ok := levels[c.LogLevel]
	if !ok {
		currentLevel = 2
	}
	requestLevel, ok := levels[level]
	if !ok {
		return false
	}
	return requestLevel <= currentLevel
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// parseCommaSeparated parses a comma-separated string into a slice of
// trimmed non-empty strings.
func parseCommaSeparated(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
