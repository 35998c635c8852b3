package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration
type Config struct {
	// Bind address
	Host string
	Port string

	// Optional variables with defaults
	GoEnv    string
	LogLevel string
	LogPath  string

	AllowedOrigins []string

	// Admin-surface rate limits (ulule "count-period" format, M = Minute)
	RateLimitAdmin string
	RateLimitWsIP  string

	// Optional Redis-backed limiter store
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Chat behavior
	MaxMessageLength      int
	MaxChatDuration       time.Duration
	ContentFilterEnabled  bool
	ProfanityFilterStrict bool

	// ICE servers passed opaquely to clients
	StunServers []string
	TurnServers []string

	// Moderation report sink (empty = disabled)
	ModerationWebhookURL string

	// Tracing
	TracingEnabled    bool
	OtelCollectorAddr string

	DevelopmentMode bool
}

const (
	defaultMaxMessageLength = 500
	defaultMaxChatDuration  = time.Hour
)

// IsProduction reports whether the server runs with production guarantees.
func (c *Config) IsProduction() bool {
	return c.GoEnv == "production"
}

// ValidateEnv validates all required environment variables and returns a Config object.
// Returns an error if any required variable is missing or invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Required: PORT (valid port number)
	cfg.Port = getEnvOrDefault("PORT", "8080")
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	cfg.Host = getEnvOrDefault("HOST", "0.0.0.0")

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true" || cfg.GoEnv == "development"

	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.LogPath = os.Getenv("LOG_PATH")

	cfg.AllowedOrigins = splitAndTrim(os.Getenv("ALLOWED_ORIGINS"))
	if cfg.IsProduction() && len(cfg.AllowedOrigins) == 0 {
		errors = append(errors, "ALLOWED_ORIGINS is required in production")
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"http://localhost:3000"}
	}

	// Rate limits (defaults: M = Minute)
	cfg.RateLimitAdmin = getEnvOrDefault("RATE_LIMIT_ADMIN", "100-M")
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "60-M")

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	// Chat limits
	cfg.MaxMessageLength = defaultMaxMessageLength
	if raw := os.Getenv("MAX_MESSAGE_LENGTH"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 10000 {
			errors = append(errors, fmt.Sprintf("MAX_MESSAGE_LENGTH must be between 1 and 10000 (got '%s')", raw))
		} else {
			cfg.MaxMessageLength = n
		}
	}

	cfg.MaxChatDuration = defaultMaxChatDuration
	if raw := os.Getenv("MAX_CHAT_DURATION_MS"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms < 1 {
			errors = append(errors, fmt.Sprintf("MAX_CHAT_DURATION_MS must be a positive integer (got '%s')", raw))
		} else {
			cfg.MaxChatDuration = time.Duration(ms) * time.Millisecond
		}
	}

	cfg.ContentFilterEnabled = getEnvOrDefault("CONTENT_FILTER_ENABLED", "true") == "true"
	cfg.ProfanityFilterStrict = os.Getenv("PROFANITY_FILTER_STRICT") == "true"

	cfg.StunServers = splitAndTrim(getEnvOrDefault("STUN_SERVERS", "stun:stun.l.google.com:19302"))
	cfg.TurnServers = splitAndTrim(os.Getenv("TURN_SERVERS"))

	cfg.ModerationWebhookURL = os.Getenv("MODERATION_WEBHOOK_URL")

	cfg.TracingEnabled = os.Getenv("TRACING_ENABLED") == "true"
	if cfg.TracingEnabled {
		cfg.OtelCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")
		if cfg.OtelCollectorAddr == "" {
			cfg.OtelCollectorAddr = "localhost:4317"
			slog.Warn("OTEL_COLLECTOR_ADDR not set, using default", "addr", cfg.OtelCollectorAddr)
		} else if !isValidHostPort(cfg.OtelCollectorAddr) {
			errors = append(errors, fmt.Sprintf("OTEL_COLLECTOR_ADDR must be in format 'host:port' (got '%s')", cfg.OtelCollectorAddr))
		}
	}

	// If there are validation errors, return them
	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	// Log validated configuration (with secrets redacted)
	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	return parts[0] != ""
}

// splitAndTrim parses a comma-separated list, dropping empty entries.
func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"host", cfg.Host,
		"port", cfg.Port,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"allowed_origins", strings.Join(cfg.AllowedOrigins, ","),
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"redis_password", redactSecret(cfg.RedisPassword),
		"max_message_length", cfg.MaxMessageLength,
		"max_chat_duration", cfg.MaxChatDuration,
		"content_filter_enabled", cfg.ContentFilterEnabled,
		"profanity_filter_strict", cfg.ProfanityFilterStrict,
		"rate_limit_admin", cfg.RateLimitAdmin,
		"rate_limit_ws_ip", cfg.RateLimitWsIP,
		"tracing_enabled", cfg.TracingEnabled,
		"development_mode", cfg.DevelopmentMode,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// redactSecret redacts a secret by showing only the first 8 characters
func redactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
