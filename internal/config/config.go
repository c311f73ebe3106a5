// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds all application configuration.
type Config struct {
	Port        string `validate:"required,numeric"`
	FrontendURL string
	DBPath      string `validate:"required"`
	AppEnv      string `validate:"oneof=development production test"`
	LogLevel    string `validate:"oneof=debug info warn error"`

	Gemini          GeminiConfig
	Context         ContextConfig
	RateLimit       int           `validate:"min=1"`
	RateWindow      time.Duration `validate:"min=1s"`
	CacheSize       int           `validate:"min=1"`
	CacheTTL        time.Duration `validate:"min=0"`
	Google          GoogleConfig
	SessionSecret   string        `validate:"required,min=16"`
	SessionTTL      time.Duration `validate:"min=1m"`
	StateIdleTTL    time.Duration `validate:"min=1m"`
	StateSweepCron  string        `validate:"required"`
	ConversationLog ConversationLogConfig
}

// GeminiConfig selects the model and the API key pool.
type GeminiConfig struct {
	APIKeys   []string      `validate:"required,min=1,dive,required"`
	Model     string        `validate:"required"`
	KeyPolicy string        `validate:"oneof=round_robin random"`
	KeySeed   uint64
	Timeout   time.Duration `validate:"min=1s"`
}

// ContextConfig bounds the context sent to the model.
type ContextConfig struct {
	MaxTokens     int `validate:"min=1"`
	KeepRecent    int `validate:"min=1"`
	SummaryWindow int `validate:"min=1"`
}

// GoogleConfig is the OAuth client used for sign-in and sync.
type GoogleConfig struct {
	ClientID     string `validate:"required"`
	ClientSecret string `validate:"required"`
	RedirectURL  string `validate:"required,url"`
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
	MaxSizeMB     int
	MaxBackups    int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	port := getEnv("PORT", "8080")
	cfg := &Config{
		Port:        port,
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/goalplan.db"),
		AppEnv:      strings.ToLower(getEnv("APP_ENV", "production")),
		LogLevel:    strings.ToLower(getEnv("LOG_LEVEL", "info")),
		Gemini: GeminiConfig{
			APIKeys:   getEnvList("GEMINI_API_KEYS"),
			Model:     getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
			KeyPolicy: getEnv("GEMINI_KEY_POLICY", "round_robin"),
			KeySeed:   uint64(getEnvInt("GEMINI_KEY_SEED", 0)),
			Timeout:   getEnvDuration("GEMINI_TIMEOUT", 45*time.Second),
		},
		Context: ContextConfig{
			MaxTokens:     getEnvInt("CONTEXT_MAX_TOKENS", 4000),
			KeepRecent:    getEnvInt("CONTEXT_KEEP_RECENT", 5),
			SummaryWindow: getEnvInt("CONTEXT_SUMMARY_WINDOW", 10),
		},
		RateLimit:  getEnvInt("RATE_LIMIT", 10),
		RateWindow: getEnvDuration("RATE_WINDOW", 60*time.Minute),
		CacheSize:  getEnvInt("CACHE_SIZE", 1024),
		CacheTTL:   getEnvDuration("CACHE_TTL", 5*time.Minute),
		Google: GoogleConfig{
			ClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
			ClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
			RedirectURL:  getEnv("GOOGLE_REDIRECT_URL", "http://localhost:"+port+"/auth/callback"),
		},
		SessionSecret:  getEnv("SESSION_SECRET", ""),
		SessionTTL:     getEnvDuration("SESSION_TTL", 7*24*time.Hour),
		StateIdleTTL:   getEnvDuration("STATE_IDLE_TTL", 60*time.Minute),
		StateSweepCron: getEnv("STATE_SWEEP_SCHEDULE", "@every 5m"),
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
			MaxSizeMB:     getEnvInt("CONVERSATION_LOG_MAX_SIZE_MB", 100),
			MaxBackups:    getEnvInt("CONVERSATION_LOG_MAX_BACKUPS", 5),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the rules that span fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Gemini.Timeout >= c.RateWindow {
		return fmt.Errorf("GEMINI_TIMEOUT must be shorter than RATE_WINDOW")
	}
	if c.ConversationLog.Enabled {
		if c.ConversationLog.Dir == "" {
			return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
		}
		if c.ConversationLog.GlobalEnabled && c.ConversationLog.GlobalPath == "" {
			return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
		}
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if c.AppEnv == "development" {
		return true
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
