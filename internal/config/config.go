package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from the environment (and .env when present).
type Config struct {
	HTTPAddr    string
	DatabaseURL string
	JWTSecret   string
	AdminUser   string
	AdminPass   string
	AdminOrgID  string
	LogLevel    string
	LogPretty   bool

	// Completion
	AnthropicAPIKey  string // process-wide fallback when an organization has no key
	AnthropicBaseURL string
	AnthropicModel   string
	LLMTimeout       time.Duration

	// Retrieval
	EmbeddingAPIKey     string
	EmbeddingBaseURL    string
	EmbeddingModel      string
	EmbeddingDimensions int
	RerankAPIKey        string
	RerankBaseURL       string
	RerankModel         string

	// Batching
	DebounceWindow   time.Duration
	BatchMaxAttempts int
	BatchRetryDelay  time.Duration

	// Channels
	WhatsAppDevicesDir     string
	CloudAPIBaseURL        string
	WebhookVerifyToken     string
	TelegramToken          string
	TelegramOrganizationID string
	SendRatePerSecond      float64
	SendBurst              int

	TemplateSyncSpec string
}

// LoadConfig reads .env if it exists, then the process environment.
func LoadConfig() (*Config, error) {
	// .env is optional outside development
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:    getEnv("HTTP_ADDR", "0.0.0.0:8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		AdminUser:   getEnv("ADMIN_USERNAME", "root"),
		AdminPass:   getEnv("ADMIN_PASSWORD", ""),
		AdminOrgID:  getEnv("ADMIN_ORGANIZATION_ID", ""),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogPretty:   getEnvBool("LOG_PRETTY", false),

		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicBaseURL: getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com/v1"),
		AnthropicModel:   getEnv("ANTHROPIC_MODEL", "claude-3-5-sonnet-latest"),
		LLMTimeout:       time.Duration(getEnvInt("LLM_TIMEOUT_SECONDS", 60)) * time.Second,

		EmbeddingAPIKey:     getEnv("EMBEDDING_API_KEY", ""),
		EmbeddingBaseURL:    getEnv("EMBEDDING_BASE_URL", "https://api.openai.com/v1"),
		EmbeddingModel:      getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimensions: getEnvInt("EMBEDDING_DIMENSIONS", 1536),
		RerankAPIKey:        getEnv("RERANK_API_KEY", ""),
		RerankBaseURL:       getEnv("RERANK_BASE_URL", "https://api.cohere.com/v2"),
		RerankModel:         getEnv("RERANK_MODEL", "rerank-multilingual-v3.0"),

		DebounceWindow:   time.Duration(getEnvInt("DEBOUNCE_WINDOW_MS", 5000)) * time.Millisecond,
		BatchMaxAttempts: getEnvInt("BATCH_MAX_ATTEMPTS", 3),
		BatchRetryDelay:  time.Duration(getEnvInt("BATCH_RETRY_DELAY_MS", 2000)) * time.Millisecond,

		WhatsAppDevicesDir:     getEnv("WHATSAPP_DEVICES_DIR", "devices"),
		CloudAPIBaseURL:        getEnv("WHATSAPP_CLOUD_BASE_URL", "https://graph.facebook.com/v18.0"),
		WebhookVerifyToken:     getEnv("WHATSAPP_WEBHOOK_VERIFY_TOKEN", ""),
		TelegramToken:          getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramOrganizationID: getEnv("TELEGRAM_ORGANIZATION_ID", ""),
		SendRatePerSecond:      getEnvFloat("SEND_RATE_PER_SECOND", 1),
		SendBurst:              getEnvInt("SEND_BURST", 5),

		TemplateSyncSpec: getEnv("TEMPLATE_SYNC_SPEC", "@every 10m"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if c.BatchMaxAttempts < 1 {
		return fmt.Errorf("BATCH_MAX_ATTEMPTS must be at least 1, got %d", c.BatchMaxAttempts)
	}
	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("EMBEDDING_DIMENSIONS must be positive, got %d", c.EmbeddingDimensions)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return value
}

func getEnvFloat(key string, fallback float64) float64 {
	value, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvBool(key string, fallback bool) bool {
	value, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return value
}
