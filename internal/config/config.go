// Package config loads the service's environment-variable configuration
// once at startup, the way cmd/app/main.go's godotenv.Load() + config.Load()
// bootstrap sequence expects: local .env for convenience, required
// variables validated eagerly so a misconfiguration fails fast before any
// listener opens.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the fully-resolved set of settings the composition root
// needs to build every component.
type Config struct {
	DatabaseURL string
	DBSchema    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	QdrantHost   string
	QdrantPort   int
	QdrantAPIKey string
	VectorCollection string
	VectorDimension  int

	OpenAIAPIKey    string
	ChatModel       string
	EmbeddingModel  string

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SenderEmail  string

	WebhookSecret  string
	ChatBotToken   string
	ChatAPIBaseURL string

	HTTPAddr       string
	HTTPBasePath   string
	RequestTimeout time.Duration
	LogLevel       string
	LogFormat      string
}

// Load reads every required and optional variable from the process
// environment. Call godotenv.Load() before Load() if a .env file should
// seed os.Environ() first; Load itself never touches the filesystem.
func Load() (*Config, error) {
	var missing []string
	req := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}
	opt := func(key, def string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return def
	}
	optInt := func(key string, def int) int {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err == nil {
				return n
			}
		}
		return def
	}

	cfg := &Config{
		DatabaseURL: req("DATABASE_URL"),
		DBSchema:    opt("DB_SCHEMA", "public"),

		RedisAddr:     req("REDIS_ADDR"),
		RedisPassword: opt("REDIS_PASSWORD", ""),
		RedisDB:       optInt("REDIS_DB", 0),

		QdrantHost:       req("QDRANT_HOST"),
		QdrantPort:       optInt("QDRANT_PORT_GRPC", 6334),
		QdrantAPIKey:     opt("QDRANT_API_KEY", ""),
		VectorCollection: opt("VECTOR_COLLECTION", "products"),
		VectorDimension:  optInt("VECTOR_DIMENSION", 1536),

		OpenAIAPIKey:   req("OPENAI_API_KEY"),
		ChatModel:      opt("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
		EmbeddingModel: opt("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),

		SMTPHost:     req("SMTP_HOST"),
		SMTPPort:     optInt("SMTP_PORT", 587),
		SMTPUser:     req("SMTP_USER"),
		SMTPPassword: req("SMTP_PASSWORD"),
		SenderEmail:  opt("SENDER_EMAIL", os.Getenv("SMTP_USER")),

		WebhookSecret:  req("WEBHOOK_SECRET"),
		ChatBotToken:   req("CHAT_BOT_TOKEN"),
		ChatAPIBaseURL: opt("CHAT_API_BASE_URL", "https://api.telegram.org"),

		HTTPAddr:       opt("HTTP_ADDR", ":8080"),
		HTTPBasePath:   opt("HTTP_BASE_PATH", ""),
		RequestTimeout: time.Duration(optInt("REQUEST_TIMEOUT_SECONDS", 30)) * time.Second,
		LogLevel:       opt("LOG_LEVEL", "info"),
		LogFormat:      opt("LOG_FORMAT", "text"),
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return cfg, nil
}
