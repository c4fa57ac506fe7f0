package common

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ServiceName        string
	HTTPPort           int
	DatabaseURL        string
	WebhookSecret      string
	LogLevel           string
	KafkaBrokers       []string
	MessageEventsTopic string
	RedisAddr          string
	StatsCacheTTL      time.Duration
	OTLPEndpoint       string
}

// LoadConfig reads the whole environment surface once at startup. The webhook
// secret is mandatory; the service must not come up able to accept unsigned
// traffic.
func LoadConfig(service string) (*Config, error) {
	cfg := &Config{ServiceName: service}

	httpPort, err := getEnvInt("HTTP_PORT", 8080)
	if err != nil {
		return nil, err
	}
	cfg.HTTPPort = httpPort

	cfg.WebhookSecret = os.Getenv("WEBHOOK_SECRET")
	if cfg.WebhookSecret == "" {
		return nil, errors.New("WEBHOOK_SECRET not set")
	}

	cfg.DatabaseURL = getEnv("DATABASE_URL", "sqlite:////data/app.db")
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.OTLPEndpoint = os.Getenv("OTLP_ENDPOINT")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	cfg.MessageEventsTopic = getEnv("MESSAGE_EVENTS_TOPIC", "messages.created")

	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	ttlSeconds, err := getEnvInt("STATS_CACHE_TTL_SECONDS", 5)
	if err != nil {
		return nil, err
	}
	cfg.StatsCacheTTL = time.Duration(ttlSeconds) * time.Second

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	if v := os.Getenv(key); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid value for %s: %w", key, err)
		}
		return parsed, nil
	}
	return fallback, nil
}
