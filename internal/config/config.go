package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	postgres "github.com/edgecommerce/edge-dispatch/internal/storage/postgres"
)

// Config aggregates runtime configuration grouped by concern.
type Config struct {
	ServiceName string
	LogLevel    string

	OwnerID         int64
	GifteeAccountID string
	PaymentMethod   string
	UseInformed     bool

	Database postgres.DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Wallet   WalletConfig
	Rollbar  RollbarConfig
}

type RedisConfig struct {
	Addr string // empty disables cache invalidation
}

type KafkaConfig struct {
	Brokers        []string // empty disables event publishing
	PurchasesTopic string
}

type WalletConfig struct {
	APIKey    string
	APISecret string
}

type RollbarConfig struct {
	Token       string
	Environment string
}

// Load reads configuration from environment variables, applying
// sensible defaults. OWNER_ID is mandatory: every assignment and
// accept is recorded against it.
func Load() (Config, error) {
	ownerStr := os.Getenv("OWNER_ID")
	if ownerStr == "" {
		return Config{}, fmt.Errorf("OWNER_ID is required")
	}
	ownerID, err := strconv.ParseInt(ownerStr, 10, 64)
	if err != nil {
		return Config{}, fmt.Errorf("parse OWNER_ID: %w", err)
	}

	cfg := Config{
		ServiceName:     getEnv("SERVICE_NAME", "edge-dispatch"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		OwnerID:         ownerID,
		GifteeAccountID: os.Getenv("GIFTEE_ACCOUNT_ID"),
		PaymentMethod:   getEnv("PAYMENT_METHOD", "steamaccount"),
		UseInformed:     getEnv("USE_INFORMED", "0") == "1",
		Redis: RedisConfig{
			Addr: os.Getenv("REDIS_ADDR"),
		},
		Kafka: KafkaConfig{
			Brokers:        splitAndTrim(os.Getenv("KAFKA_BROKERS")),
			PurchasesTopic: getEnv("KAFKA_PURCHASES_TOPIC", "purchases.v1"),
		},
		Wallet: WalletConfig{
			APIKey:    os.Getenv("COINBASE_API_KEY"),
			APISecret: os.Getenv("COINBASE_API_SECRET"),
		},
		Rollbar: RollbarConfig{
			Token:       os.Getenv("ROLLBAR_TOKEN"),
			Environment: getEnv("ROLLBAR_ENV", "production"),
		},
	}

	switch cfg.PaymentMethod {
	case "steamaccount", "bitcoin":
	default:
		return Config{}, fmt.Errorf("unsupported PAYMENT_METHOD %q", cfg.PaymentMethod)
	}

	portStr := getEnv("EDGE_DB_PORT", "5432")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Config{}, fmt.Errorf("parse EDGE_DB_PORT: %w", err)
	}

	cfg.Database = postgres.DatabaseConfig{
		Host:     getEnv("EDGE_DB_HOST", "localhost"),
		Port:     port,
		Database: getEnv("EDGE_DB_NAME", "edgedispatch"),
		User:     getEnv("EDGE_DB_USER", "edgedispatch"),
		Password: os.Getenv("EDGE_DB_PASSWORD"),
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
