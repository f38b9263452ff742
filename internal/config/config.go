package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPPort       string
	RequestTimeout time.Duration

	MongoURI    string
	MongoDBName string

	RedisAddr     string
	RedisPassword string

	DB DBConfig

	InventoryURL     string
	InventoryTimeout time.Duration

	PaymentEventURL   string
	AnalyticsEventURL string
	KafkaBrokers      []string
	KafkaTopic        string
	EventTimeout      time.Duration

	JWTSecret    string
	OTELEndpoint string
}

type DBConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

var ErrMissingJWTSecret = errors.New("JWT_SECRET is required")

func Load() (*Config, error) {
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, ErrMissingJWTSecret
	}

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	requestTimeout, err := getDuration("REQUEST_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	inventoryTimeout, err := getDuration("INVENTORY_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	eventTimeout, err := getDuration("EVENT_TIMEOUT", 4*time.Second)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPPort:       getEnv("HTTP_PORT", "8080"),
		RequestTimeout: requestTimeout,
		MongoURI:       getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName:    getEnv("MONGO_DB_NAME", "medisync_orders"),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		DB: DBConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              dbPort,
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", "postgres"),
			DBName:            getEnv("DB_NAME", "medisync"),
			MigrationsDirPath: getEnv("MIGRATIONS_PATH", "./internal/ledger/migrations"),
		},
		InventoryURL:      strings.TrimRight(getEnv("INVENTORY_SERVICE_URL", "http://127.0.0.1:5002"), "/"),
		InventoryTimeout:  inventoryTimeout,
		PaymentEventURL:   getEnv("PAYMENT_EVENT_URL", ""),
		AnalyticsEventURL: getEnv("ANALYTICS_EVENT_URL", ""),
		KafkaBrokers:      splitCSV(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:        getEnv("KAFKA_TOPIC", "medisync.orders"),
		EventTimeout:      eventTimeout,
		JWTSecret:         jwtSecret,
		OTELEndpoint:      getEnv("OTEL_ENDPOINT", ""),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
