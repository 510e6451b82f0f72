package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ServerConfig captures all tunable parameters for the API process.
// Values are loaded from environment variables with defaults so the binary
// runs locally against the in-memory store with nothing but DEV_MODE=true.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr        string
	RedisPassword    string
	RedisPresenceKey string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN         string
	RunMigrations bool

	LogLevel  string
	LogFormat string

	DevMode   bool
	JWTSecret string
	JWTIssuer string
	JWTTTL    time.Duration

	Fares FareConfig

	WSSendBuffer     int
	WSPingInterval   time.Duration
	WSPongWait       time.Duration
	WSAllowedOrigins []string
}

type FareConfig struct {
	RatePerMile   decimal.Decimal
	MinimumFare   decimal.Decimal
	MinOfferPrice decimal.Decimal
	MaxOfferPrice decimal.Decimal
}

// maxStoredPrice is the largest value the NUMERIC(8,2) price columns hold.
var maxStoredPrice = decimal.RequireFromString("999999.99")

const devJWTSecret = "dev-insecure-secret"

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:         ":8080",
		ReadTimeout:      5 * time.Second,
		WriteTimeout:     10 * time.Second,
		IdleTimeout:      120 * time.Second,
		ShutdownTimeout:  15 * time.Second,
		RedisPresenceKey: "presence:drivers",
		KafkaTopic:       "ride-events",
		LogLevel:         "info",
		LogFormat:        "json",
		JWTIssuer:        "campus-rides",
		JWTTTL:           2 * time.Hour,
		Fares: FareConfig{
			RatePerMile:   decimal.RequireFromString("0.50"),
			MinimumFare:   decimal.RequireFromString("3.00"),
			MinOfferPrice: decimal.RequireFromString("1.00"),
			MaxOfferPrice: decimal.RequireFromString("10000.00"),
		},
		WSSendBuffer:   64,
		WSPingInterval: 30 * time.Second,
		WSPongWait:     60 * time.Second,
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisPresenceKey, "REDIS_PRESENCE_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}

	cfg.DevMode = strings.EqualFold(os.Getenv("DEV_MODE"), "true")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	setStringFromEnv(&cfg.JWTIssuer, "JWT_ISSUER")
	setDurationFromEnv(&cfg.JWTTTL, "JWT_TTL", &errs)
	if cfg.JWTSecret == "" {
		if cfg.DevMode {
			cfg.JWTSecret = devJWTSecret
		} else {
			errs = append(errs, fmt.Errorf("JWT_SECRET is required unless DEV_MODE=true"))
		}
	}

	setDecimalFromEnv(&cfg.Fares.RatePerMile, "FARE_RATE_PER_MILE", &errs)
	setDecimalFromEnv(&cfg.Fares.MinimumFare, "FARE_MINIMUM", &errs)
	setDecimalFromEnv(&cfg.Fares.MinOfferPrice, "OFFER_MIN_PRICE", &errs)
	setDecimalFromEnv(&cfg.Fares.MaxOfferPrice, "OFFER_MAX_PRICE", &errs)

	setIntFromEnv(&cfg.WSSendBuffer, "WS_SEND_BUFFER", &errs)
	setDurationFromEnv(&cfg.WSPingInterval, "WS_PING_INTERVAL", &errs)
	setDurationFromEnv(&cfg.WSPongWait, "WS_PONG_WAIT", &errs)
	if v := os.Getenv("WS_ALLOWED_ORIGINS"); v != "" {
		cfg.WSAllowedOrigins = splitAndTrim(v)
	}

	if !cfg.Fares.RatePerMile.IsPositive() {
		errs = append(errs, fmt.Errorf("FARE_RATE_PER_MILE must be > 0"))
	}
	if cfg.Fares.MinimumFare.IsNegative() {
		errs = append(errs, fmt.Errorf("FARE_MINIMUM must be >= 0"))
	}
	if !cfg.Fares.MinOfferPrice.IsPositive() {
		errs = append(errs, fmt.Errorf("OFFER_MIN_PRICE must be > 0"))
	}
	if cfg.Fares.MaxOfferPrice.LessThan(cfg.Fares.MinOfferPrice) || cfg.Fares.MaxOfferPrice.GreaterThan(maxStoredPrice) {
		errs = append(errs, fmt.Errorf("OFFER_MAX_PRICE must be between OFFER_MIN_PRICE and %s", maxStoredPrice.StringFixed(2)))
	}
	if cfg.WSSendBuffer <= 0 {
		errs = append(errs, fmt.Errorf("WS_SEND_BUFFER must be > 0"))
	}
	if cfg.WSPingInterval >= cfg.WSPongWait {
		errs = append(errs, fmt.Errorf("WS_PING_INTERVAL must be shorter than WS_PONG_WAIT"))
	}

	return cfg, errors.Join(errs...)
}

// ConsumerConfig drives cmd/consumer, which projects ride events into Redis.
type ConsumerConfig struct {
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string
	RedisAddr    string
	MetricsAddr  string
	LogLevel     string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "ride-events",
		KafkaGroup:   "ride-stats-projector",
		RedisAddr:    "localhost:6379",
		MetricsAddr:  ":2112",
		LogLevel:     "info",
	}
	var errs []error
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS must name at least one broker"))
	}
	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setDecimalFromEnv(target *decimal.Decimal, key string, errs *[]error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
