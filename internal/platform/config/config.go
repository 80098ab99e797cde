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

// Server captures process-level configuration. Empty DATABASE_URL, REDIS_URL or
// KAFKA_BROKERS select the in-memory or no-op adapter for that dependency.
type Server struct {
	Addr            string
	Env             string
	LogLevel        string
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration

	Database DBConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Auth     AuthConfig
	Pricing  PricingConfig
	Access   AccessConfig
	Audit    AuditConfig
	Outbox   OutboxConfig
	Limits   RateLimitConfig
}

type DBConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type AuthConfig struct {
	SigningKey string
	Issuer     string
	Audience   string
}

// PricingConfig holds the calculator's calibration and the quote cache policy.
type PricingConfig struct {
	Base     decimal.Decimal
	Min      decimal.Decimal
	Max      decimal.Decimal
	Currency string
	QuoteTTL time.Duration
	LockTTL  time.Duration
	LockWait time.Duration
}

type AccessConfig struct {
	RequestWindow  time.Duration
	SweepInterval  time.Duration
	SweepBatchSize int
}

type AuditConfig struct {
	AsyncBuffer int
}

type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// RateLimitConfig caps access request creation per requester. A zero limit
// disables the check.
type RateLimitConfig struct {
	CreateLimit  int
	CreateWindow time.Duration
}

const devSigningKey = "dev-secret-key-change-in-production"

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	var errs []error
	p := &parser{errs: &errs}

	cfg := Server{
		Addr:            p.str("ADDR", ":8080"),
		Env:             p.str("APP_ENV", "dev"),
		LogLevel:        p.str("LOG_LEVEL", "info"),
		ShutdownTimeout: p.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		RequestTimeout:  p.duration("REQUEST_TIMEOUT", 15*time.Second),
		Database: DBConfig{
			URL:             p.str("DATABASE_URL", ""),
			MaxOpenConns:    p.integer("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    p.integer("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: p.duration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:          p.str("REDIS_URL", ""),
			PoolSize:     p.integer("REDIS_POOL_SIZE", 20),
			MinIdleConns: p.integer("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  p.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  p.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: p.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: p.list("KAFKA_BROKERS"),
			Topic:   p.str("KAFKA_TOPIC", "access-request-events"),
		},
		Auth: AuthConfig{
			SigningKey: p.str("JWT_SIGNING_KEY", devSigningKey),
			Issuer:     p.str("JWT_ISSUER", "http://localhost:8080"),
			Audience:   p.str("JWT_AUDIENCE", "refaccess"),
		},
		Pricing: PricingConfig{
			Base:     p.decimal("PRICING_BASE", decimal.NewFromInt(25)),
			Min:      p.decimal("PRICING_MIN", decimal.NewFromInt(10)),
			Max:      p.decimal("PRICING_MAX", decimal.NewFromInt(500)),
			Currency: strings.ToUpper(p.str("PRICING_CURRENCY", "USD")),
			QuoteTTL: p.duration("PRICE_QUOTE_TTL", 6*time.Hour),
			LockTTL:  p.duration("PRICE_LOCK_TTL", 10*time.Second),
			LockWait: p.duration("PRICE_LOCK_WAIT", 2*time.Second),
		},
		Access: AccessConfig{
			RequestWindow:  p.duration("ACCESS_REQUEST_WINDOW", 7*24*time.Hour),
			SweepInterval:  p.duration("EXPIRY_SWEEP_INTERVAL", time.Minute),
			SweepBatchSize: p.integer("EXPIRY_SWEEP_BATCH", 500),
		},
		Audit: AuditConfig{
			AsyncBuffer: p.integer("AUDIT_ASYNC_BUFFER", 1024),
		},
		Outbox: OutboxConfig{
			PollInterval: p.duration("OUTBOX_POLL_INTERVAL", time.Second),
			BatchSize:    p.integer("OUTBOX_BATCH_SIZE", 100),
		},
		Limits: RateLimitConfig{
			CreateLimit:  p.integer("ACCESS_CREATE_LIMIT", 30),
			CreateWindow: p.duration("ACCESS_CREATE_WINDOW", time.Hour),
		},
	}

	if err := cfg.validate(); err != nil {
		errs = append(errs, err)
	}
	return cfg, errors.Join(errs...)
}

func (c Server) validate() error {
	if c.Pricing.Min.IsNegative() || c.Pricing.Min.GreaterThan(c.Pricing.Max) {
		return fmt.Errorf("pricing bounds invalid: min=%s max=%s", c.Pricing.Min, c.Pricing.Max)
	}
	if !c.Pricing.Base.IsPositive() {
		return fmt.Errorf("pricing base must be positive: %s", c.Pricing.Base)
	}
	if len(c.Pricing.Currency) != 3 {
		return fmt.Errorf("pricing currency must be an ISO 4217 code: %q", c.Pricing.Currency)
	}
	if c.Pricing.QuoteTTL <= 0 || c.Access.RequestWindow <= 0 {
		return errors.New("quote ttl and request window must be positive")
	}
	if c.Env != "dev" && c.Auth.SigningKey == devSigningKey {
		return errors.New("JWT_SIGNING_KEY must be set outside dev")
	}
	return nil
}

// parser reads typed values and collects every malformed variable instead of
// stopping at the first.
type parser struct {
	errs *[]error
}

func (p *parser) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func (p *parser) list(key string) []string {
	raw := p.str(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for part := range strings.SplitSeq(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (p *parser) integer(key string, def int) int {
	raw := p.str(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := p.str(key, "")
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func (p *parser) decimal(key string, def decimal.Decimal) decimal.Decimal {
	raw := p.str(key, "")
	if raw == "" {
		return def
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}
