package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures everything main needs to wire the gateway. Values come from
// environment variables with development defaults so a bare `go run` works.
type Config struct {
	Addr     string
	LogLevel string

	Session   SessionConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	Kafka     KafkaConfig
	Schema    SchemaBackendConfig
	Forms     FormsBackendConfig
	Identity  IdentityConfig
	Ticketing TicketingConfig
	RateLimit RateLimitConfig
	Admin     AdminConfig
}

// SessionConfig controls applicant session issuance.
type SessionConfig struct {
	TokenSigningKey string
	TokenTTL        time.Duration
	DeviceLabels    bool
}

// RedisConfig holds connection settings for the Redis-backed stores.
// An empty URL means Redis is not configured and memory stores are used.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds the PostgreSQL connection string for the submission
// archive. Empty means the in-memory archive is used.
type DatabaseConfig struct {
	URL string
}

// KafkaConfig holds audit pipeline settings. No brokers means audit events
// stay in the in-memory store.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

// SchemaBackendConfig points at the service that owns form definitions.
type SchemaBackendConfig struct {
	BaseURL string
	Timeout time.Duration
}

// FormsBackendConfig points at the external form backend submissions are
// posted to.
type FormsBackendConfig struct {
	BaseURL       string
	SubmitTimeout time.Duration
}

// IdentityConfig holds the identity provider hand-off settings. TokenURL is
// optional: when set, return assertions are exchanged there for a bearer
// credential instead of carrying one embedded.
type IdentityConfig struct {
	AuthorizeURL    string
	ReturnURL       string
	TokenURL        string
	AssertionSecret string
	Issuer          string
	Audience        string
}

// TicketingConfig holds the shared secret for verifying ticketing webhooks.
type TicketingConfig struct {
	WebhookSecret string
}

// RateLimitConfig bounds session creation and submit attempts per client.
type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

// AdminConfig guards the support endpoints over the submission archive. An
// empty token leaves those routes unregistered.
type AdminConfig struct {
	Token string
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	return Config{
		Addr:     getEnv("FORMGATE_ADDR", ":8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Session: SessionConfig{
			// Default is for development only - override in production
			TokenSigningKey: getEnv("SESSION_TOKEN_SECRET", "dev-secret-key-change-in-production"),
			TokenTTL:        getDuration("SESSION_TOKEN_TTL", 2*time.Hour),
			DeviceLabels:    getEnv("DEVICE_LABELS", "true") == "true",
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Kafka: KafkaConfig{
			Brokers:    splitCSV(os.Getenv("KAFKA_BROKERS")),
			AuditTopic: getEnv("KAFKA_AUDIT_TOPIC", "formgate.audit"),
		},
		Schema: SchemaBackendConfig{
			BaseURL: getEnv("SCHEMA_BACKEND_URL", "http://localhost:9081"),
			Timeout: getDuration("SCHEMA_BACKEND_TIMEOUT", 10*time.Second),
		},
		Forms: FormsBackendConfig{
			BaseURL:       getEnv("FORMS_BACKEND_URL", "http://localhost:9082"),
			SubmitTimeout: getDuration("FORMS_SUBMIT_TIMEOUT", 30*time.Second),
		},
		Identity: IdentityConfig{
			AuthorizeURL:    getEnv("IDENTITY_AUTHORIZE_URL", "http://localhost:9083/authorize"),
			ReturnURL:       getEnv("IDENTITY_RETURN_URL", "http://localhost:8080/v1/session/resume"),
			TokenURL:        os.Getenv("IDENTITY_TOKEN_URL"),
			AssertionSecret: getEnv("IDENTITY_ASSERTION_SECRET", "dev-assertion-secret"),
			Issuer:          getEnv("IDENTITY_ISSUER", "formgate-idp"),
			Audience:        getEnv("IDENTITY_AUDIENCE", "formgate"),
		},
		Ticketing: TicketingConfig{
			WebhookSecret: getEnv("TICKETING_WEBHOOK_SECRET", "dev-webhook-secret"),
		},
		RateLimit: RateLimitConfig{
			Limit:  getInt("RATE_LIMIT", 30),
			Window: getDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Admin: AdminConfig{
			Token: os.Getenv("ADMIN_API_TOKEN"),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
