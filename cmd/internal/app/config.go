package app

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Bus backends.
const (
	BusNATS   = "nats"
	BusMemory = "memory"
)

// History backends.
const (
	HistoryMemory    = "memory"
	HistoryPostgres  = "postgres"
	HistoryRedis     = "redis"
	HistoryJetStream = "jetstream"
)

// Auth modes.
const (
	AuthDev    = "dev"
	AuthPaseto = "paseto"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("app: invalid config")

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration

	// Namespace prefixes every room topic.
	Namespace string

	Bus                string
	NATSURL            string
	NATSName           string
	NATSUser           string
	NATSPassword       string
	BusConnectTimeout  time.Duration
	BusReconnectMin    time.Duration
	BusReconnectMax    time.Duration
	BusStream          string
	SessionRetryMin    time.Duration
	SessionRetryMax    time.Duration
	HistoryLoadTimeout time.Duration
	StoreWriteTimeout  time.Duration
	History            string
	DatabaseURL        string
	DBMaxConns         int32
	DBMinConns         int32
	DBSchema           string
	DBAutoMigrate      bool
	RedisURL           string
	KVBucket           string
	ReadinessRequireDB bool
	AuthMode           string
	PasetoPublicKeyHex string
	AuthIssuer         string
	AuthClockSkew      time.Duration
	OTelEnabled        bool
}

// LoadConfig loads Config from environment variables with defaults. A .env
// file in the working directory is read first; variables already set in the
// environment win.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	return Config{
		HTTPAddr:  EnvString("ROOMCHAT_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("ROOMCHAT_LOG_LEVEL", "info"),
		LogFormat: EnvLower("ROOMCHAT_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("ROOMCHAT_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("ROOMCHAT_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("ROOMCHAT_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("ROOMCHAT_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("ROOMCHAT_HTTP_MAX_HEADER_BYTES", 1<<20),
		ShutdownTimeout:   EnvDuration("ROOMCHAT_SHUTDOWN_TIMEOUT", 10*time.Second),

		Namespace: EnvString("ROOMCHAT_NAMESPACE", "kdramas"),

		Bus:               EnvLower("ROOMCHAT_BUS", BusNATS),
		NATSURL:           EnvString("ROOMCHAT_NATS_URL", "nats://127.0.0.1:4222"),
		NATSName:          EnvString("ROOMCHAT_NATS_NAME", "roomchat"),
		NATSUser:          EnvString("ROOMCHAT_NATS_USER", ""),
		NATSPassword:      EnvString("ROOMCHAT_NATS_PASS", ""),
		BusConnectTimeout: EnvDuration("ROOMCHAT_BUS_CONNECT_TIMEOUT", 10*time.Second),
		BusReconnectMin:   EnvDuration("ROOMCHAT_BUS_RECONNECT_MIN", 250*time.Millisecond),
		BusReconnectMax:   EnvDuration("ROOMCHAT_BUS_RECONNECT_MAX", 30*time.Second),
		BusStream:         EnvString("ROOMCHAT_BUS_STREAM", ""),

		SessionRetryMin:    EnvDuration("ROOMCHAT_SESSION_RETRY_MIN", 500*time.Millisecond),
		SessionRetryMax:    EnvDuration("ROOMCHAT_SESSION_RETRY_MAX", 30*time.Second),
		HistoryLoadTimeout: EnvDuration("ROOMCHAT_HISTORY_LOAD_TIMEOUT", 10*time.Second),
		StoreWriteTimeout:  EnvDuration("ROOMCHAT_STORE_WRITE_TIMEOUT", 5*time.Second),

		History:       EnvLower("ROOMCHAT_HISTORY", HistoryMemory),
		DatabaseURL:   EnvString("ROOMCHAT_DATABASE_URL", ""),
		DBMaxConns:    EnvInt32("ROOMCHAT_DB_MAX_CONNS", 10),
		DBMinConns:    EnvInt32("ROOMCHAT_DB_MIN_CONNS", 0),
		DBSchema:      EnvString("ROOMCHAT_DB_SCHEMA", "roomchat"),
		DBAutoMigrate: EnvBool("ROOMCHAT_DB_AUTO_MIGRATE", false),
		RedisURL:      EnvString("ROOMCHAT_REDIS_URL", ""),
		KVBucket:      EnvString("ROOMCHAT_KV_BUCKET", "roomchat_history"),

		ReadinessRequireDB: EnvBool("ROOMCHAT_READINESS_REQUIRE_DB", false),

		AuthMode:           EnvLower("ROOMCHAT_AUTH_MODE", AuthDev),
		PasetoPublicKeyHex: EnvString("ROOMCHAT_PASETO_V4_PUBLIC_KEY_HEX", ""),
		AuthIssuer:         EnvString("ROOMCHAT_AUTH_ISSUER", "roomchat"),
		AuthClockSkew:      EnvDuration("ROOMCHAT_AUTH_CLOCK_SKEW", 30*time.Second),

		OTelEnabled: EnvBool("ROOMCHAT_OTEL_ENABLED", false),
	}, nil
}

// Validate rejects contradictory settings before anything is dialed.
func (c Config) Validate() error {
	switch c.Bus {
	case BusNATS:
		if c.NATSURL == "" {
			return invalid("ROOMCHAT_NATS_URL is required for bus=nats")
		}
	case BusMemory:
	default:
		return invalid("ROOMCHAT_BUS must be nats or memory, got %q", c.Bus)
	}

	switch c.History {
	case HistoryMemory:
	case HistoryPostgres:
		if c.DatabaseURL == "" {
			return invalid("ROOMCHAT_DATABASE_URL is required for history=postgres")
		}
	case HistoryRedis:
		if c.RedisURL == "" {
			return invalid("ROOMCHAT_REDIS_URL is required for history=redis")
		}
	case HistoryJetStream:
		if c.Bus != BusNATS {
			return invalid("history=jetstream requires bus=nats")
		}
		if c.KVBucket == "" {
			return invalid("ROOMCHAT_KV_BUCKET is required for history=jetstream")
		}
	default:
		return invalid("ROOMCHAT_HISTORY must be memory, postgres, redis or jetstream, got %q", c.History)
	}

	if c.ReadinessRequireDB && c.DatabaseURL == "" {
		return invalid("ROOMCHAT_READINESS_REQUIRE_DB needs ROOMCHAT_DATABASE_URL")
	}
	if c.BusReconnectMin > c.BusReconnectMax {
		return invalid("ROOMCHAT_BUS_RECONNECT_MIN exceeds ROOMCHAT_BUS_RECONNECT_MAX")
	}
	if c.SessionRetryMin > c.SessionRetryMax {
		return invalid("ROOMCHAT_SESSION_RETRY_MIN exceeds ROOMCHAT_SESSION_RETRY_MAX")
	}

	switch c.AuthMode {
	case AuthDev:
	case AuthPaseto:
		if c.PasetoPublicKeyHex == "" {
			return invalid("ROOMCHAT_PASETO_V4_PUBLIC_KEY_HEX is required for auth=paseto")
		}
	default:
		return invalid("ROOMCHAT_AUTH_MODE must be dev or paseto, got %q", c.AuthMode)
	}

	if strings.TrimSpace(c.Namespace) == "" {
		return invalid("ROOMCHAT_NAMESPACE must not be empty")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
