package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"supportchat/cmd/internal/chat"
	v1 "supportchat/shared/contracts/chat/v1"
)

// Mode selects what the binary runs.
type Mode string

const (
	ModeClient    Mode = "client"
	ModeDevServer Mode = "devserver"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	LogLevel  string
	LogFormat string

	// MetricsAddr, when set, serves /metrics on its own listener (client mode).
	MetricsAddr string

	// Client.
	BaseURL         string
	Role            v1.Role
	ParticipantID   int64
	AdminToken      string
	ReconnectDelay  time.Duration
	SendTimeout     time.Duration
	SummaryInterval time.Duration
	OrdersInterval  time.Duration

	// Dev server.
	HTTPAddr          string
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	AllowedOrigins    []string

	// DevSeed fills the in-memory store with demo customers and pending orders.
	DevSeed bool

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, /readyz returns 503 unless the database is configured and reachable.
	ReadinessRequireDB bool
}

// LoadConfig loads Config from environment variables with defaults.
// Call LoadDotEnv first to pick up a .env file.
func LoadConfig() Config {
	return Config{
		LogLevel:    EnvString("SUPPORTCHAT_LOG_LEVEL", "info"),
		LogFormat:   EnvString("SUPPORTCHAT_LOG_FORMAT", "json"),
		MetricsAddr: EnvString("SUPPORTCHAT_METRICS_ADDR", ""),

		BaseURL:         EnvString("SUPPORTCHAT_BASE_URL", "http://127.0.0.1:8080"),
		Role:            v1.Role(strings.ToLower(EnvString("SUPPORTCHAT_ROLE", string(v1.RoleCustomer)))),
		ParticipantID:   EnvInt64("SUPPORTCHAT_PARTICIPANT_ID", 0),
		AdminToken:      EnvString("SUPPORTCHAT_ADMIN_TOKEN", ""),
		ReconnectDelay:  EnvDuration("SUPPORTCHAT_RECONNECT_DELAY", 2*time.Second),
		SendTimeout:     EnvDuration("SUPPORTCHAT_SEND_TIMEOUT", 5*time.Second),
		SummaryInterval: EnvDuration("SUPPORTCHAT_SUMMARY_INTERVAL", 3000*time.Millisecond),
		OrdersInterval:  EnvDuration("SUPPORTCHAT_ORDERS_INTERVAL", 2000*time.Millisecond),

		HTTPAddr:          EnvString("SUPPORTCHAT_HTTP_ADDR", "0.0.0.0:8080"),
		ReadHeaderTimeout: EnvDuration("SUPPORTCHAT_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		IdleTimeout:       EnvDuration("SUPPORTCHAT_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("SUPPORTCHAT_HTTP_MAX_HEADER_BYTES", 1<<20),
		AllowedOrigins:    EnvCSV("SUPPORTCHAT_ALLOWED_ORIGINS", "http://localhost,http://127.0.0.1"),

		DevSeed: EnvBool("SUPPORTCHAT_DEV_SEED", false),

		DatabaseURL: EnvString("SUPPORTCHAT_DATABASE_URL", ""),
		DBSchema:    EnvString("SUPPORTCHAT_DB_SCHEMA", "supportchat"),
		DBMaxConns:  EnvInt32("SUPPORTCHAT_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("SUPPORTCHAT_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("SUPPORTCHAT_READINESS_REQUIRE_DB", false),
	}
}

// ErrInvalidConfig wraps configuration errors detected at startup.
var ErrInvalidConfig = errors.New("invalid config")

// Session builds the chat session for client mode.
func (c Config) Session() (chat.SessionContext, error) {
	s, err := chat.NewSessionContext(c.ParticipantID, c.Role)
	if err != nil {
		return chat.SessionContext{}, fmt.Errorf("%w: SUPPORTCHAT_ROLE/SUPPORTCHAT_PARTICIPANT_ID: %v", ErrInvalidConfig, err)
	}
	return s, nil
}

// ParseMode maps the first CLI argument to a Mode (client when empty).
func ParseMode(arg string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(arg))) {
	case "", ModeClient:
		return ModeClient, nil
	case ModeDevServer:
		return ModeDevServer, nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q (want client or devserver)", ErrInvalidConfig, arg)
	}
}
