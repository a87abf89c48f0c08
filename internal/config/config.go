package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the signaling server.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	Signal    SignalConfig
	WebSocket WebSocketConfig
	Auth      AuthConfig
	Audit     AuditConfig
	DB        DBConfig
	Redis     RedisConfig
	Log       LogConfig
}

type AppConfig struct {
	Env  string
	Port int
}

// SignalConfig tunes call routing.
type SignalConfig struct {
	RingTimeout    time.Duration
	ReconnectGrace time.Duration
	OutboxLimit    int

	CallRateLimit  int
	CallRateWindow time.Duration

	NicknameMaxLen int
	Operators      []string
}

type WebSocketConfig struct {
	MaxMessageBytes int64
	PingInterval    time.Duration
	PongWait        time.Duration
	WriteTimeout    time.Duration
	MaxConnsPerIP   int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	SessionTokenTTL time.Duration
}

// AuditConfig selects where session audit events are stored.
// Accepts: memory, postgres, sqlite
type AuditConfig struct {
	Store      string
	SQLitePath string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

// RedisConfig is optional; without a host, connection caps are kept in process.
type RedisConfig struct {
	Host string
	Port int
}

type LogConfig struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	if n, err := mustInt("APP_PORT"); err != nil {
		parseErrs = append(parseErrs, err)
	} else {
		c.App.Port = n
	}

	// Tunables are optional; defaults applied in Validate().
	c.Signal.RingTimeout, parseErrs = optDuration(parseErrs, "SIGNAL_RING_TIMEOUT")
	c.Signal.ReconnectGrace, parseErrs = optDuration(parseErrs, "SIGNAL_RECONNECT_GRACE")
	c.Signal.OutboxLimit, parseErrs = optInt(parseErrs, "SIGNAL_OUTBOX_LIMIT")
	c.Signal.CallRateLimit, parseErrs = optInt(parseErrs, "SIGNAL_CALL_RATE_LIMIT")
	c.Signal.CallRateWindow, parseErrs = optDuration(parseErrs, "SIGNAL_CALL_RATE_WINDOW")
	c.Signal.NicknameMaxLen, parseErrs = optInt(parseErrs, "SIGNAL_NICKNAME_MAX_LEN")
	c.Signal.Operators = splitList(os.Getenv("SIGNAL_OPERATORS"))

	var maxMsg int
	maxMsg, parseErrs = optInt(parseErrs, "WS_MAX_MESSAGE_BYTES")
	c.WebSocket.MaxMessageBytes = int64(maxMsg)
	c.WebSocket.PingInterval, parseErrs = optDuration(parseErrs, "WS_PING_INTERVAL")
	c.WebSocket.PongWait, parseErrs = optDuration(parseErrs, "WS_PONG_WAIT")
	c.WebSocket.WriteTimeout, parseErrs = optDuration(parseErrs, "WS_WRITE_TIMEOUT")
	c.WebSocket.MaxConnsPerIP, parseErrs = optInt(parseErrs, "WS_MAX_CONNS_PER_IP")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.SessionTokenTTL, parseErrs = optDuration(parseErrs, "SESSION_TOKEN_TTL")

	c.Audit.Store = strings.TrimSpace(os.Getenv("AUDIT_STORE"))
	c.Audit.SQLitePath = strings.TrimSpace(os.Getenv("AUDIT_SQLITE_PATH"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port, parseErrs = optInt(parseErrs, "DB_PORT")
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port, parseErrs = optInt(parseErrs, "REDIS_PORT")

	c.Log.File = strings.TrimSpace(os.Getenv("LOG_FILE"))
	c.Log.MaxSizeMB, parseErrs = optInt(parseErrs, "LOG_MAX_SIZE_MB")
	c.Log.MaxBackups, parseErrs = optInt(parseErrs, "LOG_MAX_BACKUPS")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the config and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.Signal.RingTimeout <= 0 {
		c.Signal.RingTimeout = 32 * time.Second
	}
	if c.Signal.ReconnectGrace <= 0 {
		c.Signal.ReconnectGrace = 2 * time.Minute
	}
	if c.Signal.OutboxLimit <= 0 {
		c.Signal.OutboxLimit = 1024
	}
	if c.Signal.CallRateLimit < 0 {
		errs = append(errs, fmt.Errorf("SIGNAL_CALL_RATE_LIMIT must not be negative, got %d", c.Signal.CallRateLimit))
	} else if c.Signal.CallRateLimit == 0 {
		c.Signal.CallRateLimit = 10
	}
	if c.Signal.CallRateWindow <= 0 {
		c.Signal.CallRateWindow = time.Minute
	}
	if c.Signal.NicknameMaxLen <= 0 {
		c.Signal.NicknameMaxLen = 64
	}

	if c.WebSocket.MaxMessageBytes <= 0 {
		c.WebSocket.MaxMessageBytes = 1 << 20
	}
	if c.WebSocket.PingInterval <= 0 {
		c.WebSocket.PingInterval = 20 * time.Second
	}
	if c.WebSocket.PongWait <= 0 {
		c.WebSocket.PongWait = 45 * time.Second
	}
	if c.WebSocket.PongWait <= c.WebSocket.PingInterval {
		errs = append(errs, errors.New("WS_PONG_WAIT must be greater than WS_PING_INTERVAL"))
	}
	if c.WebSocket.WriteTimeout <= 0 {
		c.WebSocket.WriteTimeout = 5 * time.Second
	}
	if c.WebSocket.MaxConnsPerIP <= 0 {
		c.WebSocket.MaxConnsPerIP = 16
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.SessionTokenTTL <= 0 {
		c.Auth.SessionTokenTTL = 12 * time.Hour
	}
	if c.Auth.SessionTokenTTL <= c.Signal.ReconnectGrace {
		errs = append(errs, errors.New("SESSION_TOKEN_TTL must be greater than SIGNAL_RECONNECT_GRACE"))
	}

	if c.Audit.Store == "" {
		c.Audit.Store = "memory"
	}
	switch c.Audit.Store {
	case "memory":
	case "sqlite":
		if c.Audit.SQLitePath == "" {
			errs = append(errs, errors.New("AUDIT_SQLITE_PATH is required when AUDIT_STORE=sqlite"))
		}
	case "postgres":
		errs = append(errs, c.validateDB()...)
	default:
		errs = append(errs, fmt.Errorf("AUDIT_STORE must be one of memory, postgres, sqlite, got %q", c.Audit.Store))
	}

	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxBackups <= 0 {
		c.Log.MaxBackups = 3
	}

	return joinErrors(errs)
}

func (c *Config) validateDB() []error {
	var errs []error
	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

// RedisAddr is empty when Redis is not configured.
func (c Config) RedisAddr() string {
	if c.Redis.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optInt(errs []error, key string) (int, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, errs
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be an integer, got %q", key, v))
	}
	return n, errs
}

func optDuration(errs []error, key string) (time.Duration, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, errs
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be a duration, got %q", key, v))
	}
	return d, errs
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
