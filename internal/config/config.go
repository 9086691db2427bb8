package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig
	DB         DBConfig
	Log        LogConfig
	Auth       AuthConfig
	Redemption RedemptionConfig
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port            string `envconfig:"SERVER_PORT" default:"3000"`
	ShutdownTimeout int    `envconfig:"SHUTDOWN_TIMEOUT" default:"30"` // seconds
}

// DBConfig holds database-related configuration.
// WARNING: Default password is for local development only.
// In production, always set DB_PASSWORD via environment variable.
// In production, set DB_SSLMODE to "require" or "verify-full".
type DBConfig struct {
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"5432"`
	User     string `envconfig:"DB_USER" default:"postgres"`
	Password string `envconfig:"DB_PASSWORD" default:"postgres"` // CHANGE IN PRODUCTION
	Name     string `envconfig:"DB_NAME" default:"redemption_db"`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"` // Use "require" in production
	MaxConns int    `envconfig:"DB_MAX_CONNS" default:"25"`
	MinConns int    `envconfig:"DB_MIN_CONNS" default:"5"`
}

// DSN returns the PostgreSQL connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d&pool_min_conns=%d",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode, c.MaxConns, c.MinConns)
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Pretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

// AuthConfig holds bearer-credential configuration. The service mostly
// validates tokens minted by the marketplace backend; the TTL is kept
// here so local tooling and tests can mint credentials with the same
// parameters.
type AuthConfig struct {
	Secret   string        `envconfig:"JWT_SECRET" default:"dev-secret-change-me"` // CHANGE IN PRODUCTION
	TokenTTL time.Duration `envconfig:"JWT_TOKEN_TTL" default:"24h"`
}

// RedemptionConfig holds the redemption-protocol knobs.
//
// TokenTTL balances staff scan time against the replay window of a
// screenshotted code. The regeneration cap blunts automated farming of
// fresh codes. Scan velocity above the limit is flagged, never blocked:
// hard-blocking a scanner on a busy venue night costs more than a
// missed brute-force attempt.
type RedemptionConfig struct {
	TokenTTL           time.Duration `envconfig:"REDEMPTION_TOKEN_TTL" default:"5m"`
	QRScheme           string        `envconfig:"REDEMPTION_QR_SCHEME" default:"dealradar"`
	RegenLimit         int           `envconfig:"REDEMPTION_REGEN_LIMIT" default:"5"`
	RegenWindow        time.Duration `envconfig:"REDEMPTION_REGEN_WINDOW" default:"1h"`
	ScanVelocityLimit  int           `envconfig:"REDEMPTION_SCAN_VELOCITY_LIMIT" default:"60"`
	ScanVelocityWindow time.Duration `envconfig:"REDEMPTION_SCAN_VELOCITY_WINDOW" default:"1m"`
}

// Load parses environment variables into the Config struct.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
