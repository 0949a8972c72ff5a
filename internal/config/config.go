package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Advancement policies for overdue update windows
const (
	PolicySingleStep = "single-step"
	PolicyCatchUp    = "catch-up"
)

const (
	defaultExpoPushEndpoint = "https://exp.host/--/api/v2/push/send"
	defaultSendGridHost     = "https://api.sendgrid.com"
)

// Config holds every setting read from the environment
type Config struct {
	Port     string
	LogLevel string
	Release  bool

	Database DatabaseConfig
	Auth     AuthConfig
	CORS     CORSConfig
	Push     PushConfig
	Email    EmailConfig
	Media    MediaConfig
	Reminder SchedulerConfig
}

// Database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DatabaseConfig selects the database connection. SQLite is meant for local
// development only.
type DatabaseConfig struct {
	Driver     string
	SQLitePath string
	URL        string
	Host       string
	User       string
	Password   string
	Name       string
	Port       string
	SSLMode    string
}

// DSN builds the connection string. DATABASE_URL wins when set.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC connect_timeout=10",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode)
}

type AuthConfig struct {
	JWTSecret string
}

type CORSConfig struct {
	AllowedOrigins []string
	TrustedProxies []string
}

type PushConfig struct {
	Endpoint   string
	RatePerSec int
}

type EmailConfig struct {
	Host      string
	APIKey    string
	FromEmail string
	FromName  string
}

// Enabled reports whether reminder emails can be sent
func (e EmailConfig) Enabled() bool {
	return e.APIKey != "" && e.FromEmail != ""
}

type MediaConfig struct {
	CloudName string
	APIKey    string
	APISecret string
	Retention time.Duration
}

type SchedulerConfig struct {
	Enabled       bool
	Spec          string
	Workers       int
	GroupTimeout  time.Duration
	AdvancePolicy string
}

// Load reads .env (when present) and then the process environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Release:  os.Getenv("GIN_MODE") == "release",
		Auth: AuthConfig{
			JWTSecret: os.Getenv("JWT_SECRET"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
			TrustedProxies: splitList(getEnv("TRUSTED_PROXIES", "127.0.0.1")),
		},
		Push: PushConfig{
			Endpoint: getEnv("EXPO_PUSH_ENDPOINT", defaultExpoPushEndpoint),
		},
		Email: EmailConfig{
			Host:      getEnv("SENDGRID_HOST", defaultSendGridHost),
			APIKey:    os.Getenv("SENDGRID_API_KEY"),
			FromEmail: os.Getenv("SENDGRID_NOTIFICATIONS_FROM_EMAIL"),
			FromName:  getEnv("SENDGRID_FROM_NAME", "cactus"),
		},
		Media: MediaConfig{
			CloudName: os.Getenv("CLOUDINARY_CLOUD_NAME"),
			APIKey:    os.Getenv("CLOUDINARY_API_KEY"),
			APISecret: os.Getenv("CLOUDINARY_API_SECRET"),
		},
		Reminder: SchedulerConfig{
			Spec:          getEnv("SCHEDULER_SPEC", "@every 5m"),
			AdvancePolicy: getEnv("SCHEDULER_ADVANCE_POLICY", PolicySingleStep),
		},
	}

	if cfg.Release {
		// In production, use the hosted DATABASE_URL
		url, err := getEnvRequired("DATABASE_URL")
		if err != nil {
			return nil, err
		}
		cfg.Database.URL = url
	} else {
		cfg.Database = DatabaseConfig{
			URL:        os.Getenv("DATABASE_URL"),
			SQLitePath: getEnv("DB_SQLITE_PATH", "cactus.db"),
			Host:       getEnv("DB_HOST", "localhost"),
			User:       getEnv("DB_USER", "postgres"),
			Password:   os.Getenv("DB_PASSWORD"),
			Name:       getEnv("DB_NAME", "cactus"),
			Port:       getEnv("DB_PORT", "5432"),
			SSLMode:    getEnv("DB_SSL_MODE", "disable"),
		}
	}

	cfg.Database.Driver = getEnv("DB_DRIVER", DriverPostgres)

	var err error
	if cfg.Push.RatePerSec, err = getEnvInt("PUSH_RATE_PER_SEC", 10); err != nil {
		return nil, err
	}
	if cfg.Media.Retention, err = getEnvDuration("MEDIA_RETENTION", 7*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.Reminder.Enabled, err = getEnvBool("SCHEDULER_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.Reminder.Workers, err = getEnvInt("SCHEDULER_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.Reminder.GroupTimeout, err = getEnvDuration("SCHEDULER_GROUP_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case DriverPostgres:
	case DriverSQLite:
		if c.Release {
			return errors.New("DB_DRIVER: sqlite is not allowed in release mode")
		}
	default:
		return fmt.Errorf("DB_DRIVER: unknown driver %q", c.Database.Driver)
	}
	switch c.Reminder.AdvancePolicy {
	case PolicySingleStep, PolicyCatchUp:
	default:
		return fmt.Errorf("SCHEDULER_ADVANCE_POLICY: unknown policy %q (want %s or %s)",
			c.Reminder.AdvancePolicy, PolicySingleStep, PolicyCatchUp)
	}
	if c.Reminder.Workers <= 0 {
		return fmt.Errorf("SCHEDULER_WORKERS: must be > 0, got %d", c.Reminder.Workers)
	}
	if c.Push.RatePerSec <= 0 {
		return fmt.Errorf("PUSH_RATE_PER_SEC: must be > 0, got %d", c.Push.RatePerSec)
	}
	if c.Release && c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET: required in release mode")
	}
	return nil
}

// getEnvRequired returns the value of key or an error naming the missing key
func getEnvRequired(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value, nil
	}
	return "", fmt.Errorf("required environment variable %s is not set", key)
}

func getEnv(key, def string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, raw, err)
	}
	return v, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, raw, err)
	}
	return v, nil
}

func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: duration must be > 0", key)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
