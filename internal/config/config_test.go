package config

import (
	"strings"
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("GIN_MODE", "")
	t.Setenv("SCHEDULER_ADVANCE_POLICY", "")
	t.Setenv("SCHEDULER_WORKERS", "")
	t.Setenv("MEDIA_RETENTION", "")
	t.Setenv("TRUSTED_PROXIES", "")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error: %v", err)
	}
	if cfg.Reminder.AdvancePolicy != PolicySingleStep {
		t.Fatalf("AdvancePolicy = %q, want %q", cfg.Reminder.AdvancePolicy, PolicySingleStep)
	}
	if cfg.Reminder.Workers != 4 {
		t.Fatalf("Workers = %d, want 4", cfg.Reminder.Workers)
	}
	if cfg.Media.Retention != 7*24*time.Hour {
		t.Fatalf("Retention = %v, want 168h", cfg.Media.Retention)
	}
	if len(cfg.CORS.TrustedProxies) != 1 || cfg.CORS.TrustedProxies[0] != "127.0.0.1" {
		t.Fatalf("TrustedProxies = %v, want [127.0.0.1]", cfg.CORS.TrustedProxies)
	}
	if !strings.Contains(cfg.Database.DSN(), "TimeZone=UTC") {
		t.Fatalf("DSN = %q, want UTC timezone", cfg.Database.DSN())
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("GIN_MODE", "")
	t.Setenv("SCHEDULER_ADVANCE_POLICY", PolicyCatchUp)
	t.Setenv("SCHEDULER_GROUP_TIMEOUT", "5s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error: %v", err)
	}
	if cfg.Reminder.AdvancePolicy != PolicyCatchUp {
		t.Fatalf("AdvancePolicy = %q, want %q", cfg.Reminder.AdvancePolicy, PolicyCatchUp)
	}
	if cfg.Reminder.GroupTimeout != 5*time.Second {
		t.Fatalf("GroupTimeout = %v, want 5s", cfg.Reminder.GroupTimeout)
	}
	if len(cfg.CORS.AllowedOrigins) != 2 {
		t.Fatalf("AllowedOrigins = %v, want 2 entries", cfg.CORS.AllowedOrigins)
	}
}

func TestFromEnvInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "policy", key: "SCHEDULER_ADVANCE_POLICY", val: "loop"},
		{name: "workers", key: "SCHEDULER_WORKERS", val: "0"},
		{name: "workers not int", key: "SCHEDULER_WORKERS", val: "four"},
		{name: "timeout", key: "SCHEDULER_GROUP_TIMEOUT", val: "soon"},
		{name: "enabled", key: "SCHEDULER_ENABLED", val: "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GIN_MODE", "")
			t.Setenv(tt.key, tt.val)
			_, err := FromEnv()
			if err == nil {
				t.Fatalf("expected error for %s=%q", tt.key, tt.val)
			}
			if !strings.Contains(err.Error(), tt.key) {
				t.Fatalf("error %q does not name %s", err, tt.key)
			}
		})
	}
}

func TestFromEnvReleaseRequiresDatabaseURL(t *testing.T) {
	t.Setenv("GIN_MODE", "release")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "secret")

	if _, err := FromEnv(); err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected DATABASE_URL error, got %v", err)
	}

	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/cactus")
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error: %v", err)
	}
	if cfg.Database.DSN() != "postgres://u:p@db:5432/cactus" {
		t.Fatalf("DSN = %q", cfg.Database.DSN())
	}
}

func TestFromEnvDriver(t *testing.T) {
	t.Setenv("GIN_MODE", "")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_SQLITE_PATH", "/tmp/cactus-dev.db")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error: %v", err)
	}
	if cfg.Database.Driver != DriverSQLite || cfg.Database.SQLitePath != "/tmp/cactus-dev.db" {
		t.Fatalf("Database = %+v", cfg.Database)
	}

	t.Setenv("DB_DRIVER", "mongo")
	if _, err := FromEnv(); err == nil || !strings.Contains(err.Error(), "DB_DRIVER") {
		t.Fatalf("expected DB_DRIVER error, got %v", err)
	}
}
