package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/abdo90-dev/ecole-v2/internal/config"
)

const testSecret = "config-test-secret-0123456789abcdef"

// isolate keeps .env loading out of the way unless a test opts in.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("ECOLE_ENV", "test")
	for _, key := range []string{"PORT", "DATABASE_PATH", "BCRYPT_COST", "SESSION_TTL", "SIGNIN_RATE", "SIGNIN_BURST", "COOKIE_SECURE", "LOG_LEVEL"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	t.Setenv("JWT_SECRET", testSecret)
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Fatalf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Database.Path != "ecole.db" {
		t.Fatalf("expected ecole.db, got %s", cfg.Database.Path)
	}
	if cfg.Auth.BcryptCost != 12 {
		t.Fatalf("expected bcrypt cost 12, got %d", cfg.Auth.BcryptCost)
	}
	if cfg.SessionDuration() != 24*time.Hour {
		t.Fatalf("expected 24h session, got %s", cfg.SessionDuration())
	}
	if !cfg.Auth.CookieSecure {
		t.Fatal("expected secure cookies by default")
	}
	level, err := cfg.LogLevel()
	if err != nil || level != slog.LevelInfo {
		t.Fatalf("expected info level, got %v (%v)", level, err)
	}
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	isolate(t)

	path := filepath.Join(t.TempDir(), "ecole.yaml")
	yaml := strings.Join([]string{
		"server:",
		"  port: \"9090\"",
		"database:",
		"  path: /var/lib/ecole/data.db",
		"auth:",
		"  bcrypt_cost: 10",
		"  session_ttl: 2h",
		"logging:",
		"  level: debug",
	}, "\n")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("PORT", "7070")
	t.Setenv("COOKIE_SECURE", "false")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Fatalf("expected env to override file port, got %s", cfg.Server.Port)
	}
	if cfg.Database.Path != "/var/lib/ecole/data.db" {
		t.Fatalf("expected file database path, got %s", cfg.Database.Path)
	}
	if cfg.Auth.BcryptCost != 10 {
		t.Fatalf("expected bcrypt cost 10, got %d", cfg.Auth.BcryptCost)
	}
	if cfg.SessionDuration() != 2*time.Hour {
		t.Fatalf("expected 2h session, got %s", cfg.SessionDuration())
	}
	if cfg.Auth.CookieSecure {
		t.Fatal("expected COOKIE_SECURE=false to disable secure cookies")
	}
	if level, _ := cfg.LogLevel(); level != slog.LevelDebug {
		t.Fatalf("expected debug level, got %v", level)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing secret", map[string]string{"JWT_SECRET": ""}},
		{"short secret", map[string]string{"JWT_SECRET": "too-short"}},
		{"bcrypt cost too low", map[string]string{"BCRYPT_COST": "3"}},
		{"bcrypt cost too high", map[string]string{"BCRYPT_COST": "15"}},
		{"bcrypt cost not a number", map[string]string{"BCRYPT_COST": "twelve"}},
		{"bad session ttl", map[string]string{"SESSION_TTL": "forever"}},
		{"negative session ttl", map[string]string{"SESSION_TTL": "-1h"}},
		{"zero burst", map[string]string{"SIGNIN_BURST": "0"}},
		{"bad log level", map[string]string{"LOG_LEVEL": "loud"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			isolate(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := config.Load(""); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestLoad_DotEnv(t *testing.T) {
	isolate(t)
	t.Setenv("ECOLE_ENV", "")
	os.Unsetenv("JWT_SECRET")

	dir := t.TempDir()
	dotenv := "JWT_SECRET=" + testSecret + "-from-dotenv\nPORT=6060\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(dotenv), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Chdir(dir)

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.JWTSecret != testSecret+"-from-dotenv" {
		t.Fatalf("expected secret from .env, got %q", cfg.Auth.JWTSecret)
	}
	if cfg.Server.Port != "6060" {
		t.Fatalf("expected port from .env, got %s", cfg.Server.Port)
	}
}

func TestLoad_DotEnvSkippedOutsideDevelopment(t *testing.T) {
	isolate(t)
	t.Setenv("ECOLE_ENV", "production")

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("PORT=6060\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Chdir(dir)

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Fatalf("expected .env to be ignored in production, got port %s", cfg.Server.Port)
	}
}
