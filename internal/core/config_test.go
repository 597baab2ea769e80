package core

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

const testConfig = `
hostname: 127.0.0.1
max_connections: 25
logging:
  log_level: debug
database:
  engine: postgres
  host: localhost
  port: 5432
  name: testdb
  username: testuser
  password: testpassword
redis:
  address: localhost:6379
world_allocation:
  poll_interval: 50ms
  timeout: 5s
`

func writeTestConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(contents), 0644); err != nil {
		t.Fatalf("error writing test config: %v", err)
	}
	return dir
}

func TestLoadConfig(t *testing.T) {
	dir := writeTestConfig(t, testConfig)

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig() returned an unexpected error: %v", err)
	}

	if cfg.Hostname != "127.0.0.1" {
		t.Errorf("Hostname want = 127.0.0.1, got = %s", cfg.Hostname)
	}
	if cfg.MaxConnections != 25 {
		t.Errorf("MaxConnections want = 25, got = %d", cfg.MaxConnections)
	}
	if cfg.WorldAllocation.PollInterval != 50*time.Millisecond {
		t.Errorf("PollInterval want = 50ms, got = %v", cfg.WorldAllocation.PollInterval)
	}
	if cfg.WorldAllocation.Timeout != 5*time.Second {
		t.Errorf("Timeout want = 5s, got = %v", cfg.WorldAllocation.Timeout)
	}
	// Unset values fall back to the defaults.
	if cfg.Redis.KeyPrefix != "realm:sessions:" {
		t.Errorf("Redis.KeyPrefix want = realm:sessions:, got = %s", cfg.Redis.KeyPrefix)
	}
	if cfg.Debugging.PprofPort != 4000 {
		t.Errorf("Debugging.PprofPort want = 4000, got = %d", cfg.Debugging.PprofPort)
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig(t.TempDir())
	if !errors.Is(err, ErrConfigNotFound) {
		t.Fatalf("LoadConfig() want error = %v, got = %v", ErrConfigNotFound, err)
	}
}

func TestConfig_DatabaseURL(t *testing.T) {
	cfg := &Config{}
	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.Name = "testdb"
	cfg.Database.Username = "testuser"
	cfg.Database.Password = "testpassword"

	url := cfg.DatabaseURL()
	expected := "host=localhost port=5432 dbname=testdb user=testuser password=testpassword sslmode="
	if url != expected {
		t.Errorf("DatabaseURL() want = %s, got = %s", expected, url)
	}
}

func TestConfig_QualifiedPath(t *testing.T) {
	cfg := &Config{configDir: "/etc/realm"}

	if got := cfg.QualifiedPath("realm.db"); got != "/etc/realm/realm.db" {
		t.Errorf("QualifiedPath() want = /etc/realm/realm.db, got = %s", got)
	}
	if got := cfg.QualifiedPath("/var/lib/realm.db"); got != "/var/lib/realm.db" {
		t.Errorf("QualifiedPath() want = /var/lib/realm.db, got = %s", got)
	}
}

func TestConfig_ListenAddress(t *testing.T) {
	cfg := &Config{Hostname: "127.0.0.1"}

	if addr := cfg.ListenAddress(2001); addr != "127.0.0.1:2001" {
		t.Errorf("ListenAddress() want = 127.0.0.1:2001, got = %s", addr)
	}
}

func TestNewLogger(t *testing.T) {
	cfg := &Config{}
	cfg.Logging.LogLevel = "warn"

	logger, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger() returned an unexpected error: %v", err)
	}
	if logger.Level != logrus.WarnLevel {
		t.Errorf("logger level want = %v, got = %v", logrus.WarnLevel, logger.Level)
	}

	cfg.Logging.LogLevel = "loud"
	if _, err := NewLogger(cfg); err == nil {
		t.Errorf("NewLogger() expected an error for an invalid level")
	}
}
