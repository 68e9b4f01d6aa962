package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 200, cfg.Gateway.MaxHistoryLimit)
}

func TestApplyYAMLKeepsUnsetFields(t *testing.T) {
	cfg := Default()
	doc := `
http:
  addr: ":9090"
gateway:
  max_queue: 128
  write_wait: 3s
storage:
  driver: sqlite
`
	require.NoError(t, ApplyYAML(&cfg, []byte(doc)))
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, 128, cfg.Gateway.MaxQueue)
	assert.Equal(t, 3*time.Second, cfg.Gateway.WriteWait)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	// 未出现的字段保持默认
	assert.Equal(t, 30*time.Second, cfg.Gateway.PingInterval)
	assert.Equal(t, "pprelay.db", cfg.Storage.SQLitePath)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	env := []string{
		"PATH=/usr/bin",
		"PPRELAY_NODE_ID=relay_07",
		"PPRELAY_GATEWAY_MAX_HISTORY_LIMIT=50",
		"PPRELAY_GATEWAY_REJECT_UNAUTHENTICATED=true",
		"PPRELAY_GATEWAY_RATE_LIMIT=2.5",
		"PPRELAY_STORAGE_TIMEOUT=2s",
		"PPRELAY_EVENTS_KAFKA_BROKERS=k1:9092,k2:9092",
		"PPRELAY_LOG_LEVEL=debug",
		"PPRELAY_CONFIG=/ignored.yaml",
	}
	require.NoError(t, ApplyEnv(&cfg, env))

	assert.Equal(t, "relay_07", cfg.NodeID)
	assert.Equal(t, 50, cfg.Gateway.MaxHistoryLimit)
	assert.True(t, cfg.Gateway.RejectUnauthenticated)
	assert.InDelta(t, 2.5, cfg.Gateway.RateLimit, 1e-9)
	assert.Equal(t, 2*time.Second, cfg.Storage.Timeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Events.KafkaBrokers)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pprelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http:\n  addr: \":7000\"\ngateway:\n  max_queue: 10\n"), 0o600))

	t.Setenv("PPRELAY_GATEWAY_MAX_QUEUE", "99")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.HTTP.Addr)   // file > default
	assert.Equal(t, 99, cfg.Gateway.MaxQueue) // env > file
	assert.Equal(t, 200, cfg.Gateway.MaxHistoryLimit)
}

func TestReloadKeepsEnvPrecedence(t *testing.T) {
	base := Default()
	env := []string{"PPRELAY_LOG_LEVEL=warn"}
	require.NoError(t, ApplyEnv(&base, env))

	next, err := reload(base, "log:\n  level: debug\ngateway:\n  max_queue: 64\n", env)
	require.NoError(t, err)
	assert.Equal(t, "warn", next.Log.Level)
	assert.Equal(t, 64, next.Gateway.MaxQueue)
	// base 不被修改
	assert.Equal(t, 0, base.Gateway.MaxQueue)

	_, err = reload(base, "gateway: [not, a, map", env)
	assert.Error(t, err)
	_, err = reload(base, "storage:\n  driver: floppy\n", env)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Storage.Driver = "cassandra"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.HTTP.TLSCert = "cert.pem"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.HTTP.RequireToken = true
	assert.Error(t, cfg.Validate())
	cfg.Security.JWTSecret = "s"
	assert.NoError(t, cfg.Validate())
}

func TestConfigPath(t *testing.T) {
	t.Setenv("PPRELAY_CONFIG", "/etc/pprelay.yaml")
	assert.Equal(t, "a.yaml", ConfigPath("a.yaml"))
	assert.Equal(t, "/etc/pprelay.yaml", ConfigPath(""))
}
