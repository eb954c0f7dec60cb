package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "data/approval.db", cfg.Database.Path)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.False(t, cfg.NATS.Enabled)
	assert.Equal(t, "notifications.procurement", cfg.NATS.SubjectPrefix)
	assert.Zero(t, cfg.Workers.OverlapAuditInterval)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  request_timeout: 5s
database:
  path: /tmp/approval-test.db
logger:
  level: debug
  format: console
nats:
  enabled: true
workers:
  overlap_audit_interval: 10m
`)
	t.Setenv("NATS_URL", "nats://bus:4222")
	t.Setenv("APP_LOGGER_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "/tmp/approval-test.db", cfg.Database.Path)
	assert.Equal(t, "warn", cfg.Logger.Level)
	assert.Equal(t, "console", cfg.Logger.Format)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "nats://bus:4222", cfg.NATS.URL)

	cc := cfg.ToContainerConfig()
	assert.Equal(t, cfg.Database.Path, cc.Database.Path)
	assert.Equal(t, cfg.Server.RequestTimeout, cc.Server.RequestTimeout)
	assert.Equal(t, "nats://bus:4222", cc.NATS.URL)
	assert.True(t, cc.NATS.Enabled)
	assert.Equal(t, 10*time.Minute, cc.Workers.OverlapAuditInterval)
	require.NoError(t, cc.Validate())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"port out of range", "server:\n  port: 70000\n"},
		{"unknown log level", "logger:\n  level: loud\n"},
		{"unknown log format", "logger:\n  format: xml\n"},
		{"nats without url", "nats:\n  enabled: true\n  url: \"\"\n"},
		{"negative audit interval", "workers:\n  overlap_audit_interval: -1m\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
