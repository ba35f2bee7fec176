package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestLoad_Defaults(t *testing.T) {
	opts, err := Load([]string{"-c", filepath.Join(t.TempDir(), "absent.json")}, env(nil))
	require.NoError(t, err)

	assert.Equal(t, "localhost:8080", opts.Port)
	assert.Equal(t, 15, opts.LockAfterMinutes)
	assert.Equal(t, time.Minute, opts.PollInterval.Std())
	assert.Equal(t, 8*time.Second, opts.CredentialTimeout.Std())
	assert.Equal(t, 90*24*time.Hour, opts.AuditRetention.Std())
	assert.Equal(t, 12*time.Hour, opts.TabIdleTTL.Std())
	assert.Empty(t, opts.RedisAddr)
	assert.Equal(t, "info", opts.LogLevel)
}

func TestLoad_Precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"port": "file:1",
		"database_dsn": "postgres://file",
		"redis_addr": "file:6379",
		"lock_after_minutes": 30,
		"poll_interval": "30s",
		"tab_idle_ttl": "2h"
	}`), 0o600))

	opts, err := Load(
		[]string{"-c", path, "-a", "flag:2", "-poll", "10s"},
		env(map[string]string{"SERVER_ADDRESS": "env:3", "REDIS_PASSWORD": "secret"}),
	)
	require.NoError(t, err)

	assert.Equal(t, "env:3", opts.Port, "env beats flag and file")
	assert.Equal(t, 10*time.Second, opts.PollInterval.Std(), "flag beats file")
	assert.Equal(t, "postgres://file", opts.DatabaseDSN)
	assert.Equal(t, "file:6379", opts.RedisAddr)
	assert.Equal(t, 30, opts.LockAfterMinutes)
	assert.Equal(t, 2*time.Hour, opts.TabIdleTTL.Std())
	assert.Equal(t, "secret", opts.RedisPassword)
}

func TestLoad_ConfigFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"log_level":"debug"}`), 0o600))

	opts, err := Load(nil, env(map[string]string{"CONFIG": path}))
	require.NoError(t, err)
	assert.Equal(t, "debug", opts.LogLevel)
}

func TestLoad_EnvDurationsAndMinutes(t *testing.T) {
	opts, err := Load([]string{"-c", ""}, env(map[string]string{
		"AUDIT_RETENTION":    "720h",
		"CREDENTIAL_TIMEOUT": "3s",
		"LOCK_AFTER_MINUTES": "0",
	}))
	require.NoError(t, err)
	assert.Equal(t, 720*time.Hour, opts.AuditRetention.Std())
	assert.Equal(t, 3*time.Second, opts.CredentialTimeout.Std())
	assert.Equal(t, 1, opts.LockAfterMinutes, "timeout is clamped to one minute")
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"poll_interval": 60}`), 0o600))

	tests := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{"unknown flag", []string{"-x"}, nil},
		{"bad flag duration", []string{"-c", "", "-poll", "soon"}, nil},
		{"numeric duration in file", []string{"-c", bad}, nil},
		{"bad env duration", []string{"-c", ""}, map[string]string{"TAB_IDLE_TTL": "forever"}},
		{"bad env minutes", []string{"-c", ""}, map[string]string{"LOCK_AFTER_MINUTES": "ten"}},
		{"non-positive duration", []string{"-c", "", "-ct", "0s"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.args, env(tt.env))
			assert.Error(t, err)
		})
	}
}
