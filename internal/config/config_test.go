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

func TestLoad_FileOverDefaults(t *testing.T) {
	t.Setenv("PK_TEST_DSN", "postgres://u:p@db:5432/portal")
	t.Setenv("PK_TEST_MINIO_SECRET", "minio-secret")
	path := writeConfig(t, `
server:
  addr: "127.0.0.1:9000"
  write_timeout: "2m"
database:
  dsn: "${PK_TEST_DSN}"
auth:
  jwt_key: "k3y"
connector:
  nav_timeout: "45s"
  max_items: 25
session_cache:
  backend: minio
  max_age: "72h"
  minio:
    endpoint: "minio:9000"
    access_key_id: "portal"
    secret_access_key: "${PK_TEST_MINIO_SECRET}"
    bucket: "sessions"
scheduler:
  enabled: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, 2*time.Minute, cfg.Server.WriteTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout, "default kept")
	assert.Equal(t, "postgres://u:p@db:5432/portal", cfg.Database.DSN)
	assert.Equal(t, 12*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 45*time.Second, cfg.Connector.NavTimeout)
	assert.Equal(t, 30*time.Second, cfg.Connector.SubmitTimeout)
	assert.Equal(t, 25, cfg.Connector.MaxItems)
	assert.Equal(t, CacheMinio, cfg.SessionCache.Backend)
	assert.Equal(t, 72*time.Hour, cfg.SessionCache.MaxAge)
	assert.Equal(t, "minio-secret", cfg.SessionCache.Minio.SecretAccessKey)
	assert.False(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 5, cfg.Limiter.MaxFails)
}

func TestLoad_Errors(t *testing.T) {
	cases := map[string]string{
		"missing dsn":   "auth: {jwt_key: k}\n",
		"missing key":   "database: {dsn: x}\n",
		"bad duration":  "database: {dsn: x}\nauth: {jwt_key: k, token_ttl: soon}\n",
		"bad backend":   "database: {dsn: x}\nauth: {jwt_key: k}\nsession_cache: {backend: redis}\n",
		"minio bucket":  "database: {dsn: x}\nauth: {jwt_key: k}\nsession_cache: {backend: minio, minio: {endpoint: m}}\n",
		"bad yaml":      "database: [\n",
		"zero interval": "database: {dsn: x}\nauth: {jwt_key: k}\nscheduler: {enabled: true, interval: 0s}\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestExpandEnvVars_UnsetIsEmpty(t *testing.T) {
	t.Setenv("PK_TEST_SET", "v")
	assert.Equal(t, "a=v b=", expandEnvVars("a=${PK_TEST_SET} b=${PK_TEST_UNSET_VAR}"))
}

func TestParse_FlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, "server: {addr: ':7000'}\ndatabase: {dsn: file-dsn}\nauth: {jwt_key: file-key}\n")

	cfg, err := Parse("test", []string{"-config", path, "-addr", ":9443", "-jwt-key", "flag-key"})
	require.NoError(t, err)
	assert.Equal(t, ":9443", cfg.Server.Addr)
	assert.Equal(t, "file-dsn", cfg.Database.DSN)
	assert.Equal(t, "flag-key", cfg.Auth.JWTKey)

	cfg, err = Parse("test", []string{"-dsn", "flag-dsn", "-jwt-key", "k"})
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, CacheFile, cfg.SessionCache.Backend)
	assert.Equal(t, time.Minute, cfg.Scheduler.Interval)

	_, err = Parse("test", []string{"-dsn", "flag-dsn"})
	require.Error(t, err)

	_, err = Parse("test", []string{"-nope"})
	require.Error(t, err)
}
