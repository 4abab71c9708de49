package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
app:
  name: tradegate
  env: test
auth:
  api_keys:
    admin-key-123: admin
    viewer-key-789: viewer
  jwt:
    secret_key: test-secret
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.REST.Port)
	assert.Equal(t, 8082, cfg.Server.WebSocket.Port)
	assert.Equal(t, 5*time.Second, cfg.Status.TTL)
	assert.Equal(t, 2*time.Second, cfg.Status.ProbeTimeout)
	assert.Equal(t, 30*time.Second, cfg.Command.ExecutionTimeout)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadRejectsMissingKeys(t *testing.T) {
	_, err := Load(writeConfig(t, `
auth:
  jwt:
    secret_key: s
`))
	assert.Error(t, err)
}

func TestLoadRejectsShortAPIKey(t *testing.T) {
	_, err := Load(writeConfig(t, `
auth:
  api_keys:
    short: admin
  jwt:
    secret_key: s
`))
	assert.Error(t, err)
}

func TestLoadRejectsUnknownRole(t *testing.T) {
	_, err := Load(writeConfig(t, `
auth:
  api_keys:
    long-enough-key: superuser
  jwt:
    secret_key: s
`))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TRADEGATE_REST_PORT", "9090")
	t.Setenv("TRADEGATE_LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.REST.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestEncryptedEnvRoundTrip(t *testing.T) {
	em := NewEnvManager("unit-test-key", "TGTEST_")

	enc, err := em.EncryptValue("hunter2")
	require.NoError(t, err)
	t.Setenv("TGTEST_SECRET", enc)

	assert.Equal(t, "hunter2", em.GetEncryptedString("secret", ""))
}

func TestEncryptedEnvPlainPassthrough(t *testing.T) {
	em := NewEnvManager("unit-test-key", "TGTEST_")
	t.Setenv("TGTEST_PLAIN", "not-encrypted")

	assert.Equal(t, "not-encrypted", em.GetEncryptedString("plain", ""))
}
