package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalYAML = `
security:
  token_master_secret: "test-master"
  state_secret: "test-state"
providers:
  google:
    enabled: true
    client_id: "id"
    client_secret: "secret"
`

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeConfig(t, minimalYAML)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "dev", cfg.App.Env)
	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, "memory", cfg.Storage.Driver)
	require.Equal(t, 2*time.Minute, cfg.Security.SafetyBuffer)
	require.Equal(t, 60, cfg.Rate.MaxRequests)
}

func TestLoad_EnvOverridesSecrets(t *testing.T) {
	path := writeConfig(t, minimalYAML)
	t.Setenv("TOKEN_MASTER_SECRET", "env-master")
	t.Setenv("SERVER_ADDR", ":9999")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "env-master", cfg.Security.TokenMasterSecret)
	require.Equal(t, ":9999", cfg.Server.Addr)
}

func TestValidate_RequiresSecrets(t *testing.T) {
	path := writeConfig(t, `
providers:
  google:
    enabled: true
    client_id: "id"
    client_secret: "secret"
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "token_master_secret")
}

func TestValidate_ProdRejectsMemoryStore(t *testing.T) {
	path := writeConfig(t, `
app:
  env: prod
security:
  token_master_secret: "x"
  state_secret: "y"
  admin_api_key: "k"
providers:
  google:
    enabled: true
    client_id: "id"
    client_secret: "secret"
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "memory storage driver")
}

func TestValidate_RequiresEnabledProvider(t *testing.T) {
	path := writeConfig(t, `
security:
  token_master_secret: "x"
  state_secret: "y"
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "at least one provider")
}

func TestValidate_ProviderNeedsClientSecret(t *testing.T) {
	path := writeConfig(t, `
security:
  token_master_secret: "x"
  state_secret: "y"
providers:
  microsoft:
    enabled: true
    client_id: "id"
`)
	_, err := Load(path)
	require.ErrorContains(t, err, "microsoft")
}
