package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "./data/atp.db", cfg.Store.Path)
	assert.Equal(t, "gpt-4o", cfg.OpenAI.Model)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.Timeout)
	assert.Empty(t, cfg.OpenAI.APIKey)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ATP_SERVER_PORT", "9000")
	t.Setenv("ATP_DISPATCH_WEBHOOK_URL", "http://n8n.internal/webhook/remediate")
	t.Setenv("ATP_DISPATCH_HIGH_RISK_WEBHOOK_URL", "http://n8n.internal/webhook/remediate-gated")
	t.Setenv("ATP_OPENAI_API_KEY", "sk-test")
	t.Setenv("ATP_OPENAI_TIMEOUT", "10s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "http://n8n.internal/webhook/remediate", cfg.Dispatch.WebhookURL)
	assert.Equal(t, "http://n8n.internal/webhook/remediate-gated", cfg.Dispatch.HighRiskWebhookURL)
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
	assert.Equal(t, 10*time.Second, cfg.OpenAI.Timeout)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 8181
dispatch:
  webhook_url: http://localhost:5678/webhook/atp
verify:
  health_url: http://localhost:3001/health
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8181, cfg.Server.Port)
	assert.Equal(t, "http://localhost:5678/webhook/atp", cfg.Dispatch.WebhookURL)
	assert.Equal(t, "http://localhost:3001/health", cfg.Verify.HealthURL)
}

func TestLoadEnvWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8181\n"), 0o644))

	t.Setenv("ATP_SERVER_PORT", "9999")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
}

func TestLoadMissingFileIsIgnored(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}
