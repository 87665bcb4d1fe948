package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
log_level: debug
llm:
  provider: openai
  base_url: https://api.example.com/v1
  api_key: dummy
  model: gpt-4o
  timeout: 30s
auth:
  tenant_id: tenant-123
mail:
  address: prof@uni.edu
  max_items: 3
  allowed_domains: [" Uni.EDU ", ""]
imessage:
  lookback: 48h
journal:
  output_dir: /tmp/drafts
  excerpt_chars: 80
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	tmp, err := os.CreateTemp(t.TempDir(), "cfg-*.yaml")
	require.NoError(t, err)
	_, err = tmp.WriteString(body)
	require.NoError(t, err)
	require.NoError(t, tmp.Close())
	return tmp.Name()
}

// TestLoad_File verifies that Load unmarshals the YAML file over the defaults.
func TestLoad_File(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, sampleConfig))

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "openai", cfg.LLM.Provider)
	require.Equal(t, "https://api.example.com/v1", cfg.LLM.BaseURL)
	require.Equal(t, 30*time.Second, cfg.LLM.Timeout)
	require.Equal(t, 5*time.Second, cfg.LLM.ProbeTimeout)
	require.Equal(t, "tenant-123", cfg.Auth.TenantID)
	require.Equal(t, "d3590ed6-52b3-4102-aeff-aad2292ab01c", cfg.Auth.ClientID)
	require.Equal(t, 3, cfg.Mail.MaxItems)
	require.Equal(t, 5, cfg.Mail.ThreadItems)
	require.Equal(t, []string{"uni.edu"}, cfg.Mail.AllowedDomains)
	require.Equal(t, 48*time.Hour, cfg.IMessage.Lookback)
	require.Equal(t, 20, cfg.IMessage.Window)
	require.Equal(t, 5, cfg.IMessage.ContextItems)
	require.Equal(t, "/tmp/drafts", cfg.Journal.OutputDir)
	require.Equal(t, 80, cfg.Journal.ExcerptChars)
	require.NoError(t, cfg.Validate(true, true))
}

func TestLoad_LegacyEnvironment(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, "log_level: info\n"))
	t.Setenv("OVENMITT_TENANT_ID", "t-env")
	t.Setenv("OVENMITT_EMAIL", "me@example.org")
	t.Setenv("OVENMITT_OLLAMA_URL", "http://gpu-box:11434/api/chat")
	t.Setenv("OVENMITT_OLLAMA_MODEL", "llama3")
	t.Setenv("OVENMITT_OUTPUT_DIR", "/srv/drafts")

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "t-env", cfg.Auth.TenantID)
	require.Equal(t, "me@example.org", cfg.Mail.Address)
	require.Equal(t, "http://gpu-box:11434", cfg.LLM.BaseURL)
	require.Equal(t, "llama3", cfg.LLM.Model)
	require.Equal(t, "/srv/drafts", cfg.Journal.OutputDir)
}

func TestLoad_PrefixedEnvironment(t *testing.T) {
	t.Setenv("CONFIG_PATH", writeConfig(t, "log_level: info\n"))
	t.Setenv("OVENMITT_MAIL_MAX_ITEMS", "25")
	t.Setenv("OVENMITT_AUTH_CACHE_BACKEND", "KEYRING")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 25, cfg.Mail.MaxItems)
	require.Equal(t, "keyring", cfg.Auth.CacheBackend)
}

func TestLoad_ExplicitPathMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_ExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("CONFIG_PATH", writeConfig(t, "journal:\n  output_dir: ~/drafts\n"))

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, "drafts"), cfg.Journal.OutputDir)
	require.Equal(t, filepath.Join(home, ".ovenmitt_token_cache.json"), cfg.Auth.CachePath)
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		LLM:  LLMConfig{Provider: "ollama", Model: "m"},
		Auth: AuthConfig{CacheBackend: "file"},
	}
	require.NoError(t, cfg.Validate(false, true), "mail values are not needed for local-only runs")

	err := cfg.Validate(true, true)
	require.ErrorIs(t, err, ErrMissing)
	require.Contains(t, err.Error(), "OVENMITT_TENANT_ID")
	require.Contains(t, err.Error(), "OVENMITT_EMAIL")

	cfg.LLM.Provider = "bard"
	require.Error(t, cfg.Validate(false, true))
}

func TestValidate_AuthOnlySkipsGeneration(t *testing.T) {
	cfg := &Config{
		Auth: AuthConfig{TenantID: "t", CacheBackend: "keyring"},
		Mail: MailConfig{Address: "me@uni.edu"},
	}
	require.NoError(t, cfg.Validate(true, false))

	err := cfg.Validate(true, true)
	require.ErrorIs(t, err, ErrMissing)
	require.Contains(t, err.Error(), "OVENMITT_OLLAMA_MODEL")
}
