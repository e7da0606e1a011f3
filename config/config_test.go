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
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaultsAndYAML(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	path := writeConfig(t, `
llm:
  provider: anthropic
  model: claude-test
fetch:
  direct_timeout: 5s
  proxies:
    - name: relay
      url: https://relay.example/?url=
    - name: corp
      kind: http
      url: http://proxy.local:3128
      timeout: 12
retry:
  base_delay: 2
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 5*time.Second, cfg.Fetch.DirectTimeout.Duration)
	require.Len(t, cfg.Fetch.Proxies, 2)
	assert.Equal(t, "forward", cfg.Fetch.Proxies[0].Kind)
	assert.Equal(t, 25*time.Second, cfg.Fetch.Proxies[0].Timeout.Duration)
	assert.Equal(t, 12*time.Second, cfg.Fetch.Proxies[1].Timeout.Duration)
	assert.Equal(t, 2*time.Second, cfg.Retry.BaseDelay.Duration)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 8, cfg.Links.MinLinks)
	assert.Equal(t, time.Hour, cfg.Cache.TTL.Duration)
	assert.Equal(t, 3, cfg.Pipeline.Workers)
}

func TestLoadEnvOverridesWin(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("LLM_API_KEY", "sk-env")
	t.Setenv("CACHE_DRIVER", "redis")
	t.Setenv("REDIS_ADDRESS", "localhost:6379")
	t.Setenv("REDIS_DB", "4")
	t.Setenv("SERP_ENABLED", "true")
	t.Setenv("SERP_API_KEY", "serp-key")
	path := writeConfig(t, "llm:\n  api_key: sk-file\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sk-env", cfg.LLM.APIKey)
	assert.Equal(t, "redis", cfg.Cache.Driver)
	assert.Equal(t, 4, cfg.Cache.RedisDB)
	assert.True(t, cfg.SERP.Enabled)
}

func TestLoadReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envPath, []byte("WP_BASE_URL=https://blog.example\n"), 0o600))
	t.Setenv("ENV_FILE", envPath)
	t.Cleanup(func() { os.Unsetenv("WP_BASE_URL") })

	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, "https://blog.example", cfg.Publisher.BaseURL)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.LLM.Provider = "llama-farm"
	cfg.Cache.Driver = "redis"
	cfg.Fetch.Proxies = []ProxyConfig{{Name: "bad", Kind: "socks"}}
	cfg.Quality.MaxWords = 100

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `llm.provider "llama-farm" not supported`)
	assert.Contains(t, msg, "cache.redis_address")
	assert.Contains(t, msg, "fetch.proxies[0].url")
	assert.Contains(t, msg, "fetch.proxies[0].kind")
	assert.Contains(t, msg, "quality.max_words")
}

func TestDeepseekNeedsBaseURL(t *testing.T) {
	cfg := Default()
	cfg.LLM.Provider = "deepseek"
	require.ErrorContains(t, cfg.Validate(), "base_url")

	cfg.LLM.BaseURL = "https://api.deepseek.com/v1"
	require.NoError(t, cfg.Validate())
}
