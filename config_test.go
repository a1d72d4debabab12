package sitegen_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sg "github.com/ineyio/sitegen"
)

const sampleConfig = `
jwt_secret: "${SITEGEN_TEST_SECRET}"
quota:
  daily_limit: 10
  timezone: "Asia/Tokyo"
  backend: "sqlite"
generation:
  timeout: 45s
  max_tokens: 8192
  policy: healthy_first
providers:
  - name: "gemini"
    model: "gemini-2.5-flash"
    api_key: "${SITEGEN_TEST_KEY}"
  - name: "openai"
    base_url: "https://api.openai.com/v1"
    model: "gpt-4o-mini"
`

func TestLoadConfig(t *testing.T) {
	t.Setenv("SITEGEN_TEST_SECRET", "s3cret")
	t.Setenv("SITEGEN_TEST_KEY", "g-key")

	path := filepath.Join(t.TempDir(), "sitegen.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := sg.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, int64(10), cfg.Quota.DailyLimit)
	assert.Equal(t, sg.BackendSQLite, cfg.Quota.Backend)
	assert.Equal(t, sg.BackendMemory, cfg.Projects.Backend)
	assert.Equal(t, 45*time.Second, cfg.Generation.Timeout)
	require.NotNil(t, cfg.Generation.MaxTokens)
	assert.Equal(t, 8192, *cfg.Generation.MaxTokens)
	assert.Nil(t, cfg.Generation.Temperature)
	assert.Equal(t, sg.PolicyHealthyFirst, cfg.Generation.Policy)

	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "g-key", cfg.Providers[0].APIKey)
	assert.Equal(t, sg.ProviderGemini, cfg.Providers[0].Type)
	assert.Equal(t, sg.ProviderOpenAI, cfg.Providers[1].Type)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Tokyo", loc.String())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := sg.LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestConfig_Defaults(t *testing.T) {
	cfg, err := sg.ParseConfig([]byte(`
jwt_secret: x
providers:
  - {name: mock, model: m}
`))
	require.NoError(t, err)
	assert.Equal(t, int64(sg.DefaultDailyLimit), cfg.Quota.DailyLimit)
	assert.Equal(t, "UTC", cfg.Quota.Timezone)
	assert.Equal(t, sg.BackendMemory, cfg.Quota.Backend)
	assert.Equal(t, "sitegen_", cfg.Quota.TablePrefix)
	assert.Equal(t, "sitegen:quota:", cfg.Quota.KeyPrefix)
	assert.Equal(t, 5.0, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 10, cfg.RateLimit.Burst)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, sg.PolicyOrdered, cfg.Generation.Policy)
	assert.Equal(t, sg.ProviderMock, cfg.Providers[0].Type)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() sg.Config {
		cfg := sg.Config{
			JWTSecret: "x",
			Providers: []sg.ProviderConfig{{Name: "gemini", Model: "gemini-2.5-flash"}},
		}
		cfg.ApplyDefaults()
		return cfg
	}

	t.Run("valid config", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	tests := []struct {
		name   string
		mutate func(*sg.Config)
		want   string
	}{
		{"missing secret", func(c *sg.Config) { c.JWTSecret = "" }, "jwt_secret is required"},
		{"negative limit", func(c *sg.Config) { c.Quota.DailyLimit = -1 }, "daily_limit"},
		{"bad timezone", func(c *sg.Config) { c.Quota.Timezone = "Mars/Olympus" }, "quota.timezone"},
		{"bad backend", func(c *sg.Config) { c.Quota.Backend = "etcd" }, "invalid quota.backend"},
		{"postgres without url", func(c *sg.Config) { c.Quota.Backend = sg.BackendPostgres }, "database_url is required"},
		{"project postgres without url", func(c *sg.Config) { c.Projects.Backend = sg.BackendPostgres }, "database_url is required"},
		{"bad policy", func(c *sg.Config) { c.Generation.Policy = "cheapest" }, "invalid generation.policy"},
		{"no providers", func(c *sg.Config) { c.Providers = nil }, "at least one provider"},
		{"duplicate provider", func(c *sg.Config) { c.Providers = append(c.Providers, c.Providers[0]) }, "duplicate"},
		{"missing model", func(c *sg.Config) { c.Providers[0].Model = "" }, "model is required"},
		{"openai without base url", func(c *sg.Config) {
			c.Providers = append(c.Providers, sg.ProviderConfig{Name: "openai", Type: sg.ProviderOpenAI, Model: "gpt"})
		}, "base_url is required"},
		{"unknown type", func(c *sg.Config) { c.Providers[0].Type = "bard" }, "invalid type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
