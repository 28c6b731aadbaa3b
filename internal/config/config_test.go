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
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.InDelta(t, 50, cfg.Server.RequestsPerSecond, 1e-9)
	assert.Equal(t, 100, cfg.Server.Burst)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "mental_health_bot.db", cfg.Store.DSN)
	assert.Equal(t, 10, cfg.Session.MaxTurns)
	assert.Equal(t, 0, cfg.Session.MaxTokens)
	assert.Equal(t, 1024, cfg.Session.MaxSessions)
	assert.Equal(t, 60*time.Second, cfg.AI.ReplyTimeout)
	require.NotNil(t, cfg.AI.Temperature)
	assert.InDelta(t, 0.7, *cfg.AI.Temperature, 1e-9)
	assert.Nil(t, cfg.AI.TopP)
	assert.Nil(t, cfg.AI.MaxTokens)
	assert.Equal(t, 5, cfg.Breaker.MaxFailures)
	assert.Equal(t, 10*time.Second, cfg.Mood.Timeout)
	assert.Equal(t, 3, cfg.Telegram.SendRetries)
	assert.False(t, cfg.Mood.InferenceEnabled)
	assert.InDelta(t, 0.6, cfg.Mood.MinConfidence, 1e-9)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("STORE_DSN", "postgres://localhost/mindfriend")
	t.Setenv("SESSION_MAX_TURNS", "4")
	t.Setenv("SESSION_MAX_TOKENS", "500")
	t.Setenv("REPLY_TIMEOUT", "15s")
	t.Setenv("ARK_TOP_P", "0.9")
	t.Setenv("ARK_MAX_TOKENS", "256")
	t.Setenv("ARK_MODEL", "doubao")
	t.Setenv("ARK_API_KEY", "key")
	t.Setenv("MOOD_INFERENCE_ENABLED", "true")
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, 4, cfg.Session.MaxTurns)
	assert.Equal(t, 500, cfg.Session.MaxTokens)
	assert.Equal(t, 15*time.Second, cfg.AI.ReplyTimeout)
	require.NotNil(t, cfg.AI.TopP)
	assert.InDelta(t, 0.9, *cfg.AI.TopP, 1e-9)
	require.NotNil(t, cfg.AI.MaxTokens)
	assert.Equal(t, 256, *cfg.AI.MaxTokens)
	assert.True(t, cfg.AI.Enabled())
	assert.True(t, cfg.Mood.InferenceEnabled)
	assert.True(t, cfg.Telegram.Enabled())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "store:\n  driver: memory\nsession:\n  max_turns: 6\nlog:\n  format: json\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SESSION_MAX_TURNS", "8")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, "json", cfg.Log.Format)
	// Environment wins over the file.
	assert.Equal(t, 8, cfg.Session.MaxTurns)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"bad int":        {"SESSION_MAX_TURNS": "ten"},
		"zero turns":     {"SESSION_MAX_TURNS": "0"},
		"bad driver":     {"STORE_DRIVER": "mongo"},
		"bad duration":   {"REPLY_TIMEOUT": "soon"},
		"bad bool":       {"MOOD_INFERENCE_ENABLED": "perhaps"},
		"confidence > 1": {"MOOD_MIN_CONFIDENCE": "1.5"},
		"port space":     {"PORT": "80 80"},
		"port word":      {"PORT": "http"},
		"bad format":     {"LOG_FORMAT": "xml"},
		"negative rps":   {"HTTP_RATE_LIMIT": "-1"},
		"zero failures":  {"BREAKER_MAX_FAILURES": "0"},
		"neg failures":   {"BREAKER_MAX_FAILURES": "-3"},
		"zero mood wait": {"MOOD_TIMEOUT": "0s"},
	}

	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("CONFIG_FILE", "")
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestAIConfigEnabled(t *testing.T) {
	assert.False(t, AIConfig{}.Enabled())
	assert.False(t, AIConfig{APIKey: "k"}.Enabled())
	assert.True(t, AIConfig{Model: "m", APIKey: "k"}.Enabled())
	assert.True(t, AIConfig{Model: "m", AccessKey: "a", SecretKey: "s"}.Enabled())
	assert.False(t, AIConfig{Model: "m", AccessKey: "a"}.Enabled())
}
