package config

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, ProviderGemini, cfg.AI.Provider)
	assert.Equal(t, "gemini-2.5-flash", cfg.AI.ModelName())
	assert.Equal(t, 30*time.Second, cfg.AI.Timeout)
	assert.Equal(t, 2, cfg.RateLimit.MaxConcurrent)
	assert.Equal(t, time.Second, cfg.RateLimit.MinInterval)
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 8*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 10, cfg.Chat.HistoryWindow)
	assert.Equal(t, 8000, cfg.Chat.MaxMessageLength)
	assert.NotEmpty(t, cfg.Chat.FallbackReply)
	assert.Equal(t, StoreMemory, cfg.Store.Driver)
	assert.Equal(t, AuthJWT, cfg.Auth.Mode)
	assert.False(t, cfg.AI.Enabled())
	assert.Nil(t, cfg.AI.Temperature)
}

func TestLoadPortForms(t *testing.T) {
	cases := map[string]string{
		"9000":           ":9000",
		":9001":          ":9001",
		"127.0.0.1:9002": "127.0.0.1:9002",
	}
	for in, want := range cases {
		t.Run(in, func(t *testing.T) {
			setBaseEnv(t)
			t.Setenv("PORT", in)

			cfg, err := Load()
			require.NoError(t, err)
			assert.Equal(t, want, cfg.Server.Addr)
		})
	}
}

func TestLoadRejectsPortWithSpace(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PORT", "80 80")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadMergesFrontendOrigin(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("FRONTEND_URL", "https://app.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example", "https://app.example"}, cfg.Server.AllowedOrigins)
}

func TestLoadArkSampling(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("AI_PROVIDER", "ark")
	t.Setenv("ARK_API_KEY", "key")
	t.Setenv("ARK_MODEL", "doubao")
	t.Setenv("ARK_TEMPERATURE", "0.7")
	t.Setenv("ARK_MAX_TOKENS", "512")

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg.AI.Temperature)
	require.NotNil(t, cfg.AI.MaxTokens)
	assert.InDelta(t, 0.7, *cfg.AI.Temperature, 1e-9)
	assert.Equal(t, 512, *cfg.AI.MaxTokens)
	assert.Nil(t, cfg.AI.TopP)
	assert.True(t, cfg.AI.Enabled())
	assert.Equal(t, "doubao", cfg.AI.ModelName())
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing jwt secret", map[string]string{"JWT_SECRET": ""}},
		{"unknown provider", map[string]string{"AI_PROVIDER": "openai"}},
		{"unknown store", map[string]string{"STORE_DRIVER": "mongo"}},
		{"postgres without url", map[string]string{"STORE_DRIVER": "postgres"}},
		{"firebase without credentials", map[string]string{"AUTH_MODE": "firebase"}},
		{"zero concurrency", map[string]string{"RATE_MAX_CONCURRENT": "0"}},
		{"zero attempts", map[string]string{"RETRY_MAX_ATTEMPTS": "0"}},
		{"max delay below base", map[string]string{"RETRY_BASE_DELAY": "5s", "RETRY_MAX_DELAY": "1s"}},
		{"bad temperature", map[string]string{"ARK_TEMPERATURE": "hot"}},
		{"bad duration", map[string]string{"AI_TIMEOUT": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, LogConfig{Level: "debug"}.SlogLevel())
	assert.Equal(t, slog.LevelWarn, LogConfig{Level: "WARNING"}.SlogLevel())
	assert.Equal(t, slog.LevelError, LogConfig{Level: "error"}.SlogLevel())
	assert.Equal(t, slog.LevelInfo, LogConfig{Level: "nonsense"}.SlogLevel())
}

func TestSetupLoggerWithWritersFansOut(t *testing.T) {
	var console, file bytes.Buffer
	logger := SetupLoggerWithWriters(&console, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("hello", "session_id", "s1")

	assert.Contains(t, console.String(), "hello")
	assert.Contains(t, console.String(), "session_id=s1")
	assert.Contains(t, file.String(), `"msg":"hello"`)
	assert.NotContains(t, file.String(), "hidden")
}

func TestSetupLoggerWritesFile(t *testing.T) {
	path := t.TempDir() + "/app.log"
	logger, cleanup := SetupLogger(LogConfig{Level: "info", File: path})
	logger.Info("persisted")
	require.NoError(t, cleanup())
}
