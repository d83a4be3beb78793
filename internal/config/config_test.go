package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load looks at so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range bindings {
		t.Setenv(env, "")
	}
	t.Setenv("HOME", t.TempDir())
}

func TestLoad_FromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvEndpoint, "https://example.test/v1")
	t.Setenv(EnvModelName, "DeepSeek-R1")
	t.Setenv(EnvAPIKey, "secret")

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "https://example.test/v1", cfg.Endpoint)
	assert.Equal(t, "DeepSeek-R1", cfg.ModelName)
	assert.Equal(t, "secret", cfg.APIKey)
	assert.Equal(t, APITypeOpenAI, cfg.APIType)
	assert.True(t, cfg.Stream)
	assert.Equal(t, DefaultSystemPrompt, cfg.SystemPrompt)
	assert.InDelta(t, 0.7, cfg.Temperature, 1e-6)
	assert.InDelta(t, 0.95, cfg.TopP, 1e-6)
	assert.Equal(t, 32768, cfg.MaxTokens)
	assert.Equal(t, HistoryBackendFile, cfg.HistoryBackend)
	assert.Equal(t, EstimatorRatio, cfg.Estimator)
	assert.Equal(t, 4, cfg.CharsPerToken)
	assert.Equal(t, DefaultHistoryName, filepath.Base(cfg.HistoryFile))
}

func TestLoad_MissingValuesReportsAll(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvModelName, "gpt-4o")

	_, err := Load("", nil)
	require.Error(t, err)

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, []string{EnvEndpoint, EnvAPIKey}, cfgErr.Missing)
	assert.Contains(t, err.Error(), EnvEndpoint)
	assert.Contains(t, err.Error(), EnvAPIKey)
}

func TestLoad_EnvFileFillsGaps(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "AZURE_ENDPOINT=https://from-file.test\nAZURE_MODEL_NAME=file-model\nAZURE_API_KEY=file-key\nCHAT_HISTORY_BACKEND=sqlite\nCHAT_STREAM=false\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0600))

	// the process environment wins over the file
	t.Setenv(EnvModelName, "env-model")

	cfg, err := Load(envFile, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://from-file.test", cfg.Endpoint)
	assert.Equal(t, "env-model", cfg.ModelName)
	assert.Equal(t, "file-key", cfg.APIKey)
	assert.Equal(t, HistoryBackendSQLite, cfg.HistoryBackend)
	assert.False(t, cfg.Stream)
}

func TestLoad_MissingEnvFileIsNotAnError(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvEndpoint, "https://example.test")
	t.Setenv(EnvModelName, "m")
	t.Setenv(EnvAPIKey, "k")

	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.env"), nil)
	assert.NoError(t, err)
}

func TestValidate_RejectsUnknownOptions(t *testing.T) {
	base := Config{
		Endpoint:       "https://example.test",
		ModelName:      "m",
		APIKey:         "k",
		APIType:        APITypeOpenAI,
		HistoryBackend: HistoryBackendFile,
		HistoryFile:    "/tmp/h.json",
		Estimator:      EstimatorRatio,
		CharsPerToken:  4,
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"api type", func(c *Config) { c.APIType = "bedrock" }},
		{"history backend", func(c *Config) { c.HistoryBackend = "redis" }},
		{"estimator", func(c *Config) { c.Estimator = "magic" }},
		{"chars per token", func(c *Config) { c.CharsPerToken = 0 }},
		{"history file", func(c *Config) { c.HistoryFile = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			var cfgErr *ConfigError
			assert.ErrorAs(t, cfg.Validate(), &cfgErr)
		})
	}
}

func TestRead_WithoutCredentialsForHistoryCommands(t *testing.T) {
	clearEnv(t)

	cfg, err := Read("", nil)
	require.NoError(t, err)
	assert.NoError(t, cfg.ValidateHistory())

	var cfgErr *ConfigError
	assert.ErrorAs(t, cfg.Validate(), &cfgErr)
}

func TestRead_FlagsOverrideEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHAT_HISTORY_FILE", "/env/history.json")
	t.Setenv("CHAT_HISTORY_BACKEND", "file")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("history-file", "", "")
	flags.String("history-backend", "", "")
	flags.Bool("debug", false, "")
	require.NoError(t, flags.Parse([]string{"--history-backend=sqlite", "--debug"}))

	cfg, err := Read("", flags)
	require.NoError(t, err)
	assert.Equal(t, "/env/history.json", cfg.HistoryFile, "unset flag must not mask the environment")
	assert.Equal(t, HistoryBackendSQLite, cfg.HistoryBackend)
	assert.True(t, cfg.Debug)
}

func TestHistoryPath(t *testing.T) {
	tests := []struct {
		backend, file, want string
	}{
		{HistoryBackendFile, "/home/u/.streamchat_history.json", "/home/u/.streamchat_history.json"},
		{HistoryBackendSQLite, "/home/u/.streamchat_history.json", "/home/u/.streamchat_history.db"},
		{HistoryBackendSQLite, "/data/chats.sqlite", "/data/chats.sqlite"},
	}
	for _, tt := range tests {
		cfg := Config{HistoryBackend: tt.backend, HistoryFile: tt.file}
		assert.Equal(t, tt.want, cfg.HistoryPath())
	}
}
