package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	HistoryBackendFile   = "file"
	HistoryBackendSQLite = "sqlite"

	EstimatorRatio    = "ratio"
	EstimatorTiktoken = "tiktoken"

	APITypeOpenAI = "openai"
	APITypeAzure  = "azure"
)

// Environment variables for the three required settings
const (
	EnvEndpoint  = "AZURE_ENDPOINT"
	EnvModelName = "AZURE_MODEL_NAME"
	EnvAPIKey    = "AZURE_API_KEY"
)

const (
	DefaultSystemPrompt = "You are a helpful assistant."
	DefaultHistoryName  = ".streamchat_history.json"
)

// Config holds application configuration
type Config struct {
	Endpoint  string
	ModelName string
	APIKey    string
	APIType   string // openai or azure

	Stream       bool
	SystemPrompt string
	Temperature  float32
	TopP         float32
	MaxTokens    int

	HistoryBackend string
	HistoryFile    string

	Estimator     string
	CharsPerToken int

	LogDir string
	Debug  bool
}

// ConfigError reports missing or invalid configuration. It is fatal at startup.
type ConfigError struct {
	Missing []string
	Reason  string
}

func (e *ConfigError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("missing required configuration: %s (set them in the environment or a .env file)", strings.Join(e.Missing, ", "))
	}
	return "invalid configuration: " + e.Reason
}

// bindings maps viper keys to environment variables
var bindings = map[string]string{
	"endpoint":        EnvEndpoint,
	"model_name":      EnvModelName,
	"api_key":         EnvAPIKey,
	"api_type":        "AZURE_API_TYPE",
	"stream":          "CHAT_STREAM",
	"system_prompt":   "CHAT_SYSTEM_PROMPT",
	"temperature":     "CHAT_TEMPERATURE",
	"top_p":           "CHAT_TOP_P",
	"max_tokens":      "CHAT_MAX_TOKENS",
	"history_backend": "CHAT_HISTORY_BACKEND",
	"history_file":    "CHAT_HISTORY_FILE",
	"estimator":       "CHAT_ESTIMATOR",
	"chars_per_token": "CHAT_CHARS_PER_TOKEN",
	"log_dir":         "CHAT_LOG_DIR",
	"debug":           "CHAT_DEBUG",
}

// flagKeys maps command-line flags to viper keys. A flag overrides the
// environment only when it is set explicitly.
var flagKeys = map[string]string{
	"history-file":    "history_file",
	"history-backend": "history_backend",
	"debug":           "debug",
}

// Load reads configuration like Read and validates all of it. Commands that
// talk to the model use Load.
func Load(envFile string, flags *pflag.FlagSet) (Config, error) {
	cfg, err := Read(envFile, flags)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read resolves configuration from flags, the process environment and the
// values in envFile, in that order of precedence, without validating it.
// A missing envFile is not an error.
func Read(envFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()

	v.SetDefault("api_type", APITypeOpenAI)
	v.SetDefault("stream", true)
	v.SetDefault("system_prompt", DefaultSystemPrompt)
	v.SetDefault("temperature", 0.7)
	v.SetDefault("top_p", 0.95)
	v.SetDefault("max_tokens", 32768)
	v.SetDefault("history_backend", HistoryBackendFile)
	v.SetDefault("estimator", EstimatorRatio)
	v.SetDefault("chars_per_token", 4)
	v.SetDefault("log_dir", "logs")

	if envFile != "" {
		values, err := godotenv.Read(envFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to read env file %s: %w", envFile, err)
		}
		for key, env := range bindings {
			if val, ok := values[env]; ok {
				v.SetDefault(key, val)
			}
		}
	}

	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return Config{}, fmt.Errorf("failed to bind flag --%s: %w", name, err)
			}
		}
	}

	cfg := Config{
		Endpoint:       strings.TrimSpace(v.GetString("endpoint")),
		ModelName:      strings.TrimSpace(v.GetString("model_name")),
		APIKey:         strings.TrimSpace(v.GetString("api_key")),
		APIType:        strings.ToLower(v.GetString("api_type")),
		Stream:         v.GetBool("stream"),
		SystemPrompt:   v.GetString("system_prompt"),
		Temperature:    float32(v.GetFloat64("temperature")),
		TopP:           float32(v.GetFloat64("top_p")),
		MaxTokens:      v.GetInt("max_tokens"),
		HistoryBackend: strings.ToLower(v.GetString("history_backend")),
		HistoryFile:    v.GetString("history_file"),
		Estimator:      strings.ToLower(v.GetString("estimator")),
		CharsPerToken:  v.GetInt("chars_per_token"),
		LogDir:         v.GetString("log_dir"),
		Debug:          v.GetBool("debug"),
	}

	if cfg.HistoryFile == "" {
		path, err := DefaultHistoryFile()
		if err != nil {
			return Config{}, err
		}
		cfg.HistoryFile = path
	}
	return cfg, nil
}

// Validate checks that the required values are present and the optional ones are sane.
func (c Config) Validate() error {
	var missing []string
	if c.Endpoint == "" {
		missing = append(missing, EnvEndpoint)
	}
	if c.ModelName == "" {
		missing = append(missing, EnvModelName)
	}
	if c.APIKey == "" {
		missing = append(missing, EnvAPIKey)
	}
	if len(missing) > 0 {
		return &ConfigError{Missing: missing}
	}

	switch c.APIType {
	case APITypeOpenAI, APITypeAzure:
	default:
		return &ConfigError{Reason: fmt.Sprintf("unknown api type %q (openai|azure)", c.APIType)}
	}
	switch c.Estimator {
	case EstimatorRatio, EstimatorTiktoken:
	default:
		return &ConfigError{Reason: fmt.Sprintf("unknown token estimator %q (ratio|tiktoken)", c.Estimator)}
	}
	if c.CharsPerToken < 1 {
		return &ConfigError{Reason: fmt.Sprintf("chars per token must be positive, got %d", c.CharsPerToken)}
	}
	return c.ValidateHistory()
}

// ValidateHistory checks only the history settings. The history commands
// work without credentials.
func (c Config) ValidateHistory() error {
	switch c.HistoryBackend {
	case HistoryBackendFile, HistoryBackendSQLite:
	default:
		return &ConfigError{Reason: fmt.Sprintf("unknown history backend %q (file|sqlite)", c.HistoryBackend)}
	}
	if c.HistoryFile == "" {
		return &ConfigError{Reason: "history file path is empty"}
	}
	return nil
}

// HistoryPath returns the store location for the configured backend. The
// SQLite backend keeps the file name but swaps a .json extension for .db.
func (c Config) HistoryPath() string {
	if c.HistoryBackend == HistoryBackendSQLite && strings.EqualFold(filepath.Ext(c.HistoryFile), ".json") {
		return strings.TrimSuffix(c.HistoryFile, filepath.Ext(c.HistoryFile)) + ".db"
	}
	return c.HistoryFile
}

// DefaultHistoryFile returns the history location under the user's home directory.
func DefaultHistoryFile() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, DefaultHistoryName), nil
}
