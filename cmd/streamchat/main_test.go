package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StreamChat/internal/config"
	"StreamChat/internal/history"
	"StreamChat/internal/session"
)

// isolate points every setting at a temp dir and blanks credentials.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, env := range []string{
		config.EnvEndpoint, config.EnvModelName, config.EnvAPIKey, "AZURE_API_TYPE",
		"CHAT_STREAM", "CHAT_HISTORY_BACKEND", "CHAT_ESTIMATOR", "CHAT_SYSTEM_PROMPT", "CHAT_DEBUG",
	} {
		t.Setenv(env, "")
	}
	t.Setenv("HOME", dir)
	t.Setenv("CHAT_LOG_DIR", filepath.Join(dir, "logs"))
	t.Setenv("CHAT_HISTORY_FILE", filepath.Join(dir, "history.json"))
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--env-file", ""}, args...))
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		resetFlags(rootCmd.PersistentFlags())
		resetFlags(historyCmd.Flags())
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// resetFlags undoes parsed values; cobra keeps them between executions.
func resetFlags(flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})
}

func seedHistory(t *testing.T, path string, n int) {
	t.Helper()
	store, err := history.NewFileStore(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 1; i <= n; i++ {
		require.NoError(t, store.Save(context.Background(), session.HistoryEntry{
			SessionID: fmt.Sprintf("s%02d", i),
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			Messages: []session.Message{
				{Role: session.RoleSystem, Content: "You are a helpful assistant."},
				{Role: session.RoleUser, Content: fmt.Sprintf("question %d", i)},
				{Role: session.RoleAssistant, Content: fmt.Sprintf("answer %d", i)},
			},
		}))
	}
}

func TestVersionCommand(t *testing.T) {
	isolate(t)
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "streamchat v1.0.0\n", out)
}

func TestChat_MissingConfigurationFailsBeforeNetwork(t *testing.T) {
	isolate(t)
	_, err := execute(t)

	var cfgErr *config.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, []string{config.EnvEndpoint, config.EnvModelName, config.EnvAPIKey}, cfgErr.Missing)
}

func TestHistoryCommands_WorkWithoutCredentials(t *testing.T) {
	dir := isolate(t)
	seedHistory(t, filepath.Join(dir, "history.json"), 5)

	out, err := execute(t, "history", "--page", "2", "--page-size", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Session history (page 2/3)")
	assert.Contains(t, out, "3. [2025-03-01 09:03:00] question 3")
	assert.Contains(t, out, "4. [2025-03-01 09:02:00] question 2")

	out, err = execute(t, "show", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "===== Session 1 (2025-03-01 09:05:00) =====")
	assert.Contains(t, out, "Assistant: answer 5")

	out, err = execute(t, "search", "QUESTION", "4")
	require.NoError(t, err)
	assert.Contains(t, out, "Found 1 sessions containing 'QUESTION 4':")

	_, err = execute(t, "show", "42")
	assert.ErrorIs(t, err, history.ErrNotFound)

	_, err = execute(t, "show", "first")
	assert.Error(t, err)

	_, err = execute(t, "history", "--page", "0", "--page-size", "5")
	assert.ErrorIs(t, err, history.ErrInvalidPage)
}

func TestHistoryCommands_FlagSelectsStore(t *testing.T) {
	dir := isolate(t)
	other := filepath.Join(dir, "other.json")
	seedHistory(t, other, 1)

	out, err := execute(t, "--history-file", other, "history", "--page", "1", "--page-size", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "1. [2025-03-01 09:01:00] question 1")
}

func TestChatApp_EndToEnd(t *testing.T) {
	dir := isolate(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range []string{
			`{"id":"1","choices":[{"index":0,"delta":{"role":"assistant","content":"Bon"}}]}`,
			`{"id":"1","choices":[{"index":0,"delta":{"content":"jour"}}]}`,
			`{"id":"1","choices":[],"usage":{"prompt_tokens":15,"completion_tokens":2,"total_tokens":17}}`,
		} {
			fmt.Fprintf(w, "data: %s\n\n", line)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	t.Setenv(config.EnvEndpoint, srv.URL)
	t.Setenv(config.EnvModelName, "DeepSeek-V3")
	t.Setenv(config.EnvAPIKey, "test-key")

	app, err := newChatApp(context.Background(), "", nil)
	require.NoError(t, err)
	defer app.Close()

	var out bytes.Buffer
	require.NoError(t, app.Run(context.Background(), strings.NewReader("Say hello in French\nexit\n"), &out))

	assert.Contains(t, out.String(), "Assistant: Bonjour")
	assert.Contains(t, out.String(), "Prompt tokens: 15")

	store, err := history.NewFileStore(filepath.Join(dir, "history.json"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	entries, err := store.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "DeepSeek-V3", entries[0].Model)
	assert.Equal(t, "Bonjour", entries[0].Messages[2].Content)
	assert.Equal(t, 17, entries[0].Stats.TotalTokens())
}

func TestChatApp_SQLiteAndTiktoken(t *testing.T) {
	dir := isolate(t)
	t.Setenv(config.EnvEndpoint, "http://127.0.0.1:1")
	t.Setenv(config.EnvModelName, "m")
	t.Setenv(config.EnvAPIKey, "k")
	t.Setenv("CHAT_HISTORY_BACKEND", "sqlite")
	t.Setenv("CHAT_ESTIMATOR", "tiktoken")
	t.Setenv("CHAT_STREAM", "false")

	app, err := newChatApp(context.Background(), "", nil)
	require.NoError(t, err)
	defer app.Close()

	assert.Equal(t, filepath.Join(dir, "history.db"), app.cfg.HistoryPath())
	assert.False(t, app.cfg.Stream)
	n, err := app.history.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
