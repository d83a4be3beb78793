// Package main provides the StreamChat CLI: an interactive client for a
// streaming chat completions endpoint with a searchable local history.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"StreamChat/internal/chatbot"
	"StreamChat/internal/render"
	"StreamChat/internal/telemetry"
)

var (
	envFile  string
	page     int
	pageSize int
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "streamchat",
	Short: "StreamChat - streaming LLM chat client",
	Long: `StreamChat sends your messages to an OpenAI-compatible chat endpoint, prints
replies as they stream in with per-turn token and speed statistics, and saves
each session to a local history you can browse and search.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runChat,
}

// historyCmd lists saved sessions page by page
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List saved sessions, most recent first",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

// showCmd prints one saved session
var showCmd = &cobra.Command{
	Use:   "show <n>",
	Short: "Show the n-th most recent session",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

// searchCmd finds sessions containing a keyword
var searchCmd = &cobra.Command{
	Use:   "search <keyword>",
	Short: "Search saved sessions (case-insensitive)",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s v%s\n", telemetry.ServiceName, telemetry.ServiceVersion)
	},
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "File with fallback environment variables")
	rootCmd.PersistentFlags().String("history-file", "", "History store location [default: ~/.streamchat_history.json]")
	rootCmd.PersistentFlags().String("history-backend", "", "History backend (file|sqlite) [default: file]")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	historyCmd.Flags().IntVar(&page, "page", 1, "Page to show")
	historyCmd.Flags().IntVar(&pageSize, "page-size", chatbot.DefaultPageSize, "Sessions per page")

	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(versionCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	app, err := newChatApp(cmd.Context(), envFile, cmd.Flags())
	if err != nil {
		return err
	}
	defer app.Close()

	return app.Run(cmd.Context(), os.Stdin, cmd.OutOrStdout())
}

func runHistory(cmd *cobra.Command, _ []string) error {
	h, closeFn, err := openHistoryOnly(envFile, cmd.Flags())
	if err != nil {
		return err
	}
	defer closeFn()

	p, err := h.Browse(cmd.Context(), page, pageSize)
	if err != nil {
		return fmt.Errorf("failed to browse history: %w", err)
	}
	render.NewPrinter(cmd.OutOrStdout()).HistoryPage(p)
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid session number %q", args[0])
	}

	h, closeFn, err := openHistoryOnly(envFile, cmd.Flags())
	if err != nil {
		return err
	}
	defer closeFn()

	e, err := h.Get(cmd.Context(), n)
	if err != nil {
		return fmt.Errorf("failed to load session %d: %w", n, err)
	}
	render.NewPrinter(cmd.OutOrStdout()).SessionDetail(n, e)
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	keyword := strings.Join(args, " ")

	h, closeFn, err := openHistoryOnly(envFile, cmd.Flags())
	if err != nil {
		return err
	}
	defer closeFn()

	hits, err := h.Search(cmd.Context(), keyword)
	if err != nil {
		return fmt.Errorf("failed to search history: %w", err)
	}
	render.NewPrinter(cmd.OutOrStdout()).SearchResults(keyword, hits)
	return nil
}
