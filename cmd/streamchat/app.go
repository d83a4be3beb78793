package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/pflag"

	"StreamChat/internal/backend"
	"StreamChat/internal/chat"
	"StreamChat/internal/chatbot"
	"StreamChat/internal/config"
	"StreamChat/internal/history"
	"StreamChat/internal/render"
	"StreamChat/internal/stream"
	"StreamChat/internal/telemetry"
)

// chatApp holds everything an interactive chat needs
type chatApp struct {
	cfg       config.Config
	logger    *slog.Logger
	transport backend.Transport
	consumer  *stream.Consumer
	history   *history.History
	metrics   *telemetry.TurnMetrics

	closers []func()
}

// newChatApp validates configuration before anything touches the network,
// then wires logging, telemetry, transport, estimator and history.
func newChatApp(ctx context.Context, envFile string, flags *pflag.FlagSet) (*chatApp, error) {
	cfg, err := config.Load(envFile, flags)
	if err != nil {
		return nil, err
	}

	app := &chatApp{cfg: cfg}

	logger, closeLog, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.logger = logger
	app.closers = append(app.closers, func() { _ = closeLog() })

	if cfg.Debug {
		logger.Info("Debug mode enabled")
	}

	tracer, meter, shutdown, err := telemetry.InitTelemetry(ctx, cfg.LogDir)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	app.closers = append(app.closers, shutdown)

	app.metrics, err = telemetry.NewTurnMetrics(meter)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	app.transport = newTransport(cfg, logger)

	estimate, err := newEstimator(cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.consumer = stream.NewConsumer(estimate, tracer, logger)

	app.history, err = openHistory(cfg, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.closers = append(app.closers, func() {
		if err := app.history.Close(); err != nil {
			logger.Error("failed to close history", "error", err)
		}
	})

	logger.Info("starting chat",
		"model", cfg.ModelName,
		"api_type", cfg.APIType,
		"stream", cfg.Stream,
		"history_backend", cfg.HistoryBackend,
		"estimator", cfg.Estimator,
	)
	return app, nil
}

// Run starts a new session and the interactive loop on in and out.
// Ctrl-C is routed to the loop instead of terminating the process.
func (a *chatApp) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	sess := chat.New(chat.Options{
		Transport:    a.transport,
		Consumer:     a.consumer,
		Saver:        a.history,
		Recorder:     a.metrics,
		Logger:       a.logger,
		Model:        a.cfg.ModelName,
		SystemPrompt: a.cfg.SystemPrompt,
		Temperature:  a.cfg.Temperature,
		TopP:         a.cfg.TopP,
		MaxTokens:    a.cfg.MaxTokens,
	})

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	bot := chatbot.NewChatBot(chatbot.Options{
		Session:    sess,
		History:    a.history,
		Printer:    render.NewPrinter(out),
		Logger:     a.logger,
		Input:      in,
		Interrupts: interrupts,
		Model:      a.cfg.ModelName,
		Streaming:  a.cfg.Stream,
	})
	return bot.Run(ctx)
}

// Close releases resources in reverse order of acquisition.
func (a *chatApp) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func newTransport(cfg config.Config, logger *slog.Logger) backend.Transport {
	var t backend.Transport = backend.NewOpenAI(backend.OpenAIConfig{
		Endpoint: cfg.Endpoint,
		APIKey:   cfg.APIKey,
		Azure:    cfg.APIType == config.APITypeAzure,
	}, logger)
	if !cfg.Stream {
		t = backend.NonStreaming{Transport: t}
	}
	return t
}

func newEstimator(cfg config.Config) (stream.Estimator, error) {
	if cfg.Estimator == config.EstimatorTiktoken {
		est, err := stream.TiktokenEstimator()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize token estimator: %w", err)
		}
		return est, nil
	}
	return stream.RatioEstimator(cfg.CharsPerToken), nil
}

func openHistory(cfg config.Config, logger *slog.Logger) (*history.History, error) {
	var (
		store history.Store
		err   error
	)
	switch cfg.HistoryBackend {
	case config.HistoryBackendSQLite:
		store, err = history.NewSQLiteStore(cfg.HistoryPath(), logger)
	default:
		store, err = history.NewFileStore(cfg.HistoryPath(), logger)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	return history.New(store, logger), nil
}

// openHistoryOnly serves the history commands, which need no credentials.
func openHistoryOnly(envFile string, flags *pflag.FlagSet) (*history.History, func(), error) {
	cfg, err := config.Read(envFile, flags)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.ValidateHistory(); err != nil {
		return nil, nil, err
	}

	logger, closeLog, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	h, err := openHistory(cfg, logger)
	if err != nil {
		_ = closeLog()
		return nil, nil, err
	}
	return h, func() {
		if err := h.Close(); err != nil {
			logger.Error("failed to close history", "error", err)
		}
		_ = closeLog()
	}, nil
}
