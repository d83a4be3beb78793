package chatbot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"StreamChat/internal/chat"
	"StreamChat/internal/history"
	"StreamChat/internal/render"
)

// DefaultPageSize is the number of sessions per page in the history browser.
const DefaultPageSize = 5

var errInterrupted = errors.New("interrupted")

// exitCommands end the chat. Matching is case-insensitive.
var exitCommands = map[string]bool{
	"exit":  true,
	"quit":  true,
	"q":     true,
	"退出":    true,
	"/exit": true,
	"/quit": true,
}

// Options configures the interactive loop
type Options struct {
	Session *chat.Session
	History *history.History
	Printer *render.Printer
	Logger  *slog.Logger

	// Input supplies user lines, normally os.Stdin.
	Input io.Reader
	// Interrupts delivers Ctrl-C. During a turn it cancels the turn; at the
	// prompt it ends the chat. Nil disables interrupt handling.
	Interrupts <-chan os.Signal

	Model     string
	Streaming bool
	PageSize  int
}

// ChatBot represents the interactive chat loop
type ChatBot struct {
	session    *chat.Session
	history    *history.History
	printer    *render.Printer
	logger     *slog.Logger
	input      io.Reader
	interrupts <-chan os.Signal
	model      string
	streaming  bool
	pageSize   int

	lines   chan string
	readErr error
}

// NewChatBot creates a new ChatBot instance
func NewChatBot(opts Options) *ChatBot {
	if opts.PageSize < 1 {
		opts.PageSize = DefaultPageSize
	}
	return &ChatBot{
		session:    opts.Session,
		history:    opts.History,
		printer:    opts.Printer,
		logger:     opts.Logger,
		input:      opts.Input,
		interrupts: opts.Interrupts,
		model:      opts.Model,
		streaming:  opts.Streaming,
		pageSize:   opts.PageSize,
	}
}

// startReader scans input on its own goroutine so the loop can wait for a
// line and an interrupt at the same time.
func (cb *ChatBot) startReader(done <-chan struct{}) {
	cb.lines = make(chan string)
	go func() {
		defer close(cb.lines)
		scanner := bufio.NewScanner(cb.input)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case cb.lines <- scanner.Text():
			case <-done:
				return
			}
		}
		cb.readErr = scanner.Err()
	}()
}

// readLine waits for the next input line. It returns io.EOF when input is
// exhausted and errInterrupted on Ctrl-C.
func (cb *ChatBot) readLine(ctx context.Context) (string, error) {
	select {
	case line, ok := <-cb.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	case <-cb.interrupts:
		return "", errInterrupted
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Run starts the chat loop and returns when the user exits, input ends or
// ctx is canceled. The session is closed and saved on every path.
func (cb *ChatBot) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	cb.startReader(done)

	cb.printer.Welcome(cb.session.ID(), cb.model, cb.streaming)

	var (
		runErr error
		eof    bool
	)
loop:
	for {
		cb.printer.Prompt()
		line, err := cb.readLine(ctx)
		switch {
		case errors.Is(err, io.EOF):
			cb.printer.Infof("")
			eof = true
			break loop
		case errors.Is(err, errInterrupted):
			cb.printer.Infof("")
			cb.logger.Info("interrupted at prompt, exiting")
			break loop
		case err != nil:
			runErr = err
			break loop
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		quit, err := cb.handleCommand(ctx, input)
		if errors.Is(err, io.EOF) {
			eof = true
			break loop
		}
		if err != nil {
			cb.printer.Errorf("Error: %v", err)
			cb.logger.Error("command error", "error", err)
		}
		if quit {
			break loop
		}
	}

	cb.shutdown(context.WithoutCancel(ctx))

	// readErr is only safe to read once the reader has closed lines
	if eof && cb.readErr != nil {
		runErr = fmt.Errorf("failed to read input: %w", cb.readErr)
	}
	return runErr
}

// handleCommand handles in-chat commands and sends anything else to the
// model. It reports whether the chat should end.
func (cb *ChatBot) handleCommand(ctx context.Context, input string) (bool, error) {
	lower := strings.ToLower(input)
	if exitCommands[lower] {
		return true, nil
	}

	switch {
	case lower == "history":
		return false, cb.browseHistory(ctx)

	case lower == "search" || strings.HasPrefix(lower, "search "):
		keyword := strings.TrimSpace(input[len("search"):])
		if keyword == "" {
			cb.printer.Infof("Please provide a search keyword.")
			return false, nil
		}
		return false, cb.searchHistory(ctx, keyword)

	case lower == "/help":
		cb.printer.Help()
		return false, nil

	case lower == "/stats":
		cb.printer.FinalStats(cb.session.Stats())
		return false, nil

	case strings.HasPrefix(input, "/"):
		cb.printer.Infof("Unknown command: %s (type /help for commands)", strings.Fields(input)[0])
		return false, nil
	}

	cb.sendMessage(ctx, input)
	return false, nil
}

// sendMessage runs one turn. Ctrl-C while it streams cancels only this turn.
func (cb *ChatBot) sendMessage(ctx context.Context, input string) {
	turnCtx, cancel := context.WithCancel(ctx)
	stop := make(chan struct{})
	go func() {
		select {
		case <-cb.interrupts:
			cancel()
		case <-stop:
		}
	}()
	defer func() {
		close(stop)
		cancel()
	}()

	cb.printer.AssistantPrefix()
	resp, err := cb.session.Submit(turnCtx, input, cb.printer.Delta)
	if err != nil {
		cb.printer.TurnFailed(err)
		return
	}
	cb.printer.TurnStats(resp, cb.session.Stats())
}

// browseHistory runs the interactive pager: a number opens a session, n and
// p change page, q returns to the chat.
func (cb *ChatBot) browseHistory(ctx context.Context) error {
	page := 1
	for {
		p, err := cb.history.Browse(ctx, page, cb.pageSize)
		if err != nil {
			return fmt.Errorf("failed to browse history: %w", err)
		}
		cb.printer.HistoryPage(p)
		if p.Total == 0 {
			return nil
		}
		cb.printer.PagerHelp()

		choice, err := cb.readLine(ctx)
		if errors.Is(err, errInterrupted) {
			return nil
		}
		if err != nil {
			return err
		}

		switch c := strings.ToLower(strings.TrimSpace(choice)); c {
		case "q":
			return nil
		case "n":
			if page < p.TotalPages {
				page++
			} else {
				cb.printer.Infof("Already on the last page.")
			}
		case "p":
			if page > 1 {
				page--
			} else {
				cb.printer.Infof("Already on the first page.")
			}
		default:
			if err := cb.showSession(ctx, c); err != nil {
				return err
			}
		}
	}
}

// searchHistory lists the sessions containing keyword and optionally opens one.
func (cb *ChatBot) searchHistory(ctx context.Context, keyword string) error {
	hits, err := cb.history.Search(ctx, keyword)
	if err != nil {
		return fmt.Errorf("failed to search history: %w", err)
	}
	cb.printer.SearchResults(keyword, hits)
	if len(hits) == 0 {
		return nil
	}
	cb.printer.Infof("Enter a session number to view it, or press Enter to return.")

	choice, err := cb.readLine(ctx)
	if errors.Is(err, errInterrupted) {
		return nil
	}
	if err != nil {
		return err
	}
	choice = strings.TrimSpace(choice)
	if choice == "" {
		return nil
	}
	return cb.showSession(ctx, choice)
}

func (cb *ChatBot) showSession(ctx context.Context, choice string) error {
	n, err := strconv.Atoi(choice)
	if err != nil {
		cb.printer.Infof("Invalid input.")
		return nil
	}
	e, err := cb.history.Get(ctx, n)
	if errors.Is(err, history.ErrNotFound) {
		cb.printer.Infof("Invalid session number.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load session %d: %w", n, err)
	}
	cb.printer.SessionDetail(n, e)
	return nil
}

// shutdown closes the session, prints the final statistics and reports a
// failed save without blocking the exit.
func (cb *ChatBot) shutdown(ctx context.Context) {
	saved, err := cb.session.Close(ctx)
	cb.printer.FinalStats(cb.session.Stats())
	switch {
	case err != nil:
		cb.printer.Errorf("Could not save this session to history: %v", err)
		cb.logger.Error("failed to save session on exit", "session_id", cb.session.ID(), "error", err)
	case saved:
		cb.logger.Info("session saved", "session_id", cb.session.ID())
	}
	cb.printer.Goodbye()
}
