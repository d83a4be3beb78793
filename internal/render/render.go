// Package render formats everything the user sees on the terminal: streamed
// text, per-turn and session statistics, history pages and session transcripts.
// Styling goes through a lipgloss renderer bound to the output writer, so a
// non-terminal writer receives plain text.
package render

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"

	"StreamChat/internal/history"
	"StreamChat/internal/session"
	"StreamChat/internal/stream"
)

const (
	// TimeFormat is used for session start times in lists and detail views.
	TimeFormat = "2006-01-02 15:04:05"
	// SummaryRunes caps the summary line of a history entry.
	SummaryRunes = 60

	rule = "=================================================="
)

// Styles holds the lipgloss styles for each kind of output
type Styles struct {
	Title     lipgloss.Style
	Label     lipgloss.Style
	Dim       lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
}

// DefaultStyles builds the default theme on r.
func DefaultStyles(r *lipgloss.Renderer) Styles {
	return Styles{
		Title:     r.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#005f87", Dark: "#5fafff"}),
		Label:     r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#585858", Dark: "#a8a8a8"}),
		Dim:       r.NewStyle().Faint(true),
		User:      r.NewStyle().Bold(true).Foreground(lipgloss.Color("#00af5f")),
		Assistant: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#af87ff")),
		Warning:   r.NewStyle().Foreground(lipgloss.Color("#d7af00")),
		Error:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("#d70000")),
	}
}

// Printer writes styled output to w
type Printer struct {
	w      io.Writer
	styles Styles
}

// NewPrinter creates a printer whose color profile is detected from w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, styles: DefaultStyles(lipgloss.NewRenderer(w))}
}

// Writer returns the underlying writer.
func (p *Printer) Writer() io.Writer { return p.w }

func (p *Printer) printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

func (p *Printer) println(s string) {
	fmt.Fprintln(p.w, s)
}

func (p *Printer) field(label string, value string) {
	p.println(p.styles.Label.Render(label+":") + " " + value)
}

// Welcome prints the banner shown when a chat starts.
func (p *Printer) Welcome(sessionID, model string, streaming bool) {
	p.println(p.styles.Title.Render("=== StreamChat ==="))
	p.field("Session", sessionID)
	p.field("Model", model)
	if streaming {
		p.println(p.styles.Dim.Render("Streaming mode: replies appear as they are generated."))
	}
	p.println(p.styles.Dim.Render("Type 'history' to browse past sessions, 'search <keyword>' to search them, /help for commands, 'exit' to quit."))
	p.println("")
}

// Prompt prints the input prompt without a newline.
func (p *Printer) Prompt() {
	p.printf("%s ", p.styles.User.Render("You:"))
}

// AssistantPrefix starts an assistant reply.
func (p *Printer) AssistantPrefix() {
	p.printf("\n%s ", p.styles.Assistant.Render("Assistant:"))
}

// Delta writes streamed text exactly as received.
func (p *Printer) Delta(text string) {
	io.WriteString(p.w, text)
}

func tokens(n int, estimated bool) string {
	if estimated {
		return fmt.Sprintf("%d (estimated)", n)
	}
	return fmt.Sprintf("%d", n)
}

// TurnStats prints the statistics of one turn followed by the running total
// elapsed time. Rates are omitted when they are undefined.
func (p *Printer) TurnStats(resp session.ChatResponse, stats session.SessionStats) {
	p.println("")
	p.println("")
	p.field("Turn time", fmt.Sprintf("%.2fs", resp.ElapsedSeconds))
	p.field("Prompt tokens", tokens(resp.PromptTokens, resp.Estimated))
	p.field("Completion tokens", tokens(resp.CompletionTokens, resp.Estimated))
	p.field("Total tokens", tokens(resp.TotalTokens(), resp.Estimated))
	if rate, ok := resp.CharsPerSecond(); ok {
		p.field("Output rate", fmt.Sprintf("%.2f chars/s", rate))
	}
	if rate, ok := resp.TokensPerSecond(); ok && resp.CompletionTokens > 0 {
		p.field("Token rate", fmt.Sprintf("%.2f tokens/s", rate))
	}
	p.field("Total chars", fmt.Sprintf("%d", resp.TotalChars))
	p.field("Session time", fmt.Sprintf("%.2fs", stats.TotalElapsedSeconds))
	p.println("")
}

// FinalStats prints the cumulative statistics shown on exit.
func (p *Printer) FinalStats(stats session.SessionStats) {
	p.println("")
	p.println(p.styles.Title.Render("Session statistics:"))
	p.field("Turns", fmt.Sprintf("%d", stats.Turns))
	p.field("Total time", fmt.Sprintf("%.2fs", stats.TotalElapsedSeconds))
	p.field("Total prompt tokens", fmt.Sprintf("%d", stats.TotalPromptTokens))
	p.field("Total completion tokens", fmt.Sprintf("%d", stats.TotalCompletionTokens))
	p.field("Total tokens", fmt.Sprintf("%d", stats.TotalTokens()))
	if stats.EstimatedTurns > 0 {
		p.println(p.styles.Dim.Render(fmt.Sprintf("(%d of %d turns used estimated token counts)", stats.EstimatedTurns, stats.Turns)))
	}
}

// Goodbye ends the chat.
func (p *Printer) Goodbye() {
	p.println("Thanks for chatting, goodbye!")
}

// TurnFailed explains a failed turn. An interrupted stream reports how much
// text was discarded.
func (p *Printer) TurnFailed(err error) {
	p.println("")
	partial, interrupted := stream.Interrupted(err)
	switch {
	case stream.Canceled(err):
		p.println(p.styles.Warning.Render(fmt.Sprintf("Interrupted. %d characters discarded; your message was kept without a reply.", utf8.RuneCountInString(partial))))
	case interrupted:
		p.println(p.styles.Error.Render(fmt.Sprintf("The response broke off after %d characters: %v", utf8.RuneCountInString(partial), err)))
		p.println(p.styles.Dim.Render("Please retry or check your network connection."))
	default:
		p.println(p.styles.Error.Render(fmt.Sprintf("Error: %v", err)))
		p.println(p.styles.Dim.Render("Please retry or check your network connection."))
	}
	p.println("")
}

// Errorf prints an error line.
func (p *Printer) Errorf(format string, args ...any) {
	p.println(p.styles.Error.Render(fmt.Sprintf(format, args...)))
}

// Infof prints a plain informational line.
func (p *Printer) Infof(format string, args ...any) {
	p.println(fmt.Sprintf(format, args...))
}

// Summary is the one-line description of an entry: its first user message,
// truncated to SummaryRunes runes.
func Summary(e session.HistoryEntry) string {
	text := strings.Join(strings.Fields(e.FirstUserMessage()), " ")
	if text == "" {
		return "(no user message)"
	}
	if utf8.RuneCountInString(text) <= SummaryRunes {
		return text
	}
	return string([]rune(text)[:SummaryRunes]) + "..."
}

// HistoryPage prints one page of the history browser.
func (p *Printer) HistoryPage(page history.Page) {
	if page.Total == 0 {
		p.println("No saved sessions.")
		return
	}
	p.println(p.styles.Title.Render(fmt.Sprintf("Session history (page %d/%d)", page.Number, page.TotalPages)))
	p.println(rule)
	if len(page.Entries) == 0 {
		p.println(p.styles.Dim.Render("No sessions on this page."))
	}
	for i, e := range page.Entries {
		p.printf("%d. [%s] %s\n", page.First+i, e.StartedAt.Format(TimeFormat), Summary(e))
	}
	p.println("")
	p.println(rule)
}

// PagerHelp prints the key help of the interactive history browser.
func (p *Printer) PagerHelp() {
	p.println(p.styles.Dim.Render("[number] view session | [n] next page | [p] previous page | [q] back"))
}

// SessionDetail prints the transcript of the n-th session in browse order.
// System messages are not shown.
func (p *Printer) SessionDetail(n int, e session.HistoryEntry) {
	p.println("")
	p.println(p.styles.Title.Render(fmt.Sprintf("===== Session %d (%s) =====", n, e.StartedAt.Format(TimeFormat))))
	for _, msg := range e.Messages {
		switch msg.Role {
		case session.RoleUser:
			p.printf("\n%s %s\n", p.styles.User.Render("You:"), msg.Content)
		case session.RoleAssistant:
			p.printf("\n%s %s\n", p.styles.Assistant.Render("Assistant:"), msg.Content)
		}
	}
	if e.Stats.Turns > 0 {
		p.println("")
		p.println(p.styles.Dim.Render(fmt.Sprintf("%d turns, %d tokens, %.2fs", e.Stats.Turns, e.Stats.TotalTokens(), e.Stats.TotalElapsedSeconds)))
	}
	p.println("")
	p.println(rule)
}

// SearchResults prints the sessions matching keyword. Positions are the
// browse-order numbers accepted by the detail view.
func (p *Printer) SearchResults(keyword string, hits []history.SearchHit) {
	if len(hits) == 0 {
		p.printf("No sessions contain '%s'.\n", keyword)
		return
	}
	p.println(p.styles.Title.Render(fmt.Sprintf("Found %d sessions containing '%s':", len(hits), keyword)))
	p.println(rule)
	for _, h := range hits {
		p.printf("%d. [%s] %s\n", h.Position, h.Entry.StartedAt.Format(TimeFormat), Summary(h.Entry))
	}
	p.println("")
	p.println(rule)
}

// Help lists the in-chat commands.
func (p *Printer) Help() {
	p.println("Available commands:")
	p.println("  history            - Browse saved sessions")
	p.println("  search <keyword>   - Search saved sessions")
	p.println("  /stats             - Show statistics of this session")
	p.println("  /help              - Show this help message")
	p.println("  exit, quit, q      - Save the session and quit (also 退出, /exit, /quit)")
	p.println("  Ctrl-C             - Interrupt the current reply")
}
