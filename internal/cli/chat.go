// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Plain-mode REPL for the trawl CLI.
//
// Handles line-mode operation, used when stdout is not a terminal or the
// user passed --plain. Unlike the TUI, the REPL is synchronous: a message
// that turns into a research task is polled in the foreground until it
// resolves, with progress lines printed as they change.
//
// Interactive commands (during chat):
//   /sessions             List sessions
//   /open <n|id>          Open a session
//   /new                  Start a new chat
//   /rename <topic>       Rename the open session
//   /delete               Delete the open session
//   /share <user> [mode]  Share the open session (mode: view or collab)
//   /research <topic>     Force a research task
//   /help, /h             Show available commands
//   /quit, /q             Exit
//   Ctrl+C                Cancel the current wait
//   Ctrl+D                Exit
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/peterh/liner"

	"github.com/averyhale/trawl-tui/internal/api"
	"github.com/averyhale/trawl-tui/internal/composer"
	"github.com/averyhale/trawl-tui/internal/config"
	"github.com/averyhale/trawl-tui/internal/model"
	"github.com/averyhale/trawl-tui/internal/research"
	"github.com/averyhale/trawl-tui/internal/ui/styles"
	"github.com/averyhale/trawl-tui/internal/util"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	// Prompt style
	promptStyle = lipgloss.NewStyle().
			Foreground(styles.Cyan).
			Bold(true)

	// Welcome banner style
	welcomeStyle = lipgloss.NewStyle().
			Foreground(styles.Purple).
			Bold(true)

	// Info style
	infoStyle = lipgloss.NewStyle().
			Foreground(styles.TextSecondary)

	// Command style
	commandStyle = lipgloss.NewStyle().
			Foreground(styles.Emerald)

	// Warning style
	warningStyle = lipgloss.NewStyle().
			Foreground(styles.Amber)

	// Error style
	errorStyle = lipgloss.NewStyle().
			Foreground(styles.Rose).
			Bold(true)
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI provides input history and line editing for the REPL.
// Supports arrow keys for history navigation and line editing.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a new ChatCLI with input history support.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	// Get history file path in config directory
	configDir, err := config.ConfigDir()
	if err != nil {
		// Fallback to temp directory if config dir unavailable
		configDir = os.TempDir()
	}
	historyFile := filepath.Join(configDir, "history")

	cli := &ChatCLI{
		line:        line,
		historyFile: historyFile,
	}

	cli.LoadHistory()

	return cli
}

// LoadHistory loads command history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line of input with the given prompt.
// Supports history navigation with arrow keys.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}

	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}

	return input, nil
}

// SaveHistory persists command history to file with secure permissions.
func (c *ChatCLI) SaveHistory() {
	if err := config.EnsureConfigDir(); err != nil {
		return
	}

	// Owner read/write only
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()

	c.line.WriteHistory(f)
}

// Close saves history and closes the liner.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// =============================================================================
// SESSION STATE
// =============================================================================

// ReplSession holds the state for one plain-mode run.
type ReplSession struct {
	// Backend client
	Client api.Client

	// Configuration
	Config *config.Config

	// The session the REPL is talking in; empty for a new chat.
	Current      string
	CurrentTopic string

	// Most recently listed sessions, for /open by index.
	Listed []model.Session

	// Cancel function for the current wait
	CancelFunc context.CancelFunc

	// Markdown rendering for replies, TTY only.
	Markdown bool

	// Input history handler
	InputCLI *ChatCLI

	StartTime time.Time
	SentCount int
}

// ReplOptions configures a plain-mode run.
type ReplOptions struct {
	Client api.Client
	Config *config.Config

	// SessionID opens a session before the first prompt.
	SessionID string
}

// NewReplSession creates the REPL state.
func NewReplSession(opts ReplOptions) *ReplSession {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Global()
	}

	// Markdown rendering needs a color-capable terminal; piped output
	// and NO_COLOR environments get plain wrapped text.
	markdown := cfg.UI.Markdown && IsStdoutTTY() && GetColorProfile() != termenv.Ascii

	return &ReplSession{
		Client:    opts.Client,
		Config:    cfg,
		Markdown:  markdown,
		InputCLI:  NewChatCLI(),
		StartTime: time.Now(),
	}
}

// =============================================================================
// REPL LOOP
// =============================================================================

// RunREPL runs the plain-mode chat loop until the user exits.
func RunREPL(opts ReplOptions) error {
	session := NewReplSession(opts)

	if strings.TrimSpace(session.Config.Server.BaseURL) == "" {
		return fmt.Errorf("no backend configured; set TRAWL_BASE_URL or edit %s", mustConfigPath())
	}

	printWelcome(session)

	// Ensure input history is saved on exit
	defer session.InputCLI.Close()

	// First Ctrl+C cancels the current wait instead of killing the
	// process; liner handles Ctrl+C at the prompt itself.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		for range sigChan {
			if session.CancelFunc != nil {
				session.CancelFunc()
				session.CancelFunc = nil
				fmt.Fprintln(os.Stderr, "\n"+warningStyle.Render("[Cancelled]"))
			}
		}
	}()

	if opts.SessionID != "" {
		if err := session.openSession(opts.SessionID); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[Error]"), err)
		}
	}

	for {
		input, err := session.InputCLI.ReadInput(session.prompt())
		if err != nil {
			if err == liner.ErrPromptAborted {
				// Ctrl+C at the prompt - exit gracefully
				fmt.Println()
				printExitSummary(session)
				return nil
			}
			// EOF (Ctrl+D) or other error - exit gracefully
			fmt.Println()
			printExitSummary(session)
			return nil
		}

		input = strings.TrimSpace(input)

		if input == "" {
			continue
		}

		parsed := composer.Parse(input)

		if !parsed.IsDirective && strings.HasPrefix(input, "/") {
			shouldContinue, err := session.handleSlashCommand(input)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[Error]"), err)
			}
			if !shouldContinue {
				printExitSummary(session)
				return nil
			}
			continue
		}

		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			printExitSummary(session)
			return nil
		}

		if parsed.IsEmptyDirective {
			fmt.Println(warningStyle.Render("Usage: " + composer.Directive + " <topic>"))
			continue
		}

		if err := session.processMessage(parsed); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[Error]"), err)
		}
	}
}

// prompt renders the input prompt with the open session's topic.
func (s *ReplSession) prompt() string {
	if s.CurrentTopic != "" {
		topic := util.TruncateWidth(s.CurrentTopic, 24)
		return promptStyle.Render("trawl("+topic+")> ")
	}
	return promptStyle.Render("trawl> ")
}

// =============================================================================
// MESSAGE PROCESSING
// =============================================================================

// processMessage sends one message and blocks until it resolves, polling
// in the foreground when the backend defers to a research task.
func (s *ReplSession) processMessage(parsed composer.Result) error {
	ctx, cancel := context.WithCancel(context.Background())
	s.CancelFunc = cancel
	defer func() {
		s.CancelFunc = nil
		cancel()
	}()

	res, err := s.Client.SendMessage(ctx, api.SendRequest{
		Text:          parsed.Payload,
		SessionID:     s.Current,
		ForceResearch: parsed.IsDirective,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("send failed: %w", err)
	}
	s.SentCount++

	// Sending in a new chat creates the session server-side.
	if s.Current == "" && res.SessionID != "" {
		s.Current = res.SessionID
	}

	switch res.Kind {
	case api.ResultMessage:
		fmt.Println()
		s.displayReply(res.Text)
		fmt.Println()
		return nil

	case api.ResultTask:
		return s.waitForResearch(ctx, res)

	default:
		return fmt.Errorf("backend returned an unrecognized reply kind %q", res.Kind)
	}
}

// waitForResearch polls a deferred research task until it reaches a
// terminal state. Progress lines print only when they change.
func (s *ReplSession) waitForResearch(ctx context.Context, res *api.SendResult) error {
	pollCfg := research.Config{
		FastInterval: s.Config.Polling.FastInterval(),
		SlowInterval: s.Config.Polling.SlowInterval(),
		SlowAfter:    s.Config.Polling.SlowAfter,
	}

	fmt.Println(infoStyle.Render("Research started. Polling for results (Ctrl+C to stop waiting)..."))

	lastProgress := ""
	pollCount := 0
	consecutiveErrors := 0

	for {
		select {
		case <-ctx.Done():
			fmt.Println(warningStyle.Render("Stopped waiting. The task keeps running server-side."))
			return nil
		case <-time.After(pollCfg.Interval(pollCount)):
		}

		status, err := s.Client.PollResearch(ctx, res.ResearchID)
		pollCount++

		if err != nil {
			if errors.Is(err, context.Canceled) {
				fmt.Println(warningStyle.Render("Stopped waiting. The task keeps running server-side."))
				return nil
			}
			if errors.Is(err, api.ErrTaskNotFound) {
				fmt.Println(errorStyle.Render(research.NotFoundMessage))
				return nil
			}
			consecutiveErrors++
			if consecutiveErrors >= 5 {
				return fmt.Errorf("poll research: %w", err)
			}
			continue
		}
		consecutiveErrors = 0

		switch research.NormalizeStatus(status.Status) {
		case research.StatusQueued, research.StatusRunning:
			line := status.ProgressMessage
			if line == "" {
				line = "Researching..."
			}
			if status.CurrentNode != "" {
				line += " (" + status.CurrentNode + ")"
			}
			if line != lastProgress {
				fmt.Println(infoStyle.Render(line))
				lastProgress = line
			}

		case research.StatusCompleted:
			if strings.TrimSpace(status.Result) == "" {
				fmt.Println(errorStyle.Render(research.EmptyResultMessage))
				return nil
			}
			fmt.Println()
			s.displayReply(status.Result)
			fmt.Println()
			return nil

		default:
			msg := status.Error
			if msg == "" {
				msg = research.GenericFailureMessage
			}
			fmt.Println(errorStyle.Render(msg))
			return nil
		}
	}
}

// displayReply prints an assistant reply, rendered as markdown on a TTY.
func (s *ReplSession) displayReply(text string) {
	if s.Markdown {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(GetTerminalWidth()),
		)
		if err == nil {
			if out, rerr := r.Render(text); rerr == nil {
				fmt.Print(out)
				return
			}
		}
	}
	fmt.Println(WrapText(text, GetTerminalWidth()))
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleSlashCommand executes one REPL command. Returns false when the
// REPL should exit.
func (s *ReplSession) handleSlashCommand(input string) (bool, error) {
	fields := strings.Fields(input)
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	switch cmd {
	case "/help", "/h":
		printHelp()
		return true, nil

	case "/sessions", "/ls":
		return true, s.listSessions()

	case "/open", "/o":
		if len(args) != 1 {
			return true, fmt.Errorf("usage: /open <n|id>")
		}
		return true, s.openSessionArg(args[0])

	case "/new", "/n":
		s.Current = ""
		s.CurrentTopic = ""
		fmt.Println(infoStyle.Render("Started a new chat."))
		return true, nil

	case "/rename":
		if len(args) == 0 {
			return true, fmt.Errorf("usage: /rename <topic>")
		}
		return true, s.renameSession(strings.Join(args, " "))

	case "/delete":
		return true, s.deleteSession()

	case "/share":
		if len(args) == 0 || len(args) > 2 {
			return true, fmt.Errorf("usage: /share <recipient> [view|collab]")
		}
		return true, s.shareSession(args)

	case "/quit", "/q", "/exit":
		return false, nil
	}

	return true, fmt.Errorf("unknown command %s, try /help", cmd)
}

// listSessions fetches and prints the session list.
func (s *ReplSession) listSessions() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.Config.Server.Timeout())
	defer cancel()

	sessions, err := s.Client.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	s.Listed = sessions

	if len(sessions) == 0 {
		fmt.Println(infoStyle.Render("No sessions yet."))
		return nil
	}

	fmt.Println()
	for i, sess := range sessions {
		marker := "  "
		if sess.ID == s.Current {
			marker = commandStyle.Render("> ")
		}
		line := fmt.Sprintf("%s%2d. %s", marker, i+1, sess.DisplayTopic())
		if sess.IsShared {
			line += " " + infoStyle.Render(styles.StatusIndicators.Shared+" "+sess.SharedBy)
		}
		fmt.Println(line)
	}
	fmt.Println()
	return nil
}

// openSessionArg resolves the /open argument as a 1-based index into the
// last listing, then as a session id.
func (s *ReplSession) openSessionArg(arg string) error {
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(s.Listed) {
			return fmt.Errorf("no session at position %d; run /sessions first", n)
		}
		return s.openSession(s.Listed[n-1].ID)
	}
	return s.openSession(arg)
}

// openSession loads a transcript and prints it.
func (s *ReplSession) openSession(sessionID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.Config.Server.Timeout())
	defer cancel()

	tr, err := s.Client.LoadTranscript(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}

	s.Current = sessionID
	s.CurrentTopic = ""
	for _, sess := range s.Listed {
		if sess.ID == sessionID {
			s.CurrentTopic = sess.DisplayTopic()
		}
	}

	fmt.Println()
	for _, msg := range tr.Messages {
		label := commandStyle.Render(msg.Sender.DisplayName())
		if msg.Sender.IsError() {
			label = errorStyle.Render(msg.Sender.DisplayName())
		}
		fmt.Printf("%s: %s\n", label, WrapText(msg.Text, GetTerminalWidth()))
	}
	fmt.Println()

	if tr.ActiveTask != nil {
		fmt.Println(warningStyle.Render("A research task is still running for this session."))
	}
	return nil
}

// renameSession renames the open session.
func (s *ReplSession) renameSession(topic string) error {
	if s.Current == "" {
		return fmt.Errorf("no session open; send a message first")
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.Config.Server.Timeout())
	defer cancel()

	if err := s.Client.RenameSession(ctx, s.Current, topic); err != nil {
		return fmt.Errorf("rename session: %w", err)
	}
	s.CurrentTopic = topic
	fmt.Println(infoStyle.Render("Renamed."))
	return nil
}

// deleteSession deletes the open session and falls back to a new chat.
func (s *ReplSession) deleteSession() error {
	if s.Current == "" {
		return fmt.Errorf("no session open")
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.Config.Server.Timeout())
	defer cancel()

	if err := s.Client.DeleteSession(ctx, s.Current); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	s.Current = ""
	s.CurrentTopic = ""
	fmt.Println(infoStyle.Render("Deleted. Started a new chat."))
	return nil
}

// shareSession shares the open session.
func (s *ReplSession) shareSession(args []string) error {
	if s.Current == "" {
		return fmt.Errorf("no session open; send a message first")
	}

	collaborative := false
	if len(args) == 2 {
		switch strings.ToLower(args[1]) {
		case "view":
		case "collab", "collaborate":
			collaborative = true
		default:
			return fmt.Errorf("share mode must be view or collab")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.Config.Server.Timeout())
	defer cancel()

	if err := s.Client.ShareSession(ctx, s.Current, args[0], collaborative); err != nil {
		return fmt.Errorf("share session: %w", err)
	}
	fmt.Println(infoStyle.Render("Shared with " + args[0] + "."))
	return nil
}

// =============================================================================
// DISPLAY FUNCTIONS
// =============================================================================

// printWelcome prints the welcome banner.
func printWelcome(session *ReplSession) {
	fmt.Println()
	fmt.Println(welcomeStyle.Render("trawl plain-mode chat"))
	fmt.Println(infoStyle.Render(strings.Repeat("─", 30)))
	fmt.Printf("%s %s\n",
		infoStyle.Render("Backend:"),
		commandStyle.Render(session.Config.Server.BaseURL))
	fmt.Println()
	fmt.Println(infoStyle.Render("Type your message and press Enter. Commands: /help, /quit"))
	fmt.Println()
}

// printHelp prints available commands.
func printHelp() {
	fmt.Println()
	fmt.Println(promptStyle.Render("Available Commands"))
	fmt.Println(infoStyle.Render(strings.Repeat("─", 20)))
	fmt.Println()

	commands := []struct {
		cmd  string
		desc string
	}{
		{"/sessions", "List sessions"},
		{"/open <n|id>", "Open a session"},
		{"/new", "Start a new chat"},
		{"/rename <topic>", "Rename the open session"},
		{"/delete", "Delete the open session"},
		{"/share <user> [mode]", "Share the open session"},
		{"/research <topic>", "Force a research task"},
		{"/help, /h", "Show this help"},
		{"/quit, /q", "Exit chat"},
	}

	for _, c := range commands {
		fmt.Printf("  %s  %s\n",
			commandStyle.Render(fmt.Sprintf("%-21s", c.cmd)),
			infoStyle.Render(c.desc))
	}

	fmt.Println()
	fmt.Println(infoStyle.Render("Tip: Ctrl+C cancels the current wait, Ctrl+D exits"))
	fmt.Println()
}

// printExitSummary prints a brief summary on exit.
func printExitSummary(session *ReplSession) {
	elapsed := time.Since(session.StartTime).Round(time.Second)
	fmt.Printf("%s %d messages in %s\n",
		infoStyle.Render("Session:"),
		session.SentCount,
		elapsed)
}

// mustConfigPath returns the config path for error messages, best effort.
func mustConfigPath() string {
	p, err := config.ConfigPath()
	if err != nil {
		return "~/.trawl/config.toml"
	}
	return p
}
