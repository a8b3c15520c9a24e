// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/averyhale/trawl-tui/internal/api"
	"github.com/averyhale/trawl-tui/internal/chatlog"
	"github.com/averyhale/trawl-tui/internal/directory"
	"github.com/averyhale/trawl-tui/internal/research"
	"github.com/averyhale/trawl-tui/internal/ui/styles"
)

// statusDisplayTime is how long a transient status line stays visible.
const statusDisplayTime = 4 * time.Second

// =============================================================================
// OPTIONS
// =============================================================================

// Options configures a new chat model. Client, Directory, and Orchestrator
// are required; the model never constructs its own collaborators.
type Options struct {
	Client       api.Client
	Directory    *directory.Directory
	Orchestrator *research.Orchestrator
	Theme        *styles.Theme

	// Markdown enables glamour rendering of completed assistant replies.
	Markdown bool
}

// =============================================================================
// MODEL
// =============================================================================

// Model is the Bubble Tea model for the chat view. It owns the transcript
// state and the rendered widgets; the directory and orchestrator own their
// domains and reach the model only through dispatched messages.
type Model struct {
	theme *styles.Theme

	client api.Client
	dir    *directory.Directory
	orch   *research.Orchestrator

	// log is the transcript reducer state. All transitions go through
	// chatlog.Apply on the update goroutine.
	log chatlog.State

	// sessions is the latest directory snapshot.
	sessions directory.Snapshot

	input    textinput.Model
	viewport viewport.Model
	spin     spinner.Model

	renderer *glamour.TermRenderer
	markdown bool

	// Session list overlay.
	showSessions  bool
	sessionCursor int

	// Transient status line plus the sequence number of its clear timer.
	status    string
	statusErr bool
	statusSeq uint64

	keys   KeyMap
	width  int
	height int
	ready  bool
}

// New constructs the chat model. The viewport is sized properly on the
// first WindowSizeMsg; until then the model renders a placeholder.
func New(opts Options) Model {
	theme := opts.Theme
	if theme == nil {
		theme = styles.NewTheme("")
	}

	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "Type a message, /research <topic>, or /help"
	input.CharLimit = 4000
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Line
	spin.Style = theme.Spinner

	return Model{
		theme:    theme,
		client:   opts.Client,
		dir:      opts.Directory,
		orch:     opts.Orchestrator,
		log:      chatlog.NewState(),
		input:    input,
		viewport: viewport.New(80, 20),
		spin:     spin,
		markdown: opts.Markdown,
		keys:     DefaultKeyMap(),
	}
}

// Init starts the spinner and the initial session-list fetch.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spin.Tick,
		refreshSessionsCmd(m.dir, false),
	)
}

// currentSessionID returns the id of the viewed session, empty for a new
// chat.
func (m Model) currentSessionID() string {
	if m.dir == nil {
		return ""
	}
	return m.dir.CurrentSession()
}

// currentStream returns the transcript stream key for the viewed session.
func (m Model) currentStream() string {
	return chatlog.StreamKey(m.currentSessionID())
}

// currentTopic returns the header topic for the viewed session.
func (m Model) currentTopic() string {
	id := m.currentSessionID()
	if id == "" {
		return "New chat"
	}
	for _, s := range m.sessions.Sessions {
		if s.ID == id {
			return s.DisplayTopic()
		}
	}
	return id
}

// busy reports whether the viewed session already has work in flight,
// either a synchronous send or a background research job.
func (m Model) busy() bool {
	if m.log.IsGenerating(m.currentStream()) {
		return true
	}
	return m.orch != nil && m.orch.Busy(m.currentSessionID())
}

// rebuildRenderer recreates the markdown renderer for the given wrap
// width. Rendering is best effort: on failure the renderer stays nil and
// messages fall back to plain text.
func (m *Model) rebuildRenderer(width int) {
	if !m.markdown {
		return
	}
	if width < 20 {
		width = 20
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		m.renderer = nil
		return
	}
	m.renderer = r
}

// setStatus replaces the transient status line and returns the command
// that clears it after a few seconds.
func (m *Model) setStatus(text string, isErr bool) tea.Cmd {
	m.status = text
	m.statusErr = isErr
	m.statusSeq++
	return clearStatusCmd(m.statusSeq, statusDisplayTime)
}
