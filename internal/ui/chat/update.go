// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/averyhale/trawl-tui/internal/api"
	"github.com/averyhale/trawl-tui/internal/chatlog"
	"github.com/averyhale/trawl-tui/internal/composer"
	"github.com/averyhale/trawl-tui/internal/model"
	"github.com/averyhale/trawl-tui/internal/research"
)

// =============================================================================
// UPDATE LOOP
// =============================================================================

// Update implements tea.Model. Every transcript mutation funnels through
// ActionMsg, so the reducer is only ever applied on this goroutine.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		return m.handleResize(msg)

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		m.refreshViewport(false)
		return m, cmd

	case ActionMsg:
		return m.handleAction(msg.Action)

	case DirectoryMsg:
		m.sessions = msg.Snapshot
		if m.sessionCursor >= len(m.sessions.Sessions) {
			m.sessionCursor = len(m.sessions.Sessions) - 1
		}
		if m.sessionCursor < 0 {
			m.sessionCursor = 0
		}
		return m, nil

	case SendResultMsg:
		return m.handleSendResult(msg)

	case MutationResultMsg:
		if msg.Err != nil {
			cmd := m.setStatus(msg.Verb+" failed: "+msg.Err.Error(), true)
			return m, cmd
		}
		cmd := m.setStatus(msg.Verb+" succeeded", false)
		return m, tea.Batch(cmd, refreshSessionsCmd(m.dir, true))

	case statusClearMsg:
		if msg.seq == m.statusSeq {
			m.status = ""
			m.statusErr = false
		}
		return m, nil
	}

	return m.updateComponents(msg)
}

// handleResize lays out the widgets for the new terminal size.
func (m Model) handleResize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height
	m.theme.SetSize(msg.Width, msg.Height)

	contentWidth := msg.Width - 4
	if contentWidth < 20 {
		contentWidth = 20
	}
	// Header, status line, input, and hint line are fixed-height chrome.
	contentHeight := msg.Height - 7
	if contentHeight < 3 {
		contentHeight = 3
	}

	m.viewport.Width = contentWidth
	m.viewport.Height = contentHeight
	m.input.Width = contentWidth - 4
	m.rebuildRenderer(contentWidth)
	m.ready = true
	m.refreshViewport(false)
	return m, nil
}

// handleKey routes keyboard input. The session overlay captures keys while
// open; otherwise input goes to the composer and viewport.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showSessions {
		return m.handleSessionListKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Sessions):
		m.showSessions = true
		return m, refreshSessionsCmd(m.dir, true)

	case key.Matches(msg, m.keys.NewChat):
		m.dir.OpenNewChat()
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		return m.handleSubmit()

	case key.Matches(msg, m.keys.Cancel):
		m.input.Reset()
		m.status = ""
		m.statusErr = false
		return m, nil
	}

	return m.updateComponents(msg)
}

// handleSessionListKey navigates the session overlay.
func (m Model) handleSessionListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Cancel), key.Matches(msg, m.keys.Sessions):
		m.showSessions = false
		return m, nil

	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Up):
		if m.sessionCursor > 0 {
			m.sessionCursor--
		}
		return m, nil

	case key.Matches(msg, m.keys.Down):
		if m.sessionCursor < len(m.sessions.Sessions)-1 {
			m.sessionCursor++
		}
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		if m.sessionCursor < len(m.sessions.Sessions) {
			selected := m.sessions.Sessions[m.sessionCursor]
			m.showSessions = false
			return m, openTranscriptCmd(m.dir, selected.ID)
		}
		m.showSessions = false
		return m, nil
	}
	return m, nil
}

// updateComponents forwards a message to the composer input and viewport.
func (m Model) updateComponents(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// =============================================================================
// SUBMIT
// =============================================================================

// handleSubmit classifies the composer content and either runs a slash
// command or sends the message.
func (m Model) handleSubmit() (tea.Model, tea.Cmd) {
	raw := strings.TrimSpace(m.input.Value())
	if raw == "" {
		return m, nil
	}

	parsed := composer.Parse(raw)

	// Anything slash-prefixed that is not the research directive is a
	// local command.
	if !parsed.IsDirective && strings.HasPrefix(raw, "/") {
		m.input.Reset()
		return m.runCommand(raw)
	}

	if parsed.IsEmptyDirective {
		// Keep the composer content so the user can finish the thought.
		cmd := m.setStatus("Usage: "+composer.Directive+" <topic>", true)
		return m, cmd
	}

	if m.busy() {
		cmd := m.setStatus("A research task is already running for this session.", true)
		return m, cmd
	}

	sessionID := m.currentSessionID()
	stream := m.currentStream()
	userID := model.NewMessageID()
	pendingID := model.NewMessageID()

	m.log = chatlog.Apply(m.log, chatlog.SendStart{
		Stream:           stream,
		UserMessageID:    userID,
		UserText:         parsed.Payload,
		PendingMessageID: pendingID,
	})
	m.input.Reset()
	m.refreshViewport(true)

	req := api.SendRequest{
		Text:          parsed.Payload,
		SessionID:     sessionID,
		ForceResearch: parsed.IsDirective,
	}
	return m, tea.Batch(
		sendMessageCmd(m.client, req, stream, pendingID),
		m.spin.Tick,
	)
}

// =============================================================================
// RESULT HANDLING
// =============================================================================

// handleSendResult resolves the placeholder created at send time. A reply
// that created a session server side also adopts the new session id and
// refreshes the directory so the session appears in the list.
func (m Model) handleSendResult(msg SendResultMsg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	// Adopt a server-created session before touching the orchestrator so
	// anything registered below already sees it as the viewed session.
	if msg.Err == nil && msg.RequestedSessionID == "" && msg.Result != nil && msg.Result.SessionID != "" {
		m.dir.AdoptSession(msg.Result.SessionID)
		cmds = append(cmds, refreshSessionsCmd(m.dir, true))
	}

	switch {
	case errors.Is(msg.Err, context.Canceled):
		// Deliberate cancellation resolves nothing.

	case msg.Err != nil:
		m.log = chatlog.Apply(m.log, chatlog.SendError{
			Stream:           msg.Stream,
			PendingMessageID: msg.PendingMessageID,
			ErrorText:        sendErrorText(msg.Err),
		})

	case msg.Result == nil:
		m.log = chatlog.Apply(m.log, chatlog.SendError{
			Stream:           msg.Stream,
			PendingMessageID: msg.PendingMessageID,
			ErrorText:        "The backend returned an empty reply.",
		})

	case msg.Result.Kind == api.ResultTask:
		sessionID := msg.Result.SessionID
		if sessionID == "" {
			sessionID = msg.RequestedSessionID
		}
		task := m.orch.Register(sessionID, research.Descriptor{
			ResearchID:       msg.Result.ResearchID,
			PendingMessageID: msg.PendingMessageID,
			Status:           msg.Result.Status,
			ProgressMessage:  msg.Result.ProgressMessage,
		})
		switch {
		case task == nil:
			// Nothing registered, nothing to resolve.

		case task.Status.Terminal():
			// The task died at registration. Resolve the placeholder
			// here, on the send's own stream, so it cannot stay pending
			// with the generating flag stuck on. A task owned by a
			// session the user has since left only keeps its stored
			// state; the visible transcript is not touched.
			if sessionID == m.currentSessionID() {
				m.log = chatlog.Apply(m.log, chatlog.TaskFailed{
					Stream:            msg.Stream,
					PendingMessageID:  msg.PendingMessageID,
					ErrorText:         task.FinalText,
					FallbackMessageID: model.NewMessageID(),
				})
			}

		default:
			m.log = chatlog.Apply(m.log, chatlog.TaskQueued{
				Stream:           msg.Stream,
				PendingMessageID: msg.PendingMessageID,
				ProgressText:     task.ProgressLine(),
			})
		}

	case msg.Result.Kind == api.ResultMessage:
		m.log = chatlog.Apply(m.log, chatlog.SendSuccess{
			Stream:           msg.Stream,
			PendingMessageID: msg.PendingMessageID,
			Text:             msg.Result.Text,
		})

	default:
		m.log = chatlog.Apply(m.log, chatlog.SendError{
			Stream:           msg.Stream,
			PendingMessageID: msg.PendingMessageID,
			ErrorText:        "The backend returned an unrecognized reply.",
		})
	}

	m.refreshViewport(true)
	return m, tea.Batch(cmds...)
}

// handleAction applies one transcript action and refreshes the rendered
// view. Load transitions scroll to the bottom so the newest exchange is
// visible.
func (m Model) handleAction(action chatlog.Action) (tea.Model, tea.Cmd) {
	m.log = chatlog.Apply(m.log, action)

	switch action.(type) {
	case chatlog.LoadSuccess, chatlog.LoadError, chatlog.Reset,
		chatlog.TaskDone, chatlog.TaskFailed, chatlog.AddPendingResearch:
		m.refreshViewport(true)
	default:
		m.refreshViewport(false)
	}
	return m, nil
}

// sendErrorText converts a transport error into a transcript-facing line.
// Backend errors keep their server message; everything else gets a
// generic failure.
func sendErrorText(err error) string {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return "Message failed: " + apiErr.Message
	}
	return "Message failed: " + err.Error()
}
