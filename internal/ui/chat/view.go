// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/averyhale/trawl-tui/internal/model"
	"github.com/averyhale/trawl-tui/internal/research"
	"github.com/averyhale/trawl-tui/internal/ui/styles"
	"github.com/averyhale/trawl-tui/internal/util"
)

// =============================================================================
// TOP-LEVEL VIEW
// =============================================================================

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Starting trawl..."
	}

	if m.showSessions {
		return m.theme.App.Render(lipgloss.JoinVertical(
			lipgloss.Left,
			m.renderHeader(),
			m.renderSessionList(),
			m.renderStatusLine(),
			m.renderShortcuts(),
		))
	}

	return m.theme.App.Render(lipgloss.JoinVertical(
		lipgloss.Left,
		m.renderHeader(),
		m.viewport.View(),
		m.renderStatusLine(),
		m.theme.InputContainer.Render(m.input.View()),
		m.renderShortcuts(),
	))
}

// renderHeader renders the title bar with the viewed session's topic.
func (m Model) renderHeader() string {
	title := m.theme.HeaderTitle.Render("trawl")
	topic := m.theme.HeaderTopic.Render(util.TruncateWidth(m.currentTopic(), m.viewport.Width-10))
	return m.theme.Header.Width(m.viewport.Width).Render(title + "  " + topic)
}

// renderStatusLine renders the transient status, directory errors, or the
// loading indicator, in that priority order.
func (m Model) renderStatusLine() string {
	switch {
	case m.status != "" && m.statusErr:
		return m.theme.StatusError.Render(m.status)
	case m.status != "":
		return m.theme.StatusBar.Render(m.status)
	case m.sessions.Error != "":
		return m.theme.ErrorBanner.Render(m.sessions.Error)
	case m.log.Loading:
		return m.theme.StatusBar.Render(m.spin.View() + " Loading transcript...")
	case m.busy():
		return m.theme.StatusBar.Render(m.spin.View() + " Working...")
	}
	return m.theme.StatusBar.Render("")
}

// renderShortcuts renders the shortcut hint line.
func (m Model) renderShortcuts() string {
	var parts []string
	for _, b := range m.keys.ShortHelp() {
		h := b.Help()
		parts = append(parts,
			m.theme.ShortcutKey.Render(h.Key)+" "+m.theme.ShortcutDesc.Render(h.Desc))
	}
	parts = append(parts, m.theme.DirectiveHint.Render("/research <topic> forces a research task"))
	return m.theme.StatusBar.Render(strings.Join(parts, "   "))
}

// =============================================================================
// TRANSCRIPT RENDERING
// =============================================================================

// refreshViewport re-renders the transcript into the viewport.
// scrollToBottom follows the newest exchange; spinner ticks and scroll
// events keep the user's position instead.
func (m *Model) refreshViewport(scrollToBottom bool) {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderTranscript())
	if scrollToBottom {
		m.viewport.GotoBottom()
	}
}

// renderTranscript renders every transcript row.
func (m Model) renderTranscript() string {
	if m.log.Loading {
		return m.theme.PendingText.Render("Loading transcript...")
	}
	if len(m.log.Messages) == 0 {
		return m.theme.MessageText.Render("No messages yet. Say something, or try " + m.theme.DirectiveHint.Render("/research <topic>") + ".")
	}

	var b strings.Builder
	for i, msg := range m.log.Messages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.renderMessage(msg))
		b.WriteString("\n")
	}
	return b.String()
}

// renderMessage renders one transcript row: a sender label, a timestamp,
// and the body styled by status.
func (m Model) renderMessage(msg model.Message) string {
	label := m.senderLabel(msg)
	ts := ""
	if !msg.Timestamp.IsZero() {
		ts = "  " + m.theme.Timestamp.Render(msg.Timestamp.Format("15:04"))
	}

	body := msg.Text
	switch {
	case msg.IsPending():
		line := body
		if line == "" {
			line = "Waiting for reply..."
		}
		body = m.theme.PendingText.Render(m.spin.View() + " " + line)
	case msg.Sender.IsError() || msg.Status == model.StatusError:
		body = m.theme.ErrorText.Render(body)
	case msg.Sender == model.SenderAssistant:
		body = m.renderAssistantBody(body)
	default:
		body = m.theme.MessageText.Render(body)
	}

	return label + ts + "\n" + body
}

// senderLabel returns the styled display name for a message sender.
func (m Model) senderLabel(msg model.Message) string {
	name := msg.Sender.DisplayName()
	switch {
	case msg.Sender == model.SenderUser:
		return m.theme.UserLabel.Render(name)
	case msg.Sender.IsError():
		return m.theme.ErrorText.Render(name)
	default:
		return m.theme.AssistantLabel.Render(name)
	}
}

// renderAssistantBody renders a completed assistant reply, through glamour
// when markdown is enabled. Render failures fall back to plain text.
func (m Model) renderAssistantBody(text string) string {
	if m.renderer != nil {
		if out, err := m.renderer.Render(text); err == nil {
			return strings.TrimRight(out, "\n")
		}
	}
	return m.theme.MessageText.Render(text)
}

// =============================================================================
// SESSION LIST OVERLAY
// =============================================================================

// renderSessionList renders the directory overlay. Each row carries a
// research-status indicator and a shared marker where they apply.
func (m Model) renderSessionList() string {
	var b strings.Builder
	b.WriteString(m.theme.HeaderTitle.Render("Sessions"))
	b.WriteString("\n\n")

	if m.sessions.Loading && len(m.sessions.Sessions) == 0 {
		b.WriteString(m.theme.PendingText.Render(m.spin.View() + " Loading sessions..."))
		return m.theme.SessionList.Height(m.viewport.Height).Render(b.String())
	}
	if len(m.sessions.Sessions) == 0 {
		b.WriteString(m.theme.MessageText.Render("No sessions yet."))
		return m.theme.SessionList.Height(m.viewport.Height).Render(b.String())
	}

	statuses := map[string]research.Status{}
	if m.orch != nil {
		statuses = m.orch.StatusBySession()
	}

	for i, s := range m.sessions.Sessions {
		line := fmt.Sprintf("%2d. %s", i+1, util.TruncateWidth(s.DisplayTopic(), m.viewport.Width-16))

		if st, ok := statuses[s.ID]; ok {
			switch {
			case st.Terminal() && st == research.StatusFailed:
				line = styles.StatusIndicators.Error + " " + line
			case st.Terminal():
				line = styles.StatusIndicators.Done + " " + line
			default:
				line = m.theme.SessionResearching.Render(styles.StatusIndicators.Pending) + " " + line
			}
		} else {
			line = "  " + line
		}

		if s.IsShared {
			line += " " + m.theme.SessionShared.Render(styles.StatusIndicators.Shared+" "+s.SharedBy)
		}

		if i == m.sessionCursor {
			b.WriteString(m.theme.SessionItemSelected.Render(line))
		} else {
			b.WriteString(m.theme.SessionItem.Render(line))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.theme.ShortcutDesc.Render("Enter opens, Esc closes."))
	return m.theme.SessionList.Height(m.viewport.Height).Render(b.String())
}
