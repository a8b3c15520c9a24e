// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// commandHelp is rendered by /help and by unknown-command errors.
const commandHelp = "/sessions /open <n|id> /new /rename <topic> /delete /share <recipient> [view|collab] /research <topic> /refresh /help /quit"

// runCommand executes one slash command. The research directive never
// reaches this function; handleSubmit routes it through the send path.
func (m Model) runCommand(raw string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(raw)
	name := strings.ToLower(fields[0])
	args := fields[1:]

	switch name {
	case "/sessions":
		m.showSessions = true
		return m, refreshSessionsCmd(m.dir, true)

	case "/open":
		return m.cmdOpen(args)

	case "/new":
		m.dir.OpenNewChat()
		return m, nil

	case "/rename":
		if len(args) == 0 {
			cmd := m.setStatus("Usage: /rename <topic>", true)
			return m, cmd
		}
		id := m.currentSessionID()
		if id == "" {
			cmd := m.setStatus("No session open. Send a message first.", true)
			return m, cmd
		}
		topic := strings.Join(args, " ")
		return m, renameSessionCmd(m.dir, id, topic)

	case "/delete":
		id := m.currentSessionID()
		if id == "" {
			cmd := m.setStatus("No session open.", true)
			return m, cmd
		}
		return m, deleteSessionCmd(m.dir, id)

	case "/share":
		return m.cmdShare(args)

	case "/refresh":
		return m, refreshSessionsCmd(m.dir, false)

	case "/help":
		cmd := m.setStatus(commandHelp, false)
		return m, cmd

	case "/quit", "/exit":
		return m, tea.Quit
	}

	cmd := m.setStatus("Unknown command "+name+". "+commandHelp, true)
	return m, cmd
}

// cmdOpen resolves the argument as a 1-based list index first, then as a
// session id.
func (m Model) cmdOpen(args []string) (tea.Model, tea.Cmd) {
	if len(args) != 1 {
		cmd := m.setStatus("Usage: /open <n|id>", true)
		return m, cmd
	}

	arg := args[0]
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(m.sessions.Sessions) {
			cmd := m.setStatus("No session at position "+arg+".", true)
			return m, cmd
		}
		return m, openTranscriptCmd(m.dir, m.sessions.Sessions[n-1].ID)
	}

	for _, s := range m.sessions.Sessions {
		if s.ID == arg {
			return m, openTranscriptCmd(m.dir, s.ID)
		}
	}
	cmd := m.setStatus("Unknown session "+arg+".", true)
	return m, cmd
}

// cmdShare shares the viewed session. The mode argument defaults to
// read-only view access.
func (m Model) cmdShare(args []string) (tea.Model, tea.Cmd) {
	if len(args) == 0 || len(args) > 2 {
		cmd := m.setStatus("Usage: /share <recipient> [view|collab]", true)
		return m, cmd
	}
	id := m.currentSessionID()
	if id == "" {
		cmd := m.setStatus("No session open. Send a message first.", true)
		return m, cmd
	}

	collaborative := false
	if len(args) == 2 {
		switch strings.ToLower(args[1]) {
		case "view":
		case "collab", "collaborate":
			collaborative = true
		default:
			cmd := m.setStatus("Share mode must be view or collab.", true)
			return m, cmd
		}
	}
	return m, shareSessionCmd(m.dir, id, args[0], collaborative)
}
