// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package chat provides the main chat view for the trawl TUI.

The chat package implements the interactive terminal interface using the
Bubble Tea framework. It renders the transcript, the composer input, and
the session directory overlay, and it bridges the background components
(directory synchronizer and research orchestrator) into the Bubble Tea
update loop.

# Key Components

## Model (model.go)

The Model struct is the central Bubble Tea model. It owns:
  - The transcript reducer state (chatlog.State)
  - The latest directory snapshot
  - The composer input, transcript viewport, and spinner widgets
  - The optional glamour markdown renderer

## Update Loop (update.go)

Handles all Bubble Tea messages:
  - Keyboard input, including the session overlay navigation
  - ActionMsg, the single funnel for transcript transitions
  - Send results, including deferred research task registration
  - Window resizes and status-line timers

## Commands (commands.go)

Slash command handlers:
  - /sessions, /open, /new for navigation
  - /rename, /delete, /share for session mutations
  - /research is not handled here; it is a composer directive and goes
    through the send path with the force flag set

## View Rendering (view.go)

Renders the header, transcript, status line, composer, shortcut hints,
and the session list overlay. Completed assistant replies render through
glamour when markdown is enabled in the configuration.

# Threading

Background components never touch the model directly. The directory and
orchestrator dispatch chatlog actions through the program's Send method,
which delivers them as ActionMsg values on the update goroutine. The
reducer is therefore applied from exactly one goroutine.

# Usage

	theme := styles.NewTheme(cfg.UI.Theme)
	m := chat.New(chat.Options{
		Client:       client,
		Directory:    dir,
		Orchestrator: orch,
		Theme:        theme,
		Markdown:     cfg.UI.Markdown,
	})
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatal(err)
	}
*/
package chat
