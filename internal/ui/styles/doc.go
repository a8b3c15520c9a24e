// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles provides the visual styling system for the trawl TUI.

This package defines the color palette and the Theme struct used
throughout the application. All colors use Lip Gloss AdaptiveColor for
automatic light/dark terminal detection.

# Color System (colors.go)

  - Purple - Primary accent for assistant messages and selections
  - Cyan - Brand color for info, commands, and user highlights
  - Emerald - Success states and shared-session markers
  - Amber - Pending research and warnings
  - Rose - Errors and failed research

Text colors form a hierarchy:

	TextPrimary   - Main content text
	TextSecondary - Supporting text
	TextMuted     - De-emphasized text, progress lines

# Theme System (theme.go)

The Theme struct provides runtime color adaptation:

	theme := styles.NewTheme(cfg.UI.Theme)
	if theme.IsDark {
		// Dark terminal detected or configured
	}

Status indicators carry a text symbol alongside color so states remain
distinguishable in low-color terminals:

	styles.StatusIndicators.Pending - "~" for running research
	styles.StatusIndicators.Error   - "x" for failures
*/
package styles
