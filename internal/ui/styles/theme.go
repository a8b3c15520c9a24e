// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme holds the styled components for the application. It detects the
// terminal's color capability and adjusts accordingly.
type Theme struct {
	// Terminal capabilities
	IsDark       bool
	HasTrueColor bool
	ColorProfile termenv.Profile

	// Layout dimensions
	Width  int
	Height int

	// ==========================================================================
	// APPLICATION CONTAINER STYLES
	// ==========================================================================

	App       lipgloss.Style
	Container lipgloss.Style

	// ==========================================================================
	// HEADER STYLES
	// ==========================================================================

	Header      lipgloss.Style
	HeaderTitle lipgloss.Style
	HeaderTopic lipgloss.Style

	// ==========================================================================
	// MESSAGE ROW STYLES
	// ==========================================================================

	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	MessageText    lipgloss.Style
	PendingText    lipgloss.Style
	ErrorText      lipgloss.Style
	Timestamp      lipgloss.Style

	// ==========================================================================
	// INPUT AREA STYLES
	// ==========================================================================

	InputContainer lipgloss.Style
	InputPrompt    lipgloss.Style
	DirectiveHint  lipgloss.Style

	// ==========================================================================
	// STATUS BAR STYLES
	// ==========================================================================

	StatusBar    lipgloss.Style
	StatusError  lipgloss.Style
	ShortcutKey  lipgloss.Style
	ShortcutDesc lipgloss.Style

	// ==========================================================================
	// SESSION LIST STYLES
	// ==========================================================================

	SessionList         lipgloss.Style
	SessionItem         lipgloss.Style
	SessionItemSelected lipgloss.Style
	SessionResearching  lipgloss.Style
	SessionShared       lipgloss.Style

	// ==========================================================================
	// SPINNER AND BANNER STYLES
	// ==========================================================================

	Spinner     lipgloss.Style
	ErrorBanner lipgloss.Style
}

// NewTheme creates a new theme with all styles configured. name selects
// the configured theme ("dark" or "light"); an empty name falls back to
// terminal background detection.
func NewTheme(name string) *Theme {
	colorProfile := termenv.ColorProfile()
	isDark := termenv.HasDarkBackground()
	switch name {
	case "dark":
		isDark = true
	case "light":
		isDark = false
	}

	t := &Theme{
		IsDark:       isDark,
		HasTrueColor: colorProfile == termenv.TrueColor,
		ColorProfile: colorProfile,
	}
	t.initStyles()
	return t
}

// initStyles initializes all the lip gloss styles.
func (t *Theme) initStyles() {
	t.App = lipgloss.NewStyle()
	t.Container = lipgloss.NewStyle().Padding(0, 1)

	// Header
	t.Header = lipgloss.NewStyle().
		Bold(true).
		Foreground(Cyan).
		Background(SurfaceDim).
		Padding(0, 2)

	t.HeaderTitle = lipgloss.NewStyle().
		Bold(true).
		Foreground(Purple)

	t.HeaderTopic = lipgloss.NewStyle().
		Foreground(TextSecondary).
		Italic(true)

	// Message rows
	t.UserLabel = lipgloss.NewStyle().
		Bold(true).
		Foreground(Cyan)

	t.AssistantLabel = lipgloss.NewStyle().
		Bold(true).
		Foreground(Purple)

	t.MessageText = lipgloss.NewStyle().
		Foreground(TextPrimary)

	t.PendingText = lipgloss.NewStyle().
		Foreground(TextMuted).
		Italic(true)

	t.ErrorText = lipgloss.NewStyle().
		Foreground(Rose)

	t.Timestamp = lipgloss.NewStyle().
		Foreground(TextMuted)

	// Input area
	t.InputContainer = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Overlay).
		Padding(0, 1)

	t.InputPrompt = lipgloss.NewStyle().
		Bold(true).
		Foreground(Cyan)

	t.DirectiveHint = lipgloss.NewStyle().
		Foreground(Amber).
		Italic(true)

	// Status bar
	t.StatusBar = lipgloss.NewStyle().
		Foreground(TextSecondary).
		Background(SurfaceDim).
		Padding(0, 1)

	t.StatusError = lipgloss.NewStyle().
		Foreground(Rose).
		Background(SurfaceDim).
		Bold(true).
		Padding(0, 1)

	t.ShortcutKey = lipgloss.NewStyle().
		Bold(true).
		Foreground(Cyan)

	t.ShortcutDesc = lipgloss.NewStyle().
		Foreground(TextMuted)

	// Session list
	t.SessionList = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Purple).
		Padding(0, 1)

	t.SessionItem = lipgloss.NewStyle().
		Foreground(TextPrimary)

	t.SessionItemSelected = lipgloss.NewStyle().
		Bold(true).
		Foreground(Cyan)

	t.SessionResearching = lipgloss.NewStyle().
		Foreground(Amber)

	t.SessionShared = lipgloss.NewStyle().
		Foreground(Emerald)

	// Spinner and banners
	t.Spinner = lipgloss.NewStyle().
		Foreground(Purple)

	t.ErrorBanner = lipgloss.NewStyle().
		Foreground(Rose).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Rose).
		Padding(0, 1)
}

// SetSize updates the theme dimensions for responsive layouts.
func (t *Theme) SetSize(width, height int) {
	t.Width = width
	t.Height = height
}

// GetLayoutMode returns the current layout mode based on width.
func (t *Theme) GetLayoutMode() LayoutMode {
	if t.Width < 60 {
		return LayoutNarrow
	}
	if t.Width < 100 {
		return LayoutMedium
	}
	return LayoutWide
}

// LayoutMode represents the current responsive layout mode.
type LayoutMode int

const (
	LayoutNarrow LayoutMode = iota // < 60 columns
	LayoutMedium                   // 60-100 columns
	LayoutWide                     // > 100 columns
)
