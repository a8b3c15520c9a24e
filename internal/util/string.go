// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import "github.com/mattn/go-runewidth"

// TruncateRunes truncates a string to a maximum number of runes
// (characters). Safe for UTF-8 strings as it counts characters, not
// bytes. If the string is truncated, "..." is appended.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}

// TruncateWidth truncates a string to a maximum display width with an
// ellipsis. Double-width characters (CJK) count as 2 columns.
func TruncateWidth(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if maxWidth <= 3 {
		return runewidth.Truncate(s, maxWidth, "")
	}
	return runewidth.Truncate(s, maxWidth, "...")
}

// PadWidth pads a string with spaces to an exact display width,
// truncating first if it is too wide.
func PadWidth(s string, width int) string {
	return runewidth.FillRight(TruncateWidth(s, width), width)
}

// StringWidth returns the display width of a string. Double-width
// characters (CJK) count as 2 columns.
func StringWidth(s string) int {
	return runewidth.StringWidth(s)
}

// RuneLen returns the number of runes (characters) in a string.
func RuneLen(s string) int {
	return len([]rune(s))
}
