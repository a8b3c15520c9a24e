// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package composer classifies outgoing chat input before it is sent.
package composer

import (
	"strings"
	"unicode"
)

// Directive is the command prefix that forces a background research job.
// Matching is case-insensitive.
const Directive = "/research"

// =============================================================================
// PARSE RESULT
// =============================================================================

// Result contains the classification of one piece of user input.
type Result struct {
	// IsDirective is true if the input starts with the research directive.
	IsDirective bool

	// Payload is the text after the directive (or the trimmed input when
	// no directive is present).
	Payload string

	// IsEmptyDirective is true when the directive is present but the
	// payload trims to empty. Callers must block submission in that case
	// and show a hint instead of sending an empty forced job.
	IsEmptyDirective bool
}

// =============================================================================
// PARSING
// =============================================================================

// Parse classifies raw composer input.
//
// Parse is a pure function and is total over all string inputs: empty
// strings, whitespace, and inputs without the directive all return a
// well-formed Result.
func Parse(input string) Result {
	trimmed := strings.TrimSpace(input)

	if !hasDirectivePrefix(trimmed) {
		return Result{Payload: trimmed}
	}

	payload := strings.TrimSpace(trimmed[len(Directive):])
	return Result{
		IsDirective:      true,
		Payload:          payload,
		IsEmptyDirective: payload == "",
	}
}

// hasDirectivePrefix reports whether the input starts with the directive
// token followed by whitespace or end of input. "/researching" is not a
// directive.
func hasDirectivePrefix(input string) bool {
	if len(input) < len(Directive) {
		return false
	}
	if !strings.EqualFold(input[:len(Directive)], Directive) {
		return false
	}
	if len(input) == len(Directive) {
		return true
	}
	next := []rune(input[len(Directive):])[0]
	return unicode.IsSpace(next)
}
