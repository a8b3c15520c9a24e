// args.go - Argument parsing for the trawl binary.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"strings"
)

// =============================================================================
// ARG PARSER
// =============================================================================

// ArgParser parses the trawl command line. It handles multiple flag
// formats consistently:
//   - Long flags: --flag value or --flag=value
//   - Short flags: -f value
//   - Boolean flags: --flag (no value needed)
//   - Positional arguments: arguments without flags
//
// trawl's surface is small: --plain forces the line-mode REPL, --config
// points at an alternate config file, --session opens a session directly,
// and --no-cache disables the sqlite cache.
type ArgParser struct {
	flags      map[string]string
	boolFlags  map[string]bool
	positional []string
	raw        []string
}

// NewArgParser creates a new argument parser from raw arguments.
//
// Supported flag formats:
//
//	--flag value     Long flag with space-separated value
//	--flag=value     Long flag with equals sign
//	-f value         Short flag with space-separated value
//	--flag           Boolean flag (no value)
//
// Example:
//
//	args := NewArgParser([]string{"--plain", "--config=/tmp/trawl.toml"})
//	args.BoolFlag("plain")  // true
//	args.Flag("config")     // "/tmp/trawl.toml"
func NewArgParser(raw []string) *ArgParser {
	parser := &ArgParser{
		flags:      make(map[string]string),
		boolFlags:  make(map[string]bool),
		positional: make([]string, 0),
		raw:        raw,
	}

	i := 0
	for i < len(raw) {
		arg := raw[i]

		if strings.HasPrefix(arg, "-") {
			// Handle --flag=value format
			if strings.Contains(arg, "=") {
				parts := strings.SplitN(arg, "=", 2)
				flagName := strings.TrimLeft(parts[0], "-")
				flagValue := parts[1]

				// Boolean flags can be explicit: --plain=true, --plain=false
				if flagValue == "true" || flagValue == "false" {
					parser.boolFlags[flagName] = flagValue == "true"
				} else {
					parser.flags[flagName] = flagValue
				}
				i++
				continue
			}

			flagName := strings.TrimLeft(arg, "-")

			// Check if next arg is a value (not a flag and not end of args)
			if i+1 < len(raw) && !strings.HasPrefix(raw[i+1], "-") {
				parser.flags[flagName] = raw[i+1]
				i += 2
			} else {
				parser.boolFlags[flagName] = true
				i++
			}
		} else {
			parser.positional = append(parser.positional, arg)
			i++
		}
	}

	return parser
}

// Flag returns the value of a string flag.
// Returns empty string if flag not found.
// Supports both long and short flag names.
func (p *ArgParser) Flag(name string) string {
	if val, ok := p.flags[name]; ok {
		return val
	}

	name = strings.TrimLeft(name, "-")
	if val, ok := p.flags[name]; ok {
		return val
	}

	return ""
}

// FlagOrDefault returns the flag value or a default if not found.
func (p *ArgParser) FlagOrDefault(name, defaultValue string) string {
	if val := p.Flag(name); val != "" {
		return val
	}
	return defaultValue
}

// BoolFlag returns the value of a boolean flag.
// Returns false if flag not found.
func (p *ArgParser) BoolFlag(name string) bool {
	if val, ok := p.boolFlags[name]; ok {
		return val
	}

	name = strings.TrimLeft(name, "-")
	if val, ok := p.boolFlags[name]; ok {
		return val
	}

	return false
}

// Positional returns the positional argument at the given index.
// Returns empty string if index out of bounds.
func (p *ArgParser) Positional(index int) string {
	if index < 0 || index >= len(p.positional) {
		return ""
	}
	return p.positional[index]
}

// PositionalCount returns the number of positional arguments.
func (p *ArgParser) PositionalCount() int {
	return len(p.positional)
}

// HasFlag returns true if the flag exists (either as string or bool flag).
func (p *ArgParser) HasFlag(name string) bool {
	name = strings.TrimLeft(name, "-")
	_, hasString := p.flags[name]
	_, hasBool := p.boolFlags[name]
	return hasString || hasBool
}

// Raw returns the original raw arguments.
func (p *ArgParser) Raw() []string {
	return p.raw
}
