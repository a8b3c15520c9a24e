// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line parsing and the plain-mode REPL for
// trawl.
//
// The package has two jobs. First, parsing the small trawl command line
// (--plain, --config, --session, --no-cache) through ArgParser. Second,
// running the line-mode chat loop used when the full-screen TUI is not
// available: piped output, dumb terminals, or an explicit --plain.
//
// # Key Types
//
//   - ArgParser: flag and positional argument parsing
//   - ChatCLI: liner-backed input with persistent history
//   - ReplSession: state for one plain-mode run
//
// # Usage
//
//	args := cli.NewArgParser(os.Args[1:])
//	if args.BoolFlag("plain") || !cli.IsInteractive() {
//	    return cli.RunREPL(cli.ReplOptions{
//	        Client:    client,
//	        Config:    cfg,
//	        SessionID: args.Flag("session"),
//	    })
//	}
//
// Unlike the TUI, the REPL resolves research tasks synchronously: it
// polls in the foreground and prints progress lines until the task
// completes or fails. Ctrl+C stops the wait without killing the task
// server-side.
package cli
