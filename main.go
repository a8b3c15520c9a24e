// trawl - A terminal client for the chat workspace with background
// research tasks.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"github.com/averyhale/trawl-tui/internal/api"
	"github.com/averyhale/trawl-tui/internal/chatlog"
	"github.com/averyhale/trawl-tui/internal/cli"
	"github.com/averyhale/trawl-tui/internal/config"
	"github.com/averyhale/trawl-tui/internal/directory"
	"github.com/averyhale/trawl-tui/internal/research"
	"github.com/averyhale/trawl-tui/internal/storage"
	"github.com/averyhale/trawl-tui/internal/ui/chat"
	"github.com/averyhale/trawl-tui/internal/ui/styles"
)

// Version information (set at build time)
var (
	Version   = "0.2.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "trawl: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Local development convenience; a missing .env is not an error.
	_ = godotenv.Load()

	args := cli.NewArgParser(os.Args[1:])

	if args.BoolFlag("version") || args.BoolFlag("v") {
		fmt.Printf("trawl %s (%s, built %s)\n", Version, GitCommit, BuildDate)
		return nil
	}
	if args.BoolFlag("help") || args.BoolFlag("h") {
		printUsage()
		return nil
	}

	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	if args.BoolFlag("reset-cache") {
		if err := resetCache(cfg); err != nil {
			return err
		}
		fmt.Println("session cache cleared")
		return nil
	}

	client := api.NewHTTPClient(cfg.Server.BaseURL, cfg.Server.APIToken).
		WithTimeout(cfg.Server.Timeout()).
		WithMaxRetries(cfg.Server.MaxRetries)

	if args.BoolFlag("plain") || !cli.IsInteractive() {
		return cli.RunREPL(cli.ReplOptions{
			Client:    client,
			Config:    cfg,
			SessionID: args.Flag("session"),
		})
	}

	return runTUI(args, cfg, client)
}

// loadConfig resolves the configuration from --config, the default path,
// environment overrides, and command-line switches, in that order.
func loadConfig(args *cli.ArgParser) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if path := args.Flag("config"); path != "" {
		cfg, err = config.LoadFromPath(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	if args.BoolFlag("no-cache") {
		cfg.Storage.Enabled = false
	}
	if theme := args.Flag("theme"); theme != "" {
		cfg.UI.Theme = theme
	}

	config.SetGlobal(cfg)
	return cfg, nil
}

// resetCache empties the local sqlite cache at its configured location.
func resetCache(cfg *config.Config) error {
	path, err := cfg.CachePath()
	if err != nil {
		return fmt.Errorf("resolve cache path: %w", err)
	}
	store, err := storage.Open(path)
	if err != nil {
		return fmt.Errorf("open session cache: %w", err)
	}
	defer store.Close()
	return store.Clear()
}

// runTUI wires the full-screen interface: the sqlite cache, the directory
// synchronizer, the research orchestrator, and the Bubble Tea program.
func runTUI(args *cli.ArgParser, cfg *config.Config, client *api.HTTPClient) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The cache is best effort: failing to open it degrades to a purely
	// online session instead of aborting startup.
	var store *storage.Store
	if cfg.Storage.Enabled {
		path, err := cfg.CachePath()
		if err == nil {
			store, err = storage.Open(path)
		}
		if err != nil {
			log.Printf("session cache unavailable: %v", err)
			store = nil
		}
	}
	if store != nil {
		defer store.Close()
	}

	orch := research.New(client, research.Config{
		TickInterval: time.Second,
		FastInterval: cfg.Polling.FastInterval(),
		SlowInterval: cfg.Polling.SlowInterval(),
		SlowAfter:    cfg.Polling.SlowAfter,
	}, nil, nil)

	var cache directory.Cache
	if store != nil {
		cache = store
	}
	dir := directory.New(client, cache, orch, nil)
	orch.SetViewed(dir.CurrentSession)

	theme := styles.NewTheme(cfg.UI.Theme)
	m := chat.New(chat.Options{
		Client:       client,
		Directory:    dir,
		Orchestrator: orch,
		Theme:        theme,
		Markdown:     cfg.UI.Markdown,
	})

	p := tea.NewProgram(m, tea.WithAltScreen())

	// All transcript mutations arrive on the update goroutine as
	// ActionMsg values.
	dispatch := func(a chatlog.Action) {
		p.Send(chat.ActionMsg{Action: a})
	}
	orch.SetDispatch(dispatch)
	dir.SetDispatch(dispatch)
	dir.SetOnChange(func(s directory.Snapshot) {
		p.Send(chat.DirectoryMsg{Snapshot: s})
	})

	// Show the cached list while the first fetch is in flight.
	if store != nil {
		if sessions, err := store.LoadSessions(); err == nil {
			dir.SeedSessions(sessions)
		}
	}

	go orch.Run(ctx)

	// Hot reload of ~/.trawl/config.toml. Edits apply to the global
	// config; components read it on their next use.
	if path, err := config.ConfigPath(); err == nil {
		watcher, werr := config.NewWatcher(path, time.Second, func(*config.Config) {
			log.Printf("configuration reloaded from %s", path)
		})
		if werr == nil && watcher.Watch() == nil {
			defer watcher.Close()
		}
	}

	if sessionID := args.Flag("session"); sessionID != "" {
		dir.OpenTranscript(ctx, sessionID)
	}

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run interface: %w", err)
	}
	return nil
}

func printUsage() {
	fmt.Print(`trawl - chat workspace client

Usage:
  trawl [flags]

Flags:
  --plain              Line-mode REPL instead of the full-screen TUI
  --config <path>      Alternate config file (default ~/.trawl/config.toml)
  --session <id>       Open a session directly
  --theme <dark|light> Override the configured theme
  --no-cache           Disable the local session cache
  --reset-cache        Empty the local session cache and exit
  --version            Print version and exit
  --help               Show this help

Environment:
  TRAWL_BASE_URL, TRAWL_API_TOKEN, TRAWL_TIMEOUT_SECS,
  TRAWL_FAST_POLL_SECS, TRAWL_SLOW_POLL_SECS, TRAWL_THEME, TRAWL_NO_CACHE
`)
}
