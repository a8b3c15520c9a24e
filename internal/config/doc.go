// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for trawl.
//
// Configuration is TOML with sensible defaults, environment variable
// overrides, and validation.
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (TRAWL_*)
//   - ~/.trawl/config.toml
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Access settings:
//
//	base := cfg.Server.BaseURL
//	timeout := cfg.Server.Timeout()
//
// A Watcher can keep the global config current while the file is edited:
//
//	w, _ := config.NewWatcher(path, time.Second, onReload)
//	_ = w.Watch()
//	defer w.Close()
package config
