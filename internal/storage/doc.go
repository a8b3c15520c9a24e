// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the local sqlite cache for trawl.
//
// The cache holds the last fetched session list and transcripts so the
// client can render content before the first network round-trip. It is
// never the source of truth: every successful fetch overwrites it, and
// any cache error is survivable.
//
// # Usage
//
// Open the cache and read the session list:
//
//	store, err := storage.Open(path)
//	sessions, err := store.LoadSessions()
//
// Write-through happens on fetch:
//
//	err := store.SaveSessions(sessions)
//	err := store.SaveTranscript(sessionID, messages)
//
// # Storage Location
//
// The database lives at ~/.trawl/cache.db unless overridden in config.
package storage
