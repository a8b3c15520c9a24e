// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chatlog implements the transcript state machine.
//
// The whole package is a single pure transition function, Apply, over an
// explicit State value and a closed set of Action types. Callers dispatch
// actions in order; given the same action sequence the resulting transcript
// is always the same. Placeholder messages created by SendStart and
// AddPendingResearch are mutated in place by id, so a message never moves
// once it has a position in the transcript.
//
// Apply never mutates its input state: unchanged fields are shared, changed
// slices and maps are copied first. Actions that turn out to be no-ops
// (stale progress for an already-resolved placeholder, for example) return
// the input state unchanged so callers can cheaply detect them.
package chatlog
