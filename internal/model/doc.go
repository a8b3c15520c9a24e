// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures shared by the trawl core:
// chat messages, workspace sessions, and their constructors.
//
// The types here are plain values with no behavior beyond formatting
// helpers. Ownership rules: the chatlog package owns message identity and
// text, the directory package owns sessions, and the research package
// references both only by id.
package model
