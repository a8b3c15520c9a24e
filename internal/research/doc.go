// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package research tracks long-running research jobs and folds their
// outcomes back into the transcript.
//
// The orchestrator owns at most one task per session and is the source of
// truth for that mutual exclusion: a send attempt for a session with a live
// task must be rejected before it reaches the backend. Tasks are polled on
// a recurring tick with per-task scheduling (NextPollAt) and an in-flight
// set that prevents duplicate concurrent polls of the same job.
//
// The orchestrator never touches the transcript directly. Terminal and
// progress outcomes are emitted as chatlog actions through a dispatch
// callback, and only when the task's session is the one currently being
// viewed; resolved state for other sessions is kept locally until the user
// returns to them, at which point the server's transcript is authoritative.
package research
