// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api implements the HTTP client for the trawl backend.
//
// The backend answers a chat message either synchronously (kind "message")
// or by deferring it to a long-running research job (kind "task") which the
// client then polls. The client retries transient failures (5xx, 429) with
// exponential backoff, never retries context cancellation, bounds response
// reads, and rate-limits the research poll endpoint.
//
// Everything above this package reasons about outcomes, not transport:
// callers receive either a decoded result, ErrTaskNotFound, or a wrapped
// error they can classify with errors.Is/As.
package api
