// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session coordinates the session lifetime on the client: an
// inactivity-driven auto-logout state machine, a periodic token refresher
// that skips refreshes while the user is idle, and a Manager that wires the
// two to the activity tracker and session security checks.
//
// The auto-logout machine never logs the user out directly. It fires
// callbacks; the composition root decides what logout means (clearing
// storage, navigating to login, and so on).
package session
