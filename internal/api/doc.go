// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api is the HTTP client for the TableVine backend, with bounded
// retries and a demo-mode fallback: when the backend is unreachable and
// retries are exhausted, callers receive a demo-mode response instead of an
// error so the UI can degrade to canned data rather than break.
package api
