// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the key-value persistence collaborator used by the
// client core for remember-me data, session records, and the audit trail.
//
// The core treats persistence as an opaque get/set/remove store with prefix
// scans. Three implementations are provided:
//
//   - MemoryStore: process-local map, used in tests and as the default
//   - FileStore: a single JSON file with atomic writes
//   - SQLiteStore: a SQLite-backed store for installations that already
//     carry a local database
//
// All values are opaque strings; callers are responsible for encoding.
package storage
