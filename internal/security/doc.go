// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package security provides the session-security layer of the client core:
// device identity, obfuscated persistence of session records, remember-me
// handling, hijack detection, and a bounded audit trail.
//
// # Threat model
//
// This layer favors convenience over strict security. The device fingerprint
// is a heuristic identity that drifts with OS and runtime updates; a mismatch
// is reported, never enforced. Persisted records are obfuscated with a
// reversible encoding, not encrypted. Corrupted records are cleared and
// treated as absent (fail-open). Callers that need hard guarantees must add
// them on top.
package security
