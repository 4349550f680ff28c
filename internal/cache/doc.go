// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cache provides the client-side data cache: a TTL cache with
// advisory staleness, tag-based invalidation, size-bounded eviction, and
// in-flight fetch deduplication.
//
// # Staleness vs expiry
//
// An entry is stale once 80% of its TTL window has elapsed and expired once
// the full TTL has elapsed. Stale data is still served; staleness is an
// advisory signal telling callers a revalidating Fetch is worthwhile. The
// cache never revalidates in the background on its own.
//
// # Fetch coalescing
//
// Concurrent Fetch calls for the same key during one in-flight window share
// exactly one fetcher invocation and all observe its outcome. This is the
// cache's one hard concurrency guarantee.
package cache
