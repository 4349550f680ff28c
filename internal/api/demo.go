// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"log"
	"sync"
)

// =============================================================================
// DEMO MODE STATE
// =============================================================================

// Demo mode is process-global: once one request falls back, every caller
// should see the same degraded state until a request or health probe
// succeeds again.
var (
	demoMu     sync.RWMutex
	demoMode   bool
	demoReason string
	demoHooks  []func(entering bool, reason string)
)

// IsDemoMode reports whether the client is serving demo-mode fallbacks.
func IsDemoMode() bool {
	demoMu.RLock()
	defer demoMu.RUnlock()
	return demoMode
}

// DemoModeReason returns what pushed the client into demo mode, or "".
func DemoModeReason() string {
	demoMu.RLock()
	defer demoMu.RUnlock()
	return demoReason
}

// EnterDemoMode switches the client into demo mode. Idempotent.
func EnterDemoMode(reason string) {
	demoMu.Lock()
	if demoMode {
		demoMu.Unlock()
		return
	}
	demoMode = true
	demoReason = reason
	hooks := append([]func(bool, string){}, demoHooks...)
	demoMu.Unlock()

	log.Printf("DEMO_MODE: entered (%s)", reason)
	for _, h := range hooks {
		h(true, reason)
	}
}

// ExitDemoMode switches the client back to live mode. Idempotent.
func ExitDemoMode() {
	demoMu.Lock()
	if !demoMode {
		demoMu.Unlock()
		return
	}
	demoMode = false
	demoReason = ""
	hooks := append([]func(bool, string){}, demoHooks...)
	demoMu.Unlock()

	log.Printf("DEMO_MODE: exited, back to live backend")
	for _, h := range hooks {
		h(false, "")
	}
}

// OnDemoModeChange registers a hook invoked on every enter/exit transition.
// Hooks run outside the state lock.
func OnDemoModeChange(hook func(entering bool, reason string)) {
	demoMu.Lock()
	defer demoMu.Unlock()
	demoHooks = append(demoHooks, hook)
}

// resetDemoMode restores pristine state (tests).
func resetDemoMode() {
	demoMu.Lock()
	defer demoMu.Unlock()
	demoMode = false
	demoReason = ""
	demoHooks = nil
}
