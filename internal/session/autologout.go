// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"log"
	"math"
	"sync"
	"time"

	"github.com/tablevine/tablevine-core/internal/activity"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultInactivityTimeout logs the user out after 30 minutes idle.
	DefaultInactivityTimeout = 30 * time.Minute

	// DefaultWarningWindow fires the warning 5 minutes before logout.
	DefaultWarningWindow = 5 * time.Minute

	// DefaultCheckInterval is how often idle time is evaluated.
	DefaultCheckInterval = 60 * time.Second
)

// =============================================================================
// STATE
// =============================================================================

// State is the auto-logout machine's phase.
type State int

const (
	// StateDisabled means the machine is not running.
	StateDisabled State = iota

	// StateActive means the user is within the safe window.
	StateActive

	// StateWarning means logout is imminent and the warning has fired.
	StateWarning
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateActive:
		return "active"
	case StateWarning:
		return "warning"
	default:
		return "unknown"
	}
}

// =============================================================================
// AUTO-LOGOUT
// =============================================================================

// AutoLogoutConfig configures the inactivity machine.
type AutoLogoutConfig struct {
	// Timeout is the idle duration that triggers logout (default: 30m).
	Timeout time.Duration

	// Warning is how long before logout the warning fires (default: 5m).
	Warning time.Duration

	// CheckInterval is the evaluation period (default: 60s).
	CheckInterval time.Duration

	// Clock overrides time.Now (tests).
	Clock func() time.Time
}

// Callbacks are invoked by the machine on state transitions. All callbacks
// run outside the machine's lock and may call back into it.
type Callbacks struct {
	// OnWarning fires once when the warning window is entered, with the
	// whole minutes remaining before logout (rounded up, minimum 1).
	OnWarning func(remainingMinutes int)

	// OnLogout fires once when the idle timeout elapses. The machine stops
	// itself first, so the handler sees a disabled machine.
	OnLogout func()

	// OnExtend fires when ExtendSession succeeds.
	OnExtend func()
}

// AutoLogout watches the activity tracker and drives the
// disabled/active/warning lifecycle. It decides when to log out but never
// performs the logout itself.
type AutoLogout struct {
	mu      sync.Mutex
	tracker *activity.Tracker
	cfg     AutoLogoutConfig
	cb      Callbacks
	state   State
	stop    chan struct{}
	now     func() time.Time
}

// NewAutoLogout creates a stopped machine. Zero config fields take the
// package defaults.
func NewAutoLogout(tracker *activity.Tracker, cfg AutoLogoutConfig, cb Callbacks) *AutoLogout {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultInactivityTimeout
	}
	if cfg.Warning <= 0 || cfg.Warning >= cfg.Timeout {
		cfg.Warning = DefaultWarningWindow
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &AutoLogout{
		tracker: tracker,
		cfg:     cfg,
		cb:      cb,
		state:   StateDisabled,
		now:     cfg.Clock,
	}
}

// Start arms the machine and begins periodic idle checks.
// Starting an already-running machine logs a warning and is a no-op.
func (a *AutoLogout) Start() {
	a.mu.Lock()
	if a.state != StateDisabled {
		a.mu.Unlock()
		log.Printf("AUTO_LOGOUT: Start called while already running; ignoring")
		return
	}
	a.state = StateActive
	a.stop = make(chan struct{})
	stop := a.stop
	a.mu.Unlock()

	go a.loop(stop)
	log.Printf("AUTO_LOGOUT: armed (timeout=%s warning=%s)", a.cfg.Timeout, a.cfg.Warning)
}

// Stop disarms the machine without firing any callback.
func (a *AutoLogout) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
}

// stopLocked disarms the machine. Caller holds mu.
func (a *AutoLogout) stopLocked() {
	if a.state == StateDisabled {
		return
	}
	a.state = StateDisabled
	close(a.stop)
	a.stop = nil
}

// State returns the machine's current phase.
func (a *AutoLogout) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// ExtendSession resets the idle clock, clears a pending warning, and fires
// OnExtend. A no-op while the machine is disabled.
func (a *AutoLogout) ExtendSession() {
	a.mu.Lock()
	if a.state == StateDisabled {
		a.mu.Unlock()
		return
	}
	a.tracker.Reset()
	a.state = StateActive
	cb := a.cb.OnExtend
	a.mu.Unlock()

	log.Printf("AUTO_LOGOUT: session extended")
	if cb != nil {
		cb()
	}
}

// RemainingTime returns how long until logout, floored at zero.
func (a *AutoLogout) RemainingTime() time.Duration {
	remaining := a.cfg.Timeout - a.tracker.InactiveFor()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RemainingMinutes returns the whole minutes until logout, rounded up.
func (a *AutoLogout) RemainingMinutes() int {
	return int(math.Ceil(a.RemainingTime().Minutes()))
}

func (a *AutoLogout) loop(stop chan struct{}) {
	ticker := time.NewTicker(a.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.check()
		case <-stop:
			return
		}
	}
}

// check evaluates idle time once and performs any due transition.
// Split out from loop so tests can drive the machine without the ticker.
func (a *AutoLogout) check() {
	idle := a.tracker.InactiveFor()
	remaining := a.cfg.Timeout - idle

	a.mu.Lock()
	if a.state == StateDisabled {
		a.mu.Unlock()
		return
	}

	switch {
	case remaining <= 0:
		// Timed out. Disarm first so the handler observes a stopped
		// machine and a late ticker fire cannot double-logout.
		a.stopLocked()
		cb := a.cb.OnLogout
		a.mu.Unlock()

		log.Printf("AUTO_LOGOUT: inactivity timeout reached (idle=%s)", idle.Round(time.Second))
		if cb != nil {
			cb()
		}

	case remaining <= a.cfg.Warning:
		if a.state == StateWarning {
			a.mu.Unlock()
			return
		}
		a.state = StateWarning
		cb := a.cb.OnWarning
		a.mu.Unlock()

		minutes := int(math.Ceil(remaining.Minutes()))
		if minutes < 1 {
			minutes = 1
		}
		log.Printf("AUTO_LOGOUT: warning issued (%d minute(s) remaining)", minutes)
		if cb != nil {
			cb(minutes)
		}

	default:
		// Activity resumed while warned: drop back to active so the
		// warning can fire again on the next idle stretch.
		a.state = StateActive
		a.mu.Unlock()
	}
}
