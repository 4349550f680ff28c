// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/tablevine/tablevine-core/internal/activity"
)

// =============================================================================
// MANAGER
// =============================================================================

// ManagerConfig wires the lifecycle sub-managers. Either sub-manager can be
// disabled independently; a kiosk build runs auto-logout without refresh,
// a back-office build may do the opposite.
type ManagerConfig struct {
	// AutoLogoutEnabled arms the inactivity machine.
	AutoLogoutEnabled bool

	// AutoLogout configures the inactivity machine.
	AutoLogout AutoLogoutConfig

	// Callbacks for auto-logout transitions.
	Callbacks Callbacks

	// RefreshEnabled starts the periodic token refresher.
	// Requires RefreshFunc.
	RefreshEnabled bool

	// Refresh configures the refresher schedule.
	Refresh RefresherConfig

	// RefreshFunc performs one token renewal.
	RefreshFunc RefreshFunc
}

// Status is a point-in-time snapshot of the session lifecycle.
type Status struct {
	Initialized    bool
	State          State
	InactiveFor    time.Duration
	Remaining      time.Duration
	WarningVisible bool
	RefreshRunning bool
	LastRefresh    time.Time
}

// Manager owns the session lifecycle: it starts the activity tracker, arms
// auto-logout, and schedules token refresh. One Manager per signed-in user.
type Manager struct {
	mu          sync.Mutex
	tracker     *activity.Tracker
	autoLogout  *AutoLogout
	refresher   *Refresher
	initialized bool
}

// NewManager creates an uninitialized manager over tracker.
func NewManager(tracker *activity.Tracker) *Manager {
	return &Manager{tracker: tracker}
}

// Init starts the tracker and the enabled sub-managers.
// Calling Init while initialized logs a warning and is a no-op; Cleanup
// first to reconfigure.
func (m *Manager) Init(cfg ManagerConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		log.Printf("SESSION_MANAGER: Init called while already initialized; ignoring")
		return
	}

	m.tracker.Start()

	if cfg.AutoLogoutEnabled {
		m.autoLogout = NewAutoLogout(m.tracker, cfg.AutoLogout, cfg.Callbacks)
		m.autoLogout.Start()
	}
	if cfg.RefreshEnabled && cfg.RefreshFunc != nil {
		m.refresher = NewRefresher(m.tracker, cfg.RefreshFunc, cfg.Refresh)
		m.refresher.Start()
	}

	m.initialized = true
	log.Printf("SESSION_MANAGER: initialized (autoLogout=%v refresh=%v)",
		m.autoLogout != nil, m.refresher != nil)
}

// Cleanup stops everything and returns the manager to its pre-Init state,
// allowing a later re-Init. Safe to call repeatedly.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return
	}
	if m.autoLogout != nil {
		m.autoLogout.Stop()
		m.autoLogout = nil
	}
	if m.refresher != nil {
		m.refresher.Stop()
		m.refresher = nil
	}
	m.tracker.Stop()
	m.initialized = false
	log.Printf("SESSION_MANAGER: cleaned up")
}

// ExtendSession resets the idle clock and clears any pending warning.
func (m *Manager) ExtendSession() {
	m.mu.Lock()
	al := m.autoLogout
	m.mu.Unlock()

	if al != nil {
		al.ExtendSession()
		return
	}
	m.tracker.Reset()
}

// ForceRefresh renews the token immediately, bypassing schedule and
// idle-skip. A no-op error-free call when refresh is not configured.
func (m *Manager) ForceRefresh(ctx context.Context) error {
	m.mu.Lock()
	r := m.refresher
	m.mu.Unlock()

	if r == nil {
		return nil
	}
	return r.ForceRefresh(ctx)
}

// Status returns a snapshot of the lifecycle state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Status{
		Initialized: m.initialized,
		State:       StateDisabled,
		InactiveFor: m.tracker.InactiveFor(),
	}
	if m.autoLogout != nil {
		s.State = m.autoLogout.State()
		s.Remaining = m.autoLogout.RemainingTime()
		s.WarningVisible = s.State == StateWarning
	}
	if m.refresher != nil {
		s.RefreshRunning = m.refresher.IsRunning()
		s.LastRefresh = m.refresher.LastRefresh()
	}
	return s
}
