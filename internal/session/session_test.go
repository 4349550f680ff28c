// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tablevine/tablevine-core/internal/activity"
)

// testClock is a manually-advanced clock shared by tracker and machine.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestMachine(cb Callbacks) (*AutoLogout, *activity.Tracker, *testClock) {
	clock := newTestClock()
	tracker := activity.New(activity.Options{Clock: clock.Now})
	tracker.Start()
	a := NewAutoLogout(tracker, AutoLogoutConfig{
		Timeout: 30 * time.Minute,
		Warning: 5 * time.Minute,
		Clock:   clock.Now,
	}, cb)
	a.Start()
	return a, tracker, clock
}

// =============================================================================
// AUTO-LOGOUT TESTS
// =============================================================================

func TestAutoLogoutWarningThenLogout(t *testing.T) {
	var warnings []int
	var logouts int
	a, _, clock := newTestMachine(Callbacks{
		OnWarning: func(m int) { warnings = append(warnings, m) },
		OnLogout:  func() { logouts++ },
	})
	defer a.Stop()

	// Inside the safe window: nothing fires.
	clock.Advance(20 * time.Minute)
	a.check()
	if a.State() != StateActive {
		t.Fatalf("state at 20m idle = %v, want active", a.State())
	}

	// Inside the warning window.
	clock.Advance(6 * time.Minute)
	a.check()
	if a.State() != StateWarning {
		t.Fatalf("state at 26m idle = %v, want warning", a.State())
	}
	if len(warnings) != 1 || warnings[0] != 4 {
		t.Errorf("warnings = %v, want [4]", warnings)
	}

	// A second check while warned must not re-fire the warning.
	a.check()
	if len(warnings) != 1 {
		t.Errorf("warning re-fired without a state change: %v", warnings)
	}

	// Past the timeout.
	clock.Advance(5 * time.Minute)
	a.check()
	if logouts != 1 {
		t.Errorf("logouts = %d, want 1", logouts)
	}
	if a.State() != StateDisabled {
		t.Errorf("state after logout = %v, want disabled", a.State())
	}

	// A late check on a disabled machine is a no-op.
	a.check()
	if logouts != 1 {
		t.Errorf("logout fired twice: %d", logouts)
	}
}

func TestAutoLogoutWarningRearmsAfterActivity(t *testing.T) {
	var warnings int
	a, tracker, clock := newTestMachine(Callbacks{
		OnWarning: func(int) { warnings++ },
	})
	defer a.Stop()

	clock.Advance(26 * time.Minute)
	a.check()
	if warnings != 1 {
		t.Fatalf("warnings = %d, want 1", warnings)
	}

	// User comes back: state drops to active and the warning can fire again.
	tracker.Reset()
	a.check()
	if a.State() != StateActive {
		t.Fatalf("state after renewed activity = %v, want active", a.State())
	}

	clock.Advance(26 * time.Minute)
	a.check()
	if warnings != 2 {
		t.Errorf("warnings after second idle stretch = %d, want 2", warnings)
	}
}

func TestAutoLogoutExtendSession(t *testing.T) {
	var extends int
	a, _, clock := newTestMachine(Callbacks{
		OnExtend: func() { extends++ },
	})
	defer a.Stop()

	clock.Advance(27 * time.Minute)
	a.check()
	if a.State() != StateWarning {
		t.Fatalf("state = %v, want warning", a.State())
	}

	a.ExtendSession()
	if a.State() != StateActive {
		t.Errorf("state after extend = %v, want active", a.State())
	}
	if extends != 1 {
		t.Errorf("extends = %d, want 1", extends)
	}
	if got := a.RemainingTime(); got != 30*time.Minute {
		t.Errorf("RemainingTime after extend = %v, want 30m", got)
	}
}

func TestAutoLogoutDoubleStartIgnored(t *testing.T) {
	a, _, _ := newTestMachine(Callbacks{})
	defer a.Stop()

	a.Start() // must warn and no-op, not panic or double-arm
	if a.State() != StateActive {
		t.Errorf("state after double Start = %v, want active", a.State())
	}
}

func TestRemainingMinutesRoundsUp(t *testing.T) {
	a, _, clock := newTestMachine(Callbacks{})
	defer a.Stop()

	clock.Advance(29*time.Minute + 30*time.Second)
	if got := a.RemainingMinutes(); got != 1 {
		t.Errorf("RemainingMinutes at 30s left = %d, want 1", got)
	}

	clock.Advance(time.Minute)
	if got := a.RemainingMinutes(); got != 0 {
		t.Errorf("RemainingMinutes past timeout = %d, want 0", got)
	}
}

// =============================================================================
// REFRESHER TESTS
// =============================================================================

func TestRefresherSkipsWhileIdle(t *testing.T) {
	clock := newTestClock()
	tracker := activity.New(activity.Options{Clock: clock.Now})
	tracker.Start()

	var calls int
	r := NewRefresher(tracker, func(context.Context) error {
		calls++
		return nil
	}, RefresherConfig{IdleSkip: 15 * time.Minute})

	clock.Advance(20 * time.Minute)
	r.tick()
	if calls != 0 {
		t.Errorf("idle tick refreshed anyway: calls = %d", calls)
	}

	tracker.Reset()
	r.tick()
	if calls != 1 {
		t.Errorf("active tick did not refresh: calls = %d", calls)
	}
	if r.LastRefresh().IsZero() {
		t.Error("LastRefresh not recorded on success")
	}
}

func TestRefresherSurvivesFailure(t *testing.T) {
	clock := newTestClock()
	tracker := activity.New(activity.Options{Clock: clock.Now})
	tracker.Start()

	var failures int
	boom := errors.New("backend down")
	r := NewRefresher(tracker, func(context.Context) error {
		return boom
	}, RefresherConfig{
		OnRefreshError: func(err error) {
			failures++
			if !errors.Is(err, boom) {
				t.Errorf("OnRefreshError got %v, want %v", err, boom)
			}
		},
	})

	r.tick()
	r.tick()
	if failures != 2 {
		t.Errorf("failures = %d, want 2 (schedule must keep retrying)", failures)
	}
	if !r.LastRefresh().IsZero() {
		t.Error("LastRefresh must not be set by failed refreshes")
	}
}

func TestForceRefreshBypassesIdleSkip(t *testing.T) {
	clock := newTestClock()
	tracker := activity.New(activity.Options{Clock: clock.Now})
	tracker.Start()
	clock.Advance(time.Hour)

	var calls int
	r := NewRefresher(tracker, func(context.Context) error {
		calls++
		return nil
	}, RefresherConfig{})

	if err := r.ForceRefresh(context.Background()); err != nil {
		t.Fatalf("ForceRefresh: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRefresherStartStop(t *testing.T) {
	tracker := activity.New(activity.Options{})
	tracker.Start()

	r := NewRefresher(tracker, func(context.Context) error { return nil }, RefresherConfig{})
	r.Start()
	r.Start() // warns and no-ops
	if !r.IsRunning() {
		t.Error("refresher should be running after Start")
	}

	r.Stop()
	r.Stop() // safe to repeat
	if r.IsRunning() {
		t.Error("refresher should be stopped after Stop")
	}
}

// =============================================================================
// MANAGER TESTS
// =============================================================================

func TestManagerLifecycle(t *testing.T) {
	tracker := activity.New(activity.Options{})
	m := NewManager(tracker)

	cfg := ManagerConfig{
		AutoLogoutEnabled: true,
		RefreshEnabled:    true,
		RefreshFunc:       func(context.Context) error { return nil },
	}
	m.Init(cfg)
	m.Init(cfg) // warns and no-ops

	s := m.Status()
	if !s.Initialized {
		t.Fatal("Status.Initialized = false after Init")
	}
	if s.State != StateActive {
		t.Errorf("Status.State = %v, want active", s.State)
	}
	if !s.RefreshRunning {
		t.Error("Status.RefreshRunning = false, want true")
	}

	m.Cleanup()
	s = m.Status()
	if s.Initialized || s.State != StateDisabled {
		t.Errorf("after Cleanup: initialized=%v state=%v", s.Initialized, s.State)
	}
	if tracker.IsTracking() {
		t.Error("tracker still running after Cleanup")
	}

	// Re-init after cleanup is allowed.
	m.Init(cfg)
	if !m.Status().Initialized {
		t.Error("re-Init after Cleanup failed")
	}
	m.Cleanup()
}

func TestManagerForceRefreshWithoutRefresher(t *testing.T) {
	tracker := activity.New(activity.Options{})
	m := NewManager(tracker)
	m.Init(ManagerConfig{AutoLogoutEnabled: true})
	defer m.Cleanup()

	if err := m.ForceRefresh(context.Background()); err != nil {
		t.Errorf("ForceRefresh without refresher = %v, want nil", err)
	}
}
