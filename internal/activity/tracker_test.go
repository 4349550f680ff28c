// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package activity

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestRecordBeforeStartIgnored(t *testing.T) {
	tr := New(Options{})
	tr.Record(KindClick)

	if !tr.LastActivity().IsZero() {
		t.Error("Record before Start should not set the activity clock")
	}
}

func TestBurstCollapsedToOneUpdate(t *testing.T) {
	tr := New(Options{})

	var updates int64
	unsub := tr.OnActivity(func(time.Time) {
		atomic.AddInt64(&updates, 1)
	})
	defer unsub()

	tr.Start()
	for i := 0; i < 50; i++ {
		tr.Record(KindPointer)
	}

	if got := atomic.LoadInt64(&updates); got != 1 {
		t.Errorf("burst of 50 events produced %d updates, want 1", got)
	}
}

func TestDebounceWindowReopens(t *testing.T) {
	tr := New(Options{DebounceWindow: 50 * time.Millisecond})

	var updates int64
	unsub := tr.OnActivity(func(time.Time) {
		atomic.AddInt64(&updates, 1)
	})
	defer unsub()

	tr.Start()
	tr.Record(KindKeyboard)
	time.Sleep(80 * time.Millisecond)
	tr.Record(KindKeyboard)

	if got := atomic.LoadInt64(&updates); got != 2 {
		t.Errorf("events in separate windows produced %d updates, want 2", got)
	}
}

func TestStartIdempotent(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := New(Options{Clock: func() time.Time { return clock }})

	tr.Start()
	first := tr.LastActivity()

	clock = clock.Add(time.Minute)
	tr.Start() // should warn and no-op

	if !tr.LastActivity().Equal(first) {
		t.Error("second Start must not reset the activity clock")
	}
}

func TestStopHaltsRecording(t *testing.T) {
	tr := New(Options{})
	tr.Start()
	tr.Stop()

	before := tr.LastActivity()
	tr.Record(KindClick)

	if !tr.LastActivity().Equal(before) {
		t.Error("Record after Stop should be ignored")
	}
	if tr.IsTracking() {
		t.Error("IsTracking should report false after Stop")
	}
}

func TestInactiveFor(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := New(Options{Clock: func() time.Time { return clock }})
	tr.Start()

	clock = clock.Add(10 * time.Minute)

	if got := tr.InactiveFor(); got != 10*time.Minute {
		t.Errorf("InactiveFor() = %v, want 10m", got)
	}
	if !tr.IsInactive(10 * time.Minute) {
		t.Error("IsInactive(10m) should be true at exactly 10m")
	}
	if tr.IsInactive(11 * time.Minute) {
		t.Error("IsInactive(11m) should be false at 10m")
	}
}

func TestResetBypassesDebounce(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := New(Options{Clock: func() time.Time { return clock }})
	tr.Start()

	// Exhaust the debounce window.
	tr.Record(KindClick)

	clock = clock.Add(time.Minute)
	tr.Reset()

	if tr.InactiveFor() != 0 {
		t.Error("Reset must move the activity clock to now regardless of debounce state")
	}
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	tr := New(Options{DebounceWindow: time.Millisecond})

	var updates int64
	unsub := tr.OnActivity(func(time.Time) {
		atomic.AddInt64(&updates, 1)
	})

	tr.Start()
	tr.Record(KindClick)
	unsub()
	time.Sleep(5 * time.Millisecond)
	tr.Record(KindClick)

	if got := atomic.LoadInt64(&updates); got != 1 {
		t.Errorf("got %d updates after unsubscribe, want 1", got)
	}
}
