// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package activity tracks time since the last user interaction.
//
// UI code reports raw interaction events through Record; bursts are collapsed
// to at most one update per debounce window, so continuous input (mouse
// movement, key repeat) cannot flood the subscribers. The tracker itself has
// no notion of what an interaction is; event kinds are opaque labels chosen
// by the caller.
package activity

import (
	"log"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"golang.org/x/time/rate"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// DefaultDebounceWindow collapses interaction bursts to one update per 5s.
const DefaultDebounceWindow = 5 * time.Second

// activityTopic is the internal bus topic for debounced activity updates.
const activityTopic = "activity:update"

// Interaction kinds reported by UI layers. Opaque labels, not an enum: any
// string is accepted.
const (
	KindPointer  = "pointer"
	KindKeyboard = "keyboard"
	KindTouch    = "touch"
	KindScroll   = "scroll"
	KindClick    = "click"
)

// =============================================================================
// TRACKER
// =============================================================================

// Options configures a Tracker.
type Options struct {
	// DebounceWindow bounds update frequency (default: 5s).
	DebounceWindow time.Duration

	// Clock overrides time.Now (tests). The debounce limiter always runs
	// on wall-clock time.
	Clock func() time.Time
}

// Tracker maintains "time since last user interaction" and notifies
// subscribers on each debounced update.
type Tracker struct {
	mu           sync.Mutex
	bus          EventBus.Bus
	limiter      *rate.Limiter
	lastActivity time.Time
	tracking     bool

	window time.Duration
	now    func() time.Time
}

// New creates a tracker. It does not observe anything until Start is called.
func New(opts Options) *Tracker {
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = DefaultDebounceWindow
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Tracker{
		bus:    EventBus.New(),
		window: opts.DebounceWindow,
		now:    opts.Clock,
	}
}

// Start begins tracking and resets the activity clock.
// Calling Start while already tracking logs a warning and is a no-op.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.tracking {
		log.Printf("ACTIVITY_TRACKER: Start called while already tracking; ignoring")
		return
	}

	t.tracking = true
	t.lastActivity = t.now()
	// Leading-edge debounce: the first event in a window passes, the rest
	// of the burst is dropped.
	t.limiter = rate.NewLimiter(rate.Every(t.window), 1)
}

// Stop halts tracking. Events reported after Stop are ignored; subscribers
// stay registered for a later Start.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracking = false
}

// IsTracking reports whether the tracker is active.
func (t *Tracker) IsTracking() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tracking
}

// Record reports a raw interaction event of the given kind.
// At most one event per debounce window updates the activity clock and
// notifies subscribers; the rest of a burst is dropped.
func (t *Tracker) Record(kind string) {
	t.mu.Lock()
	if !t.tracking || !t.limiter.Allow() {
		t.mu.Unlock()
		return
	}
	now := t.now()
	t.lastActivity = now
	t.mu.Unlock()

	t.bus.Publish(activityTopic, now)
	_ = kind // kinds are informational; all interactions count equally
}

// Reset forces the activity clock to now, bypassing the debounce window.
// Used when a session is explicitly extended.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastActivity = t.now()
}

// LastActivity returns the timestamp of the last debounced update.
func (t *Tracker) LastActivity() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastActivity
}

// InactiveFor returns the time since the last debounced update.
func (t *Tracker) InactiveFor() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now().Sub(t.lastActivity)
}

// IsInactive reports whether the user has been idle at least threshold.
func (t *Tracker) IsInactive(threshold time.Duration) bool {
	return t.InactiveFor() >= threshold
}

// OnActivity subscribes cb to debounced activity updates and returns an
// unsubscribe function.
func (t *Tracker) OnActivity(cb func(time.Time)) func() {
	handler := func(at time.Time) { cb(at) }
	if err := t.bus.Subscribe(activityTopic, handler); err != nil {
		log.Printf("ACTIVITY_TRACKER: subscribe failed: %v", err)
		return func() {}
	}
	return func() {
		if err := t.bus.Unsubscribe(activityTopic, handler); err != nil {
			log.Printf("ACTIVITY_TRACKER: unsubscribe failed: %v", err)
		}
	}
}
