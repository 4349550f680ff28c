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
// CONSTANTS
// =============================================================================

const (
	// DefaultRefreshInterval renews the session token every 45 minutes.
	DefaultRefreshInterval = 45 * time.Minute

	// DefaultIdleSkipThreshold skips a scheduled refresh when the user has
	// been idle at least this long. Idle users get logged out by the
	// auto-logout machine instead of having their token kept alive.
	DefaultIdleSkipThreshold = 15 * time.Minute

	// refreshCallTimeout bounds a single refresh attempt.
	refreshCallTimeout = 10 * time.Second
)

// =============================================================================
// REFRESHER
// =============================================================================

// RefreshFunc performs one token renewal against the backend.
type RefreshFunc func(ctx context.Context) error

// RefresherConfig configures the periodic refresher.
type RefresherConfig struct {
	// Interval between scheduled refreshes (default: 45m).
	Interval time.Duration

	// IdleSkip skips scheduled refreshes once the user has been idle this
	// long (default: 15m).
	IdleSkip time.Duration

	// OnRefresh fires after each successful refresh.
	OnRefresh func()

	// OnRefreshError fires after each failed refresh. The refresher keeps
	// running; the next tick retries.
	OnRefreshError func(err error)
}

// Refresher renews the session token on a fixed schedule, skipping renewals
// while the user is idle. A failed refresh never stops the schedule.
type Refresher struct {
	mu          sync.Mutex
	tracker     *activity.Tracker
	refresh     RefreshFunc
	cfg         RefresherConfig
	running     bool
	stop        chan struct{}
	lastRefresh time.Time
}

// NewRefresher creates a stopped refresher. Zero config fields take the
// package defaults.
func NewRefresher(tracker *activity.Tracker, refresh RefreshFunc, cfg RefresherConfig) *Refresher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultRefreshInterval
	}
	if cfg.IdleSkip <= 0 {
		cfg.IdleSkip = DefaultIdleSkipThreshold
	}
	return &Refresher{
		tracker: tracker,
		refresh: refresh,
		cfg:     cfg,
	}
}

// Start begins the refresh schedule. Starting an already-running refresher
// logs a warning and is a no-op.
func (r *Refresher) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		log.Printf("SESSION_REFRESH: Start called while already running; ignoring")
		return
	}
	r.running = true
	r.stop = make(chan struct{})
	stop := r.stop
	r.mu.Unlock()

	go r.loop(stop)
	log.Printf("SESSION_REFRESH: scheduled every %s", r.cfg.Interval)
}

// Stop halts the schedule. An in-flight refresh completes on its own.
func (r *Refresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.running = false
	close(r.stop)
	r.stop = nil
}

// IsRunning reports whether the schedule is active.
func (r *Refresher) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// LastRefresh returns the time of the last successful refresh.
func (r *Refresher) LastRefresh() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRefresh
}

// ForceRefresh renews the token immediately, ignoring the idle check and the
// schedule. It works even while the refresher is stopped.
func (r *Refresher) ForceRefresh(ctx context.Context) error {
	return r.doRefresh(ctx)
}

func (r *Refresher) loop(stop chan struct{}) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.tick()
		case <-stop:
			return
		}
	}
}

// tick runs one scheduled refresh, honoring the idle skip.
// Split out from loop so tests can drive the schedule without the ticker.
func (r *Refresher) tick() {
	if idle := r.tracker.InactiveFor(); idle >= r.cfg.IdleSkip {
		log.Printf("SESSION_REFRESH: skipped, user idle for %s", idle.Round(time.Second))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), refreshCallTimeout)
	defer cancel()
	_ = r.doRefresh(ctx)
}

func (r *Refresher) doRefresh(ctx context.Context) error {
	if err := r.refresh(ctx); err != nil {
		log.Printf("SESSION_REFRESH: refresh failed: %v", err)
		if r.cfg.OnRefreshError != nil {
			r.cfg.OnRefreshError(err)
		}
		return err
	}

	r.mu.Lock()
	r.lastRefresh = time.Now()
	r.mu.Unlock()

	if r.cfg.OnRefresh != nil {
		r.cfg.OnRefresh()
	}
	return nil
}
