// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tablevine is the composition root for the TableVine client core:
// it assembles the cache, activity tracking, session lifecycle, session
// security, and backend client from one configuration and exposes them as a
// single Core. Host applications (POS terminal, back-office desktop) embed a
// Core and drive it through Start, SignIn/SignOut, and Shutdown.
package tablevine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tablevine/tablevine-core/internal/activity"
	"github.com/tablevine/tablevine-core/internal/api"
	"github.com/tablevine/tablevine-core/internal/cache"
	"github.com/tablevine/tablevine-core/internal/config"
	"github.com/tablevine/tablevine-core/internal/security"
	"github.com/tablevine/tablevine-core/internal/session"
	"github.com/tablevine/tablevine-core/internal/storage"
)

// =============================================================================
// CORE
// =============================================================================

// Hooks connect session lifecycle events to the host UI. All hooks are
// optional.
type Hooks struct {
	// OnWarning fires when auto-logout is imminent, with whole minutes left.
	OnWarning func(remainingMinutes int)

	// OnLogout fires when the inactivity timeout elapses, after the local
	// session state has been cleared.
	OnLogout func()

	// OnExtend fires when the session is explicitly extended.
	OnExtend func()

	// OnRefresh fires after each successful token refresh.
	OnRefresh func()

	// OnRefreshError fires after each failed token refresh.
	OnRefreshError func(err error)
}

// Core owns every client-side subsystem. Create with New, wire UI callbacks
// with Start, and tear down with Shutdown.
type Core struct {
	cfg *config.Config

	store    storage.Store
	device   *security.DeviceIdentity
	audit    *security.AuditLog
	security *security.SessionSecurity
	cache    *cache.Cache
	tracker  *activity.Tracker
	session  *session.Manager
	client   *api.Client

	mu      sync.Mutex
	userID  string
	started bool
}

// New assembles a Core from cfg. The storage backend, cache bounds, session
// timings, and API client all come from the configuration; nothing starts
// running until Start.
func New(cfg *config.Config) (*Core, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	store, err := newStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("building storage backend: %w", err)
	}

	device := security.NewDeviceIdentity(store)
	audit := security.NewAuditLog(cfg.Security.AuditCapacity, store, device.Fingerprint())
	sec := security.NewSessionSecurity(store, audit, device).
		WithMaxAge(time.Duration(cfg.Security.SessionMaxAgeHours) * time.Hour).
		WithIPLookupURL(cfg.Security.IPLookupURL)

	tracker := activity.New(activity.Options{})

	client := api.NewClient(cfg.API.BaseURL).
		WithToken(func() string { return cfg.API.Token }).
		WithTimeout(time.Duration(cfg.API.TimeoutMs) * time.Millisecond).
		WithRetries(cfg.API.Retries, time.Duration(cfg.API.RetryDelayMs)*time.Millisecond).
		WithFallbackToDemo(cfg.API.FallbackToDemo)

	c := &Core{
		cfg:      cfg,
		store:    store,
		device:   device,
		audit:    audit,
		security: sec,
		cache: cache.New(cache.Options{
			MaxEntries: cfg.Cache.MaxEntries,
			DefaultTTL: time.Duration(cfg.Cache.DefaultTTLSecs) * time.Second,
		}),
		tracker: tracker,
		session: session.NewManager(tracker),
		client:  client,
	}

	// Demo-mode transitions go to the audit trail regardless of which
	// request triggered them.
	api.OnDemoModeChange(func(entering bool, reason string) {
		if entering {
			audit.Record(security.ActionDemoModeEnter, reason)
		} else {
			audit.Record(security.ActionDemoModeExit, "")
		}
	})

	return c, nil
}

func newStore(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return storage.NewMemoryStore(), nil
	case "file":
		return storage.NewFileStore(cfg.Path)
	case "sqlite":
		return storage.NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Start arms the session lifecycle with the configured sub-managers and the
// given hooks. Calling Start twice logs a warning and is a no-op.
func (c *Core) Start(hooks Hooks) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		log.Printf("CORE: Start called while already running; ignoring")
		return
	}
	c.started = true
	c.mu.Unlock()

	c.session.Init(session.ManagerConfig{
		AutoLogoutEnabled: c.cfg.Session.AutoLogout,
		AutoLogout: session.AutoLogoutConfig{
			Timeout:       time.Duration(c.cfg.Session.InactivityTimeoutSecs) * time.Second,
			Warning:       time.Duration(c.cfg.Session.WarningSecs) * time.Second,
			CheckInterval: time.Duration(c.cfg.Session.CheckIntervalSecs) * time.Second,
		},
		Callbacks: session.Callbacks{
			OnWarning: hooks.OnWarning,
			OnLogout: func() {
				c.expireLocally()
				if hooks.OnLogout != nil {
					hooks.OnLogout()
				}
			},
			OnExtend: hooks.OnExtend,
		},
		RefreshEnabled: c.cfg.Session.AutoRefresh,
		Refresh: session.RefresherConfig{
			Interval:       time.Duration(c.cfg.Session.RefreshIntervalSecs) * time.Second,
			IdleSkip:       time.Duration(c.cfg.Session.InactivityTimeoutSecs) * time.Second / 2,
			OnRefresh:      hooks.OnRefresh,
			OnRefreshError: hooks.OnRefreshError,
		},
		RefreshFunc: c.refreshToken,
	})
}

// Shutdown stops the lifecycle and releases the storage backend. The Core
// cannot be restarted afterward.
func (c *Core) Shutdown() {
	c.mu.Lock()
	started := c.started
	c.started = false
	c.mu.Unlock()

	if started {
		c.session.Cleanup()
	}
	if closer, ok := c.store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			log.Printf("CORE: closing storage backend: %v", err)
		}
	}
}

// refreshToken renews the session with the backend and touches the local
// session record.
func (c *Core) refreshToken(ctx context.Context) error {
	resp, err := c.client.Post(ctx, "/v1/session/refresh", nil)
	if err != nil {
		return err
	}
	if resp.IsDemoMode {
		// Nothing to renew offline; the next scheduled refresh retries.
		return nil
	}
	if !resp.Success {
		return fmt.Errorf("session refresh rejected with status %d", resp.Status)
	}
	c.security.TouchActivity()
	return nil
}

// expireLocally clears session state after an inactivity logout.
func (c *Core) expireLocally() {
	c.mu.Lock()
	userID := c.userID
	c.userID = ""
	c.mu.Unlock()

	c.security.ClearSessionInfo()
	c.cache.Clear()
	c.audit.RecordFor(userID, security.ActionSessionExpired, "inactivity timeout")
}

// =============================================================================
// SIGN-IN / SIGN-OUT
// =============================================================================

// SignIn records a successful authentication: persists the device-bound
// session record, audits the login, and resets the idle clock.
func (c *Core) SignIn(ctx context.Context, userID string) error {
	if err := c.security.SaveSessionInfo(ctx, userID); err != nil {
		return fmt.Errorf("saving session info: %w", err)
	}

	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()

	c.tracker.Reset()
	c.audit.RecordFor(userID, security.ActionLoginSuccess, "")
	return nil
}

// SignOut clears local session state and audits the logout. Safe to call
// when nobody is signed in.
func (c *Core) SignOut() {
	c.mu.Lock()
	userID := c.userID
	c.userID = ""
	c.mu.Unlock()

	c.security.ClearSessionInfo()
	c.cache.Clear()
	c.audit.RecordFor(userID, security.ActionLogout, "")
}

// CurrentUser returns the signed-in user ID, or "".
func (c *Core) CurrentUser() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// ValidateSession checks the stored session record against the current
// device and age limits. A hijacked or expired session is cleared and false
// is returned; the caller should force re-authentication.
func (c *Core) ValidateSession() bool {
	if !c.security.ValidateSessionDevice() {
		c.security.ClearSessionInfo()
		return false
	}
	if c.security.IsSessionExpired() {
		c.security.ClearSessionInfo()
		return false
	}
	return true
}

// =============================================================================
// SUBSYSTEM ACCESS
// =============================================================================

// Cache returns the shared data cache.
func (c *Core) Cache() *cache.Cache { return c.cache }

// Tracker returns the activity tracker; UI layers feed it raw events.
func (c *Core) Tracker() *activity.Tracker { return c.tracker }

// Session returns the session lifecycle manager.
func (c *Core) Session() *session.Manager { return c.session }

// Security returns the session security helper.
func (c *Core) Security() *security.SessionSecurity { return c.security }

// Audit returns the audit trail.
func (c *Core) Audit() *security.AuditLog { return c.audit }

// API returns the backend client.
func (c *Core) API() *api.Client { return c.client }

// Store returns the persistence backend.
func (c *Core) Store() storage.Store { return c.store }

// Status summarizes the running state for a diagnostics screen.
type Status struct {
	User     string
	Session  session.Status
	Cache    cache.Stats
	DemoMode bool
	Device   string
}

// Status returns a point-in-time snapshot across subsystems.
func (c *Core) Status() Status {
	return Status{
		User:     c.CurrentUser(),
		Session:  c.session.Status(),
		Cache:    c.cache.Stats(),
		DemoMode: api.IsDemoMode(),
		Device:   c.device.Fingerprint(),
	}
}
