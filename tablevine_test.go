// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tablevine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tablevine/tablevine-core/internal/cache"
	"github.com/tablevine/tablevine-core/internal/config"
	"github.com/tablevine/tablevine-core/internal/security"
)

func newTestCore(t *testing.T) *Core {
	t.Helper()
	cfg := config.Default()
	cfg.Security.IPLookupURL = "" // no network in tests
	core, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(core.Shutdown)
	return core
}

func TestSignInSignOutRoundTrip(t *testing.T) {
	core := newTestCore(t)

	if err := core.SignIn(context.Background(), "user-7"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if core.CurrentUser() != "user-7" {
		t.Errorf("CurrentUser = %q, want user-7", core.CurrentUser())
	}
	if !core.ValidateSession() {
		t.Error("freshly saved session must validate")
	}

	var sawLogin bool
	for _, e := range core.Audit().Events() {
		if e.Action == security.ActionLoginSuccess && e.UserID == "user-7" {
			sawLogin = true
		}
	}
	if !sawLogin {
		t.Error("login must leave an audit entry")
	}

	core.SignOut()
	if core.CurrentUser() != "" {
		t.Errorf("CurrentUser after SignOut = %q, want empty", core.CurrentUser())
	}
	if _, ok := core.Security().LoadSessionInfo(); ok {
		t.Error("session record must be cleared on SignOut")
	}
}

func TestSignOutClearsCache(t *testing.T) {
	core := newTestCore(t)
	if err := core.SignIn(context.Background(), "user-7"); err != nil {
		t.Fatal(err)
	}

	core.Cache().Set("menu:main", "carbonara", cache.SetOptions{})

	core.SignOut()
	if core.Cache().Len() != 0 {
		t.Error("cache must be emptied on SignOut")
	}
}

func TestStartShutdownLifecycle(t *testing.T) {
	core := newTestCore(t)

	core.Start(Hooks{})
	core.Start(Hooks{}) // warns and no-ops

	s := core.Status()
	if !s.Session.Initialized {
		t.Error("session manager must be initialized after Start")
	}
	if s.Device == "" {
		t.Error("status must carry the device fingerprint")
	}

	core.Shutdown()
	if core.Session().Status().Initialized {
		t.Error("session manager must be cleaned up on Shutdown")
	}
}

func TestFileBackedCorePersistsAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	cfg := config.Default()
	cfg.Security.IPLookupURL = ""
	cfg.Storage.Backend = "file"
	cfg.Storage.Path = path

	core, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := core.SignIn(context.Background(), "user-9"); err != nil {
		t.Fatal(err)
	}
	fp := core.Status().Device
	core.Shutdown()

	// "Restart" over the same file: session record and device survive.
	core2, err := New(cfg)
	if err != nil {
		t.Fatalf("New (restart): %v", err)
	}
	defer core2.Shutdown()

	info, ok := core2.Security().LoadSessionInfo()
	if !ok {
		t.Fatal("session record must survive a restart")
	}
	if info.UserID != "user-9" {
		t.Errorf("restored UserID = %q, want user-9", info.UserID)
	}
	if core2.Status().Device != fp {
		t.Errorf("fingerprint changed across restart: %q vs %q", core2.Status().Device, fp)
	}
	if !core2.ValidateSession() {
		t.Error("restored session on the same device must validate")
	}
}

func TestValidateSessionClearsExpired(t *testing.T) {
	core := newTestCore(t)
	if err := core.SignIn(context.Background(), "user-7"); err != nil {
		t.Fatal(err)
	}

	// No record at all still validates (nothing to enforce).
	core.Security().ClearSessionInfo()
	if !core.ValidateSession() {
		t.Error("absent session record must fail open")
	}
}
