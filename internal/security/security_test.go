// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablevine/tablevine-core/internal/storage"
)

// newTestSecurity builds a SessionSecurity with controllable signals and clock.
func newTestSecurity(t *testing.T) (*SessionSecurity, *storage.MemoryStore, *DeviceIdentity) {
	t.Helper()
	store := storage.NewMemoryStore()
	device := NewDeviceIdentity(store)
	device.signals = func() ([]string, error) {
		return []string{"host-a", "linux", "amd64"}, nil
	}
	audit := NewAuditLog(DefaultAuditCapacity, store, device.Fingerprint())
	return NewSessionSecurity(store, audit, device), store, device
}

// =============================================================================
// OBFUSCATED CODEC TESTS
// =============================================================================

func TestEncodeDecode_RoundTrip(t *testing.T) {
	type record struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	encoded, err := Encode(record{Name: "acme", Count: 3})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, EncodedPrefix))
	assert.NotContains(t, encoded, "acme", "plaintext must not appear in encoded form")

	var got record
	require.NoError(t, Decode(encoded, &got))
	assert.Equal(t, record{Name: "acme", Count: 3}, got)
}

func TestDecode_MalformedRecord(t *testing.T) {
	var v map[string]string

	err := Decode("no-prefix", &v)
	assert.ErrorIs(t, err, ErrMalformedRecord)

	err = Decode(EncodedPrefix+"!!!not-base64!!!", &v)
	assert.ErrorIs(t, err, ErrMalformedRecord)

	// Valid base64 but garbage after de-obfuscation
	err = Decode(EncodedPrefix+"AAAA", &v)
	assert.ErrorIs(t, err, ErrMalformedRecord)
}

// =============================================================================
// DEVICE IDENTITY TESTS
// =============================================================================

func TestFingerprint_StableAndSignalSensitive(t *testing.T) {
	store := storage.NewMemoryStore()
	device := NewDeviceIdentity(store)
	device.signals = func() ([]string, error) {
		return []string{"host-a", "linux"}, nil
	}

	fp1 := device.Fingerprint()
	fp2 := device.Fingerprint()
	assert.Equal(t, fp1, fp2, "fingerprint must be stable for stable signals")
	assert.True(t, strings.HasPrefix(fp1, "dev_"))

	device.signals = func() ([]string, error) {
		return []string{"host-b", "linux"}, nil
	}
	assert.NotEqual(t, fp1, device.Fingerprint(), "changed signals must change the fingerprint")
}

func TestFingerprint_FallbackTokenPersisted(t *testing.T) {
	store := storage.NewMemoryStore()
	device := NewDeviceIdentity(store)
	device.signals = func() ([]string, error) {
		return nil, errors.New("collection blocked")
	}

	fp1 := device.Fingerprint()
	fp2 := device.Fingerprint()
	assert.True(t, strings.HasPrefix(fp1, "dev_rnd_"))
	assert.Equal(t, fp1, fp2, "fallback token must be persisted and reused")

	// A fresh identity over the same store reuses the token
	other := NewDeviceIdentity(store)
	other.signals = device.signals
	assert.Equal(t, fp1, other.Fingerprint())
}

func TestCollectSignals_RealEnvironment(t *testing.T) {
	signals, err := collectSignals()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(signals), 6)
}

// =============================================================================
// AUDIT LOG TESTS
// =============================================================================

func TestAuditLog_RingBufferDropsOldest(t *testing.T) {
	a := NewAuditLog(3, nil, "dev_test")

	a.Record("A", "")
	a.Record("B", "")
	a.Record("C", "")
	a.Record("D", "")

	events := a.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "B", events[0].Action)
	assert.Equal(t, "D", events[2].Action)
}

func TestAuditLog_DetailsTruncated(t *testing.T) {
	a := NewAuditLog(10, nil, "dev_test")
	a.Record("X", strings.Repeat("y", MaxDetailLength*2))

	events := a.Events()
	require.Len(t, events, 1)
	assert.LessOrEqual(t, len([]rune(events[0].Details)), MaxDetailLength)
}

func TestAuditLog_PersistsAcrossInstances(t *testing.T) {
	store := storage.NewMemoryStore()

	a := NewAuditLog(10, store, "dev_test")
	a.RecordFor("user-1", ActionLoginSuccess, "first login")

	b := NewAuditLog(10, store, "dev_test")
	events := b.Events()
	require.Len(t, events, 1)
	assert.Equal(t, ActionLoginSuccess, events[0].Action)
	assert.Equal(t, "user-1", events[0].UserID)
}

func TestAuditLog_CorruptTrailCleared(t *testing.T) {
	store := storage.NewMemoryStore()
	require.NoError(t, store.SetItem(AuditLogKey, "TVO1:garbage"))

	a := NewAuditLog(10, store, "dev_test")
	assert.Zero(t, a.Len(), "corrupt trail must reset to empty")

	_, ok, _ := store.GetItem(AuditLogKey)
	assert.False(t, ok, "corrupt trail must be removed from storage")
}

// =============================================================================
// SESSION SECURITY TESTS
// =============================================================================

func TestSessionSecurity_SaveAndValidate(t *testing.T) {
	sec, _, device := newTestSecurity(t)

	require.NoError(t, sec.SaveSessionInfo(context.Background(), "user-1"))

	info, ok := sec.LoadSessionInfo()
	require.True(t, ok)
	assert.Equal(t, "user-1", info.UserID)
	assert.Equal(t, device.Fingerprint(), info.DeviceID)
	assert.True(t, sec.ValidateSessionDevice())
}

func TestSessionSecurity_DeviceMismatchDetected(t *testing.T) {
	sec, _, device := newTestSecurity(t)
	require.NoError(t, sec.SaveSessionInfo(context.Background(), "user-1"))

	original := device.signals
	device.signals = func() ([]string, error) {
		return []string{"host-hijacker", "linux", "amd64"}, nil
	}
	assert.False(t, sec.ValidateSessionDevice(), "swapped fingerprint must be flagged")

	// Restoring the original fingerprint validates again
	device.signals = original
	assert.True(t, sec.ValidateSessionDevice())

	// The mismatch left an audit entry
	var found bool
	for _, e := range sec.audit.Events() {
		if e.Action == ActionDeviceMismatch {
			found = true
		}
	}
	assert.True(t, found, "device mismatch must be audited")
}

func TestSessionSecurity_AgeExpiry(t *testing.T) {
	sec, _, _ := newTestSecurity(t)
	require.NoError(t, sec.SaveSessionInfo(context.Background(), "user-1"))

	assert.False(t, sec.IsSessionExpired())

	sec.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	assert.True(t, sec.IsSessionExpired(), "record older than 24h must be expired")
}

func TestSessionSecurity_NoRecordFailsOpen(t *testing.T) {
	sec, _, _ := newTestSecurity(t)

	assert.True(t, sec.ValidateSessionDevice(), "no record means nothing to enforce")
	assert.False(t, sec.IsSessionExpired())
}

func TestSessionSecurity_CorruptRecordClearedAndOpen(t *testing.T) {
	sec, store, _ := newTestSecurity(t)
	require.NoError(t, store.SetItem(SessionInfoKey, "TVO1:????"))

	assert.True(t, sec.ValidateSessionDevice(), "corrupt record fails open")

	_, ok, _ := store.GetItem(SessionInfoKey)
	assert.False(t, ok, "corrupt record must be cleared")
}

func TestSessionSecurity_TouchActivity(t *testing.T) {
	sec, _, _ := newTestSecurity(t)
	require.NoError(t, sec.SaveSessionInfo(context.Background(), "user-1"))

	before, _ := sec.LoadSessionInfo()
	sec.now = func() time.Time { return time.Now().Add(time.Minute) }
	sec.TouchActivity()

	after, ok := sec.LoadSessionInfo()
	require.True(t, ok)
	assert.True(t, after.LastActivity.After(before.LastActivity))
	assert.Equal(t, before.CreatedAt.Unix(), after.CreatedAt.Unix(), "CreatedAt must not move")
}

func TestSessionSecurity_ClearSessionInfo(t *testing.T) {
	sec, store, _ := newTestSecurity(t)
	require.NoError(t, sec.SaveSessionInfo(context.Background(), "user-1"))

	sec.ClearSessionInfo()
	_, ok, _ := store.GetItem(SessionInfoKey)
	assert.False(t, ok)
}

// =============================================================================
// REMEMBER-ME TESTS
// =============================================================================

func TestRememberMe_RoundTrip(t *testing.T) {
	sec, _, _ := newTestSecurity(t)

	require.NoError(t, sec.SaveRememberMe("guest@example.com"))

	data, ok := sec.LoadRememberMe()
	require.True(t, ok)
	assert.Equal(t, "guest@example.com", data.Email)
	assert.True(t, data.ExpiresAt.After(data.Timestamp))
}

func TestRememberMe_ExpiredSelfDestructs(t *testing.T) {
	sec, store, _ := newTestSecurity(t)
	require.NoError(t, sec.SaveRememberMe("guest@example.com"))

	sec.now = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }

	_, ok := sec.LoadRememberMe()
	assert.False(t, ok, "expired record must be treated as absent")

	_, present, _ := store.GetItem(RememberMeKey)
	assert.False(t, present, "expired record must be cleared as a side effect")
}

func TestRememberMe_CorruptCleared(t *testing.T) {
	sec, store, _ := newTestSecurity(t)
	require.NoError(t, store.SetItem(RememberMeKey, "not-a-record"))

	_, ok := sec.LoadRememberMe()
	assert.False(t, ok)

	_, present, _ := store.GetItem(RememberMeKey)
	assert.False(t, present)
}
