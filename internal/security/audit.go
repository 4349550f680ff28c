// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tablevine/tablevine-core/internal/storage"
	"github.com/tablevine/tablevine-core/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// AuditLogKey is the storage key for the persisted audit trail.
const AuditLogKey = "tablevine_audit_log"

// DefaultAuditCapacity is the ring buffer capacity; oldest entries drop first.
const DefaultAuditCapacity = 100

// MaxDetailLength is the maximum length of the free-form details field.
const MaxDetailLength = 200

// Audit action tags.
const (
	ActionLoginSuccess   = "LOGIN_SUCCESS"
	ActionLogout         = "LOGOUT"
	ActionSessionSaved   = "SESSION_SAVED"
	ActionSessionCleared = "SESSION_CLEARED"
	ActionSessionExpired = "SESSION_EXPIRED"
	ActionDeviceMismatch = "DEVICE_MISMATCH"
	ActionRecordCorrupt  = "RECORD_CORRUPT"
	ActionDemoModeEnter  = "DEMO_MODE_ENTER"
	ActionDemoModeExit   = "DEMO_MODE_EXIT"
)

// =============================================================================
// AUDIT ENTRY
// =============================================================================

// AuditEntry is a single best-effort diagnostic record.
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id,omitempty"`
	Action    string    `json:"action"`
	Details   string    `json:"details,omitempty"`
	DeviceID  string    `json:"device_id"`
	UserAgent string    `json:"user_agent"`
}

// ToLogLine formats the entry as a single log line.
func (e *AuditEntry) ToLogLine() string {
	return fmt.Sprintf("%s | %s | user=%s device=%s %s",
		e.Timestamp.Format("2006-01-02 15:04:05"),
		e.Action,
		e.UserID,
		e.DeviceID,
		e.Details,
	)
}

// =============================================================================
// AUDIT LOG
// =============================================================================

// AuditLog is a bounded in-memory audit trail with best-effort persistence.
//
// Capacity is fixed; appending past it drops the oldest entry. The trail is
// a diagnostic aid, never a durable record: persistence failures are logged
// and ignored.
type AuditLog struct {
	mu       sync.Mutex
	entries  []AuditEntry
	capacity int

	store     storage.Store
	deviceID  string
	userAgent string
	now       func() time.Time
}

// NewAuditLog creates an audit log and loads any persisted trail.
// A corrupted persisted trail is cleared and the log starts empty.
func NewAuditLog(capacity int, store storage.Store, deviceID string) *AuditLog {
	if capacity <= 0 {
		capacity = DefaultAuditCapacity
	}

	a := &AuditLog{
		entries:   make([]AuditEntry, 0, capacity),
		capacity:  capacity,
		store:     store,
		deviceID:  deviceID,
		userAgent: ClientUserAgent(),
		now:       time.Now,
	}
	a.load()
	return a
}

// Record appends an entry with no user attribution.
func (a *AuditLog) Record(action, details string) {
	a.RecordFor("", action, details)
}

// RecordFor appends an entry attributed to userID.
func (a *AuditLog) RecordFor(userID, action, details string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry := AuditEntry{
		Timestamp: a.now(),
		UserID:    userID,
		Action:    action,
		Details:   util.TruncateRunes(details, MaxDetailLength),
		DeviceID:  a.deviceID,
		UserAgent: a.userAgent,
	}

	a.entries = append(a.entries, entry)
	if len(a.entries) > a.capacity {
		// Drop oldest first
		a.entries = a.entries[len(a.entries)-a.capacity:]
	}

	a.persistLocked()
}

// Events returns a snapshot of the trail, oldest first.
func (a *AuditLog) Events() []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]AuditEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Len returns the number of entries currently held.
func (a *AuditLog) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// Clear drops all entries, in memory and persisted.
func (a *AuditLog) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.entries = a.entries[:0]
	if a.store != nil {
		if err := a.store.RemoveItem(AuditLogKey); err != nil {
			log.Printf("AUDIT_PERSIST: clear failed: %v", err)
		}
	}
}

// load restores the persisted trail, clearing it on decode failure.
func (a *AuditLog) load() {
	if a.store == nil {
		return
	}
	raw, ok, err := a.store.GetItem(AuditLogKey)
	if err != nil || !ok {
		return
	}

	var entries []AuditEntry
	if err := Decode(raw, &entries); err != nil {
		log.Printf("AUDIT_CORRUPT: resetting trail: %v", err)
		_ = a.store.RemoveItem(AuditLogKey)
		return
	}

	if len(entries) > a.capacity {
		entries = entries[len(entries)-a.capacity:]
	}
	a.entries = entries
}

// persistLocked writes the trail best-effort. Caller must hold the lock.
func (a *AuditLog) persistLocked() {
	if a.store == nil {
		return
	}
	encoded, err := Encode(a.entries)
	if err != nil {
		log.Printf("AUDIT_PERSIST: encode failed: %v", err)
		return
	}
	if err := a.store.SetItem(AuditLogKey, encoded); err != nil {
		log.Printf("AUDIT_PERSIST: write failed: %v", err)
	}
}
