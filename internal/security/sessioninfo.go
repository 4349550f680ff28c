// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/tablevine/tablevine-core/internal/storage"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// SessionInfoKey is the storage key for the persisted session record.
const SessionInfoKey = "tablevine_session_info"

// DefaultSessionMaxAge is how old a session record may be before it is
// treated as expired regardless of device match.
const DefaultSessionMaxAge = 24 * time.Hour

// DefaultIPLookupTimeout bounds the best-effort public IP lookup.
const DefaultIPLookupTimeout = 2 * time.Second

// maxIPResponseSize bounds the IP lookup response body.
const maxIPResponseSize = 4 * 1024

// =============================================================================
// SESSION INFO
// =============================================================================

// SessionInfo is the persisted record describing the device a session was
// started on.
type SessionInfo struct {
	UserID       string    `json:"user_id"`
	DeviceID     string    `json:"device_id"`
	UserAgent    string    `json:"user_agent"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	IPAddress    string    `json:"ip_address,omitempty"`
}

// =============================================================================
// SESSION SECURITY
// =============================================================================

// SessionSecurity detects session hijacking (device mismatch) and session
// age expiry from the persisted session record.
//
// Every check fails open: a missing or corrupted record is treated as "no
// session info, nothing to enforce", and a device mismatch is reported but
// never enforced. Enforcement is the caller's decision because fingerprint
// drift produces false positives.
type SessionSecurity struct {
	store  storage.Store
	audit  *AuditLog
	device *DeviceIdentity

	maxAge      time.Duration
	ipLookupURL string
	httpClient  *http.Client
	now         func() time.Time
}

// NewSessionSecurity creates the session security component.
func NewSessionSecurity(store storage.Store, audit *AuditLog, device *DeviceIdentity) *SessionSecurity {
	return &SessionSecurity{
		store:      store,
		audit:      audit,
		device:     device,
		maxAge:     DefaultSessionMaxAge,
		httpClient: &http.Client{},
		now:        time.Now,
	}
}

// WithIPLookupURL enables the best-effort public IP lookup against url,
// which must return a JSON body containing {"ip": "..."}.
func (s *SessionSecurity) WithIPLookupURL(url string) *SessionSecurity {
	s.ipLookupURL = url
	return s
}

// WithMaxAge overrides the session age limit.
func (s *SessionSecurity) WithMaxAge(maxAge time.Duration) *SessionSecurity {
	if maxAge > 0 {
		s.maxAge = maxAge
	}
	return s
}

// SaveSessionInfo records the current device identity for userID.
// Called at login. The public IP lookup is best-effort; failure is silent.
func (s *SessionSecurity) SaveSessionInfo(ctx context.Context, userID string) error {
	now := s.now()
	info := SessionInfo{
		UserID:       userID,
		DeviceID:     s.device.Fingerprint(),
		UserAgent:    ClientUserAgent(),
		CreatedAt:    now,
		LastActivity: now,
		IPAddress:    s.lookupPublicIP(ctx),
	}

	encoded, err := Encode(info)
	if err != nil {
		return err
	}
	if err := s.store.SetItem(SessionInfoKey, encoded); err != nil {
		return err
	}

	s.audit.RecordFor(userID, ActionSessionSaved, "device="+info.DeviceID)
	return nil
}

// LoadSessionInfo returns the persisted session record, if any.
// A corrupted record is cleared and reported as absent.
func (s *SessionSecurity) LoadSessionInfo() (*SessionInfo, bool) {
	raw, ok, err := s.store.GetItem(SessionInfoKey)
	if err != nil || !ok {
		return nil, false
	}

	var info SessionInfo
	if err := Decode(raw, &info); err != nil {
		log.Printf("SESSION_CORRUPT: clearing record: %v", err)
		_ = s.store.RemoveItem(SessionInfoKey)
		s.audit.Record(ActionRecordCorrupt, "session info cleared")
		return nil, false
	}
	return &info, true
}

// TouchActivity updates the record's LastActivity timestamp.
// Called on each debounced activity tick; a missing record is a no-op.
func (s *SessionSecurity) TouchActivity() {
	info, ok := s.LoadSessionInfo()
	if !ok {
		return
	}
	info.LastActivity = s.now()

	encoded, err := Encode(info)
	if err != nil {
		return
	}
	if err := s.store.SetItem(SessionInfoKey, encoded); err != nil {
		log.Printf("SESSION_TOUCH: persist failed: %v", err)
	}
}

// ValidateSessionDevice compares the current fingerprint to the persisted
// one. A mismatch returns false and is audited as possible hijacking, but is
// intentionally not enforced here. No record means nothing to validate (true).
func (s *SessionSecurity) ValidateSessionDevice() bool {
	info, ok := s.LoadSessionInfo()
	if !ok {
		return true
	}

	current := s.device.Fingerprint()
	if current != info.DeviceID {
		s.audit.RecordFor(info.UserID, ActionDeviceMismatch,
			"stored="+info.DeviceID+" current="+current)
		return false
	}
	return true
}

// IsSessionExpired reports whether the persisted record is older than the
// configured maximum age. No record means not expired.
func (s *SessionSecurity) IsSessionExpired() bool {
	info, ok := s.LoadSessionInfo()
	if !ok {
		return false
	}
	if s.now().Sub(info.CreatedAt) > s.maxAge {
		s.audit.RecordFor(info.UserID, ActionSessionExpired,
			"created="+info.CreatedAt.Format(time.RFC3339))
		return true
	}
	return false
}

// ClearSessionInfo removes the persisted record. Called at logout.
func (s *SessionSecurity) ClearSessionInfo() {
	userID := ""
	if info, ok := s.LoadSessionInfo(); ok {
		userID = info.UserID
	}
	if err := s.store.RemoveItem(SessionInfoKey); err != nil {
		log.Printf("SESSION_CLEAR: remove failed: %v", err)
		return
	}
	s.audit.RecordFor(userID, ActionSessionCleared, "")
}

// lookupPublicIP fetches the client's public IP. Every failure path returns
// "" silently; the address is a nice-to-have diagnostic, nothing more.
func (s *SessionSecurity) lookupPublicIP(ctx context.Context) string {
	if s.ipLookupURL == "" {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultIPLookupTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.ipLookupURL, nil)
	if err != nil {
		return ""
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxIPResponseSize))
	if err != nil {
		return ""
	}

	var payload struct {
		IP string `json:"ip"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.IP
}
