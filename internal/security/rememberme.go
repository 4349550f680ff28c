// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"log"
	"time"
)

// =============================================================================
// REMEMBER-ME
// =============================================================================

// RememberMeKey is the storage key for the remember-me record.
const RememberMeKey = "tablevine_remember_me"

// DefaultRememberMeWindow is the fixed validity window from creation.
const DefaultRememberMeWindow = 30 * 24 * time.Hour

// RememberMeData is the opt-in record that prefills the login email on
// subsequent visits. It self-destructs once ExpiresAt has passed.
type RememberMeData struct {
	Email     string    `json:"email"`
	Timestamp time.Time `json:"timestamp"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SaveRememberMe stores an opt-in remember-me record for email.
func (s *SessionSecurity) SaveRememberMe(email string) error {
	now := s.now()
	encoded, err := Encode(RememberMeData{
		Email:     email,
		Timestamp: now,
		ExpiresAt: now.Add(DefaultRememberMeWindow),
	})
	if err != nil {
		return err
	}
	return s.store.SetItem(RememberMeKey, encoded)
}

// LoadRememberMe returns the remember-me record, if present and unexpired.
// Expired or corrupted records are cleared as a side effect and reported as
// absent.
func (s *SessionSecurity) LoadRememberMe() (*RememberMeData, bool) {
	raw, ok, err := s.store.GetItem(RememberMeKey)
	if err != nil || !ok {
		return nil, false
	}

	var data RememberMeData
	if err := Decode(raw, &data); err != nil {
		log.Printf("REMEMBER_ME_CORRUPT: clearing record: %v", err)
		_ = s.store.RemoveItem(RememberMeKey)
		return nil, false
	}

	if s.now().After(data.ExpiresAt) {
		_ = s.store.RemoveItem(RememberMeKey)
		return nil, false
	}
	return &data, true
}

// ClearRememberMe removes the record.
func (s *SessionSecurity) ClearRememberMe() {
	if err := s.store.RemoveItem(RememberMeKey); err != nil {
		log.Printf("REMEMBER_ME_CLEAR: remove failed: %v", err)
	}
}
