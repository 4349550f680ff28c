// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"fmt"
	"log"
	"net"
	"os"
	"os/user"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tablevine/tablevine-core/internal/storage"
)

// =============================================================================
// DEVICE IDENTITY
// =============================================================================

// DeviceTokenKey is the storage key for the random fallback device token.
const DeviceTokenKey = "tablevine_device_token"

// Version is the client core version reported in user-agent strings.
const Version = "0.4.0"

// DeviceIdentity derives a stable fingerprint for the current client from
// environment signals.
//
// The fingerprint is a heuristic identity, not a security boundary: it drifts
// with OS upgrades, hardware changes, and runtime updates, and is expected to
// produce false mismatches. When signal collection fails entirely, a random
// token is generated once and persisted so the client still has a stable
// identity.
type DeviceIdentity struct {
	store storage.Store

	// signals overrides environment collection (tests).
	signals func() ([]string, error)
}

// NewDeviceIdentity creates a device identity source backed by store.
func NewDeviceIdentity(store storage.Store) *DeviceIdentity {
	return &DeviceIdentity{
		store:   store,
		signals: collectSignals,
	}
}

// Fingerprint returns the device fingerprint token.
// Falls back to a persisted random token if signal collection fails.
func (d *DeviceIdentity) Fingerprint() string {
	signals, err := d.signals()
	if err != nil {
		log.Printf("FINGERPRINT_FALLBACK: signal collection failed: %v", err)
		return d.fallbackToken()
	}
	return "dev_" + hashToken(strings.Join(signals, "|"))
}

// fallbackToken loads the persisted random token, generating one on first use.
func (d *DeviceIdentity) fallbackToken() string {
	if token, ok, err := d.store.GetItem(DeviceTokenKey); err == nil && ok && token != "" {
		return token
	}

	token := "dev_rnd_" + uuid.NewString()
	if err := d.store.SetItem(DeviceTokenKey, token); err != nil {
		// Best effort: an unpersisted token still identifies this run
		log.Printf("FINGERPRINT_FALLBACK: persist failed: %v", err)
	}
	return token
}

// collectSignals gathers the environment signal vector.
//
// The browser original reads user-agent, language, screen geometry, and a
// canvas snapshot; the platform-appropriate equivalents here are host, OS,
// architecture, CPU count, user, timezone, and a hardware address sample.
func collectSignals() ([]string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("hostname: %w", err)
	}

	username := "unknown"
	if u, err := user.Current(); err == nil {
		username = u.Username
	}

	zone, offset := time.Now().Zone()

	return []string{
		hostname,
		runtime.GOOS,
		runtime.GOARCH,
		strconv.Itoa(runtime.NumCPU()),
		username,
		zone + "/" + strconv.Itoa(offset),
		hardwareAddrSample(),
	}, nil
}

// hardwareAddrSample returns the first non-loopback MAC address, or "" if
// none is available. Absence is fine; it just removes one signal.
func hardwareAddrSample() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.HardwareAddr.String()
	}
	return ""
}

// hashToken reduces a signal string to a short token via a 32-bit rolling
// hash. Collisions are acceptable for a heuristic identity.
func hashToken(s string) string {
	var h int32
	for _, c := range s {
		h = (h << 5) - h + c
	}
	return strconv.FormatUint(uint64(uint32(h)), 36)
}

// ClientUserAgent describes this client build, the analog of the browser
// user-agent string recorded in session and audit records.
func ClientUserAgent() string {
	return fmt.Sprintf("tablevine-core/%s (%s/%s; %s)",
		Version, runtime.GOOS, runtime.GOARCH, runtime.Version())
}
