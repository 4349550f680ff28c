// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

// =============================================================================
// OBFUSCATED RECORD CODEC
// =============================================================================

// EncodedPrefix marks a persisted value as an obfuscated record
// (format: TVO1:base64(json XOR keystream)).
const EncodedPrefix = "TVO1:"

// keystreamSize is the length of the derived XOR keystream.
const keystreamSize = 64

// keystreamIterations is the PBKDF2 iteration count for keystream derivation.
// This derives an obfuscation keystream, not a password hash; a low count is
// acceptable because the codec provides no confidentiality guarantee.
const keystreamIterations = 4096

// ErrMalformedRecord indicates a persisted record could not be decoded.
// Callers treat this as "record absent" and clear the stored value.
var ErrMalformedRecord = errors.New("malformed obfuscated record")

// The codec is reversible by design: every process derives the same keystream
// from these fixed inputs. This is obfuscation to keep casual eyes off local
// records, NOT encryption. Do not store secrets through it.
const (
	obfuscationPassphrase = "tablevine-client-core"
	obfuscationSalt       = "tablevine.local.v1"
)

var (
	keystreamOnce sync.Once
	keystreamKey  []byte
)

// keystream returns the process-wide XOR keystream, derived once.
func keystream() []byte {
	keystreamOnce.Do(func() {
		keystreamKey = pbkdf2.Key(
			[]byte(obfuscationPassphrase),
			[]byte(obfuscationSalt),
			keystreamIterations,
			keystreamSize,
			sha256.New,
		)
	})
	return keystreamKey
}

// xorKeystream XORs data in place against the repeating keystream.
// Applying it twice restores the original bytes.
func xorKeystream(data []byte) {
	key := keystream()
	for i := range data {
		data[i] ^= key[i%len(key)]
	}
}

// Encode serializes v to JSON and obfuscates it for persistence.
func Encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	xorKeystream(data)
	return EncodedPrefix + base64.StdEncoding.EncodeToString(data), nil
}

// Decode reverses Encode into v.
//
// Any framing, base64, or JSON failure is reported as ErrMalformedRecord so
// callers can uniformly clear the record and fail open.
func Decode(s string, v any) error {
	if !strings.HasPrefix(s, EncodedPrefix) {
		return fmt.Errorf("%w: missing prefix", ErrMalformedRecord)
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, EncodedPrefix))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	xorKeystream(data)
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return nil
}
