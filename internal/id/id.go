// Package id generates compact URL-safe identifiers: UUIDv4 bytes rendered
// as lowercase unpadded base32.
package id

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewID generates a new URL-safe identifier.
//
// The identifier is built from UUIDv4 bytes so the version and variant bits
// survive round-tripping through other UUID tooling, but is rendered as
// lowercase unpadded base32 for compactness.
func NewID() (string, error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	// Set UUIDv4 version and RFC 4122 variant bits.
	raw[6] = (raw[6] & 0x0F) | 0x40
	raw[8] = (raw[8] & 0x3F) | 0x80

	return strings.ToLower(encoding.EncodeToString(raw[:])), nil
}
