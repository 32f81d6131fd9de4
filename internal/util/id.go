// Package util holds the small helpers shared across packages.
package util

import (
	"crypto/rand"
	"encoding/hex"
)

const idBytes = 16

// NewID returns a random 128-bit identifier as lowercase hex, with an
// optional type prefix: NewID("usr") yields "usr_3f2a…". Project rows
// use "prj", access token ids "jti", refresh tokens "rft". An empty
// prefix yields the bare hex string.
func NewID(prefix string) string {
	buf := make([]byte, idBytes)
	_, _ = rand.Read(buf)
	if prefix == "" {
		return hex.EncodeToString(buf)
	}
	return prefix + "_" + hex.EncodeToString(buf)
}
