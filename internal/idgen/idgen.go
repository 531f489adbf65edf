// Package idgen provides cryptographically random ID generation.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// keyAlphabet omits 0/O and 1/I so keys survive being read aloud or retyped
// from a chat message.
const keyAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// WithPrefix generates a random ID with a prefix (e.g. "gang_", "mem_", "lic_").
// Result is prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	return prefix + Hex(12)
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// Code generates an n-character uppercase code from an unambiguous
// 32-symbol alphabet. Each character carries 5 bits of entropy.
func Code(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	for i := range b {
		// 256 is a multiple of 32, so the modulo is unbiased.
		b[i] = keyAlphabet[int(b[i])%len(keyAlphabet)]
	}
	return string(b)
}
