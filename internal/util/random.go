// Package util provides small helpers shared across components.
package util

import (
	"math/rand/v2"
	"strings"
)

// SessionIDLength is the number of hex digits after the prefix of a session ID.
const SessionIDLength = 16

// GenerateRandomID returns prefix followed by hexLength random hex digits.
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex returns a random lowercase hex string. It is not suitable
// for secrets.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}
	const hexChars = "0123456789abcdef"
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		b.WriteByte(hexChars[rand.IntN(16)])
	}
	return b.String()
}

// GenerateSessionID returns a journal ID for a new acquisition session.
func GenerateSessionID() string {
	return GenerateRandomID("s_", SessionIDLength)
}
