// Package util provides utility functions for the movierec engine.
package util

import (
	"math/rand/v2"
	"strings"
)

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// The returned ID will be in the format: "{prefix}{hex_string}".
// Uses math/rand/v2 for optimal performance with modern best practices.
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified length.
// Uses math/rand/v2 with optimal entropy utilization for non-cryptographic purposes.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}

	const hexChars = "0123456789abcdef"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(hexChars[rand.IntN(16)])
	}

	return builder.String()
}

// GenerateOperationID generates a unique operation ID with "op_" prefix.
// Collision-free within process lifetime for practical purposes (128 bits).
func GenerateOperationID() string {
	return GenerateRandomID("op_", 32)
}

// GenerateAnimationID generates a unique animation request ID with "anim_" prefix.
func GenerateAnimationID() string {
	return GenerateRandomID("anim_", 32)
}
