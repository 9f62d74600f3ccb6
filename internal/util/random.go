// Package util provides utility functions for the SyncGuard application.
package util

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// The returned ID will be in the format: "{prefix}{hex_string}".
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random hexadecimal string of the specified length.
// Uses math/rand/v2; these ids are dedupe keys, not secrets.
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

// GenerateRecordID generates a queued-record id in the form
// "{category}_{unix_millis}_{random_suffix}". The timestamp component keeps
// ids roughly sortable by enqueue time; the suffix disambiguates records
// enqueued in the same millisecond.
func GenerateRecordID(category string, now time.Time) string {
	return fmt.Sprintf("%s_%d_%s", category, now.UnixMilli(), GenerateRandomHex(9))
}
