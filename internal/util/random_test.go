package util

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateRandomID(t *testing.T) {
	tests := []struct {
		name       string
		prefix     string
		hexLength  int
		wantPrefix string
		wantLength int // expected total length: prefix + hexLength
	}{
		{
			name:       "record suffix format",
			prefix:     "rec_",
			hexLength:  9,
			wantPrefix: "rec_",
			wantLength: 13, // 4 + 9
		},
		{
			name:       "custom prefix",
			prefix:     "test_",
			hexLength:  16,
			wantPrefix: "test_",
			wantLength: 21, // 5 + 16
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateRandomID(tt.prefix, tt.hexLength)

			if !strings.HasPrefix(got, tt.wantPrefix) {
				t.Errorf("GenerateRandomID() = %v, want prefix %v", got, tt.wantPrefix)
			}

			if len(got) != tt.wantLength {
				t.Errorf("GenerateRandomID() length = %v, want %v", len(got), tt.wantLength)
			}

			hexPart := got[len(tt.wantPrefix):]
			if !isValidHex(hexPart) {
				t.Errorf("GenerateRandomID() hex part = %v is not valid hex", hexPart)
			}
		})
	}
}

func TestGenerateRandomHex(t *testing.T) {
	if got := GenerateRandomHex(0); got != "" {
		t.Errorf("GenerateRandomHex(0) = %q, want empty", got)
	}
	if got := GenerateRandomHex(-3); got != "" {
		t.Errorf("GenerateRandomHex(-3) = %q, want empty", got)
	}
	got := GenerateRandomHex(32)
	if len(got) != 32 {
		t.Errorf("GenerateRandomHex(32) length = %d", len(got))
	}
	if !isValidHex(got) {
		t.Errorf("GenerateRandomHex(32) = %q is not valid hex", got)
	}
}

func TestGenerateRecordID(t *testing.T) {
	now := time.UnixMilli(1735689600000)
	id := GenerateRecordID("health-report", now)

	if !strings.HasPrefix(id, "health-report_1735689600000_") {
		t.Errorf("GenerateRecordID() = %q, want category and timestamp prefix", id)
	}

	suffix := id[strings.LastIndex(id, "_")+1:]
	if len(suffix) != 9 || !isValidHex(suffix) {
		t.Errorf("GenerateRecordID() suffix = %q, want 9 hex chars", suffix)
	}

	// Two ids generated at the same instant must still differ.
	other := GenerateRecordID("health-report", now)
	if id == other {
		t.Error("GenerateRecordID() produced identical ids for the same instant")
	}
}

func isValidHex(s string) bool {
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return false
		}
	}
	return len(s) > 0
}
