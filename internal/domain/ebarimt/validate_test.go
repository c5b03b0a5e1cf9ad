package ebarimt

import (
	"strings"
	"testing"
	"time"
)

func TestIsValidDDTD(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"exactly 33 digits", strings.Repeat("1", 33), true},
		{"all zeros", strings.Repeat("0", 33), true},
		{"32 digits", strings.Repeat("1", 32), false},
		{"34 digits", strings.Repeat("1", 34), false},
		{"empty", "", false},
		{"letter in the middle", strings.Repeat("1", 16) + "a" + strings.Repeat("1", 16), false},
		{"leading space", " " + strings.Repeat("1", 32), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidDDTD(tt.input); got != tt.want {
				t.Errorf("IsValidDDTD(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsValidTIN(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"individual 11 digits", "12345678901", true},
		{"organization 14 digits", "12345678901234", true},
		{"12 digits", "123456789012", false},
		{"13 digits", "1234567890123", false},
		{"10 digits", "1234567890", false},
		{"15 digits", "123456789012345", false},
		{"empty", "", false},
		{"letters", "1234567890a", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidTIN(tt.input); got != tt.want {
				t.Errorf("IsValidTIN(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestFormatPosapiDate(t *testing.T) {
	ts := time.Date(2025, 3, 7, 9, 5, 2, 0, time.Local)
	if got := FormatPosapiDate(ts); got != "2025-03-07 09:05:02" {
		t.Errorf("FormatPosapiDate = %q, want zero-padded wire format", got)
	}
}

func TestNormalizePrintedDate(t *testing.T) {
	fallback := time.Date(2025, 6, 1, 12, 0, 0, 0, time.Local)

	t.Run("wire format kept verbatim", func(t *testing.T) {
		ts, text := normalizePrintedDate("2025-05-30 18:22:01", fallback)
		if text != "2025-05-30 18:22:01" {
			t.Errorf("text = %q, want input unchanged", text)
		}
		if ts.Hour() != 18 || ts.Minute() != 22 {
			t.Errorf("parsed time = %v", ts)
		}
	})

	t.Run("iso format reparsed", func(t *testing.T) {
		_, text := normalizePrintedDate("2025-05-30T18:22:01", fallback)
		if text != "2025-05-30 18:22:01" {
			t.Errorf("text = %q, want wire format", text)
		}
	})

	t.Run("garbage falls back", func(t *testing.T) {
		ts, text := normalizePrintedDate("soon", fallback)
		if !ts.Equal(fallback) {
			t.Errorf("time = %v, want fallback", ts)
		}
		if text != FormatPosapiDate(fallback) {
			t.Errorf("text = %q", text)
		}
	})

	t.Run("empty falls back", func(t *testing.T) {
		ts, _ := normalizePrintedDate("", fallback)
		if !ts.Equal(fallback) {
			t.Errorf("time = %v, want fallback", ts)
		}
	})
}
