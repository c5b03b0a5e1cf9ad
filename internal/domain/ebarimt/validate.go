package ebarimt

import (
	"regexp"
	"time"
)

// posapiDateLayout is the timestamp format POSAPI exchanges on the wire,
// local time with zero-padded fields.
const posapiDateLayout = "2006-01-02 15:04:05"

var (
	ddtdRe = regexp.MustCompile(`^[0-9]{33}$`)
	tinRe  = regexp.MustCompile(`^([0-9]{11}|[0-9]{14})$`)
)

// IsValidDDTD reports whether s is a well-formed fiscal receipt identifier:
// exactly 33 digits, nothing else.
func IsValidDDTD(s string) bool {
	return ddtdRe.MatchString(s)
}

// IsValidTIN reports whether s is a well-formed taxpayer identification
// number. Individuals carry 11 digits, organizations 14.
func IsValidTIN(s string) bool {
	return tinRe.MatchString(s)
}

// FormatPosapiDate renders t in the POSAPI wire format.
func FormatPosapiDate(t time.Time) string {
	return t.Format(posapiDateLayout)
}

// normalizePrintedDate resolves the confirmation timestamp from a raw
// response value. A string already in the wire format is kept verbatim so
// the stored text round-trips byte-for-byte into a later cancellation call;
// other recognizable formats are reparsed, and anything else falls back to
// the local time the response was received.
func normalizePrintedDate(raw string, fallback time.Time) (time.Time, string) {
	if raw != "" {
		if t, err := time.ParseInLocation(posapiDateLayout, raw, time.Local); err == nil {
			return t, raw
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
				return t, FormatPosapiDate(t)
			}
		}
	}
	return fallback, FormatPosapiDate(fallback)
}
