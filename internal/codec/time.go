package codec

import (
	"fmt"
	"strings"
	"time"
)

// ParseTime parses the RFC3339 timestamps used in REST and feed payloads.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// ParseOptionalTime is ParseTime that maps an empty string to the zero time.
func ParseOptionalTime(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	return ParseTime(s)
}

func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// UnixMilli converts an exchange millisecond timestamp, treating 0 as unset.
func UnixMilli(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
