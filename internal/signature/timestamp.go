package signature

import "time"

// DefaultTolerance is the accepted clock skew between partner and gateway
const DefaultTolerance = 300 * time.Second

// TimestampLayout is the ISO-8601 layout partners are expected to send
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp renders t in the layout used by X-Provider-Timestamp
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses an ISO-8601 timestamp with an explicit zone
func ParseTimestamp(value string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, value)
}

// IsTimestampValid reports whether candidate lies within tolerance of now,
// in the past or the future. Unparsable values are never valid.
func IsTimestampValid(candidate string, now time.Time, tolerance time.Duration) bool {
	ts, err := ParseTimestamp(candidate)
	if err != nil {
		return false
	}
	age := now.Sub(ts)
	if age < 0 {
		age = -age
	}
	return age <= tolerance
}
