package models

import (
	"bytes"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"
)

// The backend serializes both zoned instants and zone-less local date-times.
// Zone-less values are read in the location set by SetTimestampLocation,
// UTC unless configured otherwise.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

var timestampLocation atomic.Pointer[time.Location]

// SetTimestampLocation sets the zone used for zone-less timestamps. A nil
// loc restores UTC.
func SetTimestampLocation(loc *time.Location) {
	timestampLocation.Store(loc)
}

// TimestampLocation returns the zone used for zone-less timestamps.
func TimestampLocation() *time.Location {
	if loc := timestampLocation.Load(); loc != nil {
		return loc
	}
	return time.UTC
}

// Timestamp is an ISO-8601 time that tolerates the layouts emitted by the backend.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t.
func NewTimestamp(t time.Time) *Timestamp {
	return &Timestamp{Time: t}
}

// ParseTimestamp parses s using any of the accepted layouts.
func ParseTimestamp(s string) (Timestamp, error) {
	loc := TimestampLocation()
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return Timestamp{Time: t}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.UTC().Format(time.RFC3339Nano) + `"`), nil
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	// Presence updates carry epoch milliseconds.
	if len(data) > 0 && data[0] != '"' {
		ms, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("timestamp must be a string or epoch millis, got %s", data)
		}
		t.Time = time.UnixMilli(ms).UTC()
		return nil
	}
	if len(data) < 2 || data[len(data)-1] != '"' {
		return fmt.Errorf("malformed timestamp %s", data)
	}
	parsed, err := ParseTimestamp(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// TimePtr returns nil for a nil or zero timestamp.
func (t *Timestamp) TimePtr() *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}
