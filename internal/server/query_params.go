package server

import (
	"errors"
	"strings"
	"time"
)

var errInvalidTime = errors.New("invalid_time")

// parseOptionalTime reads an RFC3339 instant or a YYYY-MM-DD date in UTC.
// A bare date used as an upper bound stretches to the last nanosecond of that day.
func parseOptionalTime(value string, endOfDay bool) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	day, err := time.ParseInLocation(time.DateOnly, value, time.UTC)
	if err != nil {
		return nil, errInvalidTime
	}
	if endOfDay {
		day = day.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return &day, nil
}
