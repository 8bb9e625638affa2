package util

import (
	"strings"
	"time"

	iso8601 "github.com/senseyeio/duration"
)

var durationReference = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// ParseDuration accepts either a Go duration (90s) or an ISO-8601 duration (PT1M30S)
func ParseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)

	if strings.HasPrefix(value, "P") {
		duration, err := iso8601.ParseISO8601(value)
		if err != nil {
			return 0, err
		}

		return duration.Shift(durationReference).Sub(durationReference), nil
	}

	return time.ParseDuration(value)
}
