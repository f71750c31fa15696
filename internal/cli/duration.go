// Package cli provides shared utilities for CLI commands.
package cli

import (
	"fmt"
	"strconv"
	"time"
)

// ParseDuration parses a duration string like "30d", "1y", "24h".
// Units h, d, w, m (30 days) and y (365 days) take an integer count;
// anything else is handed to time.ParseDuration.
func ParseDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("duration too short: %q", s)
	}

	unit := s[len(s)-1]
	valueStr := s[:len(s)-1]

	var scale time.Duration
	switch unit {
	case 'h':
		scale = time.Hour
	case 'd':
		scale = 24 * time.Hour
	case 'w':
		scale = 7 * 24 * time.Hour
	case 'm':
		scale = 30 * 24 * time.Hour
	case 'y':
		scale = 365 * 24 * time.Hour
	default:
		return time.ParseDuration(s)
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// "1.5h" or "90m"-style values fall through to the standard parser
		if d, perr := time.ParseDuration(s); perr == nil {
			return d, nil
		}
		return 0, fmt.Errorf("invalid duration value: %q", valueStr)
	}
	if value < 0 {
		return 0, fmt.Errorf("duration must not be negative: %q", s)
	}
	return time.Duration(value) * scale, nil
}
