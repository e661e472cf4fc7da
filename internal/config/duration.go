package config

import (
	"fmt"
	"strings"
	"time"
)

// DurationOrDefault parses a timeout field, substituting defaultValue when
// the field was left empty. Config keeps durations as strings so YAML and
// env values stay human-readable ("30s", "5m").
func DurationOrDefault(value string, defaultValue string) (time.Duration, error) {
	candidate := strings.TrimSpace(value)
	if candidate == "" {
		candidate = strings.TrimSpace(defaultValue)
	}
	if candidate == "" {
		return 0, fmt.Errorf("duration value and default are both empty")
	}

	d, err := time.ParseDuration(candidate)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", candidate, err)
	}
	return d, nil
}
