package analyze

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseTimeRange converts a period like "24h", "2d", "1w", or a bare
// hour count into hours.
func ParseTimeRange(s string) (int, error) {
	trimmed := strings.ToLower(strings.TrimSpace(s))
	if trimmed == "" {
		return 0, fmt.Errorf("empty time range")
	}

	multiplier := 1
	switch {
	case strings.HasSuffix(trimmed, "h"):
		trimmed = strings.TrimSuffix(trimmed, "h")
	case strings.HasSuffix(trimmed, "d"):
		trimmed = strings.TrimSuffix(trimmed, "d")
		multiplier = 24
	case strings.HasSuffix(trimmed, "w"):
		trimmed = strings.TrimSuffix(trimmed, "w")
		multiplier = 24 * 7
	}

	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("parsing time range %q: %w", s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("time range %q must be positive", s)
	}

	return n * multiplier, nil
}
