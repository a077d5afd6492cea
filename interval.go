package machina

import (
	"fmt"
	"strconv"
	"time"
)

// intervalUnits maps each recognized suffix to its factor in seconds.
// Order matters: longer suffixes must be checked before their prefixes
// (ms before m, s).
var intervalUnits = []struct {
	suffix string
	factor float64
}{
	{"ms", 0.001},
	{"d", 86400},
	{"h", 3600},
	{"m", 60},
	{"s", 1},
}

// ParseInterval parses a duration string composed of one or more
// <integer><unit> tokens, where unit is one of d, h, m, s, ms. Tokens may
// be concatenated or whitespace-separated in any order and are additive:
// ParseInterval("1d12h35m59s500ms") sums every token.
//
// An empty string, or any string containing a token with an unrecognized
// unit, is an error.
func ParseInterval(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("machina: empty interval string")
	}

	var total float64
	i := 0
	n := len(s)
	for i < n {
		if s[i] == ' ' || s[i] == '\t' {
			i++
			continue
		}

		start := i
		for i < n && s[i] >= '0' && s[i] <= '9' {
			i++
		}
		if i == start {
			return 0, fmt.Errorf("machina: invalid interval %q: expected digit at position %d", s, start)
		}
		numStr := s[start:i]

		unit, factor, ok := matchIntervalUnit(s[i:])
		if !ok {
			return 0, fmt.Errorf("machina: invalid interval %q: unrecognized unit at position %d", s, i)
		}
		i += len(unit)

		value, err := strconv.ParseFloat(numStr, 64)
		if err != nil {
			return 0, fmt.Errorf("machina: invalid interval %q: %w", s, err)
		}
		total += value * factor
	}

	return time.Duration(total * float64(time.Second)), nil
}

func matchIntervalUnit(rest string) (unit string, factor float64, ok bool) {
	for _, u := range intervalUnits {
		if len(rest) >= len(u.suffix) && rest[:len(u.suffix)] == u.suffix {
			return u.suffix, u.factor, true
		}
	}
	return "", 0, false
}
