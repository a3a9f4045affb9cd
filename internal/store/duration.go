package store

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidFormat is returned for duration strings that are not <int><s|m|h|d>
var ErrInvalidFormat = errors.New("invalid duration format")

var durationRe = regexp.MustCompile(`^(\d+)\s*([smhd])$`)

var unitSeconds = map[string]int64{
	"s": 1,
	"m": 60,
	"h": 3600,
	"d": 86400,
}

// ParseDuration parses strings such as "30m", "2h" or "1d" into seconds
func ParseDuration(s string) (int64, error) {
	m := durationRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil {
		return 0, fmt.Errorf("%w: %q, use e.g. \"30m\", \"2h\", \"1d\"", ErrInvalidFormat, s)
	}

	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidFormat, s, err)
	}
	unit := unitSeconds[m[2]]
	if n > math.MaxInt64/unit {
		return 0, fmt.Errorf("%w: %q is out of range", ErrInvalidFormat, s)
	}
	return n * unit, nil
}
