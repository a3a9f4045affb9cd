package store

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// flexInt decodes integers stored either as JSON numbers or numeric strings
type flexInt int64

func (n *flexInt) UnmarshalJSON(b []byte) error {
	raw := bytes.TrimSpace(b)
	if len(raw) > 0 && raw[0] == '"' {
		s, err := strconv.Unquote(string(raw))
		if err != nil {
			return fmt.Errorf("invalid quoted integer: %w", err)
		}
		raw = []byte(strings.TrimSpace(s))
	}

	if v, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
		*n = flexInt(v)
		return nil
	}

	// Accept integral floats such as 1.7e9
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) || f != math.Trunc(f) {
		return fmt.Errorf("invalid integer %q", string(b))
	}
	*n = flexInt(f)
	return nil
}
