package source

import (
	"bufio"
	"bytes"
	"container/ring"
	"io"
	"strings"
)

// Tail returns the last limit lines of r; limit <= 0 keeps every line.
// Line terminators are stripped and invalid UTF-8 is dropped.
func Tail(r io.Reader, limit int) ([]string, error) {
	var buf *ring.Ring
	var all []string
	if limit > 0 {
		buf = ring.New(limit)
	}

	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			line = strings.ToValidUTF8(strings.TrimRight(line, "\r\n"), "")
			if buf != nil {
				buf.Value = line
				buf = buf.Next()
			} else {
				all = append(all, line)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	if buf == nil {
		if all == nil {
			all = []string{}
		}
		return all, nil
	}

	lines := make([]string, 0, limit)
	// Oldest first; unused slots stay nil
	buf.Do(func(v any) {
		if s, ok := v.(string); ok {
			lines = append(lines, s)
		}
	})
	return lines, nil
}

// TailBytes is Tail over an in-memory buffer
func TailBytes(b []byte, limit int) []string {
	lines, _ := Tail(bytes.NewReader(b), limit)
	return lines
}
