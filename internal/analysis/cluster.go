package analysis

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sgerhart/logwhisperer/internal/model"
	"github.com/sgerhart/logwhisperer/internal/normalize"
	"github.com/sgerhart/logwhisperer/internal/severity"
)

// DefaultCacheSize bounds the raw line -> pattern memo of a Clusterer
const DefaultCacheSize = 4096

// Window holds the patterns aggregated from one run, in first-appearance order
type Window struct {
	patterns map[string]*model.WindowPattern
	order    []string
	lines    int
}

func newWindow() *Window {
	return &Window{patterns: make(map[string]*model.WindowPattern)}
}

// Len returns the number of distinct patterns
func (w *Window) Len() int {
	return len(w.order)
}

// Lines returns the number of raw lines consumed, blank ones included
func (w *Window) Lines() int {
	return w.lines
}

func (w *Window) get(hash string) (*model.WindowPattern, bool) {
	p, ok := w.patterns[hash]
	return p, ok
}

// Patterns returns the window patterns in the order they first appeared
func (w *Window) Patterns() []*model.WindowPattern {
	out := make([]*model.WindowPattern, 0, len(w.order))
	for _, h := range w.order {
		out = append(out, w.patterns[h])
	}
	return out
}

type normalized struct {
	pattern string
	hash    string
}

// Clusterer groups raw lines into window patterns. Repeated raw lines are
// served from an LRU memo instead of being normalized again.
type Clusterer struct {
	cache *lru.Cache[string, normalized]
}

// NewClusterer creates a clusterer with a memo of cacheSize entries
func NewClusterer(cacheSize int) *Clusterer {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, _ := lru.New[string, normalized](cacheSize)
	return &Clusterer{cache: cache}
}

// Cluster normalizes, hashes and counts lines. The first raw line of each
// pattern is kept as its sample.
func (c *Clusterer) Cluster(lines []string) *Window {
	w := newWindow()

	for _, raw := range lines {
		w.lines++
		raw = strings.TrimRight(raw, "\r\n")

		n := c.normalize(raw)
		if n.pattern == "" {
			continue
		}

		wp, exists := w.patterns[n.hash]
		if !exists {
			wp = &model.WindowPattern{
				Hash:    n.hash,
				Pattern: n.pattern,
				Sample:  raw,
			}
			w.patterns[n.hash] = wp
			w.order = append(w.order, n.hash)
		}
		wp.Count++
		wp.Severity = severity.Classify(n.pattern)
	}

	return w
}

func (c *Clusterer) normalize(raw string) normalized {
	if n, ok := c.cache.Get(raw); ok {
		return n
	}

	n := normalized{pattern: normalize.Normalize(raw)}
	if n.pattern != "" {
		n.hash = normalize.Hash(n.pattern)
	}
	c.cache.Add(raw, n)
	return n
}

// Cluster groups lines with a fresh default clusterer
func Cluster(lines []string) *Window {
	return NewClusterer(DefaultCacheSize).Cluster(lines)
}
