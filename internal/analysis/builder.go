package analysis

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/benbjohnson/clock"

	"github.com/sgerhart/logwhisperer/internal/metrics"
	"github.com/sgerhart/logwhisperer/internal/model"
	"github.com/sgerhart/logwhisperer/internal/severity"
	"github.com/sgerhart/logwhisperer/internal/store"
)

// BuildInput carries everything one report run needs
type BuildInput struct {
	Source       string
	Since        string
	LinesLimit   int
	DB           *store.PatternDB
	BaselinePath string
	Window       *Window
	ShowNewOnly  bool
	MinSeverity  model.Severity
}

// BuildResult is the outcome of a report run
type BuildResult struct {
	Report         *model.Report
	Alerts         []model.ReportItem
	BaselineActive bool
}

// Builder diffs a window against the pattern database and produces a report
type Builder struct {
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewBuilder creates a new report builder
func NewBuilder(logger *slog.Logger, clk clock.Clock, m *metrics.Metrics) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.New()
	}
	if m == nil {
		m = metrics.NewMetrics()
	}
	return &Builder{
		clock:   clk,
		logger:  logger,
		metrics: m,
	}
}

// Build loads the database and baseline, classifies every window pattern as
// NEW or seen, applies the severity and new-only filters and saves the
// updated database once at the end. Filtered patterns are still recorded.
func (b *Builder) Build(in BuildInput) (*BuildResult, error) {
	if in.DB == nil {
		return nil, fmt.Errorf("pattern database is required")
	}
	window := in.Window
	if window == nil {
		window = newWindow()
	}

	loaded, err := in.DB.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load pattern db: %w", err)
	}
	if loaded.Degraded() {
		b.logger.Warn("Pattern db loaded with skipped lines",
			"path", in.DB.Path(),
			"skipped", loaded.Skipped)
		b.metrics.AddSkippedDBLines(loaded.Skipped)
	}
	records := loaded.Records

	now := b.clock.Now()
	nowEpoch := now.Unix()

	baseline := store.LoadBaseline(in.BaselinePath)
	baselineActive := baseline.Active(now)

	minRank := severity.Rank(in.MinSeverity)

	// Highest window count first, ties keep encounter order
	patterns := window.Patterns()
	sort.SliceStable(patterns, func(i, j int) bool {
		return patterns[i].Count > patterns[j].Count
	})

	items := make([]model.ReportItem, 0, len(patterns))
	var alerts []model.ReportItem
	newCount := 0

	for _, wp := range patterns {
		old := records[wp.Hash]
		isNew := old == nil
		if isNew {
			newCount++
		}

		rec := mergeRecord(old, wp, nowEpoch)

		if severity.Rank(wp.Severity) < minRank {
			records[wp.Hash] = rec
			continue
		}

		if in.ShowNewOnly && !isNew {
			records[wp.Hash] = rec
			continue
		}

		tag := model.TagSeen
		if isNew {
			tag = model.TagNew
		}

		item := model.ReportItem{
			Tag:         tag,
			CountWindow: wp.Count,
			TotalSeen:   rec.TotalSeen,
			Severity:    wp.Severity,
			Pattern:     wp.Pattern,
			Sample:      wp.Sample,
			Hash:        wp.Hash,
		}
		items = append(items, item)

		if !baselineActive && item.IsNew() {
			alerts = append(alerts, item)
		}

		records[wp.Hash] = rec
	}

	if err := in.DB.Save(records); err != nil {
		return nil, fmt.Errorf("failed to save pattern db: %w", err)
	}

	b.metrics.WindowPatterns.Set(float64(window.Len()))
	b.metrics.NewPatternsTotal.Add(float64(newCount))
	b.metrics.AlertsTotal.Add(float64(len(alerts)))
	b.metrics.DBRecords.Set(float64(len(records)))
	b.metrics.SetBaselineActive(baselineActive)

	b.logger.Info("Report built",
		"source", in.Source,
		"window_patterns", window.Len(),
		"new_patterns", newCount,
		"reported", len(items),
		"alerts", len(alerts),
		"db_records", len(records),
		"baseline_active", baselineActive)

	report := &model.Report{
		Source:         in.Source,
		Since:          in.Since,
		LinesLimit:     in.LinesLimit,
		StateDB:        in.DB.Path(),
		BaselineActive: baselineActive,
		BaselineUntil:  baseline.BaselineUntil,
		GeneratedAt:    nowEpoch,
		Items:          items,
	}

	return &BuildResult{
		Report:         report,
		Alerts:         alerts,
		BaselineActive: baselineActive,
	}, nil
}

// mergeRecord creates the record of a first observation, or accumulates a
// window observation into an existing record. Empty window values never
// overwrite stored ones.
func mergeRecord(old *model.PatternRecord, wp *model.WindowPattern, now int64) *model.PatternRecord {
	if old == nil {
		return &model.PatternRecord{
			Hash:      wp.Hash,
			FirstSeen: now,
			LastSeen:  now,
			TotalSeen: int64(wp.Count),
			Severity:  wp.Severity,
			Pattern:   wp.Pattern,
			Sample:    wp.Sample,
		}
	}

	rec := &model.PatternRecord{
		Hash:      wp.Hash,
		FirstSeen: old.FirstSeen,
		LastSeen:  now,
		TotalSeen: old.TotalSeen + int64(wp.Count),
		Severity:  firstNonEmpty(wp.Severity, old.Severity),
		Pattern:   firstNonEmpty(wp.Pattern, old.Pattern),
		Sample:    firstNonEmpty(wp.Sample, old.Sample),
	}
	if rec.FirstSeen > rec.LastSeen {
		rec.FirstSeen = rec.LastSeen
	}
	return rec
}

func firstNonEmpty[T ~string](values ...T) T {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
