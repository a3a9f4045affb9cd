// Package render writes analysis reports for humans (text) and machines (JSON).
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/sgerhart/logwhisperer/internal/model"
)

const tip = "Tip: use --show-new to only display never-seen patterns."

var (
	newTag   = color.New(color.FgGreen, color.Bold).SprintFunc()
	errorSev = color.New(color.FgRed, color.Bold).SprintFunc()
	warnSev  = color.New(color.FgYellow).SprintFunc()
	header   = color.New(color.Bold).SprintFunc()
)

// TextOptions controls the human-readable report
type TextOptions struct {
	ShowSamples bool
	// Now is used for the remaining baseline time; zero means time.Now()
	Now time.Time
}

// WriteJSON writes the report as indented JSON followed by a newline
func WriteJSON(w io.Writer, report *model.Report) error {
	r := *report
	if r.Items == nil {
		r.Items = []model.ReportItem{}
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&r); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// WriteText writes the report in the terminal layout
func WriteText(w io.Writer, report *model.Report, opts TextOptions) error {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	ew := &errWriter{w: w}
	ew.printf("\n%s\n", header("=== Log Whisperer Report ==="))
	ew.printf("Source: %s | since=%s | lines<=%d\n", report.Source, report.Since, report.LinesLimit)
	ew.printf("State: %s\n", report.StateDB)

	if report.BaselineActive {
		until := time.Unix(report.BaselineUntil, 0)
		ew.printf("Baseline: ACTIVE (learning) until %s (%s)\n",
			until.Local().Format("2006-01-02 15:04:05"),
			humanize.RelTime(now, until, "remaining", "ago"))
	}
	ew.printf("\n")

	if len(report.Items) == 0 {
		ew.printf("No patterns to show.\n")
		ew.printf("\n%s\n", tip)
		return ew.err
	}

	for _, it := range report.Items {
		ew.printf("[%s][%s] x%-5d total=%-7d  %s\n",
			colorTag(it.Tag), colorSeverity(it.Severity), it.CountWindow, it.TotalSeen, it.Pattern)
		if opts.ShowSamples {
			ew.printf("  sample: %s\n", it.Sample)
		}
	}
	ew.printf("\n%s\n", tip)

	return ew.err
}

func colorTag(tag string) string {
	if tag == model.TagNew {
		return newTag(tag)
	}
	return tag
}

func colorSeverity(s model.Severity) string {
	switch s {
	case model.SeverityError:
		return errorSev(string(s))
	case model.SeverityWarn:
		return warnSev(string(s))
	default:
		return string(s)
	}
}

// errWriter keeps the first write error so the layout code stays linear
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
