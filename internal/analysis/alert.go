package analysis

import (
	"fmt"
	"strings"

	"github.com/sgerhart/logwhisperer/internal/model"
)

// DefaultMaxAlertItems is the number of patterns listed in an alert body
const DefaultMaxAlertItems = 10

// AlertTitle is the fixed subject used by every transport
const AlertTitle = "Log Whisperer Alert"

// FormatAlert renders alert-worthy items as a plain-text notification body.
// The result always ends with exactly one newline.
func FormatAlert(report *model.Report, items []model.ReportItem, maxItems int) string {
	if maxItems <= 0 {
		maxItems = DefaultMaxAlertItems
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Log Whisperer ALERT (%d new patterns)\n", len(items))
	fmt.Fprintf(&sb, "Source: %s | since=%s\n", report.Source, report.Since)
	sb.WriteString("\n")

	shown := items
	if len(shown) > maxItems {
		shown = shown[:maxItems]
	}
	for _, it := range shown {
		fmt.Fprintf(&sb, "[%s][%s] x%d  %s\n", it.Tag, it.Severity, it.CountWindow, it.Pattern)
		fmt.Fprintf(&sb, "sample: %s\n", it.Sample)
		sb.WriteString("\n")
	}

	if len(items) > maxItems {
		fmt.Fprintf(&sb, "...and %d more.\n", len(items)-maxItems)
	}

	return strings.TrimRight(sb.String(), " \t\r\n") + "\n"
}
