// Package severity classifies log patterns by keyword.
package severity

import (
	"fmt"
	"strings"

	"github.com/sgerhart/logwhisperer/internal/model"
)

// ErrorHints are checked first; any match makes the pattern an ERROR.
var ErrorHints = []string{
	"error",
	"fatal",
	"exception",
	"traceback",
	"panic",
	"segfault",
	"failed",
	"failure",
	"critical",
}

// WarnHints are checked only when no error hint matched.
var WarnHints = []string{
	"warn",
	"warning",
	"timeout",
	"timed out",
	"retry",
	"throttle",
	"rate limit",
	"deprecated",
	"slow",
	"unavailable",
}

var ranks = map[model.Severity]int{
	model.SeverityInfo:  0,
	model.SeverityWarn:  1,
	model.SeverityError: 2,
}

// Classify maps a pattern to ERROR, WARN or INFO
func Classify(text string) model.Severity {
	t := strings.ToLower(text)
	if containsAny(t, ErrorHints) {
		return model.SeverityError
	}
	if containsAny(t, WarnHints) {
		return model.SeverityWarn
	}
	return model.SeverityInfo
}

// Rank returns the ordinal of a severity (INFO < WARN < ERROR); unknown values rank as INFO
func Rank(s model.Severity) int {
	return ranks[s]
}

// Parse converts user input such as "warn" into a Severity
func Parse(s string) (model.Severity, error) {
	sev := model.Severity(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := ranks[sev]; !ok {
		return "", fmt.Errorf("invalid severity %q, must be INFO, WARN or ERROR", s)
	}
	return sev, nil
}

func containsAny(text string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(text, h) {
			return true
		}
	}
	return false
}
