package model

// Severity is the classified level of a log pattern
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
)

// Report item tags
const (
	TagNew  = "NEW"
	TagSeen = "seen"
)

// WindowPattern is one pattern aggregated from the lines of a single run
type WindowPattern struct {
	Hash     string   `json:"h"`
	Pattern  string   `json:"pattern"`
	Count    int      `json:"count"`
	Severity Severity `json:"severity"`
	Sample   string   `json:"sample"` // first raw occurrence in the window
}

// PatternRecord is the durable, cumulative state of a pattern
type PatternRecord struct {
	Hash      string   `json:"h"`
	FirstSeen int64    `json:"first_seen"`
	LastSeen  int64    `json:"last_seen"`
	TotalSeen int64    `json:"total_seen"`
	Severity  Severity `json:"severity"`
	Pattern   string   `json:"pattern"`
	Sample    string   `json:"sample"`
}

// ReportItem is one pattern line of a report
type ReportItem struct {
	Tag         string   `json:"tag"`
	CountWindow int      `json:"count_window"`
	TotalSeen   int64    `json:"total_seen"`
	Severity    Severity `json:"severity"`
	Pattern     string   `json:"pattern"`
	Sample      string   `json:"sample"`
	Hash        string   `json:"hash"`
}

// IsNew reports whether the item was absent from the pattern database before the run
func (i ReportItem) IsNew() bool {
	return i.Tag == TagNew
}

// Report is the output of one analysis run
type Report struct {
	Source         string       `json:"source"`
	Since          string       `json:"since"`
	LinesLimit     int          `json:"lines_limit"`
	StateDB        string       `json:"state_db"`
	BaselineActive bool         `json:"baseline_active"`
	BaselineUntil  int64        `json:"baseline_until"`
	GeneratedAt    int64        `json:"generated_at"`
	Items          []ReportItem `json:"items"`
}

// Alert is the structured notification published to message buses
type Alert struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Source      string       `json:"source"`
	Since       string       `json:"since"`
	GeneratedAt int64        `json:"generated_at"`
	Body        string       `json:"body"`
	Items       []ReportItem `json:"items"`
}
