package models

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // check.request, check.result, deid.result
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// DiagnosticKind classifies a recoverable per-unit problem.
type DiagnosticKind string

const (
	KindUnknownIdentifier    DiagnosticKind = "unknown_identifier"
	KindMalformedIdentifier  DiagnosticKind = "malformed_identifier"
	KindIdentifierMismatch   DiagnosticKind = "identifier_mismatch"
	KindDuplicateIdentifier  DiagnosticKind = "duplicate_identifier"
	KindUnparsableDate       DiagnosticKind = "unparsable_date"
	KindImplausibleDate      DiagnosticKind = "implausible_date"
	KindMissingRequiredField DiagnosticKind = "missing_required_field"
	KindUnexpectedStructure  DiagnosticKind = "unexpected_structure"
	KindCorruptContainer     DiagnosticKind = "corrupt_container"
	KindDiscarded            DiagnosticKind = "discarded"
	// KindResidualIdentifier flags identifying data left in a released file.
	KindResidualIdentifier DiagnosticKind = "residual_identifier"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Diagnostic is accumulated by every component instead of being returned as
// an error.
type Diagnostic struct {
	Kind     DiagnosticKind `json:"kind"`
	Severity Severity       `json:"severity"`
	Location string         `json:"location"`
	Message  string         `json:"message"`
	Sample   string         `json:"sample,omitempty"`
}

const sampleLimit = 30

// NewDiagnostic builds an error-severity diagnostic.
func NewDiagnostic(kind DiagnosticKind, location, message, sample string) Diagnostic {
	return Diagnostic{
		Kind:     kind,
		Severity: SeverityError,
		Location: location,
		Message:  message,
		Sample:   sample,
	}
}

func (d Diagnostic) WithSeverity(s Severity) Diagnostic {
	d.Severity = s
	return d
}

// Truncate quotes a sample and shortens it for display.
func Truncate(sample string) string {
	quoted := strconv.Quote(sample)
	if len(quoted) > sampleLimit {
		return quoted[:sampleLimit] + "..."
	}
	return quoted
}

func (d Diagnostic) String() string {
	if d.Sample != "" {
		return fmt.Sprintf("%s: <%s>: %s", d.Message, Truncate(d.Sample), d.Location)
	}
	return fmt.Sprintf("%s: %s", d.Message, d.Location)
}

// IsError reports whether the diagnostic should count as a failure.
func (d Diagnostic) IsError() bool {
	return d.Severity == "" || d.Severity == SeverityError
}

// CountByKind tallies diagnostics, used for run summaries and metrics.
func CountByKind(diags []Diagnostic) map[DiagnosticKind]int {
	counts := make(map[DiagnosticKind]int)
	for _, d := range diags {
		counts[d.Kind]++
	}
	return counts
}

// SortDiagnostics orders diagnostics by location then message, keeping
// reports stable across pool scheduling.
func SortDiagnostics(diags []Diagnostic) {
	sort.SliceStable(diags, func(i, j int) bool {
		if diags[i].Location != diags[j].Location {
			return diags[i].Location < diags[j].Location
		}
		return diags[i].Message < diags[j].Message
	})
}
