package cohort

import (
	"path"
	"strings"
)

// Column selects one datasheet field for the cohort table. Name renames the
// field in the output header; an empty Name keeps the field name.
type Column struct {
	Field    string
	Name     string
	Required bool
}

func (c Column) Header() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Field
}

const (
	fieldSubject      = "Subject ID"
	fieldGender       = "Gender"
	fieldSessionStart = "Session start time"
	fieldTestStart    = "Test start time"
)

func col(field string, required bool) Column {
	return Column{Field: field, Required: required}
}

var demographics = []Column{
	{Field: fieldSubject, Name: "PSC2", Required: true},
	col("Age", true),
	col("NART", true),
	{Field: fieldGender, Name: "Sex", Required: true},
	col(fieldSessionStart, true),
}

var cgt = []string{
	"CGT Delay aversion",
	"CGT Deliberation time",
	"CGT Overall proportion bet",
	"CGT Quality of decision making",
	"CGT Risk adjustment",
	"CGT Risk taking",
}

var agnLatencies = []string{
	"AGN Mean correct latency (positive)",
	"AGN Mean correct latency (negative)",
	"AGN Mean correct latency (neutral)",
}

var agnOmissions = []string{
	"AGN Total omissions (neutral)",
	"AGN Total omissions (negative)",
	"AGN Total omissions (positive)",
	"AGN Affective response bias (Mean)",
}

var ied = []string{
	"IED Total trials",
	"IED Total trials (adjusted)",
	"IED Completed stage trials",
	"IED Pre-ED errors",
	"IED EDS errors",
	"IED Total errors",
	"IED Total errors (adjusted)",
	"IED Completed stage errors",
	"IED Errors (block 1)",
	"IED Errors (block 2)",
	"IED Errors (block 3)",
	"IED Errors (block 4)",
	"IED Errors (block 5)",
	"IED Errors (block 6)",
	"IED Errors (block 7)",
	"IED Errors (block 8)",
	"IED Errors (block 9)",
	"IED Stages completed",
}

func cols(required bool, fields ...string) []Column {
	out := make([]Column, len(fields))
	for i, f := range fields {
		out[i] = col(f, required)
	}
	return out
}

func join(parts ...[]Column) []Column {
	var out []Column
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

var columnSets = map[string][]Column{
	"BL": join(
		demographics,
		cols(false, "PRM Percent correct"),
		cols(true, "RVP A'", "SWM Between errors", "SWM Strategy"),
		cols(false, agnLatencies...),
		cols(false, agnOmissions...),
		cols(false, cgt...),
	),
	"FU2": join(
		demographics,
		cols(true, agnLatencies...),
		cols(false, agnOmissions...),
		cols(true, cgt...),
		cols(false, "PRM Percent correct", "RVP A'", "SWM Between errors", "SWM Strategy"),
	),
	"FU3": join(
		demographics,
		cols(true, cgt...),
		cols(true, ied...),
		cols(true, "SWM Between errors", "SWM Strategy"),
	),
}

func init() {
	columnSets["SB"] = columnSets["FU3"]
}

// Columns returns the cohort table layout of a timepoint. The first column
// is always the subject.
func Columns(timepoint string) ([]Column, bool) {
	set, ok := columnSets[strings.ToUpper(timepoint)]
	if !ok {
		return nil, false
	}
	return append([]Column(nil), set...), true
}

// IsDatasheet tells the summary datasheet of a cognitive battery export
// apart from the detailed one, whatever the site named it.
func IsDatasheet(name string) bool {
	lower := strings.ToLower(path.Base(name))
	return strings.Contains(lower, "datasheet") && !strings.Contains(lower, "detailed") && strings.HasSuffix(lower, ".csv")
}
