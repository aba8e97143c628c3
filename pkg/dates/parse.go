package dates

import (
	"strings"
	"time"
)

// Layout is one candidate format: a Go reference layout, plus the locale of
// any month name it contains.
type Layout struct {
	Layout string
	Locale Locale
}

func (l Layout) hasMonthName() bool {
	return strings.Contains(l.Layout, "Jan")
}

// Candidate format sets observed across sites. Order matters: the first
// layout that parses wins. Single-digit day and month layouts also accept
// zero-padded values.
var (
	BehavioralTimestamps = []Layout{
		{Layout: "2.1.2006 15:04:05"},
		{Layout: "2/1/2006 15:04:05"},
		{Layout: "1/2/2006 3:04:05 PM"},
	}

	CantabTimestamps = []Layout{
		{Layout: "2-Jan-2006 15:04:05", Locale: English},
		{Layout: "2-Jan-2006 15:04", Locale: English},
		{Layout: "2 Jan 2006 15:04:05", Locale: English},
		{Layout: "2-Jan-2006 15:04:05", Locale: German},
		{Layout: "2-Jan-2006 15:04", Locale: German},
		{Layout: "2 Jan 2006 15:04:05", Locale: German},
		{Layout: "2-Jan-2006 15:04:05", Locale: French},
		{Layout: "2-Jan-2006 15:04", Locale: French},
		{Layout: "2 Jan 2006 15:04:05", Locale: French},
		{Layout: "2/1/2006 15:04"},
		{Layout: "2.1.2006 15:04:05"},
		{Layout: "15:04:05 2.1.2006"},
		{Layout: "2.1.2006 15:04"},
	}

	SurveyTimestamps = []Layout{
		{Layout: "2006-01-02 15:04:05"},
	}

	DawbaDates = []Layout{
		{Layout: "2.1.06"},
	}

	TrialDates = []Layout{
		{Layout: "2-1-2006"},
	}

	ISODate = []Layout{
		{Layout: "2006-01-02"},
	}

	ArchiveTimestamps = []Layout{
		{Layout: "2006-01-02_15:04:05"},
		{Layout: "2006-02-01_15:04:05"},
	}
)

var namedSets = map[string][]Layout{
	"behavioral": BehavioralTimestamps,
	"cantab":     CantabTimestamps,
	"survey":     SurveyTimestamps,
	"dawba":      DawbaDates,
	"trial":      TrialDates,
	"iso":        ISODate,
	"archive":    ArchiveTimestamps,
}

// Formats returns a named candidate set, as referenced from schema files.
func Formats(name string) ([]Layout, bool) {
	set, ok := namedSets[strings.ToLower(strings.TrimSpace(name))]
	return set, ok
}

// Parse tries each candidate in order and returns the first success.
// Results are in UTC; site timestamps carry no zone.
func Parse(value string, candidates []Layout) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, candidate := range candidates {
		input := value
		if candidate.hasMonthName() {
			locale := candidate.Locale
			if locale == "" {
				locale = English
			}
			input = canonicalMonths(value, locale)
		}
		if t, err := time.Parse(candidate.Layout, input); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
