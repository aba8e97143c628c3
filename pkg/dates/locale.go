package dates

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Locale selects the month-name table used when a layout carries a month
// name. Process locale settings are never consulted.
type Locale string

const (
	English Locale = "en"
	German  Locale = "de"
	French  Locale = "fr"
	Dutch   Locale = "nl"
)

type monthNames map[string]time.Month

var monthTables = map[Locale]monthNames{
	English: names(
		[]string{"january", "february", "march", "april", "may", "june", "july", "august", "september", "october", "november", "december"},
		[]string{"jan", "feb", "mar", "apr", "may", "jun", "jul", "aug", "sep", "oct", "nov", "dec"},
		map[string]time.Month{"sept": time.September},
	),
	German: names(
		[]string{"januar", "februar", "märz", "april", "mai", "juni", "juli", "august", "september", "oktober", "november", "dezember"},
		[]string{"jan", "feb", "mär", "apr", "mai", "jun", "jul", "aug", "sep", "okt", "nov", "dez"},
		map[string]time.Month{"mrz": time.March, "maerz": time.March, "jän": time.January, "jänner": time.January},
	),
	French: names(
		[]string{"janvier", "février", "mars", "avril", "mai", "juin", "juillet", "août", "septembre", "octobre", "novembre", "décembre"},
		[]string{"janv", "févr", "mars", "avr", "mai", "juin", "juil", "août", "sept", "oct", "nov", "déc"},
		map[string]time.Month{"fév": time.February, "jan": time.January, "avri": time.April},
	),
	Dutch: names(
		[]string{"januari", "februari", "maart", "april", "mei", "juni", "juli", "augustus", "september", "oktober", "november", "december"},
		[]string{"jan", "feb", "mrt", "apr", "mei", "jun", "jul", "aug", "sep", "okt", "nov", "dec"},
		nil,
	),
}

func names(full, short []string, extra map[string]time.Month) monthNames {
	table := make(monthNames, len(full)+len(short)+len(extra))
	for i, name := range full {
		table[fold(name)] = time.Month(i + 1)
	}
	for i, name := range short {
		table[fold(name)] = time.Month(i + 1)
	}
	for name, month := range extra {
		table[fold(name)] = month
	}
	return table
}

// fold normalizes a month token so that "MÄRZ", "März" and a decomposed
// "März" compare equal. A Caser is stateful, hence one per call.
func fold(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}

// LookupMonth resolves a month name in the given locale.
func LookupMonth(locale Locale, name string) (time.Month, bool) {
	table, ok := monthTables[locale]
	if !ok {
		return 0, false
	}
	month, ok := table[fold(strings.TrimSuffix(name, "."))]
	return month, ok
}

// canonicalMonths rewrites every alphabetic run of value that names a month
// in locale to the English abbreviation understood by time.Parse. A dot
// closing an abbreviation is dropped with it unless a digit follows.
func canonicalMonths(value string, locale Locale) string {
	var b strings.Builder
	runes := []rune(value)
	for i := 0; i < len(runes); {
		if !unicode.IsLetter(runes[i]) {
			b.WriteRune(runes[i])
			i++
			continue
		}
		j := i
		for j < len(runes) && unicode.IsLetter(runes[j]) {
			j++
		}
		word := string(runes[i:j])
		if month, ok := LookupMonth(locale, word); ok {
			b.WriteString(month.String()[:3])
			if j+1 < len(runes) && runes[j] == '.' && !unicode.IsDigit(runes[j+1]) {
				j++
			}
		} else {
			b.WriteString(word)
		}
		i = j
	}
	return b.String()
}
