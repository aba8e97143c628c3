package identity

import (
	"regexp"
	"strconv"
	"strings"
)

// Site is an acquisition centre, identified by the digits that follow the
// leading zero of an internal code.
type Site int

const (
	London      Site = 1
	Nottingham  Site = 2
	Dublin      Site = 3
	Berlin      Site = 4
	Hamburg     Site = 5
	Mannheim    Site = 6
	Paris       Site = 7
	Dresden     Site = 8
	Southampton Site = 90
	Aachen      Site = 91
)

var siteNames = map[Site]string{
	London:      "LONDON",
	Nottingham:  "NOTTINGHAM",
	Dublin:      "DUBLIN",
	Berlin:      "BERLIN",
	Hamburg:     "HAMBURG",
	Mannheim:    "MANNHEIM",
	Paris:       "PARIS",
	Dresden:     "DRESDEN",
	Southampton: "SOUTHAMPTON",
	Aachen:      "AACHEN",
}

func (s Site) String() string {
	if name, ok := siteNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// CodeLength is the number of digits of internal and public codes.
const CodeLength = 12

var publicCodeRegex = regexp.MustCompile(`0\d{11}`)

// SiteOf returns the acquisition centre encoded in an internal code.
func SiteOf(code string) (Site, bool) {
	if !ValidInternalCode(code) {
		return 0, false
	}
	if strings.HasPrefix(code, "090") || strings.HasPrefix(code, "091") {
		return Site(10*int(code[1]-'0') + int(code[2]-'0')), true
	}
	return Site(code[1] - '0'), true
}

// ValidInternalCode checks the shape of an internal code: a leading zero,
// a centre, then free digits up to twelve in total.
func ValidInternalCode(code string) bool {
	if len(code) != CodeLength || !AllDigits(code) || code[0] != '0' {
		return false
	}
	if code[1] >= '1' && code[1] <= '8' {
		return true
	}
	return code[1] == '9' && (code[2] == '0' || code[2] == '1')
}

// AllDigits reports whether s is a non-empty run of ASCII digits.
func AllDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// DetectInternalCode finds the first plausible internal code embedded in s.
func DetectInternalCode(s string) (string, bool) {
	for i := 0; i+CodeLength <= len(s); i++ {
		if candidate := s[i : i+CodeLength]; ValidInternalCode(candidate) {
			return candidate, true
		}
	}
	return "", false
}

// DetectPublicCode finds the first run of twelve digits starting with zero.
func DetectPublicCode(s string) (string, bool) {
	match := publicCodeRegex.FindString(s)
	return match, match != ""
}

// Timepoints are the follow-up and cohort markers appended to subject
// codes, longest first.
var Timepoints = []string{"FU3", "FU2", "SB", "FU"}

// IsTimepoint reports whether s is one of Timepoints, ignoring case.
func IsTimepoint(s string) bool {
	for _, tp := range Timepoints {
		if strings.EqualFold(s, tp) {
			return true
		}
	}
	return false
}

// StripTimepoint removes a trailing follow-up or cohort marker from an
// identifier, matching case-insensitively. The longest marker is tried
// first so that FU3 is never read as FU.
func StripTimepoint(id string) (base, timepoint string) {
	upper := strings.ToUpper(id)
	for _, suffix := range Timepoints {
		if strings.HasSuffix(upper, suffix) {
			return id[:len(id)-len(suffix)], id[len(id)-len(suffix):]
		}
	}
	return id, ""
}

// GuessInternalCode reconstructs an internal code from a sloppy subject id
// typed at acquisition time, for a known centre. Only codes present in the
// registry are returned.
func (r *Registry) GuessInternalCode(subjectID string, site Site) (string, bool) {
	id := strings.SplitN(subjectID, "_", 2)[0]
	if strings.HasPrefix(strings.ToUpper(id), "FU2") {
		id = id[3:]
	}
	id, _ = StripTimepoint(id)
	prefix := "0" + strconv.Itoa(int(site))
	free := CodeLength - len(prefix)
	switch {
	case len(id) <= free:
		id = prefix + strings.Repeat("0", free-len(id)) + id
	case len(id) == CodeLength-1:
		id = id[:2] + "0" + id[2:]
	}
	if _, ok := r.PublicCodeOf(id); ok {
		return id, true
	}
	return "", false
}
