package identity

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/neurocohort/databank/pkg/common/logger"
	"github.com/neurocohort/databank/pkg/common/models"
)

var dobRegex = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})`)

// Options bounds the plausible years of birth. A zero MaxBirthYear means the
// current year.
type Options struct {
	MinBirthYear int
	MaxBirthYear int
}

func DefaultOptions() Options {
	return Options{MinBirthYear: 1989, MaxBirthYear: time.Now().Year()}
}

// Registry maps between internal codes, public codes and survey tokens and
// holds dates of birth. It is never modified after Build returns and may be
// shared by any number of goroutines.
type Registry struct {
	publicOf        map[string]string
	internalOf      map[string]string
	internalOfToken map[string]string
	tokenOf         map[string]string
	birthDates      map[string]time.Time
	diagnostics     []models.Diagnostic
}

// Build merges mapping tables and date-of-birth tables in the order given.
// Contradicting mappings and implausible birth dates abort the build; token
// conflicts are kept as load diagnostics and the first value wins.
func Build(mappings []Table, birthDates []Table, opts Options) (*Registry, error) {
	if opts.MinBirthYear == 0 {
		opts.MinBirthYear = DefaultOptions().MinBirthYear
	}
	if opts.MaxBirthYear == 0 {
		opts.MaxBirthYear = time.Now().Year()
	}

	r := &Registry{
		publicOf:        make(map[string]string),
		internalOf:      make(map[string]string),
		internalOfToken: make(map[string]string),
		tokenOf:         make(map[string]string),
		birthDates:      make(map[string]time.Time),
	}

	for _, table := range mappings {
		if err := r.loadMapping(table); err != nil {
			return nil, err
		}
	}
	for _, table := range birthDates {
		if err := r.loadBirthDates(table, opts); err != nil {
			return nil, err
		}
	}

	logger.WithFields(map[string]interface{}{
		"subjects":    len(r.publicOf),
		"tokens":      len(r.internalOfToken),
		"birth_dates": len(r.birthDates),
		"diagnostics": len(r.diagnostics),
	}).Info("identity registry built")

	return r, nil
}

func isHeader(fields []string, literal ...string) bool {
	if len(fields) < len(literal) {
		return false
	}
	for i, want := range literal {
		if fields[i] != want {
			return false
		}
	}
	return true
}

// absentToken reports tokens the survey vendor uses for "not assigned".
func absentToken(token string) bool {
	if token == "" || token == "-" {
		return true
	}
	return strings.Trim(token, "0") == ""
}

func (r *Registry) loadMapping(table Table) error {
	lines, err := table.lines()
	if err != nil {
		return fmt.Errorf("read mapping table %s: %w", table.Name, err)
	}

	for _, line := range lines {
		fields := splitRow(line.text)
		if isHeader(fields, "PSC1", "DAWBA", "PSC2") {
			continue
		}
		location := fmt.Sprintf("%s:%d", table.Name, line.number)
		if len(fields) != 3 || fields[0] == "" || fields[2] == "" {
			r.diagnostics = append(r.diagnostics, models.NewDiagnostic(
				models.KindMalformedIdentifier, location, "Malformed mapping row", line.text))
			continue
		}
		internal, token, public := fields[0], fields[1], fields[2]

		if known, ok := r.publicOf[internal]; ok && known != public {
			return newTableError(table.Name, line.number, ErrInconsistentMapping,
				"%s maps to both %s and %s", internal, known, public)
		}
		if known, ok := r.internalOf[public]; ok && known != internal {
			return newTableError(table.Name, line.number, ErrInconsistentMapping,
				"%s is the public code of both %s and %s", public, known, internal)
		}
		r.publicOf[internal] = public
		r.internalOf[public] = internal

		if absentToken(token) {
			continue
		}
		r.addToken(location, internal, token)
	}
	return nil
}

func (r *Registry) addToken(location, internal, token string) {
	if known, ok := r.tokenOf[internal]; ok && known != token {
		r.diagnostics = append(r.diagnostics, models.NewDiagnostic(
			models.KindDuplicateIdentifier, location,
			fmt.Sprintf("Survey token conflicts with earlier token %s for %s", known, internal),
			token).WithSeverity(models.SeverityWarning))
		return
	}
	if known, ok := r.internalOfToken[token]; ok && known != internal {
		r.diagnostics = append(r.diagnostics, models.NewDiagnostic(
			models.KindDuplicateIdentifier, location,
			fmt.Sprintf("Survey token already assigned to %s", known),
			token))
		return
	}
	r.tokenOf[internal] = token
	r.internalOfToken[token] = internal
}

func (r *Registry) loadBirthDates(table Table, opts Options) error {
	lines, err := table.lines()
	if err != nil {
		return fmt.Errorf("read birth date table %s: %w", table.Name, err)
	}

	for _, line := range lines {
		fields := splitRow(line.text)
		if len(fields) > 0 && fields[0] == "PSC1" {
			continue
		}
		location := fmt.Sprintf("%s:%d", table.Name, line.number)
		if len(fields) < 2 || fields[0] == "" {
			r.diagnostics = append(r.diagnostics, models.NewDiagnostic(
				models.KindMalformedIdentifier, location, "Malformed date of birth row", line.text))
			continue
		}
		internal := fields[0]

		if !dobRegex.MatchString(fields[1]) {
			r.diagnostics = append(r.diagnostics, models.NewDiagnostic(
				models.KindUnparsableDate, location, "Unexpected date of birth", fields[1]))
			continue
		}
		dob, err := time.Parse("2006-01-02", fields[1][:10])
		if err != nil {
			r.diagnostics = append(r.diagnostics, models.NewDiagnostic(
				models.KindUnparsableDate, location, "Unexpected date of birth", fields[1]))
			continue
		}
		if dob.Year() < opts.MinBirthYear || dob.Year() > opts.MaxBirthYear {
			return newTableError(table.Name, line.number, ErrImplausibleBirthDate,
				"%s born %s outside %d-%d", internal, fields[1][:10], opts.MinBirthYear, opts.MaxBirthYear)
		}

		if known, ok := r.birthDates[internal]; ok && !known.Equal(dob) {
			return newTableError(table.Name, line.number, ErrInconsistentMapping,
				"%s born both %s and %s", internal, known.Format("2006-01-02"), dob.Format("2006-01-02"))
		}
		r.birthDates[internal] = dob
	}
	return nil
}

func (r *Registry) PublicCodeOf(internal string) (string, bool) {
	public, ok := r.publicOf[internal]
	return public, ok
}

func (r *Registry) InternalCodeOf(public string) (string, bool) {
	internal, ok := r.internalOf[public]
	return internal, ok
}

func (r *Registry) InternalCodeOfToken(token string) (string, bool) {
	if absentToken(token) {
		return "", false
	}
	internal, ok := r.internalOfToken[token]
	return internal, ok
}

func (r *Registry) TokenOf(internal string) (string, bool) {
	token, ok := r.tokenOf[internal]
	return token, ok
}

func (r *Registry) DateOfBirth(internal string) (time.Time, bool) {
	dob, ok := r.birthDates[internal]
	return dob, ok
}

// Known reports whether the internal code appears in a mapping table.
func (r *Registry) Known(internal string) bool {
	_, ok := r.publicOf[internal]
	return ok
}

func (r *Registry) Len() int {
	return len(r.publicOf)
}

// InternalCodes returns every mapped internal code in ascending order.
func (r *Registry) InternalCodes() []string {
	codes := make([]string, 0, len(r.publicOf))
	for code := range r.publicOf {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// LoadDiagnostics returns a copy of the non-fatal problems seen while
// loading the reference tables.
func (r *Registry) LoadDiagnostics() []models.Diagnostic {
	out := make([]models.Diagnostic, len(r.diagnostics))
	copy(out, r.diagnostics)
	return out
}
