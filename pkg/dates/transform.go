package dates

import (
	"errors"
	"fmt"
	"time"

	"github.com/neurocohort/databank/pkg/common/models"
)

var (
	ErrUnparsable       = errors.New("unparsable date")
	ErrImplausible      = errors.New("implausible date")
	ErrUnknownBirthDate = errors.New("unknown date of birth")
)

// DefaultFloor is the earliest plausible acquisition date.
var DefaultFloor = time.Date(2007, time.January, 1, 0, 0, 0, 0, time.UTC)

// BirthDates is the subset of the identity registry the transform needs.
type BirthDates interface {
	DateOfBirth(internal string) (time.Time, bool)
}

// Transform turns absolute dates into ages in days since birth. It holds no
// mutable state and may be shared across workers.
type Transform struct {
	births BirthDates
	floor  time.Time
}

func NewTransform(births BirthDates, floor time.Time) *Transform {
	return &Transform{births: births, floor: floor}
}

// WithFloor returns a copy using another plausibility floor. The zero time
// disables the floor check.
func (t *Transform) WithFloor(floor time.Time) *Transform {
	return &Transform{births: t.births, floor: floor}
}

func (t *Transform) Floor() time.Time {
	return t.floor
}

// AgeInDays parses value with the candidate layouts and returns the number
// of days between the subject's birth and that date.
func (t *Transform) AgeInDays(internal, value string, candidates []Layout) (int, error) {
	when, ok := Parse(value, candidates)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnparsable, value)
	}
	return t.Age(internal, when)
}

// Age returns the day offset of an already parsed date.
func (t *Transform) Age(internal string, when time.Time) (int, error) {
	if !t.floor.IsZero() && civil(when).Before(civil(t.floor)) {
		return 0, fmt.Errorf("%w: %s before %s", ErrImplausible, when.Format("2006-01-02"), t.floor.Format("2006-01-02"))
	}
	dob, ok := t.births.DateOfBirth(internal)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownBirthDate, internal)
	}
	days := DaysBetween(dob, when)
	if days < 0 {
		return 0, fmt.Errorf("%w: %s before birth", ErrImplausible, when.Format("2006-01-02"))
	}
	return days, nil
}

// DaysBetween counts calendar days from a to b, ignoring time of day and
// zone offsets.
func DaysBetween(a, b time.Time) int {
	return int(civil(b).Sub(civil(a)) / (24 * time.Hour))
}

func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Diagnose converts a transform error into the matching diagnostic.
func Diagnose(err error, location, sample string) models.Diagnostic {
	switch {
	case errors.Is(err, ErrUnparsable):
		return models.NewDiagnostic(models.KindUnparsableDate, location, "Cannot interpret date", sample)
	case errors.Is(err, ErrImplausible):
		return models.NewDiagnostic(models.KindImplausibleDate, location, "Implausible date", sample)
	case errors.Is(err, ErrUnknownBirthDate):
		return models.NewDiagnostic(models.KindUnknownIdentifier, location, "Unknown date of birth", sample)
	default:
		return models.NewDiagnostic(models.KindUnparsableDate, location, err.Error(), sample)
	}
}
