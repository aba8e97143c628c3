package identity

import (
	"errors"
	"fmt"
)

var (
	ErrInconsistentMapping  = errors.New("inconsistent identifier mapping")
	ErrImplausibleBirthDate = errors.New("implausible date of birth")
)

// TableError locates a fatal load-time problem in a reference table. The
// whole build is abandoned when one is returned.
type TableError struct {
	Table  string
	Line   int
	reason error
}

func (e *TableError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.Table, e.Line, e.reason.Error())
}

func (e *TableError) Unwrap() error {
	return e.reason
}

func newTableError(table string, line int, sentinel error, format string, args ...interface{}) *TableError {
	return &TableError{
		Table:  table,
		Line:   line,
		reason: fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...)),
	}
}

func IsInconsistentMapping(err error) bool {
	return errors.Is(err, ErrInconsistentMapping)
}
