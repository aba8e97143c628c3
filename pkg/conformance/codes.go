package conformance

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/neurocohort/databank/pkg/common/models"
	"github.com/neurocohort/databank/pkg/identity"
)

// Codes tells which internal codes exist.
type Codes interface {
	Known(internal string) bool
}

type codeProblem struct {
	kind    models.DiagnosticKind
	message string
}

// checkCode compares a subject id found in an archive with the expected
// internal code. The id may carry the timepoint suffix; expected may be
// empty when only the shape and registry membership are checked.
func checkCode(subjectID, suffix, expected string, codes Codes) []codeProblem {
	var problems []codeProblem
	add := func(kind models.DiagnosticKind, format string, args ...interface{}) {
		problems = append(problems, codeProblem{kind: kind, message: fmt.Sprintf(format, args...)})
	}

	if suffix != "" {
		if strings.HasSuffix(subjectID, suffix) {
			subjectID = subjectID[:len(subjectID)-len(suffix)]
		} else if len(subjectID) <= identity.CodeLength || identity.AllDigits(subjectID) {
			add(models.KindMalformedIdentifier, `PSC1 code "%s" should end with suffix "%s"`, subjectID, suffix)
		}
	}
	if identity.AllDigits(subjectID) {
		if len(subjectID) != identity.CodeLength {
			add(models.KindMalformedIdentifier, `PSC1 code "%s" contains %d digits instead of 12`, subjectID, len(subjectID))
		}
	} else if len(subjectID) > identity.CodeLength && identity.AllDigits(subjectID[:identity.CodeLength]) && !isDigit(subjectID[identity.CodeLength]) {
		add(models.KindMalformedIdentifier, `PSC1 code "%s" ends with unexpected suffix "%s"`, subjectID, subjectID[identity.CodeLength:])
		subjectID = subjectID[:identity.CodeLength]
	}

	switch {
	case !identity.AllDigits(subjectID):
		add(models.KindMalformedIdentifier, `PSC1 code "%s" should contain 12 digits`, subjectID)
	case len(subjectID) != identity.CodeLength:
		add(models.KindMalformedIdentifier, `PSC1 code "%s" contains %d characters instead of 12`, subjectID, len(subjectID))
	case codes != nil && !codes.Known(subjectID):
		add(models.KindUnknownIdentifier, `PSC1 code "%s" is not valid`, subjectID)
	case expected != "":
		if suffix != "" {
			expected = strings.TrimSuffix(expected, suffix)
		}
		if subjectID != expected {
			add(models.KindIdentifierMismatch, `PSC1 code "%s" was expected to be "%s"`, subjectID, expected)
		}
	}
	return problems
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// diagnoseCode turns code problems into diagnostics at location, each
// message behind prefix.
func diagnoseCode(location, prefix, subjectID, suffix, expected string, codes Codes) []models.Diagnostic {
	problems := checkCode(subjectID, suffix, expected, codes)
	diags := make([]models.Diagnostic, 0, len(problems))
	for _, p := range problems {
		diags = append(diags, models.NewDiagnostic(p.kind, location, prefix+p.message, ""))
	}
	return diags
}

// CheckArchiveName checks that an archive is named after its subject,
// <code><timepoint>.zip. It returns the subject id read from the name, or
// an empty string when the name is not a ZIP file name.
func CheckArchiveName(path, timepoint, expected string, codes Codes) (string, []models.Diagnostic) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, ".zip") {
		return "", []models.Diagnostic{
			models.NewDiagnostic(models.KindUnexpectedStructure, base, "Not a valid ZIP file name", ""),
		}
	}
	subjectID := strings.TrimSuffix(base, ".zip")
	return subjectID, diagnoseCode(base, "Incorrect ZIP file name: ", subjectID, timepoint, expected, codes)
}
