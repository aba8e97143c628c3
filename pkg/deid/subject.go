package deid

import "strings"

// SubjectID is a subject field split into its parts. Role and Timepoint
// keep the spelling found in the source.
type SubjectID struct {
	Base      string
	Role      string
	Timepoint string

	separator     string
	keepTimepoint bool
}

// SplitSubjectID peels a role suffix, then a timepoint suffix, off id.
// Longer suffixes are tried first so that FU3 is never read as FU.
func SplitSubjectID(id string, s *Schema) SubjectID {
	out := SubjectID{
		Base:          strings.TrimSpace(id),
		separator:     s.RoleSeparator,
		keepTimepoint: s.KeepTimepoint,
	}
	for _, role := range s.roles {
		suffix := s.RoleSeparator + role
		if len(out.Base) > len(suffix) && strings.HasSuffix(out.Base, suffix) {
			out.Role = role
			out.Base = out.Base[:len(out.Base)-len(suffix)]
			break
		}
	}
	upper := strings.ToUpper(out.Base)
	for _, tp := range s.timepoints {
		if len(upper) > len(tp) && strings.HasSuffix(upper, strings.ToUpper(tp)) {
			cut := len(out.Base) - len(tp)
			out.Timepoint = out.Base[cut:]
			out.Base = out.Base[:cut]
			break
		}
	}
	return out
}

// Rewrite renders the identifier around another base code. The role
// suffix is always kept; the timepoint only when the schema says so.
func (id SubjectID) Rewrite(public string) string {
	out := public
	if id.keepTimepoint {
		out += id.Timepoint
	}
	if id.Role != "" {
		out += id.separator + id.Role
	}
	return out
}
