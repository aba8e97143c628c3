package archive

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/neurocohort/databank/pkg/dates"
	"github.com/neurocohort/databank/pkg/identity"
)

// Dataset is one submission of a subject's data. The same subject may be
// submitted several times; Version and Timestamp order the submissions.
type Dataset struct {
	Path      string
	Code      string
	Timepoint string
	Version   int64
	Timestamp time.Time
}

// ParseDataset extracts the subject code and ordering information from an
// archive or folder name. Recognized names:
//
//	<increment>_data_<code><timepoint>[<portal tag>][_...].zip
//	<code>_YYYY-MM-DD_HH:MM:SS.0[.tar.gz]
//	<code><timepoint>.zip
func ParseDataset(p string) (Dataset, bool) {
	base := filepath.Base(p)
	root := stripExtensions(base)
	ds := Dataset{Path: p}

	if parts := strings.SplitN(root, "_", 3); len(parts) == 3 && parts[1] == "data" && identity.AllDigits(parts[0]) {
		version, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return ds, false
		}
		rest := parts[2]
		for len(rest) < identity.CodeLength || !identity.AllDigits(rest[:identity.CodeLength]) {
			i := strings.Index(rest, "_")
			if i < 0 {
				return ds, false
			}
			rest = rest[i+1:]
		}
		ds.Version = version
		ds.Code = rest[:identity.CodeLength]
		ds.Timepoint = timepointOf(rest[identity.CodeLength:])
		return ds, true
	}

	if i := strings.Index(root, "_"); i == identity.CodeLength && identity.AllDigits(root[:i]) {
		if ts, ok := dates.Parse(root[i+1:], dates.ArchiveTimestamps); ok {
			ds.Code = root[:i]
			ds.Timestamp = ts
			return ds, true
		}
	}

	if len(root) >= identity.CodeLength && identity.AllDigits(root[:identity.CodeLength]) {
		ds.Code = root[:identity.CodeLength]
		ds.Timepoint = timepointOf(root[identity.CodeLength:])
		return ds, true
	}
	return ds, false
}

// portalTagLength is the size of the tag the upload portal appends to
// <code><timepoint> in quarantine names.
const portalTagLength = 6

// timepointOf reads the timepoint at the start of the text following a
// subject code, discarding a portal tag after a known marker.
func timepointOf(tail string) string {
	segment := strings.SplitN(tail, "_", 2)[0]
	if identity.IsTimepoint(segment) {
		return strings.ToUpper(segment)
	}
	if n := len(segment) - portalTagLength; n > 0 && identity.IsTimepoint(segment[:n]) {
		return strings.ToUpper(segment[:n])
	}
	return strings.ToUpper(segment)
}

// Newer reports whether d supersedes other.
func (d Dataset) Newer(other Dataset) bool {
	if d.Version != other.Version {
		return d.Version > other.Version
	}
	return d.Timestamp.After(other.Timestamp)
}

func stripExtensions(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range []string{".tar.gz", ".tgz", ".tar", ".zip"} {
		if strings.HasSuffix(lower, ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}
