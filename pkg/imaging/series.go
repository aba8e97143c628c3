package imaging

import (
	"errors"
	"path/filepath"
	"sort"
	"strings"

	"github.com/neurocohort/databank/pkg/classifier"
	"github.com/neurocohort/databank/pkg/common/logger"
	"github.com/neurocohort/databank/pkg/common/models"
)

var seriesFields = []string{
	FieldSeriesInstanceUID,
	FieldSeriesNumber,
	FieldSeriesDescription,
	FieldImageType,
	FieldAcquisitionDate,
	FieldStationName,
	FieldManufacturer,
	FieldSoftwareVersions,
}

// Series gathers what an imaging dataset says about one acquisition.
type Series struct {
	UID             string
	Number          string
	Description     string
	Type            classifier.SeriesType
	Classified      bool
	ImageTypes      []string
	AcquisitionDate string
	Station         string
	Manufacturer    string
	Software        string
	Files           int
}

// SkipFile reports whether a file is a media directory rather than an
// image. Multi-session exports carry DICOMDIR2 and up.
func SkipFile(path string) bool {
	return strings.HasPrefix(filepath.Base(path), "DICOMDIR")
}

// Summarize reads every file and groups them by series, ordered by series
// number then UID. Unreadable files are skipped with a diagnostic.
func Summarize(reader MetadataReader, c *classifier.Classifier, paths []string, location func(string) string) ([]Series, []models.Diagnostic) {
	if location == nil {
		location = func(p string) string { return p }
	}
	var diags []models.Diagnostic
	bySeries := make(map[string]*Series)
	imageTypes := make(map[string]map[string]struct{})

	for _, p := range paths {
		if SkipFile(p) {
			continue
		}
		meta, err := reader.ReadMetadata(p, seriesFields)
		if err != nil {
			kind := models.KindCorruptContainer
			message := "This is not a valid DICOM file"
			if errors.Is(err, ErrMissingField) {
				kind = models.KindMissingRequiredField
				message = "DICOM file lacks series metadata"
			}
			diags = append(diags, models.NewDiagnostic(kind, location(p), message, "").
				WithSeverity(models.SeverityWarning))
			continue
		}

		uid := meta[FieldSeriesInstanceUID]
		s, ok := bySeries[uid]
		if !ok {
			s = &Series{
				UID:             uid,
				Number:          meta[FieldSeriesNumber],
				Description:     meta[FieldSeriesDescription],
				AcquisitionDate: meta[FieldAcquisitionDate],
				Station:         meta[FieldStationName],
				Manufacturer:    meta[FieldManufacturer],
				Software:        meta[FieldSoftwareVersions],
			}
			if c != nil {
				s.Type, s.Classified = c.ClassifySeries(s.Description)
			}
			bySeries[uid] = s
			imageTypes[uid] = make(map[string]struct{})
		}
		s.Files++
		if it := meta[FieldImageType]; it != "" {
			imageTypes[uid][it] = struct{}{}
		}
	}

	out := make([]Series, 0, len(bySeries))
	for uid, s := range bySeries {
		for it := range imageTypes[uid] {
			s.ImageTypes = append(s.ImageTypes, it)
		}
		sort.Strings(s.ImageTypes)
		if !s.Classified {
			diags = append(diags, models.NewDiagnostic(models.KindUnexpectedStructure, uid,
				"Unknown series description", s.Description).WithSeverity(models.SeverityInfo))
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Number != out[j].Number {
			return seriesNumberLess(out[i].Number, out[j].Number)
		}
		return out[i].UID < out[j].UID
	})

	models.SortDiagnostics(diags)

	logger.WithFields(map[string]interface{}{
		"files":  len(paths),
		"series": len(out),
	}).Debug("imaging series summarised")
	return out, diags
}

func seriesNumberLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
