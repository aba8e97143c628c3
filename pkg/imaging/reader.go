package imaging

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/neurocohort/databank/pkg/dates"
)

var (
	ErrUnreadable   = errors.New("unreadable imaging file")
	ErrMissingField = errors.New("missing metadata field")
)

// MetadataReader returns the requested metadata of a single imaging file.
// Optional fields that are absent are left out of the map.
type MetadataReader interface {
	ReadMetadata(path string, fields []string) (map[string]string, error)
}

// Fields read by the series summary.
const (
	FieldSOPInstanceUID        = "SOPInstanceUID"
	FieldSeriesInstanceUID     = "SeriesInstanceUID"
	FieldSeriesNumber          = "SeriesNumber"
	FieldSeriesDescription     = "SeriesDescription"
	FieldImageType             = "ImageType"
	FieldAcquisitionDate       = "AcquisitionDate"
	FieldAcquisitionTime       = "AcquisitionTime"
	FieldStationName           = "StationName"
	FieldManufacturer          = "Manufacturer"
	FieldManufacturerModelName = "ManufacturerModelName"
	FieldDeviceSerialNumber    = "DeviceSerialNumber"
	FieldSoftwareVersions      = "SoftwareVersions"
)

// SubjectFields lists where sites put the subject code, in the order they
// are searched. Each site settled on a different field.
var SubjectFields = []string{
	"StudyComments",
	"PatientName",
	"ImageComments",
	"StudyDescription",
	"PerformedProcedureStepDescription",
	"PatientID",
}

var keywordTags = map[string]tag.Tag{
	FieldSOPInstanceUID:                 tag.SOPInstanceUID,
	FieldSeriesInstanceUID:              tag.SeriesInstanceUID,
	FieldSeriesNumber:                   tag.SeriesNumber,
	FieldSeriesDescription:              tag.SeriesDescription,
	"ProtocolName":                      tag.ProtocolName,
	FieldImageType:                      tag.ImageType,
	"AcquisitionDateTime":               tag.AcquisitionDateTime,
	FieldAcquisitionDate:                tag.AcquisitionDate,
	FieldAcquisitionTime:                tag.AcquisitionTime,
	FieldStationName:                    tag.StationName,
	FieldManufacturer:                   tag.Manufacturer,
	FieldManufacturerModelName:          tag.ManufacturerModelName,
	FieldDeviceSerialNumber:             tag.DeviceSerialNumber,
	FieldSoftwareVersions:               tag.SoftwareVersions,
	"StudyComments":                     {Group: 0x0032, Element: 0x4000},
	"PatientName":                       tag.PatientName,
	"ImageComments":                     tag.ImageComments,
	"StudyDescription":                  tag.StudyDescription,
	"PerformedProcedureStepDescription": tag.PerformedProcedureStepDescription,
	"PatientID":                         tag.PatientID,
}

// DicomReader reads metadata from DICOM files, skipping pixel data.
type DicomReader struct {
	required map[string]bool
}

// NewDicomReader returns a reader that fails with ErrMissingField when one
// of the required fields is requested but absent.
func NewDicomReader(required ...string) *DicomReader {
	r := &DicomReader{required: make(map[string]bool, len(required))}
	for _, f := range required {
		r.required[f] = true
	}
	return r
}

// DefaultDicomReader requires the fields every scanner writes.
func DefaultDicomReader() *DicomReader {
	return NewDicomReader(FieldSeriesInstanceUID, FieldSeriesDescription, FieldImageType)
}

func (r *DicomReader) ReadMetadata(path string, fields []string) (map[string]string, error) {
	dataset, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadable, path, err)
	}

	lookup := func(keyword string) ([]string, bool) {
		t, ok := keywordTags[keyword]
		if !ok {
			return nil, false
		}
		element, err := dataset.FindElementByTag(t)
		if err != nil || element == nil || element.Value == nil {
			return nil, false
		}
		values := valueStrings(element.Value.GetValue())
		if len(values) == 0 {
			return nil, false
		}
		return values, true
	}

	out := make(map[string]string, len(fields))
	for _, field := range fields {
		value, ok := r.field(lookup, field)
		if !ok {
			if r.required[field] {
				return nil, fmt.Errorf("%w: %s: %s", ErrMissingField, path, field)
			}
			continue
		}
		out[field] = value
	}
	return out, nil
}

// field applies the per-field conventions on top of the raw tag values.
func (r *DicomReader) field(lookup func(string) ([]string, bool), field string) (string, bool) {
	switch field {
	case FieldSeriesDescription:
		if values, ok := lookup(FieldSeriesDescription); ok {
			return strings.Join(values, `\`), true
		}
		if values, ok := lookup("ProtocolName"); ok {
			return strings.Join(values, `\`), true
		}
		return "", false
	case FieldSoftwareVersions:
		// Philips lists versions oldest first; the last is the most specific.
		values, ok := lookup(field)
		if !ok {
			return "", false
		}
		return values[len(values)-1], true
	case FieldAcquisitionDate, FieldAcquisitionTime:
		if values, ok := lookup("AcquisitionDateTime"); ok {
			if t, err := dates.ParseDICOMDateTime(values[0]); err == nil {
				if field == FieldAcquisitionDate {
					return t.Format("2006-01-02"), true
				}
				return t.Format("15:04:05"), true
			}
		}
		values, ok := lookup(field)
		if !ok {
			return "", false
		}
		if field == FieldAcquisitionDate {
			if t, err := dates.ParseDICOMDate(values[0]); err == nil {
				return t.Format("2006-01-02"), true
			}
			return "", false
		}
		if d, err := dates.ParseDICOMTime(values[0]); err == nil {
			return formatClock(d.Seconds()), true
		}
		return "", false
	}
	values, ok := lookup(field)
	if !ok {
		return "", false
	}
	return strings.Join(values, `\`), true
}

func formatClock(seconds float64) string {
	s := int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, s/60%60, s%60)
}

func valueStrings(v interface{}) []string {
	var out []string
	switch values := v.(type) {
	case []string:
		for _, s := range values {
			if s = strings.TrimRight(s, " \x00"); s != "" {
				out = append(out, s)
			}
		}
	case []int:
		for _, n := range values {
			out = append(out, strconv.Itoa(n))
		}
	case []float64:
		for _, f := range values {
			out = append(out, strconv.FormatFloat(f, 'f', -1, 64))
		}
	}
	return out
}
