package imaging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurocohort/databank/pkg/classifier"
	"github.com/neurocohort/databank/pkg/common/models"
)

type fakeReader map[string]map[string]string

func (f fakeReader) ReadMetadata(path string, fields []string) (map[string]string, error) {
	meta, ok := f[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnreadable, path)
	}
	if _, ok := meta[FieldSeriesInstanceUID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, FieldSeriesInstanceUID)
	}
	out := make(map[string]string)
	for _, field := range fields {
		if v, ok := meta[field]; ok {
			out[field] = v
		}
	}
	return out, nil
}

func TestSummarizeGroupsBySeries(t *testing.T) {
	reader := fakeReader{
		"a/IM1": {FieldSeriesInstanceUID: "1.2.3", FieldSeriesNumber: "10", FieldSeriesDescription: "EPI MID run", FieldImageType: `ORIGINAL\PRIMARY`, FieldSoftwareVersions: "3.2.1.1"},
		"a/IM2": {FieldSeriesInstanceUID: "1.2.3", FieldSeriesNumber: "10", FieldSeriesDescription: "EPI MID run", FieldImageType: `DERIVED\PRIMARY`},
		"a/IM3": {FieldSeriesInstanceUID: "1.2.4", FieldSeriesNumber: "2", FieldSeriesDescription: "t2 flair axial"},
		"a/IM4": {FieldSeriesInstanceUID: "1.2.5", FieldSeriesNumber: "3", FieldSeriesDescription: "mystery"},
		"a/IM5": {FieldSeriesNumber: "4"},
	}
	paths := []string{"a/DICOMDIR", "a/IM1", "a/IM2", "a/IM3", "a/IM4", "a/IM5", "a/broken"}

	series, diags := Summarize(reader, classifier.Default(), paths, nil)

	require.Len(t, series, 3)
	assert.Equal(t, "1.2.4", series[0].UID)
	assert.Equal(t, classifier.SeriesT2Flair, series[0].Type)
	assert.Equal(t, "1.2.5", series[1].UID)
	assert.False(t, series[1].Classified)
	assert.Equal(t, "1.2.3", series[2].UID)
	assert.Equal(t, classifier.SeriesMID, series[2].Type)
	assert.Equal(t, 2, series[2].Files)
	assert.Equal(t, []string{`DERIVED\PRIMARY`, `ORIGINAL\PRIMARY`}, series[2].ImageTypes)
	assert.Equal(t, "3.2.1.1", series[2].Software)

	counts := models.CountByKind(diags)
	assert.Equal(t, 1, counts[models.KindCorruptContainer])
	assert.Equal(t, 1, counts[models.KindMissingRequiredField])
	assert.Equal(t, 1, counts[models.KindUnexpectedStructure])
	for _, d := range diags {
		assert.False(t, d.IsError(), d.String())
	}
}

func TestSkipFile(t *testing.T) {
	assert.True(t, SkipFile("ImageData/DICOMDIR"))
	assert.True(t, SkipFile("ImageData/DICOMDIR2"))
	assert.False(t, SkipFile("ImageData/IM0001"))
}

func TestDicomReaderUnreadable(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "IM0001")
	require.NoError(t, os.WriteFile(garbage, []byte("definitely not DICOM"), 0o600))

	reader := DefaultDicomReader()
	_, err := reader.ReadMetadata(garbage, SubjectFields)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnreadable))

	_, err = reader.ReadMetadata(filepath.Join(dir, "missing"), SubjectFields)
	assert.True(t, errors.Is(err, ErrUnreadable))
}

func TestValueStrings(t *testing.T) {
	assert.Equal(t, []string{"ORIGINAL", "PRIMARY"}, valueStrings([]string{"ORIGINAL", "PRIMARY "}))
	assert.Equal(t, []string{"7"}, valueStrings([]int{7}))
	assert.Equal(t, []string{"1.5"}, valueStrings([]float64{1.5}))
	assert.Empty(t, valueStrings([]string{"", "\x00"}))
	assert.Empty(t, valueStrings(nil))
}

func TestFormatClock(t *testing.T) {
	assert.Equal(t, "12:34:56", formatClock(12*3600+34*60+56))
}
