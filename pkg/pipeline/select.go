package pipeline

import (
	"fmt"
	"sort"

	"github.com/neurocohort/databank/pkg/archive"
	"github.com/neurocohort/databank/pkg/common/models"
)

// SelectLatest keeps the newest submission of each subject and timepoint.
// Superseded copies are reported at info level. The result is ordered by
// subject code then timepoint.
func SelectLatest(datasets []archive.Dataset) ([]archive.Dataset, []models.Diagnostic) {
	type slot struct {
		code, timepoint string
	}
	latest := make(map[slot]archive.Dataset)
	var diags []models.Diagnostic
	supersede := func(old, by archive.Dataset) {
		diags = append(diags, models.NewDiagnostic(models.KindDiscarded, old.Path,
			fmt.Sprintf("Superseded by %s", by.Path), "").WithSeverity(models.SeverityInfo))
	}

	for _, ds := range datasets {
		s := slot{ds.Code, ds.Timepoint}
		current, ok := latest[s]
		switch {
		case !ok:
			latest[s] = ds
		case ds.Newer(current):
			supersede(current, ds)
			latest[s] = ds
		default:
			supersede(ds, current)
		}
	}

	out := make([]archive.Dataset, 0, len(latest))
	for _, ds := range latest {
		out = append(out, ds)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		return out[i].Timepoint < out[j].Timepoint
	})
	models.SortDiagnostics(diags)
	return out, diags
}
