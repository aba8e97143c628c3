package conformance

import (
	"strings"

	"github.com/neurocohort/databank/pkg/archive"
	"github.com/neurocohort/databank/pkg/common/models"
	"github.com/neurocohort/databank/pkg/imaging"
)

// checkDicom looks for the subject code in the first readable DICOM file,
// then summarises every series of the dataset.
func (w *walk) checkDicom(images *archive.Tree, files []archive.Entry, expected string) {
	dir, err := w.dir()
	if err != nil {
		w.reportf(models.KindCorruptContainer, images.Path, "Cannot create extraction directory: %v", err)
		return
	}

	names := make(map[string]string, len(files))
	var paths []string
	for _, f := range files {
		if imaging.SkipFile(f.Name) {
			continue
		}
		p, err := archive.Extract(w.container, f.Name, dir)
		if err != nil {
			w.reportf(models.KindCorruptContainer, f.Name, "Cannot extract file: %v", err)
			continue
		}
		names[p] = f.Name
		paths = append(paths, p)
	}

	readable := false
	for _, p := range paths {
		meta, err := w.v.reader.ReadMetadata(p, imaging.SubjectFields)
		if err != nil {
			continue
		}
		readable = true
		w.checkDicomSubject(names[p], meta, expected)
		break
	}
	if !readable {
		w.reportf(models.KindCorruptContainer, images.Path, `Unable to read DICOM files in dataset "%s"`, expected)
		return
	}

	series, diags := imaging.Summarize(w.v.reader, w.v.classifier, paths, func(p string) string {
		if name, ok := names[p]; ok {
			return name
		}
		return p
	})
	w.series = series
	w.diags = append(w.diags, diags...)
}

func (w *walk) checkDicomSubject(location string, meta map[string]string, expected string) {
	for _, field := range imaging.SubjectFields {
		subjectID := strings.TrimSpace(meta[field])
		// Some sites blank the patient name to "anon".
		if subjectID == "" || subjectID == "anon" {
			continue
		}
		if w.opts.Timepoint != "" {
			subjectID = strings.TrimSuffix(subjectID, w.opts.Timepoint)
		}
		w.addSubject(subjectID)
		if subjectID != expected {
			w.reportf(models.KindIdentifierMismatch, location, `PSC1 code "%s" was expected to be "%s"`, subjectID, expected)
		}
		return
	}
	w.reportf(models.KindMissingRequiredField, location, `Missing PSC1 code "%s"`, expected)
}
