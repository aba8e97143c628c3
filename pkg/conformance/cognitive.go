package conformance

import (
	"bytes"
	"strings"

	"github.com/neurocohort/databank/pkg/archive"
	"github.com/neurocohort/databank/pkg/classifier"
	"github.com/neurocohort/databank/pkg/common/models"
	"github.com/neurocohort/databank/pkg/instruments"
)

// checkCognitive reads the subject ids of a cognitive battery export left
// directly in AdditionalData. Sites name these files loosely.
func (w *walk) checkCognitive(entry archive.Entry, expected string) {
	fileType, ok := w.v.classifier.Classify(entry.Base(), false)
	if !ok || fileType.IsBehavioral() {
		w.diags = append(w.diags, models.NewDiagnostic(models.KindUnexpectedStructure, entry.Name,
			`Unexpected file in "AdditionalData"`, "").WithSeverity(models.SeverityWarning))
		return
	}
	if entry.Size == 0 {
		w.report(models.KindCorruptContainer, entry.Name, "File is empty")
		return
	}
	content, err := archive.ReadFile(w.container, entry.Name)
	if err != nil {
		w.reportf(models.KindCorruptContainer, entry.Name, "Cannot read file: %v", err)
		return
	}

	var ids []string
	switch fileType {
	case classifier.Cantab:
		ids, err = instruments.ReadCclar(content, entry.Name)
		if err != nil {
			w.reportf(models.KindCorruptContainer, entry.Name, "Cannot unzip file: %v", err)
			return
		}
	case classifier.DetailedDatasheet:
		ids, err = instruments.ReadDetailedDatasheet(bytes.NewReader(content))
	case classifier.Report:
		ids, err = instruments.ReadReport(bytes.NewReader(content))
	case classifier.Datasheet:
		sheet, readErr := instruments.ReadDatasheet(bytes.NewReader(content), entry.Name, w.v.floor)
		if readErr != nil {
			w.reportf(models.KindUnexpectedStructure, entry.Name, "Cannot read CSV file: %v", readErr)
			return
		}
		ids = sheet.SubjectIDs
		w.diags = append(w.diags, sheet.Diagnostics...)
		w.checkDatasheetShape(entry.Name, sheet)
	}
	if err != nil {
		w.reportf(models.KindUnexpectedStructure, entry.Name, "Cannot read file: %v", err)
		return
	}

	switch {
	case len(ids) < 1:
		w.report(models.KindMissingRequiredField, entry.Name, "Unable to find a PSC1 code inside file")
		return
	case len(ids) > 1:
		w.reportf(models.KindDuplicateIdentifier, entry.Name, "Multiple PSC1 codes inside file: %s", strings.Join(ids, ", "))
	}
	for _, id := range ids {
		w.addSubject(id)
		w.checkCode(entry.Name, "", id, expected)
	}
}

func (w *walk) checkDatasheetShape(location string, sheet instruments.Datasheet) {
	if !w.opts.AcquisitionDate.IsZero() {
		want := w.opts.AcquisitionDate.Format("2006-01-02")
		var found []string
		match := false
		for _, t := range sheet.SessionStartTimes {
			day := t.Format("2006-01-02")
			found = append(found, day)
			match = match || day == want
		}
		if !match {
			w.reportf(models.KindImplausibleDate, location, "Date %s was expected to be %s", strings.Join(found, "/"), want)
		}
	}
	if sheet.Rows != 2 {
		w.reportf(models.KindUnexpectedStructure, location, "Found %d rows instead of 2", sheet.Rows)
	}
}
