package conformance

import (
	"bytes"
	"fmt"

	"github.com/neurocohort/databank/pkg/archive"
	"github.com/neurocohort/databank/pkg/classifier"
	"github.com/neurocohort/databank/pkg/common/models"
	"github.com/neurocohort/databank/pkg/instruments"
)

var behavioralTasks = []classifier.FileType{
	classifier.MIDTask,
	classifier.FaceTask,
	classifier.StopSignalTask,
	classifier.RecognitionTask,
}

// trialCheck is the expected length of a completed session.
type trialCheck struct {
	expected int
	// last compares the final trial number rather than the trial count.
	last bool
}

var trialChecks = map[classifier.FileType]trialCheck{
	classifier.MIDTask:         {expected: 42, last: true},
	classifier.FaceTask:        {expected: 24},
	classifier.StopSignalTask:  {expected: 360, last: true},
	classifier.RecognitionTask: {expected: 5},
}

func (w *walk) checkScanning(scanning *archive.Tree, expected string) {
	for _, d := range scanning.DirNames() {
		w.report(models.KindUnexpectedStructure, scanning.Dirs[d].Path, `Folder "Scanning" should not contain subfolders`)
	}

	var wanted map[classifier.FileType]bool
	if w.opts.ExpectedTasks != nil {
		wanted = make(map[classifier.FileType]bool, len(w.opts.ExpectedTasks))
		for _, t := range w.opts.ExpectedTasks {
			wanted[t] = true
		}
	}
	seen := make(map[classifier.FileType]string)

	for _, name := range scanning.FileNames() {
		entry := scanning.Files[name]
		if task, subjectID, ok := classifier.ParseTaskFilename(name); ok {
			if subjectID != "" {
				w.addSubject(subjectID)
				w.checkCode(entry.Name, "Incorrect behavioral file name: ", subjectID, expected)
			} else {
				w.report(models.KindUnexpectedStructure, entry.Name, "Unexpected behavioral file name")
			}
			if first, dup := seen[task]; dup {
				w.diags = append(w.diags, models.NewDiagnostic(models.KindDuplicateIdentifier, entry.Name,
					fmt.Sprintf("Duplicate behavioral file for task '%s'", task), first))
			} else {
				seen[task] = entry.Name
			}
			if wanted != nil && !wanted[task] {
				w.report(models.KindUnexpectedStructure, entry.Name, "Unexpected behavioral file")
			}
			w.checkBehavioral(entry, task, expected)
			continue
		}

		kind, subjectID, ok := classifier.ParsePhysiologicalFilename(name)
		if !ok {
			w.report(models.KindUnexpectedStructure, entry.Name, `Unexpected file name in "Scanning"`)
			continue
		}
		if subjectID != "" {
			w.addSubject(subjectID)
			w.checkCode(entry.Name, "Incorrect physiological file name: ", subjectID, expected)
		}
		if kind == "log" {
			w.checkScanningLog(entry, expected)
		}
	}

	for _, task := range behavioralTasks {
		if wanted[task] && seen[task] == "" {
			w.reportf(models.KindMissingRequiredField, scanning.Path, "Missing behavioral file '%s_*.csv'", task)
		}
	}
}

func (w *walk) checkBehavioral(entry archive.Entry, task classifier.FileType, expected string) {
	content, err := archive.ReadFile(w.container, entry.Name)
	if err != nil {
		w.reportf(models.KindCorruptContainer, entry.Name, "Cannot read file: %v", err)
		return
	}
	file, err := instruments.ReadBehavioral(bytes.NewReader(content), entry.Name, task, false)
	if err != nil {
		w.reportf(models.KindUnexpectedStructure, entry.Name, "Cannot read behavioral file: %v", err)
		return
	}

	if file.SubjectID != "" {
		w.addSubject(file.SubjectID)
		w.checkCode(entry.Name, "Incorrect behavioral file content: ", file.SubjectID, expected)
	} else {
		w.report(models.KindMissingRequiredField, entry.Name, "Missing subject ID")
	}

	if check, ok := trialChecks[task]; ok {
		got := len(file.Trials)
		if check.last {
			got = file.LastTrial()
		}
		if (got != 0 || !check.last) && got != check.expected {
			w.reportf(models.KindUnexpectedStructure, entry.Name, "Behavioral file contains %d trials instead of %d", got, check.expected)
		}
	}

	if file.HasTimestamp() {
		w.checkAcquisition(entry.Name, file.Timestamp.Format("2006-01-02"))
	} else {
		w.report(models.KindMissingRequiredField, entry.Name, "Missing acquisition date")
	}
	w.diags = append(w.diags, file.Diagnostics...)
}

// checkAcquisition compares a session date with the expected acquisition
// date and the plausibility floor.
func (w *walk) checkAcquisition(location, day string) {
	if !w.opts.AcquisitionDate.IsZero() {
		if want := w.opts.AcquisitionDate.Format("2006-01-02"); want != day {
			w.reportf(models.KindImplausibleDate, location, `Date was expected to be "%s" instead of "%s"`, want, day)
		}
	}
	if !w.v.floor.IsZero() {
		if floor := w.v.floor.Format("2006-01-02"); day < floor {
			w.reportf(models.KindImplausibleDate, location, "Acquisition date %s anterior to %s", day, floor)
		}
	}
}

func (w *walk) checkScanningLog(entry archive.Entry, expected string) {
	content, err := archive.ReadFile(w.container, entry.Name)
	if err != nil {
		w.reportf(models.KindCorruptContainer, entry.Name, "Cannot read file: %v", err)
		return
	}
	ids, err := instruments.ReadScanningLog(bytes.NewReader(content))
	if err != nil {
		w.reportf(models.KindUnexpectedStructure, entry.Name, "Cannot read physiological log: %v", err)
		return
	}
	for _, id := range ids {
		w.addSubject(id)
		w.diags = append(w.diags, diagnoseCode(entry.Name, "Incorrect physiological file content: ", id, "", expected, w.v.codes)...)
	}
}
