package conformance

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/neurocohort/databank/pkg/archive"
	"github.com/neurocohort/databank/pkg/classifier"
	"github.com/neurocohort/databank/pkg/common/logger"
	"github.com/neurocohort/databank/pkg/common/models"
	"github.com/neurocohort/databank/pkg/imaging"
)

const (
	folderAdditionalData = "AdditionalData"
	folderImageData      = "ImageData"
	folderScanning       = "Scanning"
)

// Options describe what an archive is expected to hold. Zero values turn
// the matching check off.
type Options struct {
	// Timepoint is the suffix subject ids carry, such as FU3.
	Timepoint string
	// Expected is the internal code the archive was filed under.
	Expected        string
	AcquisitionDate time.Time
	// ExpectedTasks lists the behavioral tasks that must be present. Nil
	// means any task is accepted and none is required.
	ExpectedTasks []classifier.FileType
	// Imaging reads DICOM metadata for the subject code and the series
	// summary.
	Imaging bool
}

// Result of validating one archive. Diagnostics never stop the walk, so a
// result lists every problem found.
type Result struct {
	Archive     string              `json:"archive"`
	SubjectIDs  []string            `json:"subject_ids"`
	Series      []imaging.Series    `json:"series,omitempty"`
	Diagnostics []models.Diagnostic `json:"diagnostics"`
}

// Valid reports whether no error-severity diagnostic was raised.
func (r Result) Valid() bool {
	for _, d := range r.Diagnostics {
		if d.IsError() {
			return false
		}
	}
	return true
}

// ContainerError reports an archive that could not be opened or indexed.
type ContainerError struct {
	Archive string
	Err     error
}

func (e *ContainerError) Error() string {
	return fmt.Sprintf("%s: %v", e.Archive, e.Err)
}

func (e *ContainerError) Unwrap() error {
	return e.Err
}

type Option func(*Validator)

func WithClassifier(c *classifier.Classifier) Option {
	return func(v *Validator) {
		v.classifier = c
	}
}

func WithMetadataReader(r imaging.MetadataReader) Option {
	return func(v *Validator) {
		v.reader = r
	}
}

// WithTempDir sets where archive members are extracted for inspection.
func WithTempDir(dir string) Option {
	return func(v *Validator) {
		v.tempDir = dir
	}
}

// WithFloor sets the earliest plausible acquisition date.
func WithFloor(floor time.Time) Option {
	return func(v *Validator) {
		v.floor = floor
	}
}

// Validator checks submitted imaging archives. It holds no per-archive
// state and may be shared by workers.
type Validator struct {
	codes      Codes
	classifier *classifier.Classifier
	reader     imaging.MetadataReader
	tempDir    string
	floor      time.Time
}

func NewValidator(codes Codes, opts ...Option) *Validator {
	v := &Validator{codes: codes}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	if v.classifier == nil {
		v.classifier = classifier.Default()
	}
	if v.reader == nil {
		v.reader = imaging.DefaultDicomReader()
	}
	return v
}

// Validate walks an archive and reports every structural and content
// problem as a diagnostic. The error return is a *ContainerError, for
// archives that cannot be read at all.
func (v *Validator) Validate(path string, opts Options) (Result, error) {
	base := filepath.Base(path)
	result := Result{Archive: base}

	container, err := archive.Open(path)
	if err != nil {
		return result, &ContainerError{Archive: base, Err: err}
	}
	defer container.Close()

	tree, err := archive.BuildTree(container.Entries())
	if err != nil {
		return result, &ContainerError{Archive: base, Err: err}
	}

	w := &walk{
		v:         v,
		container: container,
		opts:      opts,
		base:      base,
		subjects:  make(map[string]struct{}),
	}
	defer w.cleanup()

	w.checkRoot(tree)

	result.SubjectIDs = make([]string, 0, len(w.subjects))
	for id := range w.subjects {
		result.SubjectIDs = append(result.SubjectIDs, id)
	}
	sort.Strings(result.SubjectIDs)
	result.Series = w.series
	result.Diagnostics = w.diags

	logger.WithFields(logrus.Fields{
		"archive":     base,
		"subjects":    len(result.SubjectIDs),
		"series":      len(result.Series),
		"diagnostics": len(result.Diagnostics),
	}).Debug("archive validated")
	return result, nil
}

// walk is the state of one validation.
type walk struct {
	v         *Validator
	container archive.Container
	opts      Options
	base      string
	workdir   string
	subjects  map[string]struct{}
	series    []imaging.Series
	diags     []models.Diagnostic
}

func (w *walk) report(kind models.DiagnosticKind, location, message string) {
	w.diags = append(w.diags, models.NewDiagnostic(kind, location, message, ""))
}

func (w *walk) reportf(kind models.DiagnosticKind, location, format string, args ...interface{}) {
	w.report(kind, location, fmt.Sprintf(format, args...))
}

func (w *walk) checkCode(location, prefix, subjectID, expected string) {
	w.diags = append(w.diags, diagnoseCode(location, prefix, subjectID, w.opts.Timepoint, expected, w.v.codes)...)
}

func (w *walk) addSubject(id string) {
	if id == "" {
		return
	}
	if w.opts.Timepoint != "" {
		id = strings.TrimSuffix(id, w.opts.Timepoint)
	}
	w.subjects[id] = struct{}{}
}

// dir returns the extraction directory of this archive, creating it on
// first use.
func (w *walk) dir() (string, error) {
	if w.workdir != "" {
		return w.workdir, nil
	}
	dir, err := os.MkdirTemp(w.v.tempDir, "databank-")
	if err != nil {
		return "", err
	}
	w.workdir = dir
	return dir, nil
}

func (w *walk) cleanup() {
	if w.workdir == "" {
		return
	}
	if err := os.RemoveAll(w.workdir); err != nil {
		logger.WithField("dir", w.workdir).WithError(err).Warn("failed to remove extraction directory")
	}
	w.workdir = ""
}

func (w *walk) checkRoot(root *archive.Tree) {
	for _, name := range root.FileNames() {
		w.report(models.KindUnexpectedStructure, root.Files[name].Name, "Unexpected file at the root of the ZIP file")
	}
	switch {
	case len(root.Dirs) < 1:
		w.report(models.KindMissingRequiredField, w.base, "ZIP file lacks an uppermost folder")
	case len(root.Dirs) > 1:
		w.reportf(models.KindUnexpectedStructure, w.base, "ZIP file contains %d uppermost folders instead of one", len(root.Dirs))
	}
	for _, name := range root.DirNames() {
		w.checkSubject(name, root.Dirs[name])
	}
}

func (w *walk) checkSubject(name string, subject *archive.Tree) {
	w.checkCode(subject.Path, "Incorrect uppermost folder name: ", name, w.opts.Expected)

	for _, f := range subject.FileNames() {
		w.report(models.KindUnexpectedStructure, subject.Files[f].Name, "Unexpected file in the uppermost folder")
	}
	for _, d := range subject.DirNames() {
		if d != folderAdditionalData && d != folderImageData {
			w.report(models.KindUnexpectedStructure, subject.Dirs[d].Path, "Unexpected folder subfolder in the uppermost folder")
		}
	}

	expected := w.opts.Expected
	if expected == "" {
		expected = name
		if w.opts.Timepoint != "" {
			expected = strings.TrimSuffix(expected, w.opts.Timepoint)
		}
	}

	if additional, ok := subject.Dirs[folderAdditionalData]; ok {
		w.checkAdditionalData(additional, expected)
	} else {
		w.report(models.KindMissingRequiredField, subject.Path+folderAdditionalData+"/", `Folder "AdditionalData" is missing`)
	}
	if images, ok := subject.Dirs[folderImageData]; ok {
		w.checkImageData(images, expected)
	} else {
		w.report(models.KindMissingRequiredField, subject.Path+folderImageData+"/", `Folder "ImageData" is missing`)
	}
}

func (w *walk) checkAdditionalData(additional *archive.Tree, expected string) {
	if len(additional.Dirs) > 1 {
		for _, d := range additional.DirNames() {
			if d != folderScanning {
				w.report(models.KindUnexpectedStructure, additional.Dirs[d].Path, `Folder "AdditionalData" should contain only a "Scanning" folder`)
			}
		}
	}
	for _, f := range additional.FileNames() {
		w.checkCognitive(additional.Files[f], expected)
	}
	if scanning, ok := additional.Dirs[folderScanning]; ok {
		w.checkScanning(scanning, expected)
	} else {
		w.report(models.KindMissingRequiredField, additional.Path+folderScanning+"/", `Folder "Scanning" is missing`)
	}
}

func (w *walk) checkImageData(images *archive.Tree, expected string) {
	files := images.AllFiles()
	if len(files) < 1 {
		w.report(models.KindMissingRequiredField, images.Path, "Folder is empty")
		return
	}
	for _, f := range files {
		if f.Size == 0 {
			w.report(models.KindCorruptContainer, f.Name, "File is empty")
		}
	}
	if !w.opts.Imaging {
		return
	}
	w.checkDicom(images, files, expected)
}
