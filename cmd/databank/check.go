package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/neurocohort/databank/pkg/archive"
	"github.com/neurocohort/databank/pkg/classifier"
	"github.com/neurocohort/databank/pkg/common/database"
	"github.com/neurocohort/databank/pkg/common/kafka"
	"github.com/neurocohort/databank/pkg/common/logger"
	"github.com/neurocohort/databank/pkg/common/models"
	"github.com/neurocohort/databank/pkg/conformance"
	"github.com/neurocohort/databank/pkg/observability/metrics"
	"github.com/neurocohort/databank/pkg/pipeline"
	"github.com/neurocohort/databank/pkg/report"
)

const commandCheck = "check"

// checkRequest is one archive to validate, from the command line or from
// a work queue event.
type checkRequest struct {
	Path            string
	Timepoint       string
	AcquisitionDate time.Time
	Tasks           []classifier.FileType
	Imaging         bool
}

func checkCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check ARCHIVE...",
		Short: "Check the layout and content of submitted imaging archives",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			timepoint, _ := cmd.Flags().GetString("timepoint")
			imaging, _ := cmd.Flags().GetBool("imaging")
			date, _ := cmd.Flags().GetString("date")
			tasks, _ := cmd.Flags().GetStringSlice("tasks")

			template := checkRequest{Timepoint: strings.ToUpper(timepoint), Imaging: imaging}
			if date != "" {
				t, err := time.Parse("2006-01-02", date)
				if err != nil {
					return fmt.Errorf("invalid --date: %w", err)
				}
				template.AcquisitionDate = t
			}
			for _, task := range tasks {
				template.Tasks = append(template.Tasks, classifier.FileType(strings.ToLower(task)))
			}
			return app.runCheck(cmd.Context(), cmd.OutOrStdout(), template, args)
		},
	}
	cmd.Flags().String("timepoint", "", "Timepoint suffix of subject ids (FU2, FU3, SB)")
	cmd.Flags().Bool("imaging", false, "Read DICOM metadata for subject codes and series")
	cmd.Flags().String("date", "", "Expected acquisition date (YYYY-MM-DD)")
	cmd.Flags().StringSlice("tasks", nil, "Behavioral tasks that must be present (mid,ft,ss,recog)")
	return cmd
}

func (a *App) newValidator() (*conformance.Validator, error) {
	registry, err := a.loadRegistry()
	if err != nil {
		return nil, err
	}
	c, err := a.loadClassifier()
	if err != nil {
		return nil, err
	}
	return conformance.NewValidator(registry,
		conformance.WithClassifier(c),
		conformance.WithTempDir(a.cfg.TempDir),
		conformance.WithFloor(a.cfg.AcquisitionFloor),
	), nil
}

func (a *App) runCheck(ctx context.Context, stdout io.Writer, template checkRequest, paths []string) error {
	validator, err := a.newValidator()
	if err != nil {
		return err
	}

	requests, superseded := latestArchives(paths, template)
	logger.LogDiagnostics(commandCheck, superseded)

	store, err := openReportStore(ctx, a, commandCheck, template.Timepoint, len(requests))
	if err != nil {
		return err
	}
	defer store.close()
	store.save(ctx, "selection", superseded)

	producer := a.producer()
	if producer != nil {
		defer producer.Close()
	}

	pairs := pipeline.Run(ctx, a.cfg.Workers, requests, func(r checkRequest) string {
		return filepath.Base(r.Path)
	}, func(ctx context.Context, r checkRequest) (conformance.Result, error) {
		result, err := a.checkArchive(validator, r)
		if err == nil {
			publish(ctx, producer, kafka.EventCheckResult, result.Archive, result)
		}
		return result, err
	})

	failed, invalid := 0, 0
	for _, pair := range pairs {
		if pair.Err != nil {
			failed++
			fmt.Fprintf(stdout, "%s: %v\n", pair.Key, pair.Err)
			store.saveFailure(ctx, pair.Key, pair.Err)
			continue
		}
		if !pair.Result.Valid() {
			invalid++
		}
		printResult(stdout, pair.Result)
		store.save(ctx, pair.Key, pair.Result.Diagnostics)
	}
	store.finish(ctx, failed+invalid)

	summary(commandCheck, logrus.Fields{
		"timepoint": template.Timepoint,
		"archives":  len(requests),
		"invalid":   invalid,
		"failed":    failed,
	})
	if failed+invalid > 0 {
		return errUnitsFailed
	}
	return nil
}

// latestArchives keeps the newest submission of each subject. Names that
// carry no subject code are checked as they are; the name check reports
// them.
func latestArchives(paths []string, template checkRequest) ([]checkRequest, []models.Diagnostic) {
	var (
		parsed   []archive.Dataset
		unparsed []string
	)
	for _, p := range paths {
		if ds, ok := archive.ParseDataset(p); ok {
			parsed = append(parsed, ds)
		} else {
			unparsed = append(unparsed, p)
		}
	}
	latest, superseded := pipeline.SelectLatest(parsed)

	requests := make([]checkRequest, 0, len(latest)+len(unparsed))
	for _, ds := range latest {
		r := template
		r.Path = ds.Path
		requests = append(requests, r)
	}
	for _, p := range unparsed {
		r := template
		r.Path = p
		requests = append(requests, r)
	}
	return requests, superseded
}

// checkArchive validates one archive and records it in the metrics.
// Archive names with an upload increment or a time stamp are not
// subject-named, so only plain names go through the name check.
func (a *App) checkArchive(validator *conformance.Validator, r checkRequest) (conformance.Result, error) {
	started := time.Now()
	unit := filepath.Base(r.Path)

	var (
		expected  string
		nameDiags []models.Diagnostic
	)
	ds, parsed := archive.ParseDataset(r.Path)
	if parsed && (ds.Version != 0 || !ds.Timestamp.IsZero()) {
		expected = ds.Code
	} else {
		subjectID, diags := conformance.CheckArchiveName(r.Path, r.Timepoint, "", a.registry)
		nameDiags = diags
		if r.Timepoint != "" {
			subjectID = strings.TrimSuffix(subjectID, r.Timepoint)
		}
		if len(diags) == 0 {
			expected = subjectID
		}
	}

	result, err := validator.Validate(r.Path, conformance.Options{
		Timepoint:       r.Timepoint,
		Expected:        expected,
		AcquisitionDate: r.AcquisitionDate,
		ExpectedTasks:   r.Tasks,
		Imaging:         r.Imaging,
	})
	var containerErr *conformance.ContainerError
	if errors.As(err, &containerErr) {
		// An unreadable archive is a finding about the submission.
		result.Diagnostics = append(result.Diagnostics, models.NewDiagnostic(models.KindCorruptContainer, unit,
			fmt.Sprintf("Cannot read archive: %v", containerErr.Err), ""))
		err = nil
	}
	if err != nil {
		a.metrics.ObserveUnit(commandCheck, metrics.OutcomeFailed, time.Since(started).Seconds())
		return result, err
	}
	result.Diagnostics = append(nameDiags, result.Diagnostics...)
	models.SortDiagnostics(result.Diagnostics)
	a.observe(commandCheck, unit, outcomeOf(result.Diagnostics), started, result.Diagnostics)
	return result, nil
}

func printResult(w io.Writer, result conformance.Result) {
	if len(result.Diagnostics) == 0 {
		fmt.Fprintf(w, "%s: OK\n", result.Archive)
		return
	}
	for _, d := range result.Diagnostics {
		fmt.Fprintf(w, "%s: %s: %s\n", result.Archive, d.Severity, d.String())
	}
}

// reportStore persists a run when a report store is configured. Every
// method is a no-op otherwise, and store errors are logged, never fatal.
type reportStore struct {
	repo  *report.Repository
	run   *report.Run
	close func()
}

func openReportStore(ctx context.Context, a *App, command, timepoint string, units int) (*reportStore, error) {
	store := &reportStore{close: func() {}}
	db, err := database.FromConfig(a.cfg)
	if err != nil {
		return nil, fmt.Errorf("open report store: %w", err)
	}
	if db == nil {
		return store, nil
	}
	store.close = func() {
		if err := database.Close(db); err != nil {
			logger.WithError(err).Warn("failed to close report store")
		}
	}
	repo := report.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		store.close()
		return nil, fmt.Errorf("migrate report store: %w", err)
	}
	run, err := repo.StartRun(ctx, command, timepoint, units)
	if err != nil {
		store.close()
		return nil, fmt.Errorf("start run: %w", err)
	}
	store.repo, store.run = repo, run
	logger.WithField("run_id", run.ID).Info("run started")
	return store, nil
}

func (s *reportStore) save(ctx context.Context, unit string, diags []models.Diagnostic) {
	if s.repo == nil {
		return
	}
	if err := s.repo.SaveDiagnostics(ctx, s.run.ID, unit, diags); err != nil {
		logger.WithError(err).WithField("unit", unit).Error("failed to save diagnostics")
	}
}

func (s *reportStore) saveFailure(ctx context.Context, unit string, err error) {
	s.save(ctx, unit, []models.Diagnostic{
		models.NewDiagnostic(models.KindCorruptContainer, unit, err.Error(), ""),
	})
}

func (s *reportStore) finish(ctx context.Context, failed int) {
	if s.repo == nil {
		return
	}
	s.run.Failed = failed
	s.run.Status = report.StatusCompleted
	if failed > 0 {
		s.run.Status = report.StatusFailed
	}
	if err := s.repo.SaveRun(ctx, s.run); err != nil {
		logger.WithError(err).WithField("run_id", s.run.ID).Error("failed to save run")
	}
}
