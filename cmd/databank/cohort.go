package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/neurocohort/databank/pkg/archive"
	"github.com/neurocohort/databank/pkg/cohort"
	"github.com/neurocohort/databank/pkg/common/kafka"
	"github.com/neurocohort/databank/pkg/common/logger"
	"github.com/neurocohort/databank/pkg/common/models"
	"github.com/neurocohort/databank/pkg/dates"
	"github.com/neurocohort/databank/pkg/dlp"
	"github.com/neurocohort/databank/pkg/identity"
	"github.com/neurocohort/databank/pkg/observability/metrics"
	"github.com/neurocohort/databank/pkg/pipeline"
	"github.com/neurocohort/databank/pkg/tabular"
)

const commandCohort = "cohort"

type cohortResult struct {
	Public      string              `json:"public,omitempty"`
	Record      tabular.Record      `json:"-"`
	Diagnostics []models.Diagnostic `json:"diagnostics"`
}

func cohortCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cohort DATASET...",
		Short: "Assemble cognitive battery datasheets into one cohort table",
		Long: "Each DATASET is a submitted archive holding a datasheet, or a datasheet CSV file.\n" +
			"Only the latest submission of each subject is used.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			timepoint, _ := cmd.Flags().GetString("timepoint")
			return app.runCohort(cmd.Context(), out, timepoint, args)
		},
	}
	cmd.Flags().String("out", "", "Output CSV file (default: standard output)")
	cmd.Flags().String("timepoint", "", "Timepoint of the datasheets (BL, FU2, FU3, SB)")
	_ = cmd.MarkFlagRequired("timepoint")
	return cmd
}

func (a *App) runCohort(ctx context.Context, out, timepoint string, paths []string) error {
	columns, ok := cohort.Columns(timepoint)
	if !ok {
		return fmt.Errorf("no cohort columns for timepoint %q", timepoint)
	}
	registry, err := a.loadRegistry()
	if err != nil {
		return err
	}
	transform := dates.NewTransform(registry, a.cfg.AcquisitionFloor)

	datasets, diags := collectDatasets(paths, timepoint)
	latest, superseded := pipeline.SelectLatest(datasets)
	diags = append(diags, superseded...)
	a.metrics.AddRecords(commandCohort, "dropped", len(superseded))

	pairs := pipeline.Run(ctx, a.cfg.Workers, latest, func(ds archive.Dataset) string {
		return filepath.Base(ds.Path)
	}, func(ctx context.Context, ds archive.Dataset) (cohortResult, error) {
		started := time.Now()
		result, err := cleanDataset(registry, transform, columns, ds)
		if err != nil {
			a.metrics.ObserveUnit(commandCohort, metrics.OutcomeFailed, time.Since(started).Seconds())
			return result, err
		}
		outcome := outcomeOf(result.Diagnostics)
		if result.Record == nil {
			outcome = metrics.OutcomeRejected
		}
		a.observe(commandCohort, filepath.Base(ds.Path), outcome, started, result.Diagnostics)
		return result, nil
	})

	// Single writer: the table is filled once every worker is done.
	table := cohort.NewTable(columns)
	failed, invalid := 0, 0
	for _, pair := range pairs {
		if pair.Err != nil {
			failed++
			logger.WithError(pair.Err).WithField("unit", pair.Key).Error("unit failed")
			continue
		}
		if outcomeOf(pair.Result.Diagnostics) != metrics.OutcomeOK {
			invalid++
		}
		if pair.Result.Record != nil {
			table.Add(pair.Result.Public, pair.Result.Record)
		}
	}
	diags = append(diags, table.Diagnostics()...)
	logger.LogDiagnostics(commandCohort, diags)
	a.metrics.ObserveDiagnostics(commandCohort, diags)

	detector, err := a.leakDetector()
	if err != nil {
		return err
	}
	leaks, err := writeTable(table, detector, out)
	if err != nil {
		return err
	}
	logger.LogDiagnostics(commandCohort, leaks)
	a.metrics.ObserveDiagnostics(commandCohort, leaks)
	diags = append(diags, leaks...)
	a.metrics.AddRecords(commandCohort, "written", table.Len())

	if producer := a.producer(); producer != nil {
		publish(ctx, producer, kafka.EventCohortResult, timepoint, map[string]interface{}{
			"timepoint":   timepoint,
			"subjects":    table.Len(),
			"output":      out,
			"diagnostics": diags,
		})
		producer.Close()
	}

	if outcomeOf(leaks) != metrics.OutcomeOK {
		invalid++
	}

	summary(commandCohort, logrus.Fields{
		"timepoint": timepoint,
		"datasets":  len(latest),
		"subjects":  table.Len(),
		"failed":    failed,
		"invalid":   invalid,
	})
	if failed+invalid > 0 {
		return errUnitsFailed
	}
	return nil
}

// collectDatasets parses submission names. Bare datasheets are named after
// the subject and carry no version.
func collectDatasets(paths []string, timepoint string) ([]archive.Dataset, []models.Diagnostic) {
	var (
		datasets []archive.Dataset
		diags    []models.Diagnostic
	)
	for _, p := range paths {
		if ds, ok := archive.ParseDataset(p); ok {
			if ds.Timepoint == "" {
				ds.Timepoint = strings.ToUpper(timepoint)
			}
			datasets = append(datasets, ds)
			continue
		}
		if cohort.IsDatasheet(p) {
			if code, ok := identity.DetectInternalCode(filepath.Base(p)); ok {
				datasets = append(datasets, archive.Dataset{Path: p, Code: code, Timepoint: strings.ToUpper(timepoint)})
				continue
			}
		}
		diags = append(diags, models.NewDiagnostic(models.KindMalformedIdentifier, p,
			"Cannot find a subject code in file name", filepath.Base(p)))
	}
	return datasets, diags
}

func cleanDataset(registry *identity.Registry, transform *dates.Transform, columns []cohort.Column, ds archive.Dataset) (cohortResult, error) {
	public, ok := registry.PublicCodeOf(ds.Code)
	if !ok {
		return cohortResult{Diagnostics: []models.Diagnostic{
			models.NewDiagnostic(models.KindUnknownIdentifier, ds.Path, fmt.Sprintf("Unknown subject %s", ds.Code), ds.Code),
		}}, nil
	}
	sheet, diag, err := readDatasheet(ds.Path)
	if err != nil || diag != nil {
		result := cohortResult{Public: public}
		if diag != nil {
			result.Diagnostics = []models.Diagnostic{*diag}
		}
		return result, err
	}
	record, diags := cohort.CleanDatasheet(ds.Code, sheet, columns, transform)
	return cohortResult{Public: public, Record: record, Diagnostics: diags}, nil
}

// readDatasheet reads a datasheet file, or the datasheet inside an
// archive. A missing datasheet is a diagnostic, not a failure.
func readDatasheet(p string) (cohort.Sheet, *models.Diagnostic, error) {
	if cohort.IsDatasheet(p) {
		f, err := os.Open(p)
		if err != nil {
			return cohort.Sheet{}, nil, err
		}
		defer f.Close()
		location := filepath.Base(p)
		sheet, err := cohort.ReadSheet(f, location)
		return sheetOrDiagnostic(location, sheet, err)
	}

	container, err := archive.Open(p)
	if err != nil {
		d := models.NewDiagnostic(models.KindCorruptContainer, p, fmt.Sprintf("Cannot open archive: %v", err), "")
		return cohort.Sheet{}, &d, nil
	}
	defer container.Close()
	for _, entry := range container.Entries() {
		if entry.Dir || !cohort.IsDatasheet(entry.Name) {
			continue
		}
		content, err := archive.ReadFile(container, entry.Name)
		if err != nil {
			d := models.NewDiagnostic(models.KindCorruptContainer, entry.Name, fmt.Sprintf("Cannot read file: %v", err), "")
			return cohort.Sheet{}, &d, nil
		}
		location := filepath.Base(p) + "/" + entry.Name
		sheet, err := cohort.ReadSheet(bytes.NewReader(content), location)
		return sheetOrDiagnostic(location, sheet, err)
	}
	d := models.NewDiagnostic(models.KindMissingRequiredField, p, "Missing datasheet", "")
	return cohort.Sheet{}, &d, nil
}

// sheetOrDiagnostic turns an unreadable sheet into a diagnostic.
func sheetOrDiagnostic(location string, sheet cohort.Sheet, err error) (cohort.Sheet, *models.Diagnostic, error) {
	if err != nil {
		d := models.NewDiagnostic(models.KindUnexpectedStructure, location, fmt.Sprintf("Cannot read CSV file: %v", err), "")
		return cohort.Sheet{}, &d, nil
	}
	return sheet, nil, nil
}

// writeTable renders the table, scans it for identifying data and writes
// it to out, or to standard output.
func writeTable(table *cohort.Table, detector *dlp.Detector, out string) ([]models.Diagnostic, error) {
	var buf bytes.Buffer
	if _, err := table.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write cohort table: %w", err)
	}
	name := out
	if name == "" {
		name = "stdout"
	}
	leaks, err := detector.Scan(filepath.Base(name), bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, err
	}

	if out == "" {
		if _, err := buf.WriteTo(os.Stdout); err != nil {
			return leaks, fmt.Errorf("write cohort table: %w", err)
		}
		return leaks, nil
	}
	f, err := os.Create(out)
	if err != nil {
		return leaks, err
	}
	_, err = buf.WriteTo(f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return leaks, fmt.Errorf("write cohort table: %w", err)
	}
	return leaks, nil
}
