package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/neurocohort/databank/pkg/common/kafka"
	"github.com/neurocohort/databank/pkg/common/logger"
	"github.com/neurocohort/databank/pkg/common/models"
	"github.com/neurocohort/databank/pkg/deid"
	"github.com/neurocohort/databank/pkg/dlp"
	"github.com/neurocohort/databank/pkg/observability/metrics"
	"github.com/neurocohort/databank/pkg/pipeline"
)

const commandDeidentify = "deidentify"

type deidResult struct {
	Output      string              `json:"output,omitempty"`
	Stats       deid.Stats          `json:"stats"`
	Diagnostics []models.Diagnostic `json:"diagnostics"`
}

func deidentifyCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deidentify FILE...",
		Short: "Rewrite subject identifiers and dates of questionnaire exports",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schemaName, _ := cmd.Flags().GetString("schema")
			out, _ := cmd.Flags().GetString("out")
			return app.runDeidentify(cmd.Context(), schemaName, out, args)
		},
	}
	cmd.Flags().String("schema", "", fmt.Sprintf("Schema file or preset (%v)", deid.Presets()))
	cmd.Flags().String("out", ".", "Output directory")
	_ = cmd.MarkFlagRequired("schema")
	return cmd
}

func (a *App) runDeidentify(ctx context.Context, schemaName, out string, files []string) error {
	schema, err := deid.LoadSchema(schemaName)
	if err != nil {
		return err
	}
	registry, err := a.loadRegistry()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(out, 0o755); err != nil {
		return err
	}
	anonymizer := deid.NewAnonymizer(schema, registry, a.cfg.AcquisitionFloor)
	detector, err := a.leakDetector()
	if err != nil {
		return err
	}
	producer := a.producer()
	if producer != nil {
		defer producer.Close()
	}

	conflicts := outputConflicts(files)
	pairs := pipeline.Run(ctx, a.cfg.Workers, files, filepath.Base, func(ctx context.Context, path string) (deidResult, error) {
		started := time.Now()
		if err := conflicts[path]; err != nil {
			a.metrics.ObserveUnit(commandDeidentify, metrics.OutcomeFailed, time.Since(started).Seconds())
			return deidResult{}, err
		}
		result, err := deidentifyFile(anonymizer, detector, path, out)
		if err != nil {
			a.metrics.ObserveUnit(commandDeidentify, metrics.OutcomeFailed, time.Since(started).Seconds())
			return result, err
		}
		a.metrics.AddRecords(commandDeidentify, "read", result.Stats.Read)
		a.metrics.AddRecords(commandDeidentify, "written", result.Stats.Written)
		a.metrics.AddRecords(commandDeidentify, "dropped", result.Stats.Dropped)
		a.observe(commandDeidentify, filepath.Base(path), outcomeOf(result.Diagnostics), started, result.Diagnostics)
		publish(ctx, producer, kafka.EventDeidResult, filepath.Base(path), result)
		return result, nil
	})

	failed, invalid, total := 0, 0, deid.Stats{}
	for _, pair := range pairs {
		if pair.Err != nil {
			failed++
			logger.WithError(pair.Err).WithField("unit", pair.Key).Error("unit failed")
			continue
		}
		if outcomeOf(pair.Result.Diagnostics) != metrics.OutcomeOK {
			invalid++
		}
		total.Read += pair.Result.Stats.Read
		total.Written += pair.Result.Stats.Written
		total.Dropped += pair.Result.Stats.Dropped
	}
	summary(commandDeidentify, logrus.Fields{
		"schema":  schema.Name,
		"units":   len(files),
		"failed":  failed,
		"invalid": invalid,
		"read":    total.Read,
		"written": total.Written,
		"dropped": total.Dropped,
	})
	if failed+invalid > 0 {
		return errUnitsFailed
	}
	return nil
}

// outputConflicts finds inputs that would be released under the same name
// in the output directory. None of them is processed.
func outputConflicts(files []string) map[string]error {
	byName := make(map[string][]string, len(files))
	for _, f := range files {
		name := filepath.Base(f)
		byName[name] = append(byName[name], f)
	}
	conflicts := make(map[string]error)
	for name, paths := range byName {
		if len(paths) < 2 {
			continue
		}
		for _, p := range paths {
			conflicts[p] = fmt.Errorf("%s: output %s is shared by %s", p, name, strings.Join(paths, ", "))
		}
	}
	return conflicts
}

// deidentifyFile writes the anonymized copy of path under out, keeping its
// base name, then scans the copy for leftover identifying data. A partial
// output is removed when the unit fails.
func deidentifyFile(anonymizer *deid.Anonymizer, detector *dlp.Detector, path, out string) (deidResult, error) {
	in, err := os.Open(path)
	if err != nil {
		return deidResult{}, err
	}
	defer in.Close()

	target := filepath.Join(out, filepath.Base(path))
	if abs, _ := filepath.Abs(target); abs != "" {
		if src, _ := filepath.Abs(path); src == abs {
			return deidResult{}, fmt.Errorf("%s: output would overwrite input", path)
		}
	}
	f, err := os.Create(target)
	if err != nil {
		return deidResult{}, err
	}
	stats, diags, err := anonymizer.AnonymizeStream(filepath.Base(path), in, f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(target)
		return deidResult{Stats: stats, Diagnostics: diags}, err
	}

	released, err := os.Open(target)
	if err != nil {
		return deidResult{Stats: stats, Diagnostics: diags}, err
	}
	defer released.Close()
	leaks, err := detector.Scan(filepath.Base(target), released)
	if err != nil {
		return deidResult{Stats: stats, Diagnostics: diags}, err
	}
	diags = append(diags, leaks...)
	return deidResult{Output: target, Stats: stats, Diagnostics: diags}, nil
}
