package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/neurocohort/databank/pkg/classifier"
	"github.com/neurocohort/databank/pkg/common/logger"
	"github.com/neurocohort/databank/pkg/common/models"
	"github.com/neurocohort/databank/pkg/dates"
	"github.com/neurocohort/databank/pkg/deid"
	"github.com/neurocohort/databank/pkg/identity"
	"github.com/neurocohort/databank/pkg/observability/metrics"
	"github.com/neurocohort/databank/pkg/pipeline"
)

const commandOnsets = "onsets"

type onsetsResult struct {
	Output      string
	Diagnostics []models.Diagnostic
}

func onsetsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "onsets TASKFILE...",
		Short: "Release behavioral task files under public codes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			return app.runOnsets(cmd.Context(), out, args)
		},
	}
	cmd.Flags().String("out", ".", "Output directory")
	return cmd
}

func (a *App) runOnsets(ctx context.Context, out string, files []string) error {
	registry, err := a.loadRegistry()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(out, 0o755); err != nil {
		return err
	}
	transform := dates.NewTransform(registry, a.cfg.AcquisitionFloor)

	pairs := pipeline.Run(ctx, a.cfg.Workers, files, filepath.Base, func(ctx context.Context, path string) (onsetsResult, error) {
		started := time.Now()
		result, err := releaseTaskFile(registry, transform, path, out)
		if err != nil {
			a.metrics.ObserveUnit(commandOnsets, metrics.OutcomeFailed, time.Since(started).Seconds())
			return result, err
		}
		outcome := outcomeOf(result.Diagnostics)
		if result.Output == "" {
			outcome = metrics.OutcomeRejected
		} else {
			a.metrics.AddRecords(commandOnsets, "written", 1)
		}
		a.observe(commandOnsets, filepath.Base(path), outcome, started, result.Diagnostics)
		return result, nil
	})

	failed, written := 0, 0
	for _, pair := range pairs {
		switch {
		case pair.Err != nil:
			failed++
			logger.WithError(pair.Err).WithField("unit", pair.Key).Error("unit failed")
		case pair.Result.Output != "":
			written++
		}
	}
	summary(commandOnsets, logrus.Fields{"units": len(files), "written": written, "failed": failed})
	if failed > 0 {
		return errUnitsFailed
	}
	return nil
}

// releaseTaskFile writes the released copy of one task file. The output
// is named after the task, the public code and the timepoint.
func releaseTaskFile(registry *identity.Registry, transform *dates.Transform, path, out string) (onsetsResult, error) {
	base := filepath.Base(path)
	task, subjectID, ok := classifier.ParseTaskFilename(base)
	if !ok || subjectID == "" {
		return onsetsResult{Diagnostics: []models.Diagnostic{
			models.NewDiagnostic(models.KindUnexpectedStructure, base, "Unexpected behavioral file name", ""),
		}}, nil
	}
	internal, timepoint := identity.StripTimepoint(subjectID)
	public, ok := registry.PublicCodeOf(internal)
	if !ok {
		return onsetsResult{Diagnostics: []models.Diagnostic{
			models.NewDiagnostic(models.KindUnknownIdentifier, base, fmt.Sprintf("Unknown subject %s", internal), internal),
		}}, nil
	}

	in, err := os.Open(path)
	if err != nil {
		return onsetsResult{}, err
	}
	defer in.Close()

	var buf bytes.Buffer
	diags, written, err := deid.AnonymizeTaskHeader(in, &buf, base, internal, public, transform)
	if err != nil || !written {
		return onsetsResult{Diagnostics: diags}, err
	}
	target := filepath.Join(out, deid.OnsetsFileName(string(task), public, timepoint))
	if err := os.WriteFile(target, buf.Bytes(), 0o644); err != nil {
		return onsetsResult{Diagnostics: diags}, err
	}
	return onsetsResult{Output: target, Diagnostics: diags}, nil
}
