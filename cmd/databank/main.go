package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/neurocohort/databank/pkg/classifier"
	"github.com/neurocohort/databank/pkg/common/config"
	"github.com/neurocohort/databank/pkg/common/kafka"
	"github.com/neurocohort/databank/pkg/common/logger"
	"github.com/neurocohort/databank/pkg/common/models"
	"github.com/neurocohort/databank/pkg/dlp"
	"github.com/neurocohort/databank/pkg/identity"
	"github.com/neurocohort/databank/pkg/observability/metrics"
)

// errUnitsFailed makes the process exit non-zero once every unit has been
// reported.
var errUnitsFailed = errors.New("some units failed")

// App carries what every subcommand shares. The registry is built once,
// before any worker starts, and only read afterwards.
type App struct {
	cfg      *config.Config
	metrics  *metrics.Metrics
	registry *identity.Registry
}

func main() {
	app := &App{}

	rootCmd := &cobra.Command{
		Use:           "databank",
		Short:         "De-identify, check and assemble cohort research data",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Init()
			app.cfg = config.Load()
			app.metrics = metrics.New()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			app.flushMetrics()
		},
	}

	rootCmd.AddCommand(deidentifyCmd(app))
	rootCmd.AddCommand(onsetsCmd(app))
	rootCmd.AddCommand(cohortCmd(app))
	rootCmd.AddCommand(checkCmd(app))
	rootCmd.AddCommand(treeCmd(app))
	rootCmd.AddCommand(workerCmd(app))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errUnitsFailed) {
			fmt.Fprintln(os.Stderr, "databank:", err)
		}
		app.flushMetrics()
		os.Exit(1)
	}
}

// loadRegistry builds the identity registry from the configured tables.
func (a *App) loadRegistry() (*identity.Registry, error) {
	if a.registry != nil {
		return a.registry, nil
	}
	if len(a.cfg.MappingTables) == 0 {
		return nil, errors.New("no mapping table configured (DATABANK_MAPPING_TABLES)")
	}
	registry, err := identity.Build(
		fileTables(a.cfg.MappingTables),
		fileTables(a.cfg.BirthDateTables),
		identity.Options{MinBirthYear: a.cfg.MinBirthYear, MaxBirthYear: a.cfg.MaxBirthYear},
	)
	if err != nil {
		return nil, fmt.Errorf("build identity registry: %w", err)
	}
	logger.LogDiagnostics("registry", registry.LoadDiagnostics())
	a.registry = registry
	return registry, nil
}

// leakDetector scans released files for identifying data the rewrite
// missed.
func (a *App) leakDetector() (*dlp.Detector, error) {
	registry, err := a.loadRegistry()
	if err != nil {
		return nil, err
	}
	rules, err := dlp.LoadRules(a.cfg.LeakRulesPath)
	if err != nil {
		return nil, fmt.Errorf("load leak rules: %w", err)
	}
	return dlp.NewDetector(rules, registry)
}

func (a *App) loadClassifier() (*classifier.Classifier, error) {
	if a.cfg.RulesPath == "" {
		return classifier.Default(), nil
	}
	rules, err := classifier.LoadRules(a.cfg.RulesPath)
	if err != nil {
		return nil, err
	}
	return classifier.NewClassifier(rules)
}

// observe records one finished unit in the metrics and the log.
func (a *App) observe(command, unit, outcome string, started time.Time, diags []models.Diagnostic) {
	logger.LogDiagnostics(unit, diags)
	a.metrics.ObserveDiagnostics(command, diags)
	a.metrics.ObserveUnit(command, outcome, time.Since(started).Seconds())
}

func (a *App) flushMetrics() {
	if a.cfg == nil || a.cfg.MetricsTextfile == "" {
		return
	}
	if err := a.metrics.WriteTextfile(a.cfg.MetricsTextfile); err != nil {
		logger.WithError(err).WithField("path", a.cfg.MetricsTextfile).Error("failed to write metrics textfile")
	}
}

func fileTables(paths []string) []identity.Table {
	tables := make([]identity.Table, 0, len(paths))
	for _, p := range paths {
		tables = append(tables, identity.FileTable(p))
	}
	return tables
}

// outcomeOf classifies a unit from its diagnostics.
func outcomeOf(diags []models.Diagnostic) string {
	for _, d := range diags {
		if d.IsError() {
			return metrics.OutcomeInvalid
		}
	}
	return metrics.OutcomeOK
}

func summary(command string, fields logrus.Fields) {
	logger.WithFields(fields).WithField("command", command).Info("run completed")
}

// producer returns the results producer, or nil when Kafka is not
// configured.
func (a *App) producer() *kafka.Producer {
	if !a.cfg.KafkaEnabled() {
		return nil
	}
	return kafka.NewProducer(a.cfg.KafkaBrokers, a.cfg.KafkaResultsTopic)
}

// publish sends a unit result. Delivery failures are logged and do not
// fail the unit.
func publish(ctx context.Context, p *kafka.Producer, eventType, unit string, result interface{}) {
	if p == nil {
		return
	}
	if err := p.PublishResult(ctx, eventType, unit, result); err != nil {
		logger.WithError(err).WithField("unit", unit).Error("failed to publish result")
	}
}
