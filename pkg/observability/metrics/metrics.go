package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/neurocohort/databank/pkg/common/models"
)

// Unit outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeInvalid  = "invalid"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Metrics counts the work of one batch run. Batch commands have no scrape
// endpoint, so the registry is flushed to a textfile for node_exporter.
type Metrics struct {
	registry *prometheus.Registry

	// Units processed by command and outcome
	Units *prometheus.CounterVec

	// Records read, written and dropped by command
	Records *prometheus.CounterVec

	// Diagnostics raised by kind and severity
	Diagnostics *prometheus.CounterVec

	// Wall time of a single unit
	UnitDuration *prometheus.HistogramVec
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Units: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "databank_units_total",
			Help: "Units of work processed by command and outcome",
		}, []string{"command", "outcome"}),

		Records: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "databank_records_total",
			Help: "Records read, written or dropped by command",
		}, []string{"command", "action"}), // action: "read", "written", "dropped"

		Diagnostics: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "databank_diagnostics_total",
			Help: "Diagnostics raised by kind and severity",
		}, []string{"command", "kind", "severity"}),

		UnitDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "databank_unit_duration_seconds",
			Help:    "Duration of processing a single unit",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"command"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveUnit records the outcome and duration of one unit.
func (m *Metrics) ObserveUnit(command, outcome string, seconds float64) {
	if m != nil {
		m.Units.WithLabelValues(command, outcome).Inc()
		m.UnitDuration.WithLabelValues(command).Observe(seconds)
	}
}

func (m *Metrics) AddRecords(command, action string, n int) {
	if m != nil && n > 0 {
		m.Records.WithLabelValues(command, action).Add(float64(n))
	}
}

// ObserveDiagnostics counts diagnostics by kind and severity.
func (m *Metrics) ObserveDiagnostics(command string, diags []models.Diagnostic) {
	if m == nil {
		return
	}
	for _, d := range diags {
		m.Diagnostics.WithLabelValues(command, string(d.Kind), string(d.Severity)).Inc()
	}
}

// WriteTextfile writes the registry in the text exposition format. The file
// is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
