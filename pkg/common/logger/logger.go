package logger

import (
	"io"
	"os"

	"github.com/neurocohort/databank/pkg/common/models"
	"github.com/sirupsen/logrus"
)

// Log is the process logger. Packages that may run before Init (tests,
// library callers) go through entry helpers which fall back to a silent
// logger.
var Log *logrus.Logger

func Init() {
	Log = logrus.New()
	Log.SetOutput(os.Stderr)
	Log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})

	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	Log.SetLevel(logLevel)
}

func get() *logrus.Logger {
	if Log == nil {
		silent := logrus.New()
		silent.SetOutput(io.Discard)
		return silent
	}
	return Log
}

func WithField(key string, value interface{}) *logrus.Entry {
	return get().WithField(key, value)
}

func WithFields(fields logrus.Fields) *logrus.Entry {
	return get().WithFields(fields)
}

// WithDiagnostic returns an entry carrying the diagnostic's kind, severity
// and location so diagnostics can be grepped out of the JSON stream.
func WithDiagnostic(d models.Diagnostic) *logrus.Entry {
	fields := logrus.Fields{
		"kind":     string(d.Kind),
		"severity": string(d.Severity),
		"location": d.Location,
	}
	if d.Sample != "" {
		fields["sample"] = models.Truncate(d.Sample)
	}
	return get().WithFields(fields)
}

// LogDiagnostics emits every diagnostic at a level matching its severity.
func LogDiagnostics(unit string, diags []models.Diagnostic) {
	for _, d := range diags {
		entry := WithDiagnostic(d).WithField("unit", unit)
		switch d.Severity {
		case models.SeverityInfo:
			entry.Debug(d.Message)
		case models.SeverityWarning:
			entry.Info(d.Message)
		default:
			entry.Warn(d.Message)
		}
	}
}

func WithError(err error) *logrus.Entry {
	return get().WithError(err)
}
