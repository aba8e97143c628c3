package report

import (
	"time"

	"gorm.io/datatypes"
)

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run is one invocation of a databank command over a work list.
type Run struct {
	ID          string     `json:"id" gorm:"primaryKey;column:id"`
	Command     string     `json:"command" gorm:"column:command"`
	Timepoint   string     `json:"timepoint,omitempty" gorm:"column:timepoint"`
	Units       int        `json:"units" gorm:"column:units"`
	Failed      int        `json:"failed" gorm:"column:failed"`
	Status      string     `json:"status" gorm:"column:status"`
	StartedAt   time.Time  `json:"started_at" gorm:"column:started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" gorm:"column:completed_at"`
}

func (Run) TableName() string {
	return "databank_runs"
}

// DiagnosticRecord is a diagnostic raised while processing one unit.
type DiagnosticRecord struct {
	ID         uint              `json:"id" gorm:"primaryKey;autoIncrement;column:id"`
	RunID      string            `json:"run_id" gorm:"index;column:run_id"`
	Unit       string            `json:"unit" gorm:"index;column:unit"`
	Kind       string            `json:"kind" gorm:"index;column:kind"`
	Severity   string            `json:"severity" gorm:"column:severity"`
	Location   string            `json:"location" gorm:"column:location"`
	Message    string            `json:"message" gorm:"column:message"`
	Sample     string            `json:"sample,omitempty" gorm:"column:sample"`
	Attributes datatypes.JSONMap `json:"attributes,omitempty" gorm:"column:attributes"`
	CreatedAt  time.Time         `json:"created_at" gorm:"column:created_at"`
}

func (DiagnosticRecord) TableName() string {
	return "databank_diagnostics"
}
