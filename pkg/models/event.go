package models

import (
	"time"

	"github.com/google/uuid"
)

// ScanStatusEvent is published on every job state transition and on
// periodic progress ticks while sampling or detecting.
type ScanStatusEvent struct {
	JobID            uuid.UUID  `json:"job_id"`
	Status           ScanStatus `json:"status"`
	ProgressPercent  int        `json:"progress_percent,omitempty"`
	CurrentOperation string     `json:"current_operation,omitempty"`
	Timestamp        time.Time  `json:"timestamp"`
	ErrorMessage     string     `json:"error_message,omitempty"`
}
