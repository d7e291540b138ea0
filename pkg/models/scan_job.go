package models

import (
	"time"

	"github.com/google/uuid"
)

// ScanStatus is the lifecycle state of a scan job.
type ScanStatus string

const (
	ScanStatusPending            ScanStatus = "PENDING"
	ScanStatusExtractingMetadata ScanStatus = "EXTRACTING_METADATA"
	ScanStatusSampling           ScanStatus = "SAMPLING"
	ScanStatusDetectingPii       ScanStatus = "DETECTING_PII"
	ScanStatusGeneratingReport   ScanStatus = "GENERATING_REPORT"
	ScanStatusCompleted          ScanStatus = "COMPLETED"
	ScanStatusFailed             ScanStatus = "FAILED"
	ScanStatusCancelled          ScanStatus = "CANCELLED"
)

// IsTerminal reports whether no further transitions are permitted.
func (s ScanStatus) IsTerminal() bool {
	switch s {
	case ScanStatusCompleted, ScanStatusFailed, ScanStatusCancelled:
		return true
	}
	return false
}

// ordinal gives the position of a status on the happy path. Terminal
// states have no ordinal.
func (s ScanStatus) ordinal() int {
	switch s {
	case ScanStatusPending:
		return 0
	case ScanStatusExtractingMetadata:
		return 1
	case ScanStatusSampling:
		return 2
	case ScanStatusDetectingPii:
		return 3
	case ScanStatusGeneratingReport:
		return 4
	case ScanStatusCompleted:
		return 5
	default:
		return -1
	}
}

// CanTransition reports whether moving from s to next is a legal step.
// The happy path is strictly monotonic; any non-terminal state may move
// to FAILED or CANCELLED.
func (s ScanStatus) CanTransition(next ScanStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == ScanStatusFailed || next == ScanStatusCancelled {
		return true
	}
	from, to := s.ordinal(), next.ordinal()
	return from >= 0 && to == from+1
}

// ScanCounters are the running progress counters of a job. External
// readers always receive copies, never the live struct.
type ScanCounters struct {
	TablesDiscovered    int `json:"tables_discovered"`
	TotalColumns        int `json:"total_columns"`
	ColumnsSampled      int `json:"columns_sampled"`
	ColumnsDetected     int `json:"columns_detected"`
	TotalColumnsScanned int `json:"total_columns_scanned"`
	PiiColumnsFound     int `json:"pii_columns_found"`
	QiGroupsFound       int `json:"qi_groups_found"`
}

// ScanJob is the persistent record of one scan. Mutable state is owned
// by the executing worker; everyone else sees snapshots.
type ScanJob struct {
	ID           uuid.UUID `json:"id"`
	ConnectionID uuid.UUID `json:"connection_id"`
	TargetTables []string  `json:"target_tables,omitempty"`

	SamplingConfig        SamplingConfig        `json:"sampling_config"`
	DetectionConfig       DetectionConfig       `json:"detection_config"`
	QuasiIdentifierConfig QuasiIdentifierConfig `json:"quasi_identifier_config"`

	Status       ScanStatus   `json:"status"`
	Counters     ScanCounters `json:"counters"`
	ErrorMessage string       `json:"error_message,omitempty"`
	StartedAt    time.Time    `json:"started_at"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
}

// Snapshot returns a copy safe for external readers.
func (j *ScanJob) Snapshot() ScanJob {
	cp := *j
	cp.TargetTables = append([]string(nil), j.TargetTables...)
	return cp
}
