package models

import (
	"time"

	"github.com/google/uuid"
)

// DatabaseInfo is the connection snapshot embedded in a report.
// It intentionally omits credentials.
type DatabaseInfo struct {
	ConnectionID uuid.UUID `json:"connection_id"`
	Host         string    `json:"host"`
	Port         int       `json:"port"`
	Database     string    `json:"database"`
	Driver       string    `json:"driver"`
}

// ScanSummary holds the headline counts of a completed scan.
type ScanSummary struct {
	TablesScanned         int `json:"tables_scanned"`
	ColumnsScanned        int `json:"columns_scanned"`
	PiiColumnsFound       int `json:"pii_columns_found"`
	QuasiIdentifierGroups int `json:"quasi_identifier_groups"`
	FailedColumns         int `json:"failed_columns"`
}

// ComplianceReport is the immutable final artifact of a completed scan.
// It is generated exactly once at job completion and read-only after.
type ComplianceReport struct {
	ScanID       uuid.UUID    `json:"scan_id"`
	DatabaseInfo DatabaseInfo `json:"database_info"`
	Summary      ScanSummary  `json:"summary"`

	DetectionResults []DetectionResult      `json:"detection_results"`
	QuasiIdentifiers []QuasiIdentifierGroup `json:"quasi_identifiers"`

	SamplingConfig        SamplingConfig        `json:"sampling_config"`
	DetectionConfig       DetectionConfig       `json:"detection_config"`
	QuasiIdentifierConfig QuasiIdentifierConfig `json:"quasi_identifier_config"`

	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
}
