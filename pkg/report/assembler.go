// Package report assembles the final compliance report of a scan.
package report

import (
	"time"

	"github.com/privsense/privsense/pkg/models"
)

// Assemble rolls a finished scan's outputs into an immutable
// ComplianceReport. It performs no I/O and is deterministic for fixed
// inputs; timestamps come from the job itself.
func Assemble(
	job models.ScanJob,
	descriptor models.ConnectionDescriptor,
	schema *models.SchemaInfo,
	results []models.DetectionResult,
	groups []models.QuasiIdentifierGroup,
	samples map[models.ColumnRef]*models.SampleData,
) *models.ComplianceReport {
	summary := models.ScanSummary{
		ColumnsScanned:        len(results),
		QuasiIdentifierGroups: len(groups),
	}
	if schema != nil {
		summary.TablesScanned = len(schema.Tables)
	}
	for _, r := range results {
		if r.HasPii {
			summary.PiiColumnsFound++
		}
	}
	for _, s := range samples {
		if s.Status == models.SampleStatusFailed {
			summary.FailedColumns++
		}
	}

	completedAt := time.Now()
	if job.CompletedAt != nil {
		completedAt = *job.CompletedAt
	}

	return &models.ComplianceReport{
		ScanID: job.ID,
		DatabaseInfo: models.DatabaseInfo{
			ConnectionID: descriptor.ID,
			Host:         descriptor.Host,
			Port:         descriptor.Port,
			Database:     descriptor.Database,
			Driver:       descriptor.Driver,
		},
		Summary:               summary,
		DetectionResults:      results,
		QuasiIdentifiers:      groups,
		SamplingConfig:        job.SamplingConfig,
		DetectionConfig:       job.DetectionConfig,
		QuasiIdentifierConfig: job.QuasiIdentifierConfig,
		StartedAt:             job.StartedAt,
		CompletedAt:           completedAt,
		Duration:              completedAt.Sub(job.StartedAt),
	}
}
