// Package repositories provides data access for scan state and results
// in the metadata store.
package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/privsense/privsense/pkg/apperrors"
	"github.com/privsense/privsense/pkg/database"
	"github.com/privsense/privsense/pkg/models"
)

// ScanFilter narrows job listings.
type ScanFilter struct {
	Status       models.ScanStatus
	ConnectionID uuid.UUID
	Since        *time.Time
	Until        *time.Time
}

// ScanJobRepository provides data access for scan job records. Job rows
// are written ahead of each state transition's side effects; the final
// results of a scan go through ScanResultRepository in one transaction.
type ScanJobRepository interface {
	CreateJob(ctx context.Context, job *models.ScanJob) error
	GetJob(ctx context.Context, jobID uuid.UUID) (*models.ScanJob, error)
	UpdateJob(ctx context.Context, job *models.ScanJob) error
	ListJobs(ctx context.Context, filter ScanFilter, page, size int) ([]*models.ScanJob, int, error)
}

type scanJobRepository struct {
	db *database.DB
}

// NewScanJobRepository creates a ScanJobRepository backed by the
// metadata store.
func NewScanJobRepository(db *database.DB) ScanJobRepository {
	return &scanJobRepository{db: db}
}

var _ ScanJobRepository = (*scanJobRepository)(nil)

func (r *scanJobRepository) CreateJob(ctx context.Context, job *models.ScanJob) error {
	samplingCfg, detectionCfg, qiCfg, err := marshalConfigs(job)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO scan_job (
			id, connection_id, target_tables, sampling_config, detection_config,
			quasi_identifier_config, status, counters, error_message, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.ConnectionID, job.TargetTables, samplingCfg, detectionCfg,
		qiCfg, job.Status, mustJSON(job.Counters), job.ErrorMessage, job.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to create scan job: %v", apperrors.ErrPersistence, err)
	}
	return nil
}

func (r *scanJobRepository) GetJob(ctx context.Context, jobID uuid.UUID) (*models.ScanJob, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, connection_id, target_tables, sampling_config, detection_config,
		       quasi_identifier_config, status, counters, error_message, started_at, completed_at
		FROM scan_job
		WHERE id = $1`, jobID)

	job, err := scanJobRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: scan job %s", apperrors.ErrNotFound, jobID)
		}
		return nil, fmt.Errorf("%w: failed to get scan job: %v", apperrors.ErrPersistence, err)
	}
	return job, nil
}

func (r *scanJobRepository) UpdateJob(ctx context.Context, job *models.ScanJob) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE scan_job
		SET status = $2, counters = $3, error_message = $4, completed_at = $5
		WHERE id = $1`,
		job.ID, job.Status, mustJSON(job.Counters), job.ErrorMessage, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to update scan job: %v", apperrors.ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: scan job %s", apperrors.ErrNotFound, job.ID)
	}
	return nil
}

func (r *scanJobRepository) ListJobs(ctx context.Context, filter ScanFilter, page, size int) ([]*models.ScanJob, int, error) {
	if page < 0 {
		page = 0
	}
	if size <= 0 || size > 200 {
		size = 50
	}

	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}
	if filter.ConnectionID != uuid.Nil {
		conditions = append(conditions, fmt.Sprintf("connection_id = $%d", argIdx))
		args = append(args, filter.ConnectionID)
		argIdx++
	}
	if filter.Since != nil {
		conditions = append(conditions, fmt.Sprintf("started_at >= $%d", argIdx))
		args = append(args, *filter.Since)
		argIdx++
	}
	if filter.Until != nil {
		conditions = append(conditions, fmt.Sprintf("started_at <= $%d", argIdx))
		args = append(args, *filter.Until)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM scan_job WHERE %s`, where)
	var total int
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: failed to count scan jobs: %v", apperrors.ErrPersistence, err)
	}

	dataQuery := fmt.Sprintf(`
		SELECT id, connection_id, target_tables, sampling_config, detection_config,
		       quasi_identifier_config, status, counters, error_message, started_at, completed_at
		FROM scan_job
		WHERE %s
		ORDER BY started_at DESC
		LIMIT $%d OFFSET $%d`, where, argIdx, argIdx+1)

	args = append(args, size, page*size)

	rows, err := r.db.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: failed to list scan jobs: %v", apperrors.ErrPersistence, err)
	}
	defer rows.Close()

	var jobs []*models.ScanJob
	for rows.Next() {
		job, err := scanJobRow(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: failed to scan job row: %v", apperrors.ErrPersistence, err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: error iterating scan jobs: %v", apperrors.ErrPersistence, err)
	}

	return jobs, total, nil
}

// scanJobRow scans one job row from either a Row or Rows.
func scanJobRow(row pgx.Row) (*models.ScanJob, error) {
	job := &models.ScanJob{}
	var samplingCfg, detectionCfg, qiCfg, counters []byte
	err := row.Scan(
		&job.ID, &job.ConnectionID, &job.TargetTables, &samplingCfg, &detectionCfg,
		&qiCfg, &job.Status, &counters, &job.ErrorMessage, &job.StartedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(samplingCfg, &job.SamplingConfig); err != nil {
		return nil, fmt.Errorf("failed to decode sampling config: %w", err)
	}
	if err := json.Unmarshal(detectionCfg, &job.DetectionConfig); err != nil {
		return nil, fmt.Errorf("failed to decode detection config: %w", err)
	}
	if err := json.Unmarshal(qiCfg, &job.QuasiIdentifierConfig); err != nil {
		return nil, fmt.Errorf("failed to decode quasi-identifier config: %w", err)
	}
	if err := json.Unmarshal(counters, &job.Counters); err != nil {
		return nil, fmt.Errorf("failed to decode counters: %w", err)
	}
	return job, nil
}

func marshalConfigs(job *models.ScanJob) (sampling, detection, qi []byte, err error) {
	sampling, err = json.Marshal(job.SamplingConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode sampling config: %w", err)
	}
	detection, err = json.Marshal(job.DetectionConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode detection config: %w", err)
	}
	qi, err = json.Marshal(job.QuasiIdentifierConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode quasi-identifier config: %w", err)
	}
	return sampling, detection, qi, nil
}

// mustJSON encodes values whose types cannot fail to marshal.
func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
