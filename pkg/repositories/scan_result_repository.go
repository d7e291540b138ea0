package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/privsense/privsense/pkg/apperrors"
	"github.com/privsense/privsense/pkg/database"
	"github.com/privsense/privsense/pkg/models"
)

// ScanResultRepository persists the final artifacts of a completed
// scan. SaveResults writes everything in one transaction, so a
// COMPLETED job always has a readable report and a FAILED job never
// has one.
type ScanResultRepository interface {
	SaveResults(ctx context.Context, jobID uuid.UUID, schema *models.SchemaInfo, results []models.DetectionResult, groups []models.QuasiIdentifierGroup, report *models.ComplianceReport) error

	// GetReportJSON returns the stored report payload verbatim, so
	// repeated reads are byte-equal.
	GetReportJSON(ctx context.Context, jobID uuid.UUID) ([]byte, error)
	GetReport(ctx context.Context, jobID uuid.UUID) (*models.ComplianceReport, error)
	GetResults(ctx context.Context, jobID uuid.UUID) ([]models.DetectionResult, error)
}

type scanResultRepository struct {
	db *database.DB
}

// NewScanResultRepository creates a ScanResultRepository backed by the
// metadata store.
func NewScanResultRepository(db *database.DB) ScanResultRepository {
	return &scanResultRepository{db: db}
}

var _ ScanResultRepository = (*scanResultRepository)(nil)

func (r *scanResultRepository) SaveResults(
	ctx context.Context,
	jobID uuid.UUID,
	schema *models.SchemaInfo,
	results []models.DetectionResult,
	groups []models.QuasiIdentifierGroup,
	report *models.ComplianceReport,
) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", apperrors.ErrPersistence, err)
	}
	defer tx.Rollback(ctx)

	if err := insertSchemaSnapshot(ctx, tx, jobID, schema); err != nil {
		return err
	}
	if err := insertResults(ctx, tx, jobID, results); err != nil {
		return err
	}
	if err := insertGroups(ctx, tx, jobID, groups); err != nil {
		return err
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("%w: failed to encode report: %v", apperrors.ErrPersistence, err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO compliance_report (scan_job_id, payload, created_at)
		VALUES ($1, $2, now())`, jobID, payload); err != nil {
		return fmt.Errorf("%w: failed to insert report: %v", apperrors.ErrPersistence, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: failed to commit results: %v", apperrors.ErrPersistence, err)
	}
	return nil
}

func insertSchemaSnapshot(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, schema *models.SchemaInfo) error {
	if schema == nil {
		return nil
	}

	var schemaID uuid.UUID
	err := tx.QueryRow(ctx, `
		INSERT INTO schema_snapshot (scan_job_id, catalog_name, schema_name)
		VALUES ($1, $2, $3)
		RETURNING id`, jobID, schema.CatalogName, schema.SchemaName).Scan(&schemaID)
	if err != nil {
		return fmt.Errorf("%w: failed to insert schema snapshot: %v", apperrors.ErrPersistence, err)
	}

	for _, table := range schema.Tables {
		var tableID uuid.UUID
		err := tx.QueryRow(ctx, `
			INSERT INTO table_snapshot (schema_snapshot_id, schema_name, table_name, kind, table_comment, row_count)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			schemaID, table.SchemaName, table.Name, table.Kind, table.Comment, table.RowCount,
		).Scan(&tableID)
		if err != nil {
			return fmt.Errorf("%w: failed to insert table snapshot: %v", apperrors.ErrPersistence, err)
		}

		for _, col := range table.Columns {
			if _, err := tx.Exec(ctx, `
				INSERT INTO column_snapshot (
					table_snapshot_id, column_name, type_name, column_size,
					nullable, is_primary_key, is_foreign_key, column_comment
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				tableID, col.Name, col.TypeName, col.Size,
				col.Nullable, col.IsPrimaryKey, col.IsForeignKey, col.Comment,
			); err != nil {
				return fmt.Errorf("%w: failed to insert column snapshot: %v", apperrors.ErrPersistence, err)
			}
		}
	}
	return nil
}

func insertResults(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, results []models.DetectionResult) error {
	for _, result := range results {
		correlated, err := json.Marshal(result.CorrelatedColumns)
		if err != nil {
			return fmt.Errorf("%w: failed to encode correlated columns: %v", apperrors.ErrPersistence, err)
		}

		var resultID uuid.UUID
		err = tx.QueryRow(ctx, `
			INSERT INTO detection_result (
				scan_job_id, schema_name, table_name, column_name,
				has_pii, winning_type, confidence,
				is_quasi_identifier, quasi_identifier_risk_score, clustering_method, correlated_columns
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id`,
			jobID, result.Column.SchemaName, result.Column.TableName, result.Column.Name,
			result.HasPii, result.WinningType, result.Confidence,
			result.IsQuasiIdentifier, result.QuasiIdentifierRiskScore, result.ClusteringMethod, correlated,
		).Scan(&resultID)
		if err != nil {
			return fmt.Errorf("%w: failed to insert detection result: %v", apperrors.ErrPersistence, err)
		}

		for _, c := range result.Candidates {
			if _, err := tx.Exec(ctx, `
				INSERT INTO pii_candidate (detection_result_id, pii_type, confidence, method, evidence)
				VALUES ($1, $2, $3, $4, $5)`,
				resultID, c.PiiType, c.Confidence, c.Method, c.Evidence,
			); err != nil {
				return fmt.Errorf("%w: failed to insert candidate: %v", apperrors.ErrPersistence, err)
			}
		}
	}
	return nil
}

func insertGroups(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, groups []models.QuasiIdentifierGroup) error {
	for _, g := range groups {
		columns, err := json.Marshal(g.Columns)
		if err != nil {
			return fmt.Errorf("%w: failed to encode group columns: %v", apperrors.ErrPersistence, err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO quasi_identifier_group (
				scan_job_id, columns, risk_score, clustering_method, k_anonymity, normalized_entropy
			) VALUES ($1, $2, $3, $4, $5, $6)`,
			jobID, columns, g.RiskScore, g.ClusteringMethod, g.KAnonymity, g.NormalizedEntropy,
		); err != nil {
			return fmt.Errorf("%w: failed to insert quasi-identifier group: %v", apperrors.ErrPersistence, err)
		}
	}
	return nil
}

func (r *scanResultRepository) GetReportJSON(ctx context.Context, jobID uuid.UUID) ([]byte, error) {
	var payload []byte
	err := r.db.QueryRow(ctx, `
		SELECT payload FROM compliance_report WHERE scan_job_id = $1`, jobID).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: report for scan %s", apperrors.ErrNotFound, jobID)
		}
		return nil, fmt.Errorf("%w: failed to get report: %v", apperrors.ErrPersistence, err)
	}
	return payload, nil
}

func (r *scanResultRepository) GetReport(ctx context.Context, jobID uuid.UUID) (*models.ComplianceReport, error) {
	payload, err := r.GetReportJSON(ctx, jobID)
	if err != nil {
		return nil, err
	}
	report := &models.ComplianceReport{}
	if err := json.Unmarshal(payload, report); err != nil {
		return nil, fmt.Errorf("%w: failed to decode report: %v", apperrors.ErrPersistence, err)
	}
	return report, nil
}

func (r *scanResultRepository) GetResults(ctx context.Context, jobID uuid.UUID) ([]models.DetectionResult, error) {
	rows, err := r.db.Query(ctx, `
		SELECT schema_name, table_name, column_name, has_pii, winning_type, confidence,
		       is_quasi_identifier, quasi_identifier_risk_score, clustering_method, correlated_columns
		FROM detection_result
		WHERE scan_job_id = $1
		ORDER BY table_name, column_name`, jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query results: %v", apperrors.ErrPersistence, err)
	}
	defer rows.Close()

	var results []models.DetectionResult
	for rows.Next() {
		var r models.DetectionResult
		var correlated []byte
		err := rows.Scan(
			&r.Column.SchemaName, &r.Column.TableName, &r.Column.Name,
			&r.HasPii, &r.WinningType, &r.Confidence,
			&r.IsQuasiIdentifier, &r.QuasiIdentifierRiskScore, &r.ClusteringMethod, &correlated,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan result row: %v", apperrors.ErrPersistence, err)
		}
		if len(correlated) > 0 {
			if err := json.Unmarshal(correlated, &r.CorrelatedColumns); err != nil {
				return nil, fmt.Errorf("%w: failed to decode correlated columns: %v", apperrors.ErrPersistence, err)
			}
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating results: %v", apperrors.ErrPersistence, err)
	}
	return results, nil
}
