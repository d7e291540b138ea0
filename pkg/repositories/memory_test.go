package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/privsense/privsense/pkg/apperrors"
	"github.com/privsense/privsense/pkg/models"
)

func newJob(connID uuid.UUID, status models.ScanStatus, startedAt time.Time) *models.ScanJob {
	return &models.ScanJob{
		ID:           uuid.New(),
		ConnectionID: connID,
		Status:       status,
		StartedAt:    startedAt,
	}
}

func TestMemoryStore_JobLifecycle(t *testing.T) {
	store := NewMemoryScanStore()
	ctx := context.Background()

	job := newJob(uuid.New(), models.ScanStatusPending, time.Now())
	require.NoError(t, store.CreateJob(ctx, job))

	// Duplicate ids are rejected.
	err := store.CreateJob(ctx, job)
	assert.ErrorIs(t, err, apperrors.ErrPersistence)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanStatusPending, got.Status)

	job.Status = models.ScanStatusSampling
	require.NoError(t, store.UpdateJob(ctx, job))
	got, err = store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanStatusSampling, got.Status)

	_, err = store.GetJob(ctx, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	err = store.UpdateJob(ctx, newJob(uuid.New(), models.ScanStatusPending, time.Now()))
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestMemoryStore_GetJobReturnsCopy(t *testing.T) {
	store := NewMemoryScanStore()
	ctx := context.Background()

	job := newJob(uuid.New(), models.ScanStatusPending, time.Now())
	job.TargetTables = []string{"users"}
	require.NoError(t, store.CreateJob(ctx, job))

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	got.Status = models.ScanStatusFailed
	got.TargetTables[0] = "mutated"

	again, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanStatusPending, again.Status, "callers must not mutate stored state")
	assert.Equal(t, "users", again.TargetTables[0])
}

func TestMemoryStore_ListFiltersAndPages(t *testing.T) {
	store := NewMemoryScanStore()
	ctx := context.Background()

	connA := uuid.New()
	connB := uuid.New()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.CreateJob(ctx, newJob(connA, models.ScanStatusCompleted, base.Add(time.Duration(i)*time.Hour))))
	}
	require.NoError(t, store.CreateJob(ctx, newJob(connB, models.ScanStatusFailed, base.Add(10*time.Hour))))

	jobs, total, err := store.ListJobs(ctx, ScanFilter{ConnectionID: connA}, 0, 50)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, jobs, 5)
	// Newest first.
	for i := 1; i < len(jobs); i++ {
		assert.True(t, jobs[i-1].StartedAt.After(jobs[i].StartedAt))
	}

	_, total, err = store.ListJobs(ctx, ScanFilter{Status: models.ScanStatusFailed}, 0, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	since := base.Add(3 * time.Hour)
	_, total, err = store.ListJobs(ctx, ScanFilter{ConnectionID: connA, Since: &since}, 0, 50)
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	// Page past the end.
	jobs, total, err = store.ListJobs(ctx, ScanFilter{}, 3, 50)
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	assert.Empty(t, jobs)

	// Small pages.
	jobs, _, err = store.ListJobs(ctx, ScanFilter{ConnectionID: connA}, 1, 2)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestMemoryStore_ReportRoundTrip(t *testing.T) {
	store := NewMemoryScanStore()
	ctx := context.Background()

	jobID := uuid.New()
	col := models.ColumnInfo{SchemaName: "public", TableName: "users", Name: "email"}
	results := []models.DetectionResult{
		{Column: col, HasPii: true, WinningType: models.PiiTypeEmail, Confidence: 0.95},
	}
	report := &models.ComplianceReport{
		ScanID:           jobID,
		DetectionResults: results,
		Summary:          models.ScanSummary{ColumnsScanned: 1, PiiColumnsFound: 1},
	}
	require.NoError(t, store.SaveResults(ctx, jobID, nil, results, nil, report))

	first, err := store.GetReportJSON(ctx, jobID)
	require.NoError(t, err)
	second, err := store.GetReportJSON(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, first, second, "stored payload must be returned verbatim")

	decoded, err := store.GetReport(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, jobID, decoded.ScanID)
	assert.Equal(t, 1, decoded.Summary.PiiColumnsFound)

	stored, err := store.GetResults(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, models.PiiTypeEmail, stored[0].WinningType)

	_, err = store.GetReportJSON(ctx, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
