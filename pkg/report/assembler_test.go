package report

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/privsense/privsense/pkg/models"
)

func fixture() (models.ScanJob, models.ConnectionDescriptor, *models.SchemaInfo, []models.DetectionResult, []models.QuasiIdentifierGroup, map[models.ColumnRef]*models.SampleData) {
	started := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	completed := started.Add(90 * time.Second)

	job := models.ScanJob{
		ID:             uuid.MustParse("11111111-2222-3333-4444-555555555555"),
		ConnectionID:   uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"),
		Status:         models.ScanStatusGeneratingReport,
		StartedAt:      started,
		CompletedAt:    &completed,
		SamplingConfig: models.DefaultSamplingConfig(),
	}
	desc := models.ConnectionDescriptor{
		ID:       job.ConnectionID,
		Host:     "db.internal",
		Port:     5432,
		Database: "crm",
		Driver:   "postgres",
	}

	emailCol := models.ColumnInfo{SchemaName: "public", TableName: "users", Name: "email"}
	ageCol := models.ColumnInfo{SchemaName: "public", TableName: "users", Name: "age"}
	brokenCol := models.ColumnInfo{SchemaName: "public", TableName: "users", Name: "blob_data"}

	schema := &models.SchemaInfo{
		CatalogName: "crm",
		SchemaName:  "public",
		Tables: []models.TableInfo{
			{SchemaName: "public", Name: "users", Columns: []models.ColumnInfo{emailCol, ageCol, brokenCol}},
		},
	}
	results := []models.DetectionResult{
		{Column: ageCol, WinningType: models.PiiTypeUnknown},
		{Column: brokenCol, WinningType: models.PiiTypeUnknown},
		{Column: emailCol, HasPii: true, WinningType: models.PiiTypeEmail, Confidence: 0.95},
	}
	groups := []models.QuasiIdentifierGroup{
		{Columns: []models.ColumnRef{ageCol.Ref()}, RiskScore: 0.7, ClusteringMethod: "GRAPH"},
	}
	samples := map[models.ColumnRef]*models.SampleData{
		emailCol.Ref():  {Column: emailCol.Ref(), Status: models.SampleStatusOK},
		ageCol.Ref():    {Column: ageCol.Ref(), Status: models.SampleStatusOK},
		brokenCol.Ref(): {Column: brokenCol.Ref(), Status: models.SampleStatusFailed, Message: "type not sampleable"},
	}
	return job, desc, schema, results, groups, samples
}

func TestAssemble_Summary(t *testing.T) {
	job, desc, schema, results, groups, samples := fixture()

	r := Assemble(job, desc, schema, results, groups, samples)

	assert.Equal(t, job.ID, r.ScanID)
	assert.Equal(t, 1, r.Summary.TablesScanned)
	assert.Equal(t, 3, r.Summary.ColumnsScanned)
	assert.Equal(t, 1, r.Summary.PiiColumnsFound)
	assert.Equal(t, 1, r.Summary.QuasiIdentifierGroups)
	assert.Equal(t, 1, r.Summary.FailedColumns)

	assert.Equal(t, "postgres", r.DatabaseInfo.Driver)
	assert.Equal(t, job.StartedAt, r.StartedAt)
	assert.Equal(t, *job.CompletedAt, r.CompletedAt)
	assert.Equal(t, 90*time.Second, r.Duration)
}

func TestAssemble_Deterministic(t *testing.T) {
	job, desc, schema, results, groups, samples := fixture()

	a, err := json.Marshal(Assemble(job, desc, schema, results, groups, samples))
	require.NoError(t, err)
	b, err := json.Marshal(Assemble(job, desc, schema, results, groups, samples))
	require.NoError(t, err)
	assert.Equal(t, a, b, "same inputs must produce identical reports")
}

func TestAssemble_NeverContainsCredentials(t *testing.T) {
	job, desc, schema, results, groups, samples := fixture()
	desc.Username = "scanner"
	desc.Password = "should-not-appear"

	payload, err := json.Marshal(Assemble(job, desc, schema, results, groups, samples))
	require.NoError(t, err)

	body := string(payload)
	assert.False(t, strings.Contains(body, "should-not-appear"))
	assert.False(t, strings.Contains(body, "scanner"))
}

func TestAssemble_NilSchema(t *testing.T) {
	job, desc, _, results, groups, samples := fixture()

	r := Assemble(job, desc, nil, results, groups, samples)
	assert.Equal(t, 0, r.Summary.TablesScanned)
	assert.Equal(t, 3, r.Summary.ColumnsScanned)
}
