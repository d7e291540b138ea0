package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/privsense/privsense/pkg/apperrors"
	"github.com/privsense/privsense/pkg/crypto"
	"github.com/privsense/privsense/pkg/detection"
	"github.com/privsense/privsense/pkg/dialect"
	"github.com/privsense/privsense/pkg/metadata"
	"github.com/privsense/privsense/pkg/models"
	"github.com/privsense/privsense/pkg/notify"
	"github.com/privsense/privsense/pkg/qi"
	"github.com/privsense/privsense/pkg/registry"
	"github.com/privsense/privsense/pkg/repositories"
	"github.com/privsense/privsense/pkg/sampler"
)

// fakeConn is an in-memory target database.
type fakeConn struct {
	mu      sync.Mutex
	tables  []models.TableInfo
	columns map[string][]models.ColumnInfo

	// sampleFn overrides sampling behavior per column.
	sampleFn func(col models.ColumnInfo) ([]any, error)
}

func (f *fakeConn) Ping(context.Context) error { return nil }

func (f *fakeConn) DiscoverTables(_ context.Context, filter []string) ([]models.TableInfo, error) {
	if len(filter) == 0 {
		return append([]models.TableInfo(nil), f.tables...), nil
	}
	allowed := make(map[string]bool, len(filter))
	for _, name := range filter {
		allowed[name] = true
	}
	var out []models.TableInfo
	for _, t := range f.tables {
		if allowed[t.Name] {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeConn) DiscoverColumns(_ context.Context, _, tableName string) ([]models.ColumnInfo, error) {
	return append([]models.ColumnInfo(nil), f.columns[tableName]...), nil
}

func (f *fakeConn) DiscoverRelationships(context.Context) ([]models.RelationshipInfo, error) {
	return nil, nil
}

func (f *fakeConn) SampleColumn(ctx context.Context, col models.ColumnInfo, _ models.SamplingMethod, _ int) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.sampleFn != nil {
		return f.sampleFn(col)
	}
	return []any{"v1", "v2", "v3"}, nil
}

func (f *fakeConn) CatalogName() string { return "fakedb" }
func (f *fakeConn) Close() error        { return nil }

var registerFakeDialect sync.Once

// testHarness wires an orchestrator over the fake dialect and the
// in-memory store.
type testHarness struct {
	orchestrator *Orchestrator
	store        *repositories.MemoryScanStore
	bus          *notify.Bus
	connectionID uuid.UUID
}

func newHarness(t *testing.T, conn *fakeConn, cfg Config) *testHarness {
	t.Helper()

	registerFakeDialect.Do(func() {
		dialect.Register("fake", func(context.Context, models.ConnectionDescriptor, dialect.PoolSettings, *zap.Logger) (dialect.Conn, error) {
			return currentFakeConn, nil
		})
	})
	currentFakeConn = conn

	encryptor, err := crypto.NewCredentialEncryptor("orchestrator-test-passphrase")
	require.NoError(t, err)

	logger := zap.NewNop()
	reg := registry.New(registry.Config{}, encryptor, logger)
	t.Cleanup(func() { reg.Close() })

	connID, err := reg.Register(context.Background(), models.ConnectionDescriptor{
		Name:     "target",
		Host:     "localhost",
		Port:     5432,
		Database: "fakedb",
		Driver:   "fake",
		Username: "u",
		Password: "p",
	})
	require.NoError(t, err)

	store := repositories.NewMemoryScanStore()
	bus := notify.NewBus(logger)

	strategies := []detection.Strategy{
		detection.NewHeuristicStrategy(),
		detection.NewRegexStrategy(),
	}
	o := New(
		reg,
		metadata.NewExtractor(logger),
		sampler.New(time.Second, logger),
		detection.NewPipeline(strategies, logger),
		qi.NewAnalyzer(logger),
		store,
		store,
		bus,
		nil,
		cfg,
		logger,
	)
	t.Cleanup(o.Stop)

	return &testHarness{orchestrator: o, store: store, bus: bus, connectionID: connID}
}

// currentFakeConn is what the fake dialect factory hands out. Tests run
// sequentially within the package, one harness at a time.
var currentFakeConn *fakeConn

func usersTableConn() *fakeConn {
	return &fakeConn{
		tables: []models.TableInfo{
			{SchemaName: "public", Name: "users", Kind: models.TableKindTable, RowCount: 100},
		},
		columns: map[string][]models.ColumnInfo{
			"users": {
				{SchemaName: "public", TableName: "users", Name: "id", TypeName: "int", IsPrimaryKey: true},
				{SchemaName: "public", TableName: "users", Name: "email_address", TypeName: "text"},
				{SchemaName: "public", TableName: "users", Name: "note", TypeName: "text"},
			},
		},
	}
}

func waitForStatus(t *testing.T, h *testHarness, jobID uuid.UUID, want models.ScanStatus, timeout time.Duration) models.ScanJob {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		job, err := h.orchestrator.Status(context.Background(), jobID)
		require.NoError(t, err)
		if job.Status == want {
			return job
		}
		if job.Status.IsTerminal() {
			t.Fatalf("job reached terminal %s (error %q) while waiting for %s", job.Status, job.ErrorMessage, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for status %s", want)
	return models.ScanJob{}
}

func waitForTerminal(t *testing.T, h *testHarness, jobID uuid.UUID, timeout time.Duration) models.ScanJob {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		job, err := h.orchestrator.Status(context.Background(), jobID)
		require.NoError(t, err)
		if job.Status.IsTerminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for terminal state")
	return models.ScanJob{}
}

func TestOrchestrator_CompletesScan(t *testing.T) {
	h := newHarness(t, usersTableConn(), Config{Workers: 1})

	jobID, err := h.orchestrator.Submit(context.Background(), Request{ConnectionID: h.connectionID})
	require.NoError(t, err)

	job := waitForTerminal(t, h, jobID, 5*time.Second)
	require.Equal(t, models.ScanStatusCompleted, job.Status)
	assert.Equal(t, 1, job.Counters.TablesDiscovered)
	assert.Equal(t, 3, job.Counters.TotalColumns)
	assert.Equal(t, 3, job.Counters.TotalColumnsScanned)
	assert.Equal(t, 1, job.Counters.PiiColumnsFound, "email_address should be flagged")

	report, err := h.orchestrator.Report(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, jobID, report.ScanID)
	assert.Len(t, report.DetectionResults, 3)
	assert.Equal(t, 1, report.Summary.PiiColumnsFound)
	assert.Equal(t, "fake", report.DatabaseInfo.Driver)

	// Results are ordered by (table, column) for reproducibility.
	names := make([]string, 0, 3)
	for _, r := range report.DetectionResults {
		names = append(names, r.Column.Name)
	}
	assert.Equal(t, []string{"email_address", "id", "note"}, names)
}

func TestOrchestrator_ReportIsByteStable(t *testing.T) {
	h := newHarness(t, usersTableConn(), Config{Workers: 1})

	jobID, err := h.orchestrator.Submit(context.Background(), Request{ConnectionID: h.connectionID})
	require.NoError(t, err)
	waitForTerminal(t, h, jobID, 5*time.Second)

	first, err := h.orchestrator.ReportJSON(context.Background(), jobID)
	require.NoError(t, err)
	second, err := h.orchestrator.ReportJSON(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestOrchestrator_FailureIsolation(t *testing.T) {
	conn := &fakeConn{
		tables:  []models.TableInfo{{SchemaName: "public", Name: "wide", Kind: models.TableKindTable}},
		columns: map[string][]models.ColumnInfo{"wide": {}},
	}
	for i := 0; i < 50; i++ {
		conn.columns["wide"] = append(conn.columns["wide"], models.ColumnInfo{
			SchemaName: "public", TableName: "wide", Name: fmt.Sprintf("col_%02d", i),
		})
	}
	conn.sampleFn = func(col models.ColumnInfo) ([]any, error) {
		if col.Name == "col_13" {
			return nil, errors.New("simulated query failure")
		}
		return []any{"a", "b", "c"}, nil
	}

	h := newHarness(t, conn, Config{Workers: 1})
	jobID, err := h.orchestrator.Submit(context.Background(), Request{ConnectionID: h.connectionID})
	require.NoError(t, err)

	job := waitForTerminal(t, h, jobID, 5*time.Second)
	require.Equal(t, models.ScanStatusCompleted, job.Status, "one bad column must not fail the job")

	report, err := h.orchestrator.Report(context.Background(), jobID)
	require.NoError(t, err)
	assert.Len(t, report.DetectionResults, 50)
	assert.Equal(t, 1, report.Summary.FailedColumns)

	for _, r := range report.DetectionResults {
		if r.Column.Name == "col_13" {
			assert.False(t, r.HasPii)
			assert.Empty(t, r.Candidates)
		}
	}
}

func TestOrchestrator_CancelMidSampling(t *testing.T) {
	release := make(chan struct{})
	var releaseOnce sync.Once

	conn := &fakeConn{
		tables:  []models.TableInfo{{SchemaName: "public", Name: "big", Kind: models.TableKindTable}},
		columns: map[string][]models.ColumnInfo{"big": {}},
	}
	for i := 0; i < 200; i++ {
		conn.columns["big"] = append(conn.columns["big"], models.ColumnInfo{
			SchemaName: "public", TableName: "big", Name: fmt.Sprintf("c_%03d", i),
		})
	}
	conn.sampleFn = func(models.ColumnInfo) ([]any, error) {
		<-release
		return []any{"x"}, nil
	}

	h := newHarness(t, conn, Config{Workers: 1, CancellationDeadline: 10 * time.Second})
	defer releaseOnce.Do(func() { close(release) })

	jobID, err := h.orchestrator.Submit(context.Background(), Request{ConnectionID: h.connectionID})
	require.NoError(t, err)

	waitForStatus(t, h, jobID, models.ScanStatusSampling, 5*time.Second)
	require.NoError(t, h.orchestrator.Cancel(context.Background(), jobID))
	releaseOnce.Do(func() { close(release) })

	job := waitForTerminal(t, h, jobID, 10*time.Second)
	assert.Equal(t, models.ScanStatusCancelled, job.Status)

	_, err = h.orchestrator.Report(context.Background(), jobID)
	assert.ErrorIs(t, err, apperrors.ErrNotCompleted, "cancelled jobs persist no report")
}

func TestOrchestrator_WatchdogForceFailsStuckCancellation(t *testing.T) {
	release := make(chan struct{})

	// Sampling ignores cancellation entirely, so the job can never reach
	// a cooperative checkpoint.
	conn := usersTableConn()
	conn.sampleFn = func(models.ColumnInfo) ([]any, error) {
		<-release
		return []any{"x"}, nil
	}

	h := newHarness(t, conn, Config{Workers: 1, CancellationDeadline: 150 * time.Millisecond})
	defer close(release)

	jobID, err := h.orchestrator.Submit(context.Background(), Request{ConnectionID: h.connectionID})
	require.NoError(t, err)

	waitForStatus(t, h, jobID, models.ScanStatusSampling, 5*time.Second)
	require.NoError(t, h.orchestrator.Cancel(context.Background(), jobID))

	job := waitForTerminal(t, h, jobID, 5*time.Second)
	assert.Equal(t, models.ScanStatusFailed, job.Status)
	assert.Equal(t, "cancellation exceeded deadline", job.ErrorMessage)

	_, err = h.orchestrator.Report(context.Background(), jobID)
	assert.ErrorIs(t, err, apperrors.ErrNotCompleted)
}

func TestOrchestrator_CancelTerminalJob(t *testing.T) {
	h := newHarness(t, usersTableConn(), Config{Workers: 1})

	jobID, err := h.orchestrator.Submit(context.Background(), Request{ConnectionID: h.connectionID})
	require.NoError(t, err)
	waitForTerminal(t, h, jobID, 5*time.Second)

	err = h.orchestrator.Cancel(context.Background(), jobID)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyTerminal)
}

func TestOrchestrator_UnknownConnectionRejected(t *testing.T) {
	h := newHarness(t, usersTableConn(), Config{Workers: 1})

	_, err := h.orchestrator.Submit(context.Background(), Request{ConnectionID: uuid.New()})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = h.orchestrator.Submit(context.Background(), Request{})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestOrchestrator_QueueBackpressure(t *testing.T) {
	block := make(chan struct{})
	conn := usersTableConn()
	conn.sampleFn = func(models.ColumnInfo) ([]any, error) {
		<-block
		return []any{"x"}, nil
	}

	h := newHarness(t, conn, Config{Workers: 1, MaxQueued: 1})
	defer close(block)

	// First job occupies the worker, second fills the queue slot that
	// the worker has not yet freed, so a burst of submissions must
	// eventually hit the limit.
	var sawExhausted bool
	for i := 0; i < 4; i++ {
		_, err := h.orchestrator.Submit(context.Background(), Request{ConnectionID: h.connectionID})
		if errors.Is(err, apperrors.ErrResourceExhausted) {
			sawExhausted = true
			break
		}
		require.NoError(t, err)
	}
	assert.True(t, sawExhausted, "expected a submission to be rejected with ResourceExhausted")
}

func TestOrchestrator_StatusNotFound(t *testing.T) {
	h := newHarness(t, usersTableConn(), Config{Workers: 1})
	_, err := h.orchestrator.Status(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestOrchestrator_ListFiltersByStatus(t *testing.T) {
	h := newHarness(t, usersTableConn(), Config{Workers: 1})

	jobID, err := h.orchestrator.Submit(context.Background(), Request{ConnectionID: h.connectionID})
	require.NoError(t, err)
	waitForTerminal(t, h, jobID, 5*time.Second)

	jobs, total, err := h.orchestrator.List(context.Background(), repositories.ScanFilter{
		Status: models.ScanStatusCompleted,
	}, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, jobs, 1)
	assert.Equal(t, jobID, jobs[0].ID)
}

func TestOrchestrator_EventsAreMonotonic(t *testing.T) {
	h := newHarness(t, usersTableConn(), Config{Workers: 1})
	events, unsubscribe := h.bus.Subscribe(64)
	defer unsubscribe()

	jobID, err := h.orchestrator.Submit(context.Background(), Request{ConnectionID: h.connectionID})
	require.NoError(t, err)
	waitForTerminal(t, h, jobID, 5*time.Second)

	expected := []models.ScanStatus{
		models.ScanStatusPending,
		models.ScanStatusExtractingMetadata,
		models.ScanStatusSampling,
		models.ScanStatusDetectingPii,
		models.ScanStatusGeneratingReport,
		models.ScanStatusCompleted,
	}
	var observed []models.ScanStatus
	timeout := time.After(2 * time.Second)
	for len(observed) == 0 || observed[len(observed)-1] != models.ScanStatusCompleted {
		select {
		case ev := <-events:
			if ev.JobID != jobID {
				continue
			}
			if len(observed) == 0 || observed[len(observed)-1] != ev.Status {
				observed = append(observed, ev.Status)
			}
		case <-timeout:
			t.Fatalf("timed out; observed %v", observed)
		}
	}
	assert.Equal(t, expected, observed)
}
