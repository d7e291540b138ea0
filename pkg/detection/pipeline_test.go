package detection

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/privsense/privsense/pkg/models"
)

// stubStrategy returns canned candidates and counts its invocations.
type stubStrategy struct {
	method     models.DetectionMethod
	candidates []models.PiiCandidate
	err        error
	calls      atomic.Int64
}

func (s *stubStrategy) Method() models.DetectionMethod { return s.method }

func (s *stubStrategy) Evaluate(_ context.Context, col models.ColumnInfo, _ *models.SampleData) ([]models.PiiCandidate, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	out := make([]models.PiiCandidate, len(s.candidates))
	for i, c := range s.candidates {
		c.Column = col.Ref()
		out[i] = c
	}
	return out, nil
}

func testConfig() models.DetectionConfig {
	cfg := models.DefaultDetectionConfig()
	cfg.MaxConcurrentColumns = 2
	return cfg
}

func detectOne(t *testing.T, strategies []Strategy, cfg models.DetectionConfig, sample *models.SampleData) models.DetectionResult {
	t.Helper()
	col := models.ColumnInfo{SchemaName: "public", TableName: "users", Name: "email_address"}
	pipeline := NewPipeline(strategies, zap.NewNop())
	results, err := pipeline.Detect(context.Background(), []models.ColumnInfo{col}, map[models.ColumnRef]*models.SampleData{col.Ref(): sample}, cfg, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	return results[0]
}

func TestPipeline_HeuristicShortCircuit(t *testing.T) {
	regexStub := &stubStrategy{method: models.DetectionMethodRegex}
	nerStub := &stubStrategy{method: models.DetectionMethodNER}
	strategies := []Strategy{NewHeuristicStrategy(), regexStub, nerStub}

	cfg := testConfig()
	cfg.StopPipelineOnHighConfidence = true

	result := detectOne(t, strategies, cfg, nil)

	assert.True(t, result.HasPii)
	assert.Equal(t, models.PiiTypeEmail, result.WinningType)
	assert.InDelta(t, 0.9, result.Confidence, 1e-9)
	assert.Equal(t, int64(0), regexStub.calls.Load(), "regex must not run after heuristic short-circuit")
	assert.Equal(t, int64(0), nerStub.calls.Load(), "ner must not run after heuristic short-circuit")
}

func TestPipeline_NoShortCircuitWhenDisabled(t *testing.T) {
	regexStub := &stubStrategy{method: models.DetectionMethodRegex}
	strategies := []Strategy{NewHeuristicStrategy(), regexStub}

	cfg := testConfig()
	cfg.StopPipelineOnHighConfidence = false

	detectOne(t, strategies, cfg, nil)
	assert.Equal(t, int64(1), regexStub.calls.Load(), "regex must run when short-circuit is disabled")
}

func TestPipeline_WinnerTieBreakByMethod(t *testing.T) {
	// Same confidence from two methods: regex outranks ner.
	nerStub := &stubStrategy{
		method:     models.DetectionMethodNER,
		candidates: []models.PiiCandidate{{PiiType: models.PiiTypeName, Confidence: 0.8, Method: models.DetectionMethodNER}},
	}
	regexStub := &stubStrategy{
		method:     models.DetectionMethodRegex,
		candidates: []models.PiiCandidate{{PiiType: models.PiiTypePhone, Confidence: 0.8, Method: models.DetectionMethodRegex}},
	}

	cfg := testConfig()
	cfg.StopPipelineOnHighConfidence = false

	result := detectOne(t, []Strategy{nerStub, regexStub}, cfg, nil)
	assert.Equal(t, models.PiiTypePhone, result.WinningType)
}

func TestPipeline_WinnerTieBreakAlphabetical(t *testing.T) {
	stub := &stubStrategy{
		method: models.DetectionMethodRegex,
		candidates: []models.PiiCandidate{
			{PiiType: models.PiiTypeSSN, Confidence: 0.8, Method: models.DetectionMethodRegex},
			{PiiType: models.PiiTypeEmail, Confidence: 0.8, Method: models.DetectionMethodRegex},
		},
	}

	result := detectOne(t, []Strategy{stub}, testConfig(), nil)
	assert.Equal(t, models.PiiTypeEmail, result.WinningType, "EMAIL sorts before SSN at equal confidence and method")
}

func TestPipeline_ReportingThreshold(t *testing.T) {
	stub := &stubStrategy{
		method:     models.DetectionMethodRegex,
		candidates: []models.PiiCandidate{{PiiType: models.PiiTypeEmail, Confidence: 0.4, Method: models.DetectionMethodRegex}},
	}

	cfg := testConfig()
	cfg.ReportingThreshold = 0.5

	result := detectOne(t, []Strategy{stub}, cfg, nil)
	assert.False(t, result.HasPii)
	assert.Equal(t, models.PiiTypeUnknown, result.WinningType)
	assert.Len(t, result.Candidates, 1, "candidates are kept even below the reporting threshold")
}

func TestPipeline_FailedSampleYieldsEmptyResult(t *testing.T) {
	stub := &stubStrategy{
		method:     models.DetectionMethodRegex,
		candidates: []models.PiiCandidate{{PiiType: models.PiiTypeEmail, Confidence: 0.9, Method: models.DetectionMethodRegex}},
	}

	failed := models.FailedSample(models.ColumnRef{Table: "users", Column: "email_address"}, "timeout")
	result := detectOne(t, []Strategy{stub}, testConfig(), failed)

	assert.False(t, result.HasPii)
	assert.Empty(t, result.Candidates)
	assert.Equal(t, int64(0), stub.calls.Load(), "strategies must not run on failed samples")
}

func TestPipeline_StrategyErrorIsolated(t *testing.T) {
	failing := &stubStrategy{method: models.DetectionMethodRegex, err: errors.New("boom")}
	healthy := &stubStrategy{
		method:     models.DetectionMethodNER,
		candidates: []models.PiiCandidate{{PiiType: models.PiiTypeName, Confidence: 0.7, Method: models.DetectionMethodNER}},
	}

	cfg := testConfig()
	result := detectOne(t, []Strategy{failing, healthy}, cfg, nil)

	assert.True(t, result.HasPii, "a failing strategy must not suppress later strategies")
	assert.Equal(t, models.PiiTypeName, result.WinningType)
}

func TestPipeline_EveryColumnGetsResult(t *testing.T) {
	stub := &stubStrategy{method: models.DetectionMethodRegex}
	pipeline := NewPipeline([]Strategy{stub}, zap.NewNop())

	columns := make([]models.ColumnInfo, 50)
	samples := make(map[models.ColumnRef]*models.SampleData)
	for i := range columns {
		columns[i] = models.ColumnInfo{TableName: "t", Name: string(rune('a' + i%26)) + string(rune('0'+i/26))}
	}
	// One column's sample failed during sampling.
	samples[columns[7].Ref()] = models.FailedSample(columns[7].Ref(), "boom")

	cfg := testConfig()
	results, err := pipeline.Detect(context.Background(), columns, samples, cfg, nil)
	require.NoError(t, err)
	assert.Len(t, results, 50)
}
