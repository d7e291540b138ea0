package detection

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/privsense/privsense/pkg/logging"
	"github.com/privsense/privsense/pkg/models"
)

// Pipeline chains detection strategies over the columns of a scan.
// Strategy order is fixed: heuristic first (metadata only, no I/O),
// then regex, then NER. When StopPipelineOnHighConfidence is set, a
// candidate meeting the emitting strategy's threshold stops the chain
// for that column.
type Pipeline struct {
	strategies []Strategy
	logger     *zap.Logger
}

// NewPipeline builds a pipeline over the given strategies, evaluated in
// order.
func NewPipeline(strategies []Strategy, logger *zap.Logger) *Pipeline {
	return &Pipeline{strategies: strategies, logger: logger.Named("detection")}
}

// Detect runs the pipeline over every column with bounded parallelism.
// Columns whose sample is FAILED or missing get an empty result. A
// strategy error on one column never affects another; the column keeps
// whatever candidates earlier strategies produced.
func (p *Pipeline) Detect(
	ctx context.Context,
	columns []models.ColumnInfo,
	samples map[models.ColumnRef]*models.SampleData,
	cfg models.DetectionConfig,
	onProgress func(completed, total int),
) ([]models.DetectionResult, error) {
	results := make([]models.DetectionResult, len(columns))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
	)
	sem := make(chan struct{}, cfg.MaxConcurrentColumns)

	for i, col := range columns {
		if ctx.Err() != nil {
			break
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(i int, col models.ColumnInfo) {
			defer wg.Done()
			defer func() { <-sem }()

			results[i] = p.detectColumn(ctx, col, samples[col.Ref()], cfg)

			mu.Lock()
			completed++
			done := completed
			mu.Unlock()
			if onProgress != nil {
				onProgress(done, len(columns))
			}
		}(i, col)
	}

	wg.Wait()
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

// detectColumn runs the strategy chain for one column and selects the
// winner.
func (p *Pipeline) detectColumn(ctx context.Context, col models.ColumnInfo, sample *models.SampleData, cfg models.DetectionConfig) models.DetectionResult {
	result := models.DetectionResult{
		Column:      col,
		WinningType: models.PiiTypeUnknown,
	}

	// A failed sample yields no determination at all; the column still
	// appears in the report with its failure recorded sample-side.
	if sample != nil && sample.Status == models.SampleStatusFailed {
		return result
	}

	for _, strategy := range p.strategies {
		if ctx.Err() != nil {
			break
		}

		candidates, err := strategy.Evaluate(ctx, col, sample)
		if err != nil {
			p.logger.Warn("strategy failed",
				zap.String("method", string(strategy.Method())),
				zap.String("column", col.Ref().String()),
				zap.String("error", logging.SanitizeError(err)))
			continue
		}
		result.Candidates = append(result.Candidates, candidates...)

		if cfg.StopPipelineOnHighConfidence && anyMeets(candidates, p.shortCircuitThreshold(strategy.Method(), cfg)) {
			break
		}
	}

	if winner, ok := selectWinner(result.Candidates); ok && winner.Confidence >= cfg.ReportingThreshold {
		result.HasPii = true
		result.WinningType = winner.PiiType
		result.Confidence = winner.Confidence
	}
	return result
}

// shortCircuitThreshold maps a method to its configured stop threshold.
func (p *Pipeline) shortCircuitThreshold(method models.DetectionMethod, cfg models.DetectionConfig) float64 {
	switch method {
	case models.DetectionMethodHeuristic:
		return cfg.HeuristicThreshold
	case models.DetectionMethodRegex:
		return cfg.RegexThreshold
	case models.DetectionMethodNER:
		return cfg.NerThreshold
	default:
		return 1.0
	}
}

func anyMeets(candidates []models.PiiCandidate, threshold float64) bool {
	for _, c := range candidates {
		if c.Confidence >= threshold {
			return true
		}
	}
	return false
}

// selectWinner picks the highest-confidence candidate. Ties break by
// method rank (regex, then heuristic, then NER), then by PII type in
// ascending lexicographic order, then by emission order.
func selectWinner(candidates []models.PiiCandidate) (models.PiiCandidate, bool) {
	if len(candidates) == 0 {
		return models.PiiCandidate{}, false
	}
	winner := candidates[0]
	for _, c := range candidates[1:] {
		if beats(c, winner) {
			winner = c
		}
	}
	return winner, true
}

func beats(a, b models.PiiCandidate) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.Method.Rank() != b.Method.Rank() {
		return a.Method.Rank() < b.Method.Rank()
	}
	// Earlier-emitted candidate wins an exact tie, so strict less-than.
	return a.PiiType < b.PiiType
}
