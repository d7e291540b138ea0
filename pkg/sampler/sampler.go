// Package sampler draws representative values from target columns with
// bounded parallelism.
package sampler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/privsense/privsense/pkg/dialect"
	"github.com/privsense/privsense/pkg/logging"
	"github.com/privsense/privsense/pkg/models"
)

// DefaultQueryTimeout bounds a single sampling query when no timeout is
// configured. Each column task is hard-cancelled at twice this value.
const DefaultQueryTimeout = 30 * time.Second

// Sampler runs per-column sampling queries against one target
// connection. At most MaxConcurrentQueries column tasks run at once per
// call; the limit is per job, not global.
type Sampler struct {
	queryTimeout time.Duration
	logger       *zap.Logger
}

// New creates a sampler.
func New(queryTimeout time.Duration, logger *zap.Logger) *Sampler {
	if queryTimeout <= 0 {
		queryTimeout = DefaultQueryTimeout
	}
	return &Sampler{queryTimeout: queryTimeout, logger: logger.Named("sampler")}
}

// Sample draws up to cfg.SampleSize values from every requested column.
// A failed column records a FAILED entry instead of aborting the batch;
// the returned map always holds an entry per requested column that was
// attempted. Returns ctx.Err() when cancelled mid-batch, along with the
// results gathered so far.
func (s *Sampler) Sample(
	ctx context.Context,
	conn dialect.Conn,
	columns []models.ColumnInfo,
	cfg models.SamplingConfig,
	onProgress func(completed, total int),
) (map[models.ColumnRef]*models.SampleData, error) {
	results := make(map[models.ColumnRef]*models.SampleData, len(columns))
	if len(columns) == 0 {
		return results, nil
	}

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		completed int
	)
	sem := make(chan struct{}, cfg.MaxConcurrentQueries)

	for _, col := range columns {
		// Cooperative cancellation checkpoint between columns.
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
		go func(col models.ColumnInfo) {
			defer wg.Done()
			defer func() { <-sem }()

			data := s.sampleColumn(ctx, conn, col, cfg)

			mu.Lock()
			results[col.Ref()] = data
			completed++
			done := completed
			mu.Unlock()

			if onProgress != nil {
				onProgress(done, len(columns))
			}
		}(col)
	}

	wg.Wait()
	return results, ctx.Err()
}

// sampleColumn runs one column's sampling query under a hard timeout of
// twice the configured query timeout.
func (s *Sampler) sampleColumn(ctx context.Context, conn dialect.Conn, col models.ColumnInfo, cfg models.SamplingConfig) *models.SampleData {
	taskCtx, cancel := context.WithTimeout(ctx, 2*s.queryTimeout)
	defer cancel()

	values, err := conn.SampleColumn(taskCtx, col, cfg.Method, cfg.SampleSize)
	if err != nil {
		s.logger.Warn("column sampling failed",
			zap.String("column", col.Ref().String()),
			zap.String("error", logging.SanitizeError(err)))
		return models.FailedSample(col.Ref(), logging.SanitizeError(err))
	}

	nulls := 0
	for _, v := range values {
		if v == nil {
			nulls++
		}
	}

	data := &models.SampleData{
		Column:    col.Ref(),
		Values:    values,
		NullCount: nulls,
		TotalRows: len(values),
		Status:    models.SampleStatusOK,
	}
	if cfg.EntropyCalculation {
		data.Entropy = ShannonEntropy(values)
		data.HasEntropy = true
	}
	return data
}
