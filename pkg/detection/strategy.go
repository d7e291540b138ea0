// Package detection implements the multi-strategy PII detection
// pipeline: heuristic metadata matching, value-pattern matching, and a
// remote named-entity recognizer, chained with confidence short-circuit.
package detection

import (
	"context"

	"github.com/privsense/privsense/pkg/models"
)

// Strategy evaluates one column against its sample and emits zero or
// more PII candidates. Strategies are stateless and safe for
// concurrent use; per-process state (the NER circuit breaker) is
// internally synchronized.
type Strategy interface {
	// Method identifies the strategy in emitted candidates.
	Method() models.DetectionMethod

	// Evaluate inspects the column and sample. A strategy-internal
	// fault yields an empty candidate list and an error the pipeline
	// logs and absorbs; it never aborts the column.
	Evaluate(ctx context.Context, col models.ColumnInfo, sample *models.SampleData) ([]models.PiiCandidate, error)
}
