package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/privsense/privsense/pkg/apperrors"
	"github.com/privsense/privsense/pkg/models"
	"github.com/privsense/privsense/pkg/retry"
)

// DefaultNerTimeout bounds a single NER service call.
const DefaultNerTimeout = 10 * time.Second

// DefaultNerMaxSamples caps how many sample values one request carries.
const DefaultNerMaxSamples = 50

// nerLabelMap translates service entity labels to PII types. Unknown
// labels are dropped.
var nerLabelMap = map[string]models.PiiType{
	"PER":          models.PiiTypeName,
	"PERSON":       models.PiiTypeName,
	"LOC":          models.PiiTypeLocation,
	"LOCATION":     models.PiiTypeLocation,
	"GPE":          models.PiiTypeLocation,
	"ORG":          models.PiiTypeOrganization,
	"ORGANIZATION": models.PiiTypeOrganization,
	"EMAIL":        models.PiiTypeEmail,
	"PHONE":        models.PiiTypePhone,
	"ADDRESS":      models.PiiTypeAddress,
	"SSN":          models.PiiTypeSSN,
	"CREDIT_CARD":  models.PiiTypeCreditCard,
	"DATE":         models.PiiTypeDateOfBirth,
	"PASSPORT":     models.PiiTypePassport,
	"NATIONAL_ID":  models.PiiTypeNationalID,
}

// NerStrategyConfig configures the remote NER strategy.
type NerStrategyConfig struct {
	BaseURL    string
	MaxSamples int
	Timeout    time.Duration
	Breaker    CircuitBreakerConfig
}

// NerStrategy calls an external named-entity recognition service over
// HTTP. The service is optional: until its health probe has succeeded
// at least once the strategy evaluates to no candidates. A circuit
// breaker guards the call path so a dead service costs one failed
// request per reset window, not one per column.
type NerStrategy struct {
	baseURL       string
	maxSamples    int
	client        *http.Client
	breaker       *CircuitBreaker
	probeInterval time.Duration
	logger        *zap.Logger

	mu        sync.Mutex
	healthy   bool
	probing   bool
	lastProbe time.Time
}

// NewNerStrategy creates the NER strategy. An empty base URL yields a
// permanently disabled strategy.
func NewNerStrategy(cfg NerStrategyConfig, logger *zap.Logger) *NerStrategy {
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = DefaultNerMaxSamples
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultNerTimeout
	}
	if cfg.Breaker.Threshold <= 0 {
		cfg.Breaker = DefaultCircuitBreakerConfig()
	}
	return &NerStrategy{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		maxSamples:    cfg.MaxSamples,
		client:        &http.Client{Timeout: cfg.Timeout},
		breaker:       NewCircuitBreaker(cfg.Breaker),
		probeInterval: cfg.Breaker.ResetAfter,
		logger:        logger.Named("ner"),
	}
}

// Method implements Strategy.
func (s *NerStrategy) Method() models.DetectionMethod {
	return models.DetectionMethodNER
}

type nerRequest struct {
	Samples []string `json:"samples"`
}

type nerEntity struct {
	Text  string  `json:"text"`
	Type  string  `json:"type"`
	Score float64 `json:"score"`
}

type nerResponse struct {
	Results [][]nerEntity `json:"results"`
}

type nerHealthResponse struct {
	Status string `json:"status"`
}

// Evaluate ships up to maxSamples non-null values to the service and
// aggregates entity hits per PII type. Confidence is the mean entity
// score scaled by coverage, the fraction of shipped samples containing
// at least one entity of that type.
func (s *NerStrategy) Evaluate(ctx context.Context, col models.ColumnInfo, sample *models.SampleData) ([]models.PiiCandidate, error) {
	if s.baseURL == "" || sample == nil {
		return nil, nil
	}
	if !s.ensureHealthy(ctx) {
		return nil, nil
	}

	samples := make([]string, 0, s.maxSamples)
	for _, v := range sample.Values {
		if v == nil {
			continue
		}
		samples = append(samples, fmt.Sprintf("%v", v))
		if len(samples) >= s.maxSamples {
			break
		}
	}
	if len(samples) == 0 {
		return nil, nil
	}

	if ok, err := s.breaker.Allow(); !ok {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrNerService, err)
	}

	resp, err := s.detect(ctx, samples)
	if err != nil {
		s.breaker.RecordFailure()
		return nil, fmt.Errorf("%w: %v", apperrors.ErrNerService, err)
	}
	s.breaker.RecordSuccess()

	type agg struct {
		scoreSum float64
		hits     int
		covered  int
	}
	byType := make(map[models.PiiType]*agg)
	for _, entities := range resp.Results {
		seen := make(map[models.PiiType]bool)
		for _, e := range entities {
			piiType, ok := nerLabelMap[strings.ToUpper(e.Type)]
			if !ok {
				continue
			}
			a := byType[piiType]
			if a == nil {
				a = &agg{}
				byType[piiType] = a
			}
			a.scoreSum += e.Score
			a.hits++
			if !seen[piiType] {
				a.covered++
				seen[piiType] = true
			}
		}
	}

	var candidates []models.PiiCandidate
	for piiType, a := range byType {
		if a.hits == 0 {
			continue
		}
		mean := a.scoreSum / float64(a.hits)
		coverage := float64(a.covered) / float64(len(samples))
		candidates = append(candidates, models.PiiCandidate{
			Column:     col.Ref(),
			PiiType:    piiType,
			Confidence: mean * coverage,
			Method:     models.DetectionMethodNER,
			Evidence:   fmt.Sprintf("%d entities across %d/%d samples", a.hits, a.covered, len(samples)),
		})
	}
	return candidates, nil
}

// nerPermanentError marks a failure that one more attempt cannot fix.
// It keeps the retry layer from pattern-matching on status-code digits.
type nerPermanentError struct {
	msg string
}

func (e *nerPermanentError) Error() string     { return e.msg }
func (e *nerPermanentError) IsRetryable() bool { return false }

// detect posts the samples with one retry on timeout or connection
// failure. Error responses from the service (any non-200 status),
// malformed payloads, and result-count mismatches are permanent: they
// are not retried and count against the breaker immediately.
func (s *NerStrategy) detect(ctx context.Context, samples []string) (*nerResponse, error) {
	body, err := json.Marshal(nerRequest{Samples: samples})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	var out *nerResponse
	err = retry.DoIfRetryable(ctx, retry.SingleRetryConfig(), func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/detect-pii", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		httpResp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer httpResp.Body.Close()

		if httpResp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, io.LimitReader(httpResp.Body, 4096))
			return &nerPermanentError{msg: fmt.Sprintf("ner service returned status %d", httpResp.StatusCode)}
		}

		var resp nerResponse
		if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
			return &nerPermanentError{msg: fmt.Sprintf("failed to decode response: %v", err)}
		}
		if len(resp.Results) != len(samples) {
			return &nerPermanentError{msg: fmt.Sprintf("ner service returned %d results for %d samples", len(resp.Results), len(samples))}
		}
		out = &resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ensureHealthy gates evaluation on the service's health probe. Success
// is cached for the strategy's lifetime; after a failed probe the
// service is considered down for probeInterval, so concurrent column
// evaluations skip the strategy instead of queueing behind HTTP probes.
// At most one probe is in flight at a time.
func (s *NerStrategy) ensureHealthy(ctx context.Context) bool {
	s.mu.Lock()
	if s.healthy {
		s.mu.Unlock()
		return true
	}
	if s.probing || time.Since(s.lastProbe) < s.probeInterval {
		s.mu.Unlock()
		return false
	}
	s.probing = true
	s.mu.Unlock()

	healthy := s.probe(ctx)

	s.mu.Lock()
	s.probing = false
	s.lastProbe = time.Now()
	s.healthy = healthy
	s.mu.Unlock()
	return healthy
}

func (s *NerStrategy) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/detect-pii/health", nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("ner health probe failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logger.Warn("ner health probe returned non-200", zap.Int("status", resp.StatusCode))
		return false
	}
	var health nerHealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil || health.Status != "ok" {
		s.logger.Warn("ner health probe returned unhealthy payload")
		return false
	}

	s.logger.Info("ner service healthy", zap.String("base_url", s.baseURL))
	return true
}
