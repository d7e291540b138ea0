// Package qi groups correlated low-cardinality columns into
// quasi-identifier sets and scores their re-identification risk.
package qi

import (
	"math"
	"math/rand"
	"sort"

	"go.uber.org/zap"

	"github.com/privsense/privsense/pkg/models"
	"github.com/privsense/privsense/pkg/sampler"
)

// minEligibleEntropy excludes near-constant columns from analysis.
const minEligibleEntropy = 0.3

// Analyzer finds quasi-identifier groups among scan columns.
type Analyzer struct {
	logger *zap.Logger
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer(logger *zap.Logger) *Analyzer {
	return &Analyzer{logger: logger.Named("qi")}
}

// candidate is one eligible column with its precomputed statistics.
type candidate struct {
	resultIdx int
	ref       models.ColumnRef
	values    []any
	distinct  int
	entropy   float64
	totalRows int
}

// Analyze filters eligible columns, clusters them by pairwise
// correlation, and scores each group. Columns of emitted groups have
// their DetectionResult annotated in place. The seed fixes DBSCAN's
// visit order per job.
func (a *Analyzer) Analyze(
	results []models.DetectionResult,
	samples map[models.ColumnRef]*models.SampleData,
	cfg models.QuasiIdentifierConfig,
	seed int64,
) []models.QuasiIdentifierGroup {
	if !cfg.Enabled {
		return nil
	}

	candidates := a.eligible(results, samples, cfg)
	if len(candidates) < cfg.MinGroupSize {
		return nil
	}

	// Deterministic ordering for correlation ties and cluster output.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].ref.Table != candidates[j].ref.Table {
			return candidates[i].ref.Table < candidates[j].ref.Table
		}
		return candidates[i].ref.Column < candidates[j].ref.Column
	})

	n := len(candidates)
	corr := make([][]float64, n)
	for i := range corr {
		corr[i] = make([]float64, n)
		corr[i][i] = 1
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			c := correlate(candidates[i].values, candidates[j].values)
			corr[i][j], corr[j][i] = c, c
		}
	}

	var clusters [][]int
	switch cfg.Algorithm {
	case models.ClusteringAlgorithmDBSCAN:
		rng := rand.New(rand.NewSource(seed))
		eps := 1 - cfg.CorrelationThreshold
		clusters = clusterDBSCAN(n, corr, eps, cfg.MinGroupSize, cfg.MaxGroupSize, rng)
	default:
		clusters = clusterGraph(n, corr, cfg.CorrelationThreshold, cfg.MinGroupSize, cfg.MaxGroupSize)
	}

	var groups []models.QuasiIdentifierGroup
	for _, cluster := range clusters {
		sort.Ints(cluster)
		members := make([]*candidate, len(cluster))
		for i, idx := range cluster {
			members[i] = &candidates[idx]
		}

		risk := scoreGroup(members, cfg.KAnonymityThreshold)
		if risk < cfg.RiskThreshold {
			continue
		}

		refs := make([]models.ColumnRef, len(members))
		for i, m := range members {
			refs[i] = m.ref
		}
		groups = append(groups, models.QuasiIdentifierGroup{
			Columns:           refs,
			RiskScore:         risk,
			ClusteringMethod:  string(cfg.Algorithm),
			KAnonymity:        kAnonymity(members),
			NormalizedEntropy: normalizedEntropy(members),
		})

		for _, m := range members {
			r := &results[m.resultIdx]
			r.IsQuasiIdentifier = true
			r.QuasiIdentifierRiskScore = risk
			r.ClusteringMethod = string(cfg.Algorithm)
			r.CorrelatedColumns = otherColumns(refs, m.ref)
		}
	}

	a.logger.Debug("quasi-identifier analysis complete",
		zap.Int("eligible_columns", n),
		zap.Int("groups", len(groups)))
	return groups
}

// eligible applies the exclusion rules: PII winners, key columns,
// low-cardinality, near-unique, and near-constant columns all drop out.
func (a *Analyzer) eligible(
	results []models.DetectionResult,
	samples map[models.ColumnRef]*models.SampleData,
	cfg models.QuasiIdentifierConfig,
) []candidate {
	var out []candidate
	for i := range results {
		r := &results[i]
		if r.HasPii || r.Column.IsPrimaryKey || r.Column.IsForeignKey {
			continue
		}
		sample := samples[r.Column.Ref()]
		if sample == nil || sample.Status != models.SampleStatusOK {
			continue
		}

		nonNull := sample.NonNullValues()
		if len(nonNull) == 0 {
			continue
		}
		distinct := sampler.DistinctCount(sample.Values)
		if distinct < cfg.MinDistinctValues {
			continue
		}
		if float64(distinct)/float64(len(nonNull)) > cfg.MaxDistinctValueRatio {
			continue
		}
		entropy := sample.Entropy
		if !sample.HasEntropy {
			entropy = sampler.ShannonEntropy(sample.Values)
		}
		if entropy < minEligibleEntropy {
			continue
		}

		out = append(out, candidate{
			resultIdx: i,
			ref:       r.Column.Ref(),
			values:    sample.Values,
			distinct:  distinct,
			entropy:   entropy,
			totalRows: sample.TotalRows,
		})
	}
	return out
}

// kAnonymity estimates how many records share each combination of the
// group's values: rows sampled divided by the estimated distinct
// combination count, which is the product of per-column distinct counts
// capped at the sample size.
func kAnonymity(members []*candidate) float64 {
	rows := 0
	combos := 1.0
	for _, m := range members {
		if m.totalRows > rows {
			rows = m.totalRows
		}
		combos *= float64(m.distinct)
	}
	if combos > float64(rows) {
		combos = float64(rows)
	}
	if combos == 0 {
		return 0
	}
	return float64(rows) / combos
}

func normalizedEntropy(members []*candidate) float64 {
	rows := 0
	sum := 0.0
	for _, m := range members {
		if m.totalRows > rows {
			rows = m.totalRows
		}
		sum += m.entropy
	}
	if rows < 2 {
		return 0
	}
	e := (sum / float64(len(members))) / math.Log2(float64(rows))
	if e < 0 {
		return 0
	}
	if e > 1 {
		return 1
	}
	return e
}

// scoreGroup combines the k-anonymity factor and normalized entropy
// into the group risk score.
func scoreGroup(members []*candidate, kThreshold int) float64 {
	k := kAnonymity(members)
	kFactor := float64(kThreshold) / (k + 1)
	if kFactor > 1 {
		kFactor = 1
	}
	return 0.6*kFactor + 0.4*normalizedEntropy(members)
}

func otherColumns(all []models.ColumnRef, self models.ColumnRef) []models.ColumnRef {
	out := make([]models.ColumnRef, 0, len(all)-1)
	for _, ref := range all {
		if ref != self {
			out = append(out, ref)
		}
	}
	return out
}
