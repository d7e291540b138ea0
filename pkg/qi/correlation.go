package qi

import (
	"fmt"
	"math"
	"strconv"
)

// pairedValues aligns two sample slices by index, dropping any pair
// where either side is null. Samples are drawn with the same query per
// job so index alignment is the best pairing available.
func pairedValues(a, b []any) ([]any, []any) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	outA := make([]any, 0, n)
	outB := make([]any, 0, n)
	for i := 0; i < n; i++ {
		if a[i] == nil || b[i] == nil {
			continue
		}
		outA = append(outA, a[i])
		outB = append(outB, b[i])
	}
	return outA, outB
}

// asNumbers converts values to float64 when every value parses as a
// number.
func asNumbers(values []any) ([]float64, bool) {
	out := make([]float64, len(values))
	for i, v := range values {
		switch x := v.(type) {
		case float64:
			out[i] = x
		case float32:
			out[i] = float64(x)
		case int:
			out[i] = float64(x)
		case int32:
			out[i] = float64(x)
		case int64:
			out[i] = float64(x)
		default:
			f, err := strconv.ParseFloat(fmt.Sprintf("%v", v), 64)
			if err != nil {
				return nil, false
			}
			out[i] = f
		}
	}
	return out, true
}

// pearson computes the Pearson correlation coefficient of two aligned
// numeric series. Returns 0 when either series is constant.
func pearson(x, y []float64) float64 {
	n := float64(len(x))
	if n < 2 {
		return 0
	}
	var sumX, sumY float64
	for i := range x {
		sumX += x[i]
		sumY += y[i]
	}
	meanX, meanY := sumX/n, sumY/n

	var cov, varX, varY float64
	for i := range x {
		dx, dy := x[i]-meanX, y[i]-meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0
	}
	return cov / math.Sqrt(varX*varY)
}

// cramersV computes Cramér's V from a contingency table over the string
// forms of two aligned series. Returns 0 for degenerate tables.
func cramersV(a, b []any) float64 {
	n := len(a)
	if n < 2 {
		return 0
	}

	rowIdx := make(map[string]int)
	colIdx := make(map[string]int)
	type cell struct{ r, c int }
	counts := make(map[cell]int)
	for i := 0; i < n; i++ {
		ra := fmt.Sprintf("%v", a[i])
		cb := fmt.Sprintf("%v", b[i])
		if _, ok := rowIdx[ra]; !ok {
			rowIdx[ra] = len(rowIdx)
		}
		if _, ok := colIdx[cb]; !ok {
			colIdx[cb] = len(colIdx)
		}
		counts[cell{rowIdx[ra], colIdx[cb]}]++
	}

	rows, cols := len(rowIdx), len(colIdx)
	if rows < 2 || cols < 2 {
		return 0
	}

	rowTotals := make([]float64, rows)
	colTotals := make([]float64, cols)
	for c, cnt := range counts {
		rowTotals[c.r] += float64(cnt)
		colTotals[c.c] += float64(cnt)
	}

	var chi2 float64
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			expected := rowTotals[r] * colTotals[c] / float64(n)
			if expected == 0 {
				continue
			}
			observed := float64(counts[cell{r, c}])
			d := observed - expected
			chi2 += d * d / expected
		}
	}

	minDim := rows - 1
	if cols-1 < minDim {
		minDim = cols - 1
	}
	return math.Sqrt(chi2 / (float64(n) * float64(minDim)))
}

// correlate returns the absolute correlation between two aligned
// series: Pearson when both sides are numeric, Cramér's V otherwise.
func correlate(a, b []any) float64 {
	pa, pb := pairedValues(a, b)
	if len(pa) < 2 {
		return 0
	}
	na, okA := asNumbers(pa)
	nb, okB := asNumbers(pb)
	if okA && okB {
		return math.Abs(pearson(na, nb))
	}
	return math.Abs(cramersV(pa, pb))
}
