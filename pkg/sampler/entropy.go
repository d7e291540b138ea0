package sampler

import (
	"fmt"
	"math"
)

// ShannonEntropy computes H = -sum(p_i * log2 p_i) over the frequency
// distribution of non-null values, rounded to 4 decimal places.
// Empty and singleton-valued samples have entropy 0.
func ShannonEntropy(values []any) float64 {
	freq := make(map[string]int)
	total := 0
	for _, v := range values {
		if v == nil {
			continue
		}
		freq[fmt.Sprintf("%v", v)]++
		total++
	}
	if total == 0 || len(freq) <= 1 {
		return 0
	}

	h := 0.0
	for _, count := range freq {
		p := float64(count) / float64(total)
		h -= p * math.Log2(p)
	}
	return math.Round(h*10000) / 10000
}

// DistinctCount returns the number of distinct non-null values.
func DistinctCount(values []any) int {
	seen := make(map[string]struct{})
	for _, v := range values {
		if v == nil {
			continue
		}
		seen[fmt.Sprintf("%v", v)] = struct{}{}
	}
	return len(seen)
}
