package sampler

import (
	"math"
	"testing"
)

func TestShannonEntropy_AllEqual(t *testing.T) {
	values := []any{"a", "a", "a", "a"}
	if got := ShannonEntropy(values); got != 0 {
		t.Errorf("expected entropy 0 for constant column, got %v", got)
	}
}

func TestShannonEntropy_Equiprobable(t *testing.T) {
	// k equiprobable distinct values over >= k rows has entropy log2 k.
	for _, k := range []int{2, 4, 8, 16} {
		values := make([]any, 0, k*3)
		for rep := 0; rep < 3; rep++ {
			for i := 0; i < k; i++ {
				values = append(values, i)
			}
		}
		got := ShannonEntropy(values)
		want := math.Log2(float64(k))
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("k=%d: expected entropy %v, got %v", k, want, got)
		}
	}
}

func TestShannonEntropy_EmptyAndSingleton(t *testing.T) {
	if got := ShannonEntropy(nil); got != 0 {
		t.Errorf("expected entropy 0 for empty sample, got %v", got)
	}
	if got := ShannonEntropy([]any{nil, nil}); got != 0 {
		t.Errorf("expected entropy 0 for all-null sample, got %v", got)
	}
	if got := ShannonEntropy([]any{"only"}); got != 0 {
		t.Errorf("expected entropy 0 for singleton sample, got %v", got)
	}
}

func TestShannonEntropy_IgnoresNulls(t *testing.T) {
	withNulls := []any{"a", nil, "b", nil, "a", "b"}
	withoutNulls := []any{"a", "b", "a", "b"}
	if got, want := ShannonEntropy(withNulls), ShannonEntropy(withoutNulls); got != want {
		t.Errorf("nulls changed entropy: got %v, want %v", got, want)
	}
}

func TestShannonEntropy_Rounding(t *testing.T) {
	// Skewed 3/1 split: H = 0.75*log2(4/3) + 0.25*2 = 0.8113 after rounding.
	values := []any{"x", "x", "x", "y"}
	if got := ShannonEntropy(values); got != 0.8113 {
		t.Errorf("expected 0.8113, got %v", got)
	}
}

func TestDistinctCount(t *testing.T) {
	values := []any{"a", "b", nil, "a", 1, 1}
	if got := DistinctCount(values); got != 3 {
		t.Errorf("expected 3 distinct non-null values, got %d", got)
	}
}
