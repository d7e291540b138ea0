package qi

import (
	"math"
	"testing"
)

func TestPearson_PerfectCorrelation(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5}
	y := []float64{2, 4, 6, 8, 10}
	if got := pearson(x, y); math.Abs(got-1) > 1e-9 {
		t.Errorf("expected r=1 for linear series, got %v", got)
	}

	inv := []float64{10, 8, 6, 4, 2}
	if got := pearson(x, inv); math.Abs(got+1) > 1e-9 {
		t.Errorf("expected r=-1 for inverse series, got %v", got)
	}
}

func TestPearson_ConstantSeries(t *testing.T) {
	x := []float64{1, 2, 3}
	y := []float64{5, 5, 5}
	if got := pearson(x, y); got != 0 {
		t.Errorf("expected r=0 against a constant series, got %v", got)
	}
}

func TestCramersV_PerfectAssociation(t *testing.T) {
	a := []any{"x", "x", "y", "y", "x", "y"}
	b := []any{"1", "1", "2", "2", "1", "2"}
	if got := cramersV(a, b); math.Abs(got-1) > 1e-9 {
		t.Errorf("expected V=1 for perfectly associated categories, got %v", got)
	}
}

func TestCramersV_DegenerateTable(t *testing.T) {
	a := []any{"x", "x", "x"}
	b := []any{"1", "2", "3"}
	if got := cramersV(a, b); got != 0 {
		t.Errorf("expected V=0 when one side is constant, got %v", got)
	}
}

func TestCorrelate_NumericPairsUsePearson(t *testing.T) {
	a := []any{1, 2, 3, 4, 5}
	b := []any{10, 20, 30, 40, 50}
	if got := correlate(a, b); math.Abs(got-1) > 1e-9 {
		t.Errorf("expected |r|=1, got %v", got)
	}
}

func TestCorrelate_DropsNullPairs(t *testing.T) {
	a := []any{1, nil, 3, 4, 5, 6}
	b := []any{2, 4, nil, 8, 10, 12}
	if got := correlate(a, b); math.Abs(got-1) > 1e-9 {
		t.Errorf("expected |r|=1 after dropping null pairs, got %v", got)
	}
}

func TestCorrelate_MixedTypesUseCramersV(t *testing.T) {
	a := []any{"red", "red", "blue", "blue"}
	b := []any{1, 1, 2, 2}
	if got := correlate(a, b); math.Abs(got-1) > 1e-9 {
		t.Errorf("expected V=1 for aligned category/number pair, got %v", got)
	}
}
