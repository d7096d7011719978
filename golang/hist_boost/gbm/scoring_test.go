package gbm

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestScorers(t *testing.T) {
	tests := []struct {
		name   string
		loss   Loss
		y, raw *mat.Dense
		want   float64
	}{
		{"neg_mean_squared_error", LeastSquares{}, mat.NewDense(2, 1, []float64{1, 2}), mat.NewDense(2, 1, []float64{1, 4}), -2},
		{"r2", LeastSquares{}, mat.NewDense(3, 1, []float64{1, 2, 3}), mat.NewDense(3, 1, []float64{1, 2, 3}), 1},
		{"neg_log_loss", BinaryCrossEntropy{}, mat.NewDense(2, 1, []float64{0, 1}), mat.NewDense(2, 1, []float64{0, 0}), math.Log(0.5)},
		{"accuracy", BinaryCrossEntropy{}, mat.NewDense(4, 1, []float64{0, 1, 1, 0}), mat.NewDense(4, 1, []float64{-1, 2, -3, -4}), 0.75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scorer, err := ScorerByName(tt.name)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got, err := scorer(tt.y, tt.raw, tt.loss)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("got score %g, expected %g", got, tt.want)
			}
		})
	}
}

func TestNegLogLossIsFinite(t *testing.T) {
	y := mat.NewDense(1, 1, []float64{1})
	raw := mat.NewDense(1, 1, []float64{-1000})
	got, err := negLogLoss(y, raw, BinaryCrossEntropy{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.IsInf(got, 0) || math.IsNaN(got) {
		t.Errorf("log loss of a confidently wrong prediction should be finite, got %g", got)
	}
}

func TestUnknownScoring(t *testing.T) {
	if _, err := ScorerByName("auc"); !errors.Is(err, ErrUnknownScoring) {
		t.Errorf("expected ErrUnknownScoring, got %v", err)
	}
}
