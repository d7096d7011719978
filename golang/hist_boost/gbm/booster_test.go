package gbm

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/tarstars/binned_boosting/golang/hist_boost/binning"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

//regressionData returns a smooth regression problem with three features.
func regressionData(rows int, seed int64) (x, y *mat.Dense) {
	rng := rand.New(rand.NewSource(seed))
	x = mat.NewDense(rows, 3, nil)
	y = mat.NewDense(rows, 1, nil)
	for p := 0; p < rows; p++ {
		x0 := rng.Float64()*6 - 3
		x1 := rng.NormFloat64()
		x2 := float64(rng.Intn(5))
		x.SetRow(p, []float64{x0, x1, x2})
		y.Set(p, 0, math.Sin(x0)+x1*x1+0.1*x2+0.05*rng.NormFloat64())
	}
	return
}

//classificationData labels samples by the interval of the first feature; the second one is noise.
func classificationData(rows, nClasses int, seed int64) (x, y *mat.Dense) {
	rng := rand.New(rand.NewSource(seed))
	x = mat.NewDense(rows, 2, nil)
	y = mat.NewDense(rows, 1, nil)
	for p := 0; p < rows; p++ {
		x0 := rng.Float64() * float64(nClasses)
		x.SetRow(p, []float64{x0, rng.NormFloat64()})
		y.Set(p, 0, math.Floor(x0))
	}
	return
}

func readJSON(t *testing.T, filename string, v any) {
	t.Helper()
	data, err := os.ReadFile(filename)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func fit(t *testing.T, x, y *mat.Dense, params BoosterParams) *Booster {
	t.Helper()
	booster, err := Fit(x, y, params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return booster
}

func fitRegression(t *testing.T) (*Booster, *mat.Dense) {
	t.Helper()
	x, y := regressionData(1000, 0)
	params := DefaultBoosterParams()
	params.MaxIter = 30
	params.ValidationSplit = 0
	params.MaxNoImprovement = 100
	return fit(t, x, y, params), x
}

func meanSquaredError(a, b mat.Matrix) float64 {
	var diff mat.Dense
	diff.Sub(a, b)
	h, w := diff.Dims()
	norm := mat.Norm(&diff, 2)
	return norm * norm / float64(h*w)
}

func TestFitRegression(t *testing.T) {
	x, y := regressionData(1000, 0)
	booster, _ := fitRegression(t)

	if booster.NIter != 30 || len(booster.Trees) != 30 {
		t.Fatalf("got %d iterations and %d trees, expected 30 of both", booster.NIter, len(booster.Trees))
	}
	if len(booster.LearningCurves) != 31 {
		t.Fatalf("got %d scorings, expected one before every iteration and one at the end", len(booster.LearningCurves))
	}
	for ind := 1; ind < len(booster.LearningCurves); ind++ {
		prev, cur := booster.LearningCurves[ind-1][0], booster.LearningCurves[ind][0]
		if cur < prev-1e-12*math.Abs(prev) {
			t.Errorf("training score decreased at iteration %d: %g -> %g", ind, prev, cur)
		}
	}

	initial := -booster.LearningCurves[0][0]
	if want := meanSquaredError(y, mat.NewDense(1000, 1, nil)); math.Abs(initial-want) > 1e-9*want {
		t.Errorf("the first score should be taken at zero predictions: got %g, expected %g", initial, want)
	}
	prediction, err := booster.Predict(x)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mse := meanSquaredError(y, prediction); mse > initial/4 {
		t.Errorf("the model did not learn: mse %g, initial %g", mse, initial)
	}
	if final := -booster.LearningCurves[30][0]; math.Abs(final-meanSquaredError(y, prediction)) > 1e-9 {
		t.Errorf("the last training score %g does not match the predictions", final)
	}
}

func TestRawPredictMatchesBinnedPrediction(t *testing.T) {
	booster, x := fitRegression(t)
	binned, err := binning.MapToBins(x, booster.BinThresholds, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	raw, err := booster.RawPredict(x)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rawBinned, err := booster.RawPredictBinned(binned)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(raw.RawMatrix().Data, rawBinned.RawMatrix().Data, approx); diff != "" {
		t.Errorf("raw and binned predictions mismatch (-raw +binned):\n%s", diff)
	}
}

func TestRawPredictLimit(t *testing.T) {
	booster, x := fitRegression(t)
	first, err := booster.RawPredictLimit(x, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(booster.Trees[0].Predict(x), first.RawMatrix().Data); diff != "" {
		t.Errorf("the first iteration mismatch (-tree +limited):\n%s", diff)
	}
	all, _ := booster.RawPredict(x)
	beyond, _ := booster.RawPredictLimit(x, 1000)
	if !mat.Equal(all, beyond) {
		t.Errorf("a limit beyond the number of iterations should use every tree")
	}
	if _, err := booster.RawPredict(mat.NewDense(3, 2, nil)); !errors.Is(err, ErrFeatureMismatch) {
		t.Errorf("expected ErrFeatureMismatch, got %v", err)
	}
	if _, err := booster.PredictProba(x); !errors.Is(err, ErrNoProbabilities) {
		t.Errorf("expected ErrNoProbabilities, got %v", err)
	}
}

func TestLearningCurve(t *testing.T) {
	booster, x := fitRegression(t)
	_, y := regressionData(1000, 0)

	curve, err := booster.LearningCurve(x, y, "neg_mean_squared_error")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(curve) != booster.NIter {
		t.Fatalf("got %d scores, expected one per iteration", len(curve))
	}
	want := booster.LearningCurves[1:]
	for ind := range curve {
		if math.Abs(curve[ind]-want[ind][0]) > 1e-9 {
			t.Errorf("score after iteration %d is %g, recorded while fitting %g", ind+1, curve[ind], want[ind][0])
		}
	}
	if _, err := booster.LearningCurve(x, mat.NewDense(10, 1, nil), "r2"); !errors.Is(err, ErrInconsistentRows) {
		t.Errorf("expected ErrInconsistentRows, got %v", err)
	}
	if _, err := booster.LearningCurve(x, y, "auc"); !errors.Is(err, ErrUnknownScoring) {
		t.Errorf("expected ErrUnknownScoring, got %v", err)
	}
}

func TestFitMultiOutputRegression(t *testing.T) {
	x, y := regressionData(500, 5)
	targets := mat.NewDense(500, 2, nil)
	for p := 0; p < 500; p++ {
		targets.Set(p, 0, y.At(p, 0))
		targets.Set(p, 1, -y.At(p, 0))
	}
	params := DefaultBoosterParams()
	params.MaxIter = 10
	booster := fit(t, x, targets, params)

	if booster.NTreesPerIteration != 2 || len(booster.Trees) != 2*booster.NIter {
		t.Fatalf("got %d trees per iteration and %d trees for %d iterations", booster.NTreesPerIteration, len(booster.Trees), booster.NIter)
	}
	for ind, tree := range booster.Trees {
		if tree.Output != ind%2 || tree.Iteration != ind/2 {
			t.Errorf("tree %d grows output %d of iteration %d", ind, tree.Output, tree.Iteration)
		}
	}
	raw, err := booster.RawPredict(x)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for p := 0; p < 500; p++ {
		if raw.At(p, 0) != -raw.At(p, 1) {
			t.Fatalf("outputs of sample %d are not symmetric: %g and %g", p, raw.At(p, 0), raw.At(p, 1))
		}
	}
}

func TestFitBinaryClassification(t *testing.T) {
	x, y := classificationData(500, 2, 6)
	params := DefaultBoosterParams()
	params.Loss = "binary_crossentropy"
	params.Scoring = "accuracy"
	params.ValidationSplit = 0.2
	params.MaxIter = 20
	booster := fit(t, x, y, params)

	if diff := cmp.Diff([]string{"train", "validation"}, booster.LearningCurveTitles); diff != "" {
		t.Errorf("titles mismatch (-want +got):\n%s", diff)
	}
	classes, err := booster.Predict(x)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	score, _ := accuracy(y, classes, LeastSquares{})
	if score < 0.95 {
		t.Errorf("got accuracy %g, expected at least 0.95", score)
	}
	proba, err := booster.PredictProba(x)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, w := proba.Dims(); w != 2 {
		t.Fatalf("got %d probability columns, expected 2", w)
	}
	for p := 0; p < 500; p++ {
		if (proba.At(p, 1) > 0.5) != (classes.At(p, 0) == 1) {
			t.Fatalf("probabilities and class of sample %d disagree", p)
		}
	}
}

func TestFitCategoricalClassification(t *testing.T) {
	x, y := classificationData(600, 3, 7)
	params := DefaultBoosterParams()
	params.Loss = "categorical_crossentropy"
	params.Scoring = "neg_log_loss"
	params.ValidationSplit = 0
	params.MaxIter = 20
	booster := fit(t, x, y, params)

	if booster.NTreesPerIteration != 3 {
		t.Fatalf("got %d trees per iteration, expected 3", booster.NTreesPerIteration)
	}
	classes, err := booster.Predict(x)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score, _ := accuracy(y, classes, LeastSquares{}); score < 0.95 {
		t.Errorf("got accuracy %g, expected at least 0.95", score)
	}
	proba, err := booster.PredictProba(x)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for p := 0; p < 600; p++ {
		if rowSum := floats.Sum(proba.RawRowView(p)); math.Abs(rowSum-1) > 1e-9 {
			t.Fatalf("probabilities of sample %d sum to %g", p, rowSum)
		}
	}
}

func TestEarlyStoppingOnConstantTarget(t *testing.T) {
	x, _ := regressionData(100, 8)
	y := mat.NewDense(100, 1, nil)
	for p := 0; p < 100; p++ {
		y.Set(p, 0, 5)
	}
	params := DefaultBoosterParams()
	params.ValidationSplit = 0
	params.MaxNoImprovement = 3
	params.MaxIter = 50
	booster := fit(t, x, y, params)

	if booster.NIter != 3 {
		t.Errorf("got %d iterations, expected the model to stop after 3", booster.NIter)
	}
	want := [][]float64{{-25}, {0}, {0}, {0}}
	if diff := cmp.Diff(want, booster.LearningCurves, approx); diff != "" {
		t.Errorf("learning curves mismatch (-want +got):\n%s", diff)
	}
	for _, tree := range booster.Trees {
		if tree.NLeafNodes() != 1 {
			t.Errorf("a constant target should not be split, got %d leaves", tree.NLeafNodes())
		}
	}

	params.Scoring = ""
	params.MaxIter = 5
	booster = fit(t, x, y, params)
	if booster.NIter != 5 || booster.LearningCurves != nil {
		t.Errorf("without scoring the model should run %d iterations without curves, got %d", 5, booster.NIter)
	}
}

func TestFitIsDeterministicAcrossThreads(t *testing.T) {
	x, y := regressionData(400, 9)
	params := DefaultBoosterParams()
	params.MaxIter = 10
	single := fit(t, x, y, params)
	params.ThreadsNum = 4
	parallel := fit(t, x, y, params)
	if diff := cmp.Diff(single, parallel, cmpopts.IgnoreUnexported(Booster{})); diff != "" {
		t.Errorf("models mismatch (-single +parallel):\n%s", diff)
	}
}

func TestFitRejectsBadInput(t *testing.T) {
	params := DefaultBoosterParams()
	if _, err := Fit(&mat.Dense{}, &mat.Dense{}, params); !errors.Is(err, ErrEmptyDataset) {
		t.Errorf("expected ErrEmptyDataset, got %v", err)
	}
	if _, err := Fit(mat.NewDense(10, 2, nil), mat.NewDense(9, 1, nil), params); !errors.Is(err, ErrInconsistentRows) {
		t.Errorf("expected ErrInconsistentRows, got %v", err)
	}
	params.Loss = "binary_crossentropy"
	params.Scoring = "accuracy"
	if _, err := Fit(mat.NewDense(10, 2, nil), mat.NewDense(10, 1, []float64{0, 1, 2, 0, 1, 2, 0, 1, 2, 0}), params); !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("expected ErrInvalidTarget, got %v", err)
	}
}

func TestParamsValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(params *BoosterParams)
	}{
		{"unknown loss", func(params *BoosterParams) { params.Loss = "huber" }},
		{"zero learning rate", func(params *BoosterParams) { params.LearningRate = 0 }},
		{"large learning rate", func(params *BoosterParams) { params.LearningRate = 1.5 }},
		{"zero iterations", func(params *BoosterParams) { params.MaxIter = 0 }},
		{"zero patience", func(params *BoosterParams) { params.MaxNoImprovement = 0 }},
		{"full validation", func(params *BoosterParams) { params.ValidationSplit = 1 }},
		{"zero tolerance", func(params *BoosterParams) { params.Tol = 0 }},
		{"one bin", func(params *BoosterParams) { params.MaxBins = 1 }},
		{"too many bins", func(params *BoosterParams) { params.MaxBins = 257 }},
		{"unknown scoring", func(params *BoosterParams) { params.Scoring = "auc" }},
		{"log loss for regression", func(params *BoosterParams) { params.Scoring = "neg_log_loss" }},
		{"one leaf", func(params *BoosterParams) { params.MaxLeafNodes = 1 }},
		{"negative depth", func(params *BoosterParams) { params.MaxDepth = -1 }},
		{"empty leaves", func(params *BoosterParams) { params.MinSamplesLeaf = 0 }},
		{"negative regularization", func(params *BoosterParams) { params.L2Regularization = -1 }},
		{"no threads", func(params *BoosterParams) { params.ThreadsNum = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := DefaultBoosterParams()
			tt.modify(&params)
			if err := params.Validate(); !errors.Is(err, ErrInvalidParams) {
				t.Errorf("expected ErrInvalidParams, got %v", err)
			}
		})
	}
	if err := DefaultBoosterParams().Validate(); err != nil {
		t.Errorf("default parameters should be valid, got %v", err)
	}
}

func TestDumpLearningCurves(t *testing.T) {
	booster, _ := fitRegression(t)
	filename := filepath.Join(t.TempDir(), "curves.json")
	if err := booster.DumpLearningCurves(filename); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var dump LearningCurvesDump
	readJSON(t, filename, &dump)
	want := LearningCurvesDump{Titles: booster.LearningCurveTitles, Values: booster.LearningCurves}
	if diff := cmp.Diff(want, dump); diff != "" {
		t.Errorf("learning curves mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderTrees(t *testing.T) {
	x, y := regressionData(200, 10)
	params := DefaultBoosterParams()
	params.MaxIter = 3
	params.Scoring = ""
	booster := fit(t, x, y, params)

	dir := t.TempDir()
	if err := booster.RenderTrees("tree", "svg", dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for ind := range booster.Trees {
		if _, err := os.Stat(filepath.Join(dir, fmt.Sprintf("tree_%05d.svg", ind))); err != nil {
			t.Errorf("tree %d was not rendered: %v", ind, err)
		}
	}
	if err := booster.RenderTrees("tree", "bmp", dir); err == nil {
		t.Errorf("an unknown figure type should be rejected")
	}
}
