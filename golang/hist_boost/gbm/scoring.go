package gbm

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var ErrUnknownScoring = errors.New("unknown scoring")

//Scorer evaluates raw predictions against the target. Higher scores are better.
type Scorer func(y, rawPredictions mat.Matrix, loss Loss) (float64, error)

var scorers = map[string]Scorer{
	"neg_mean_squared_error": negMeanSquaredError,
	"r2":                     r2Score,
	"neg_log_loss":           negLogLoss,
	"accuracy":               accuracy,
}

//ScorerByName returns the scorer registered under name.
func ScorerByName(name string) (Scorer, error) {
	scorer, ok := scorers[name]
	if !ok {
		names := make([]string, 0, len(scorers))
		for known := range scorers {
			names = append(names, known)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("%w %q, accepted scorings are %v", ErrUnknownScoring, name, names)
	}
	return scorer, nil
}

func negMeanSquaredError(y, rawPredictions mat.Matrix, loss Loss) (float64, error) {
	var diff mat.Dense
	diff.Sub(loss.Predict(rawPredictions), y)
	h, w := diff.Dims()
	norm := mat.Norm(&diff, 2)
	return -norm * norm / float64(h*w), nil
}

//r2Score averages the coefficient of determination of every target column.
func r2Score(y, rawPredictions mat.Matrix, loss Loss) (float64, error) {
	prediction := loss.Predict(rawPredictions)
	h, w := y.Dims()
	estimates := make([]float64, h)
	values := make([]float64, h)
	scores := make([]float64, w)
	for q := 0; q < w; q++ {
		mat.Col(estimates, q, prediction)
		mat.Col(values, q, y)
		scores[q] = stat.RSquaredFrom(estimates, values, nil)
	}
	return stat.Mean(scores, nil), nil
}

//probabilityFloor keeps the log loss finite for confidently wrong predictions.
const probabilityFloor = 1e-15

func negLogLoss(y, rawPredictions mat.Matrix, loss Loss) (float64, error) {
	proba, err := loss.PredictProba(rawPredictions)
	if err != nil {
		return 0, err
	}
	h, _ := y.Dims()
	logLikelihood := make([]float64, h)
	for p := 0; p < h; p++ {
		logLikelihood[p] = math.Log(math.Max(proba.At(p, int(y.At(p, 0))), probabilityFloor))
	}
	return floats.Sum(logLikelihood) / float64(h), nil
}

func accuracy(y, rawPredictions mat.Matrix, loss Loss) (float64, error) {
	prediction := loss.Predict(rawPredictions)
	h, w := y.Dims()
	right := 0
	for p := 0; p < h; p++ {
		equal := true
		for q := 0; q < w && equal; q++ {
			equal = prediction.At(p, q) == y.At(p, q)
		}
		if equal {
			right++
		}
	}
	return float64(right) / float64(h), nil
}
