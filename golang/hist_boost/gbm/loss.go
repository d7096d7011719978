package gbm

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrUnknownLoss      = errors.New("unknown loss")
	ErrNoProbabilities  = errors.New("the loss does not model probabilities")
	ErrInvalidTarget    = errors.New("invalid target")
	ErrEmptyDataset     = errors.New("empty dataset")
	ErrFeatureMismatch  = errors.New("number of features does not match the model")
	ErrInconsistentRows = errors.New("features and target have different numbers of rows")
)

//Loss drives the boosting loop: it tells how many trees one round grows and computes their
//gradients and hessians from the raw predictions. Raw predictions hold one column per tree of
//a round; gradients and hessians hold one slice per tree of a round.
type Loss interface {
	Name() string
	NTreesPerIteration(y mat.Matrix) (int, error)
	InitGradientsAndHessians(nSamples, nTrees int) (gradients, hessians [][]float64)
	UpdateGradientsAndHessians(gradients, hessians [][]float64, y, rawPredictions mat.Matrix)
	Predict(rawPredictions mat.Matrix) *mat.Dense
	PredictProba(rawPredictions mat.Matrix) (*mat.Dense, error)
}

//LossByName returns the loss registered under name.
func LossByName(name string) (Loss, error) {
	switch name {
	case "least_squares":
		return LeastSquares{}, nil
	case "binary_crossentropy":
		return BinaryCrossEntropy{}, nil
	case "categorical_crossentropy":
		return CategoricalCrossEntropy{}, nil
	}
	return nil, fmt.Errorf("%w %q, accepted losses are least_squares, binary_crossentropy, categorical_crossentropy", ErrUnknownLoss, name)
}

//isClassification tells whether the loss models class probabilities.
func isClassification(loss Loss) bool {
	_, regression := loss.(LeastSquares)
	return !regression
}

func allocateGradients(nSamples, nTrees int, hessian float64) (gradients, hessians [][]float64) {
	gradients = make([][]float64, nTrees)
	hessians = make([][]float64, nTrees)
	for k := 0; k < nTrees; k++ {
		gradients[k] = make([]float64, nSamples)
		hessians[k] = make([]float64, nSamples)
		if hessian != 0 {
			floats.AddConst(hessian, hessians[k])
		}
	}
	return
}

//LeastSquares is the halved squared error. Every target column gets its own tree per round.
type LeastSquares struct{}

func (LeastSquares) Name() string { return "least_squares" }

func (LeastSquares) NTreesPerIteration(y mat.Matrix) (int, error) {
	_, w := y.Dims()
	if w < 1 {
		return 0, fmt.Errorf("%w: the target has no columns", ErrInvalidTarget)
	}
	return w, nil
}

func (LeastSquares) InitGradientsAndHessians(nSamples, nTrees int) (gradients, hessians [][]float64) {
	return allocateGradients(nSamples, nTrees, 1)
}

//UpdateGradientsAndHessians leaves hessians untouched, they are constant.
func (LeastSquares) UpdateGradientsAndHessians(gradients, _ [][]float64, y, rawPredictions mat.Matrix) {
	for k, gradient := range gradients {
		for p := range gradient {
			gradient[p] = rawPredictions.At(p, k) - y.At(p, k)
		}
	}
}

func (LeastSquares) Predict(rawPredictions mat.Matrix) *mat.Dense {
	return mat.DenseCopyOf(rawPredictions)
}

func (LeastSquares) PredictProba(mat.Matrix) (*mat.Dense, error) {
	return nil, fmt.Errorf("%w: least_squares", ErrNoProbabilities)
}

func expit(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

//checkLabels verifies that y is a single column of integer labels in [0, nClasses) and
//returns the number of classes found.
func checkLabels(y mat.Matrix) (int, error) {
	h, w := y.Dims()
	if w != 1 {
		return 0, fmt.Errorf("%w: class labels should form one column, got %d", ErrInvalidTarget, w)
	}
	nClasses := 0
	for p := 0; p < h; p++ {
		label := y.At(p, 0)
		if label < 0 || label != math.Trunc(label) {
			return 0, fmt.Errorf("%w: label %g of sample %d is not a class index", ErrInvalidTarget, label, p)
		}
		if int(label)+1 > nClasses {
			nClasses = int(label) + 1
		}
	}
	return nClasses, nil
}

//BinaryCrossEntropy is the logistic loss for 0/1 labels. Raw predictions are log-odds.
type BinaryCrossEntropy struct{}

func (BinaryCrossEntropy) Name() string { return "binary_crossentropy" }

func (BinaryCrossEntropy) NTreesPerIteration(y mat.Matrix) (int, error) {
	nClasses, err := checkLabels(y)
	if err != nil {
		return 0, err
	}
	if nClasses > 2 {
		return 0, fmt.Errorf("%w: binary_crossentropy got %d classes, use categorical_crossentropy", ErrInvalidTarget, nClasses)
	}
	return 1, nil
}

func (BinaryCrossEntropy) InitGradientsAndHessians(nSamples, nTrees int) (gradients, hessians [][]float64) {
	return allocateGradients(nSamples, nTrees, 0)
}

func (BinaryCrossEntropy) UpdateGradientsAndHessians(gradients, hessians [][]float64, y, rawPredictions mat.Matrix) {
	for p := range gradients[0] {
		proba := expit(rawPredictions.At(p, 0))
		gradients[0][p] = proba - y.At(p, 0)
		hessians[0][p] = proba * (1 - proba)
	}
}

func (BinaryCrossEntropy) Predict(rawPredictions mat.Matrix) *mat.Dense {
	h, _ := rawPredictions.Dims()
	classes := mat.NewDense(h, 1, nil)
	for p := 0; p < h; p++ {
		if rawPredictions.At(p, 0) > 0 {
			classes.Set(p, 0, 1)
		}
	}
	return classes
}

//PredictProba returns the probabilities of classes 0 and 1.
func (BinaryCrossEntropy) PredictProba(rawPredictions mat.Matrix) (*mat.Dense, error) {
	h, _ := rawPredictions.Dims()
	proba := mat.NewDense(h, 2, nil)
	for p := 0; p < h; p++ {
		positive := expit(rawPredictions.At(p, 0))
		proba.Set(p, 0, 1-positive)
		proba.Set(p, 1, positive)
	}
	return proba, nil
}

//CategoricalCrossEntropy is the softmax loss. Every class gets its own tree per round.
type CategoricalCrossEntropy struct{}

func (CategoricalCrossEntropy) Name() string { return "categorical_crossentropy" }

func (CategoricalCrossEntropy) NTreesPerIteration(y mat.Matrix) (int, error) {
	nClasses, err := checkLabels(y)
	if err != nil {
		return 0, err
	}
	if nClasses < 2 {
		return 0, fmt.Errorf("%w: categorical_crossentropy needs at least 2 classes, got %d", ErrInvalidTarget, nClasses)
	}
	return nClasses, nil
}

func (CategoricalCrossEntropy) InitGradientsAndHessians(nSamples, nTrees int) (gradients, hessians [][]float64) {
	return allocateGradients(nSamples, nTrees, 0)
}

//softmaxRow writes the class probabilities of sample p into proba.
func softmaxRow(rawPredictions mat.Matrix, p int, proba []float64) {
	for k := range proba {
		proba[k] = rawPredictions.At(p, k)
	}
	logNorm := floats.LogSumExp(proba)
	for k := range proba {
		proba[k] = math.Exp(proba[k] - logNorm)
	}
}

func (CategoricalCrossEntropy) UpdateGradientsAndHessians(gradients, hessians [][]float64, y, rawPredictions mat.Matrix) {
	proba := make([]float64, len(gradients))
	for p := range gradients[0] {
		softmaxRow(rawPredictions, p, proba)
		label := int(y.At(p, 0))
		for k, pk := range proba {
			gradients[k][p] = pk
			if k == label {
				gradients[k][p] -= 1
			}
			hessians[k][p] = pk * (1 - pk)
		}
	}
}

func (CategoricalCrossEntropy) Predict(rawPredictions mat.Matrix) *mat.Dense {
	h, w := rawPredictions.Dims()
	classes := mat.NewDense(h, 1, nil)
	row := make([]float64, w)
	for p := 0; p < h; p++ {
		mat.Row(row, p, rawPredictions)
		classes.Set(p, 0, float64(floats.MaxIdx(row)))
	}
	return classes
}

func (CategoricalCrossEntropy) PredictProba(rawPredictions mat.Matrix) (*mat.Dense, error) {
	h, w := rawPredictions.Dims()
	proba := mat.NewDense(h, w, nil)
	for p := 0; p < h; p++ {
		softmaxRow(rawPredictions, p, proba.RawRowView(p))
	}
	return proba, nil
}
