package gbm

import (
	"errors"
	"fmt"

	"github.com/tarstars/binned_boosting/golang/hist_boost/binning"
	"github.com/tarstars/binned_boosting/golang/hist_boost/hbl"
)

//ErrInvalidParams is wrapped by every booster parameter validation failure.
var ErrInvalidParams = errors.New("invalid booster parameters")

//BoosterParams collect arguments required to fit a booster.
type BoosterParams struct {
	Loss             string  `json:"loss"`
	LearningRate     float64 `json:"learning_rate"`
	MaxIter          int     `json:"max_iter"`
	MaxLeafNodes     int     `json:"max_leaf_nodes"`
	MaxDepth         int     `json:"max_depth"`
	MinSamplesLeaf   int     `json:"min_samples_leaf"`
	L2Regularization float64 `json:"l2_regularization"`
	MaxBins          int     `json:"max_bins"`
	MaxNoImprovement int     `json:"max_no_improvement"`
	ValidationSplit  float64 `json:"validation_split"` // 0 disables the validation set
	Scoring          string  `json:"scoring"`          // empty disables scoring and early stopping
	Tol              float64 `json:"tol"`
	Verbose          bool    `json:"verbose"`
	RandomSeed       int64   `json:"random_seed"`
	ThreadsNum       int     `json:"threads_num"`

	//Monitors are extra datasets whose scores are recorded as learning curves.
	Monitors []Dataset `json:"-"`
}

//DefaultBoosterParams returns the parameters of a least squares regressor.
func DefaultBoosterParams() BoosterParams {
	return BoosterParams{
		Loss:             "least_squares",
		LearningRate:     0.1,
		MaxIter:          100,
		MaxLeafNodes:     31,
		MinSamplesLeaf:   20,
		MaxBins:          binning.MaxBinsLimit,
		MaxNoImprovement: 5,
		ValidationSplit:  0.1,
		Scoring:          "neg_mean_squared_error",
		Tol:              1e-7,
		ThreadsNum:       1,
	}
}

//Validate checks the parameters that are not checked by the tree grower.
func (params BoosterParams) Validate() error {
	loss, err := LossByName(params.Loss)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	switch {
	case params.LearningRate <= 0:
		return fmt.Errorf("%w: learning_rate=%g must be strictly positive", ErrInvalidParams, params.LearningRate)
	case params.LearningRate > 1:
		return fmt.Errorf("%w: learning_rate=%g must not be larger than 1", ErrInvalidParams, params.LearningRate)
	case params.MaxIter < 1:
		return fmt.Errorf("%w: max_iter=%d must not be smaller than 1", ErrInvalidParams, params.MaxIter)
	case params.MaxNoImprovement < 1:
		return fmt.Errorf("%w: max_no_improvement=%d must not be smaller than 1", ErrInvalidParams, params.MaxNoImprovement)
	case params.ValidationSplit < 0 || params.ValidationSplit >= 1:
		return fmt.Errorf("%w: validation_split=%g must be in [0, 1)", ErrInvalidParams, params.ValidationSplit)
	case params.Tol <= 0:
		return fmt.Errorf("%w: tol=%g must be strictly positive", ErrInvalidParams, params.Tol)
	case params.MaxBins < 2 || params.MaxBins > binning.MaxBinsLimit:
		return fmt.Errorf("%w: max_bins=%d must be in [2, %d]", ErrInvalidParams, params.MaxBins, binning.MaxBinsLimit)
	}
	if params.Scoring != "" {
		if _, err := ScorerByName(params.Scoring); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
		if params.Scoring == "neg_log_loss" && !isClassification(loss) {
			return fmt.Errorf("%w: neg_log_loss needs a classification loss, got %s", ErrInvalidParams, params.Loss)
		}
	}
	if err := params.growerParams(1).Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

//growerParams translates booster parameters into the parameters of a single tree.
func (params BoosterParams) growerParams(shrinkage float64) hbl.GrowerParams {
	return hbl.GrowerParams{
		MaxLeafNodes:      params.MaxLeafNodes,
		MaxDepth:          params.MaxDepth,
		MinSamplesLeaf:    params.MinSamplesLeaf,
		L2Regularization:  params.L2Regularization,
		MinHessianToSplit: hbl.DefaultMinHessianToSplit,
		Shrinkage:         shrinkage,
		ThreadsNum:        params.ThreadsNum,
	}
}
