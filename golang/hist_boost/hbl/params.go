package hbl

import (
	"errors"
	"fmt"
)

//ErrInvalidParams is wrapped by every parameter validation failure.
var ErrInvalidParams = errors.New("invalid grower parameters")

//DefaultMinHessianToSplit keeps nodes with an almost zero hessian sum from being split.
const DefaultMinHessianToSplit = 1e-3

//GrowerParams collect hyperparameters of a single tree.
type GrowerParams struct {
	MaxLeafNodes      int // 0 means unbounded
	MaxDepth          int // 0 means unbounded
	MinSamplesLeaf    int
	L2Regularization  float64
	MinHessianToSplit float64
	MinGainToSplit    float64
	Shrinkage         float64
	ThreadsNum        int
}

//DefaultGrowerParams returns the parameters used when nothing else is specified.
func DefaultGrowerParams() GrowerParams {
	return GrowerParams{
		MaxLeafNodes:      31,
		MinSamplesLeaf:    20,
		MinHessianToSplit: DefaultMinHessianToSplit,
		Shrinkage:         1,
		ThreadsNum:        1,
	}
}

//Validate reports the first inconsistent parameter.
func (params GrowerParams) Validate() error {
	switch {
	case params.MaxLeafNodes != 0 && params.MaxLeafNodes < 2:
		return fmt.Errorf("%w: max_leaf_nodes=%d should not be smaller than 2", ErrInvalidParams, params.MaxLeafNodes)
	case params.MaxDepth < 0:
		return fmt.Errorf("%w: max_depth=%d should not be negative", ErrInvalidParams, params.MaxDepth)
	case params.MinSamplesLeaf < 1:
		return fmt.Errorf("%w: min_samples_leaf=%d should not be smaller than 1", ErrInvalidParams, params.MinSamplesLeaf)
	case params.L2Regularization < 0:
		return fmt.Errorf("%w: l2_regularization=%g should not be negative", ErrInvalidParams, params.L2Regularization)
	case params.MinHessianToSplit < 0:
		return fmt.Errorf("%w: min_hessian_to_split=%g should not be negative", ErrInvalidParams, params.MinHessianToSplit)
	case params.MinGainToSplit < 0:
		return fmt.Errorf("%w: min_gain_to_split=%g should not be negative", ErrInvalidParams, params.MinGainToSplit)
	case params.Shrinkage <= 0 || params.Shrinkage > 1:
		return fmt.Errorf("%w: shrinkage=%g should be in (0, 1]", ErrInvalidParams, params.Shrinkage)
	case params.ThreadsNum < 1:
		return fmt.Errorf("%w: threads_num=%d should be positive", ErrInvalidParams, params.ThreadsNum)
	}
	return nil
}
