package hbl

import (
	"errors"
	"math"
	"testing"
)

func splitParams() GrowerParams {
	params := DefaultGrowerParams()
	params.MinSamplesLeaf = 1
	return params
}

func TestTheBestSplitGain(t *testing.T) {
	hist := Histogram{
		{SumGradients: -4, SumHessians: 2, Count: 2},
		{SumGradients: 4, SumHessians: 2, Count: 2},
	}
	split := TheBestSplit([]Histogram{hist}, 0, 4, 4, splitParams())
	if !split.ValidSplit {
		t.Fatalf("expected a valid split")
	}
	if split.FeatureIndex != 0 || split.BinThreshold != 0 {
		t.Fatalf("wrong split position: feature %d, bin %d", split.FeatureIndex, split.BinThreshold)
	}
	if math.Abs(split.Gain-8) > 1e-12 {
		t.Fatalf("gain = %g, expected 8", split.Gain)
	}
	if split.GradientLeft != -4 || split.HessianLeft != 2 || split.GradientRight != 4 || split.HessianRight != 2 {
		t.Fatalf("wrong child statistics: %+v", split)
	}
	if split.NSamplesLeft != 2 || split.NSamplesRight != 2 {
		t.Fatalf("wrong child sizes: %d, %d", split.NSamplesLeft, split.NSamplesRight)
	}
}

func TestTheBestSplitRegularization(t *testing.T) {
	hist := Histogram{
		{SumGradients: -4, SumHessians: 2, Count: 2},
		{SumGradients: 2, SumHessians: 2, Count: 2},
	}
	params := splitParams()
	params.L2Regularization = 2
	split := TheBestSplit([]Histogram{hist}, -2, 4, 4, params)

	expected := 0.5 * (16.0/4 + 4.0/4 - 4.0/6)
	if !split.ValidSplit || math.Abs(split.Gain-expected) > 1e-12 {
		t.Fatalf("gain = %g, expected %g", split.Gain, expected)
	}
}

func TestTheBestSplitMinSamplesLeaf(t *testing.T) {
	hist := Histogram{
		{SumGradients: -4, SumHessians: 2, Count: 2},
		{SumGradients: 4, SumHessians: 2, Count: 2},
	}
	params := splitParams()
	params.MinSamplesLeaf = 3
	if split := TheBestSplit([]Histogram{hist}, 0, 4, 4, params); split.ValidSplit {
		t.Fatalf("children smaller than min_samples_leaf are accepted: %+v", split)
	}
}

func TestTheBestSplitMinGain(t *testing.T) {
	hist := Histogram{
		{SumGradients: -4, SumHessians: 2, Count: 2},
		{SumGradients: 4, SumHessians: 2, Count: 2},
	}
	params := splitParams()
	params.MinGainToSplit = 8
	if split := TheBestSplit([]Histogram{hist}, 0, 4, 4, params); split.ValidSplit {
		t.Fatalf("a split with gain equal to min_gain_to_split is accepted")
	}
}

func TestTheBestSplitZeroHessian(t *testing.T) {
	hist := Histogram{
		{SumGradients: -1, Count: 3},
		{SumGradients: 1, Count: 3},
	}
	params := splitParams()
	params.MinHessianToSplit = 0
	if split := TheBestSplit([]Histogram{hist}, 0, 0, 6, params); split.ValidSplit {
		t.Fatalf("a split with zero denominators is accepted: %+v", split)
	}
	if value := LeafValue(5, 0, 0, 1); value != 0 {
		t.Fatalf("leaf value with zero denominator = %g", value)
	}
}

func TestTheBestSplitConstantFeature(t *testing.T) {
	hist := Histogram{{SumGradients: 3, SumHessians: 10, Count: 10}}
	if split := TheBestSplit([]Histogram{hist}, 3, 10, 10, splitParams()); split.ValidSplit {
		t.Fatalf("a single bin feature was split")
	}
	if split := TheBestSplit(nil, 0, 0, 0, splitParams()); split.ValidSplit || split.FeatureIndex != -1 {
		t.Fatalf("split without features: %+v", split)
	}
}

func TestTheBestSplitTies(t *testing.T) {
	hist := Histogram{
		{SumGradients: -2, SumHessians: 1, Count: 1},
		{},
		{SumGradients: 2, SumHessians: 1, Count: 1},
	}
	for _, threadsNum := range []int{1, 3} {
		params := splitParams()
		params.ThreadsNum = threadsNum
		split := TheBestSplit([]Histogram{hist, hist, hist}, 0, 2, 2, params)
		if !split.ValidSplit {
			t.Fatalf("expected a valid split")
		}
		if split.FeatureIndex != 0 || split.BinThreshold != 0 {
			t.Fatalf("threads %d: ties resolved to feature %d, bin %d", threadsNum, split.FeatureIndex, split.BinThreshold)
		}
	}
}

func TestTheBestSplitPicksTheBestFeature(t *testing.T) {
	weak := Histogram{
		{SumGradients: -1, SumHessians: 2, Count: 2},
		{SumGradients: 1, SumHessians: 2, Count: 2},
	}
	strong := Histogram{
		{SumGradients: -1, SumHessians: 1, Count: 1},
		{SumGradients: -2, SumHessians: 1, Count: 1},
		{SumGradients: 3, SumHessians: 2, Count: 2},
	}
	params := splitParams()
	params.ThreadsNum = 2
	split := TheBestSplit([]Histogram{weak, strong}, 0, 4, 4, params)
	if split.FeatureIndex != 1 || split.BinThreshold != 1 {
		t.Fatalf("wrong split: feature %d, bin %d", split.FeatureIndex, split.BinThreshold)
	}
}

func TestLeafValue(t *testing.T) {
	if value := LeafValue(4, 2, 2, 0.5); math.Abs(value+0.5) > 1e-12 {
		t.Fatalf("leaf value = %g, expected -0.5", value)
	}
	if value := LeafValue(-3, 3, 0, 1); math.Abs(value-1) > 1e-12 {
		t.Fatalf("leaf value = %g, expected 1", value)
	}
}

func TestGrowerParamsValidate(t *testing.T) {
	if err := DefaultGrowerParams().Validate(); err != nil {
		t.Fatalf("default parameters are rejected: %v", err)
	}
	broken := []func(*GrowerParams){
		func(p *GrowerParams) { p.MaxLeafNodes = 1 },
		func(p *GrowerParams) { p.MaxDepth = -1 },
		func(p *GrowerParams) { p.MinSamplesLeaf = 0 },
		func(p *GrowerParams) { p.L2Regularization = -1 },
		func(p *GrowerParams) { p.MinHessianToSplit = -1 },
		func(p *GrowerParams) { p.MinGainToSplit = -1 },
		func(p *GrowerParams) { p.Shrinkage = 0 },
		func(p *GrowerParams) { p.Shrinkage = 1.5 },
		func(p *GrowerParams) { p.ThreadsNum = 0 },
	}
	for ind, breakParams := range broken {
		params := DefaultGrowerParams()
		breakParams(&params)
		if err := params.Validate(); !errors.Is(err, ErrInvalidParams) {
			t.Fatalf("case %d: expected ErrInvalidParams, got %v", ind, err)
		}
	}
}
