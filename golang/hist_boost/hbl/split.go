package hbl

//SplitInfo contains results of the split selection algorithm. Samples with a code less than
//or equal to BinThreshold go to the left child.
type SplitInfo struct {
	Gain         float64
	FeatureIndex int
	BinThreshold uint8
	ValidSplit   bool

	GradientLeft, HessianLeft   float64
	GradientRight, HessianRight float64
	NSamplesLeft, NSamplesRight int
}

//NoSplit is returned when a node cannot be split.
var NoSplit = SplitInfo{FeatureIndex: -1}

//nodeTotals contains gradient and hessian sums of a node.
type nodeTotals struct {
	sumGradients, sumHessians float64
	nSamples                  int
}

//splitGain evaluates the reduction of the loss achieved by a split. ok is false when one of
//the denominators vanishes.
func splitGain(gradientLeft, hessianLeft, gradientRight, hessianRight, sumGradients, sumHessians, l2Regularization float64) (gain float64, ok bool) {
	denomLeft := hessianLeft + l2Regularization
	denomRight := hessianRight + l2Regularization
	denomTotal := sumHessians + l2Regularization
	if denomLeft == 0 || denomRight == 0 || denomTotal == 0 {
		return 0, false
	}
	gain = gradientLeft*gradientLeft/denomLeft +
		gradientRight*gradientRight/denomRight -
		sumGradients*sumGradients/denomTotal
	return 0.5 * gain, true
}

//LeafValue returns the shrunk Newton step of a leaf.
func LeafValue(sumGradients, sumHessians, l2Regularization, shrinkage float64) float64 {
	denom := sumHessians + l2Regularization
	if denom == 0 {
		return 0
	}
	return -shrinkage * sumGradients / denom
}

//scanFeature iterates through bin boundaries of one feature in increasing order and selects
//the one with the highest gain. Ties keep the lowest bin.
func scanFeature(hist Histogram, feature int, totals nodeTotals, params GrowerParams) SplitInfo {
	best := NoSplit
	best.FeatureIndex = feature

	var gradientLeft, hessianLeft float64
	nLeft := 0
	for bin := 0; bin < len(hist)-1; bin++ {
		gradientLeft += hist[bin].SumGradients
		hessianLeft += hist[bin].SumHessians
		nLeft += hist[bin].Count

		nRight := totals.nSamples - nLeft
		if nLeft < params.MinSamplesLeaf {
			continue
		}
		if nRight < params.MinSamplesLeaf {
			break
		}
		hessianRight := totals.sumHessians - hessianLeft
		if hessianLeft < params.MinHessianToSplit || hessianRight < params.MinHessianToSplit {
			continue
		}
		gradientRight := totals.sumGradients - gradientLeft

		gain, ok := splitGain(gradientLeft, hessianLeft, gradientRight, hessianRight,
			totals.sumGradients, totals.sumHessians, params.L2Regularization)
		if !ok || gain <= params.MinGainToSplit {
			continue
		}
		if !best.ValidSplit || gain > best.Gain {
			best = SplitInfo{
				Gain:          gain,
				FeatureIndex:  feature,
				BinThreshold:  uint8(bin),
				ValidSplit:    true,
				GradientLeft:  gradientLeft,
				HessianLeft:   hessianLeft,
				GradientRight: gradientRight,
				HessianRight:  hessianRight,
				NSamplesLeft:  nLeft,
				NSamplesRight: nRight,
			}
		}
	}
	return best
}

//TheBestSplit finds the best split of a node given its histograms. Features are scanned in
//parallel; the winner is the highest gain, ties going to the lowest feature index.
func TheBestSplit(histograms []Histogram, sumGradients, sumHessians float64, nSamples int, params GrowerParams) SplitInfo {
	totals := nodeTotals{sumGradients: sumGradients, sumHessians: sumHessians, nSamples: nSamples}
	result := make([]SplitInfo, len(histograms))

	runPerFeature(params.ThreadsNum, len(histograms), func(feature int) Task {
		return &TaskFindBestSplit{result: result, feature: feature, find: func(q int) SplitInfo {
			return scanFeature(histograms[q], q, totals, params)
		}}
	})

	best := NoSplit
	for _, currentSplit := range result {
		if currentSplit.ValidSplit && (!best.ValidSplit || currentSplit.Gain > best.Gain) {
			best = currentSplit
		}
	}
	return best
}
