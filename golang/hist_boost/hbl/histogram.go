package hbl

import (
	"fmt"

	"github.com/tarstars/binned_boosting/golang/hist_boost/binning"
)

//HistogramBin accumulates gradients and hessians of the samples falling into one bin.
type HistogramBin struct {
	SumGradients float64
	SumHessians  float64
	Count        int
}

//Histogram is indexed by bin code.
type Histogram []HistogramBin

//HistogramBuilder accumulates per-feature histograms of tree nodes.
type HistogramBuilder struct {
	binned          *binning.BinnedMatrix
	gradients       []float64
	hessians        []float64
	nBinsPerFeature []int
	threadsNum      int
}

//NewHistogramBuilder checks that the gradient buffers match the binned data.
func NewHistogramBuilder(binned *binning.BinnedMatrix, gradients, hessians []float64, nBinsPerFeature []int, threadsNum int) (*HistogramBuilder, error) {
	h, w := binned.Dims()
	if len(gradients) != h || len(hessians) != h {
		return nil, fmt.Errorf("gradients (%d) and hessians (%d) should have one value per sample (%d)", len(gradients), len(hessians), h)
	}
	if len(nBinsPerFeature) != w {
		return nil, fmt.Errorf("got bin counts of %d features, the binned data has %d", len(nBinsPerFeature), w)
	}
	for q, nBins := range nBinsPerFeature {
		if nBins < 1 || nBins > binning.MaxBinsLimit {
			return nil, fmt.Errorf("feature %d has %d bins", q, nBins)
		}
	}
	return &HistogramBuilder{
		binned:          binned,
		gradients:       gradients,
		hessians:        hessians,
		nBinsPerFeature: nBinsPerFeature,
		threadsNum:      threadsNum,
	}, nil
}

//NFeatures returns the number of features histograms are built for.
func (hb *HistogramBuilder) NFeatures() int {
	return len(hb.nBinsPerFeature)
}

//Build returns one histogram per feature over the given samples. Samples are scanned in
//the order of sampleIndices, so the sums do not depend on the number of threads.
func (hb *HistogramBuilder) Build(sampleIndices []int) []Histogram {
	result := make([]Histogram, hb.NFeatures())
	runPerFeature(hb.threadsNum, hb.NFeatures(), func(feature int) Task {
		return &TaskBuildHistogram{result: result, feature: feature, build: func(q int) Histogram {
			return hb.buildFeature(q, sampleIndices)
		}}
	})
	return result
}

func (hb *HistogramBuilder) buildFeature(feature int, sampleIndices []int) Histogram {
	hist := make(Histogram, hb.nBinsPerFeature[feature])
	codes := hb.binned.Feature(feature)
	for _, sample := range sampleIndices {
		bin := &hist[codes[sample]]
		bin.SumGradients += hb.gradients[sample]
		bin.SumHessians += hb.hessians[sample]
		bin.Count++
	}
	return hist
}

//SumGradientsHessians returns totals over the given samples.
func (hb *HistogramBuilder) SumGradientsHessians(sampleIndices []int) (sumGradients, sumHessians float64) {
	for _, sample := range sampleIndices {
		sumGradients += hb.gradients[sample]
		sumHessians += hb.hessians[sample]
	}
	return
}

//Subtract derives the histograms of a node from those of its parent and its sibling.
func Subtract(parent, sibling []Histogram) []Histogram {
	result := make([]Histogram, len(parent))
	for q := range parent {
		hist := make(Histogram, len(parent[q]))
		for bin := range hist {
			hist[bin] = HistogramBin{
				SumGradients: parent[q][bin].SumGradients - sibling[q][bin].SumGradients,
				SumHessians:  parent[q][bin].SumHessians - sibling[q][bin].SumHessians,
				Count:        parent[q][bin].Count - sibling[q][bin].Count,
			}
		}
		result[q] = hist
	}
	return result
}
