// Package binning maps real-valued features to small integer codes using quantile
// thresholds learned on a reference dataset.
package binning

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"
)

const (
	//MaxBinsLimit is the largest number of bins a uint8 code can address.
	MaxBinsLimit = 256

	//DefaultSubsample is the number of rows used to estimate quantiles of large datasets.
	DefaultSubsample = 200000
)

var (
	ErrInvalidMaxBins = errors.New("max_bins must be in [2, 256]")
	ErrNotFitted      = errors.New("bin mapper is not fitted")
)

//BinMapper learns per-feature bin thresholds and maps data to bin codes.
type BinMapper struct {
	MaxBins    int
	Subsample  int
	RandomSeed int64
	ThreadsNum int

	BinThresholds   [][]float64
	NBinsPerFeature []int
}

//NewBinMapper creates a mapper with the default subsample size.
func NewBinMapper(maxBins int, randomSeed int64) (*BinMapper, error) {
	if err := validateMaxBins(maxBins); err != nil {
		return nil, err
	}
	return &BinMapper{MaxBins: maxBins, Subsample: DefaultSubsample, RandomSeed: randomSeed, ThreadsNum: 1}, nil
}

func validateMaxBins(maxBins int) error {
	if maxBins < 2 || maxBins > MaxBinsLimit {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxBins, maxBins)
	}
	return nil
}

//Fit learns thresholds from data.
func (bm *BinMapper) Fit(data mat.Matrix) error {
	rng := rand.New(rand.NewSource(bm.RandomSeed))
	thresholds, err := FindBins(data, bm.MaxBins, bm.Subsample, rng)
	if err != nil {
		return err
	}
	bm.BinThresholds = thresholds
	bm.NBinsPerFeature = make([]int, len(thresholds))
	for q, featureThresholds := range thresholds {
		bm.NBinsPerFeature[q] = len(featureThresholds) + 1
	}
	return nil
}

//Transform maps data to codes using the learned thresholds.
func (bm *BinMapper) Transform(data mat.Matrix) (*BinnedMatrix, error) {
	if bm.BinThresholds == nil {
		return nil, ErrNotFitted
	}
	return MapToBins(data, bm.BinThresholds, bm.ThreadsNum)
}

//FitTransform fits the mapper on data and returns the codes of the same data.
func (bm *BinMapper) FitTransform(data mat.Matrix) (*BinnedMatrix, error) {
	if err := bm.Fit(data); err != nil {
		return nil, err
	}
	return bm.Transform(data)
}

//NBins returns the number of bins of a feature.
func (bm *BinMapper) NBins(feature int) int {
	return bm.NBinsPerFeature[feature]
}

//FindBins computes thresholds of every column of data.
//
//A column with at most maxBins distinct values gets its distinct values (without the largest)
//as thresholds, so every distinct value has its own bin. Other columns get maxBins-1 evenly
//spaced percentiles estimated on at most subsample rows drawn without replacement.
func FindBins(data mat.Matrix, maxBins, subsample int, rng *rand.Rand) ([][]float64, error) {
	if err := validateMaxBins(maxBins); err != nil {
		return nil, err
	}
	h, w := data.Dims()

	var rows []int
	if subsample > 0 && h > subsample {
		rows = rng.Perm(h)[:subsample]
		sort.Ints(rows)
	}

	percentiles := make([]float64, maxBins-1)
	for ind := range percentiles {
		percentiles[ind] = 100 * float64(ind+1) / float64(maxBins)
	}

	thresholds := make([][]float64, w)
	column := make([]float64, h)
	for q := 0; q < w; q++ {
		mat.Col(column, q, data)
		var sample []float64
		if rows != nil {
			sample = make([]float64, len(rows))
			for p, row := range rows {
				sample[p] = column[row]
			}
		} else {
			sample = append([]float64(nil), column...)
		}
		thresholds[q] = featureThresholds(sample, maxBins, percentiles)
	}
	return thresholds, nil
}

//featureThresholds sorts values in place and derives the thresholds of one feature.
func featureThresholds(values []float64, maxBins int, percentiles []float64) []float64 {
	if len(values) == 0 {
		return []float64{}
	}
	sort.Float64s(values)
	distinct := uniqueSorted(values)
	if len(distinct) <= maxBins {
		return append([]float64{}, distinct[:len(distinct)-1]...)
	}

	cuts := make([]float64, 0, len(percentiles))
	for _, p := range percentiles {
		cuts = append(cuts, percentile(values, p))
	}
	cuts = uniqueSorted(cuts)

	// nothing lies above the column maximum, so such a cut would only create an empty last bin
	maxValue := values[len(values)-1]
	for len(cuts) > 0 && cuts[len(cuts)-1] >= maxValue {
		cuts = cuts[:len(cuts)-1]
	}
	return cuts
}

//percentile interpolates linearly between the closest order statistics of sorted.
func percentile(sorted []float64, p float64) float64 {
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

func uniqueSorted(sorted []float64) []float64 {
	out := make([]float64, 0, len(sorted))
	for ind, v := range sorted {
		if ind == 0 || v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

//MapToBins converts data to bin codes. Columns are processed by threadsNum goroutines,
//each owning a contiguous range of columns.
func MapToBins(data mat.Matrix, thresholds [][]float64, threadsNum int) (*BinnedMatrix, error) {
	h, w := data.Dims()
	if w != len(thresholds) {
		return nil, fmt.Errorf("data has %d features, thresholds were fitted on %d", w, len(thresholds))
	}
	for q, featureThresholds := range thresholds {
		if len(featureThresholds) >= MaxBinsLimit {
			return nil, fmt.Errorf("feature %d has %d thresholds, at most %d are allowed", q, len(featureThresholds), MaxBinsLimit-1)
		}
	}

	binned := NewBinnedMatrix(h, w)
	if threadsNum < 1 {
		threadsNum = 1
	}
	if threadsNum > w {
		threadsNum = w
	}
	if threadsNum <= 1 {
		mapColumns(data, thresholds, binned, 0, w)
		return binned, nil
	}

	var wg sync.WaitGroup
	chunk := (w + threadsNum - 1) / threadsNum
	for begin := 0; begin < w; begin += chunk {
		end := begin + chunk
		if end > w {
			end = w
		}
		wg.Add(1)
		go func(begin, end int) {
			defer wg.Done()
			mapColumns(data, thresholds, binned, begin, end)
		}(begin, end)
	}
	wg.Wait()
	return binned, nil
}

func mapColumns(data mat.Matrix, thresholds [][]float64, binned *BinnedMatrix, begin, end int) {
	h, _ := data.Dims()
	column := make([]float64, h)
	for q := begin; q < end; q++ {
		mat.Col(column, q, data)
		codes := binned.Feature(q)
		for p, v := range column {
			codes[p] = uint8(sort.SearchFloat64s(thresholds[q], v))
		}
	}
}
