package binning

import (
	"fmt"

	"gorgonia.org/tensor"
)

//BinnedMatrix holds bin codes of a dataset in a (features x samples) uint8 tensor: all samples of
//feature 0 first, then feature 1 and so on, because histograms are accumulated per feature.
type BinnedMatrix struct {
	codes      *tensor.Dense
	data       []uint8
	rows, cols int
}

//NewBinnedMatrix allocates a zero-filled matrix with rows samples and cols features.
func NewBinnedMatrix(rows, cols int) *BinnedMatrix {
	if rows == 0 || cols == 0 {
		return &BinnedMatrix{rows: rows, cols: cols}
	}
	codes := tensor.New(tensor.WithShape(cols, rows), tensor.Of(tensor.Uint8))
	return wrapCodes(codes, rows, cols)
}

func wrapCodes(codes *tensor.Dense, rows, cols int) *BinnedMatrix {
	return &BinnedMatrix{codes: codes, data: codes.Data().([]uint8), rows: rows, cols: cols}
}

//Dims returns the number of samples and the number of features.
func (bm *BinnedMatrix) Dims() (rows, cols int) {
	return bm.rows, bm.cols
}

func (bm *BinnedMatrix) At(i, j int) uint8 {
	return bm.data[j*bm.rows+i]
}

func (bm *BinnedMatrix) Set(i, j int, code uint8) {
	bm.data[j*bm.rows+i] = code
}

//Feature returns the codes of feature j for all samples. The slice aliases the matrix storage.
func (bm *BinnedMatrix) Feature(j int) []uint8 {
	return bm.data[j*bm.rows : (j+1)*bm.rows]
}

//SelectRows returns a new matrix with the given samples in the given order.
func (bm *BinnedMatrix) SelectRows(indices []int) (*BinnedMatrix, error) {
	for _, ind := range indices {
		if ind < 0 || ind >= bm.rows {
			return nil, fmt.Errorf("sample %d is out of range [0, %d)", ind, bm.rows)
		}
	}
	if len(indices) == 0 || bm.cols == 0 {
		return NewBinnedMatrix(len(indices), bm.cols), nil
	}
	//ByIndices treats a single code as a scalar and returns a view instead of a gather.
	if bm.codes.Shape().IsScalarEquiv() {
		out := NewBinnedMatrix(len(indices), bm.cols)
		for j := 0; j < bm.cols; j++ {
			dst := out.Feature(j)
			for p := range dst {
				dst[p] = bm.data[j]
			}
		}
		return out, nil
	}

	positions := tensor.New(tensor.WithShape(len(indices)), tensor.WithBacking(append([]int(nil), indices...)))
	selected, err := tensor.ByIndices(bm.codes, positions, 1)
	if err != nil {
		return nil, fmt.Errorf("select samples: %w", err)
	}
	codes, ok := selected.(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("select samples: unexpected tensor %T", selected)
	}
	return wrapCodes(codes, len(indices), bm.cols), nil
}
