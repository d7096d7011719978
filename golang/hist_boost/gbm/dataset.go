package gbm

import (
	"fmt"
	"log"
	"os"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

//Dataset contains features and targets of one data set.
type Dataset struct {
	Features    *mat.Dense
	Target      *mat.Dense
	Description *string
}

//SetDescription sets a description for a Dataset object
func (dataset *Dataset) SetDescription(description string) {
	dataset.Description = &description
}

func (dataset Dataset) description() string {
	if dataset.Description == nil {
		return ""
	}
	return *dataset.Description
}

//Dims validates the dataset and returns the number of samples and features.
func (dataset Dataset) Dims() (h, w int, err error) {
	if dataset.Features == nil || dataset.Target == nil {
		return 0, 0, fmt.Errorf("%w: features or target are missing", ErrEmptyDataset)
	}
	h, w = dataset.Features.Dims()
	targetH, _ := dataset.Target.Dims()
	if targetH != h {
		return 0, 0, fmt.Errorf("%w: %d and %d", ErrInconsistentRows, h, targetH)
	}
	return h, w, nil
}

//ReadDataset reads two components of a data set and unites them into one Dataset object
func ReadDataset(fileNameFeatures, fileNameTarget string) (Dataset, error) {
	var dataset Dataset
	var err error
	log.Print("\ttry to load features <", fileNameFeatures, ">")
	if dataset.Features, err = ReadNpy(fileNameFeatures); err != nil {
		return Dataset{}, err
	}
	log.Print("\ttry to load target <", fileNameTarget, ">")
	if dataset.Target, err = ReadNpy(fileNameTarget); err != nil {
		return Dataset{}, err
	}
	if _, _, err = dataset.Dims(); err != nil {
		return Dataset{}, fmt.Errorf("%s, %s: %w", fileNameFeatures, fileNameTarget, err)
	}
	return dataset, nil
}

//ReadNpy reads the content of npy file. One-dimensional arrays become a single column.
func ReadNpy(fileName string) (denseMat *mat.Dense, err error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fileName, err)
	}

	if shape := r.Header.Descr.Shape; len(shape) == 1 {
		data := make([]float64, shape[0])
		if err := r.Read(&data); err != nil {
			return nil, fmt.Errorf("%s: %w", fileName, err)
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("%s: %w", fileName, ErrEmptyDataset)
		}
		return mat.NewDense(len(data), 1, data), nil
	}

	denseMat = &mat.Dense{}
	if err := r.Read(denseMat); err != nil {
		return nil, fmt.Errorf("%s: %w", fileName, err)
	}
	return denseMat, nil
}

//WriteNpy stores a matrix in npy format.
func WriteNpy(fileName string, m mat.Matrix) (err error) {
	dst, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := dst.Close(); err == nil {
			err = closeErr
		}
	}()
	return npyio.Write(dst, m)
}
