// SPDX-License-Identifier: Apache-2.0

package main

/*
#cgo CFLAGS: -I.
#include <stdlib.h>
*/
import "C"

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"unsafe"

	"github.com/tarstars/binned_boosting/golang/hist_boost/gbm"
	"gonum.org/v1/gonum/mat"
)

var (
	handleMu   sync.Mutex
	nextHandle uint64 = 1
	boosters          = make(map[uint64]*gbm.Booster)

	monitorMu       sync.Mutex
	pendingMonitors []gbm.Dataset

	lastErrorMu sync.Mutex
	lastError   string

	logSilenceOnce sync.Once
)

func setLastError(err error) {
	lastErrorMu.Lock()
	defer lastErrorMu.Unlock()
	if err != nil {
		lastError = err.Error()
	} else {
		lastError = ""
	}
}

func getLastError() string {
	lastErrorMu.Lock()
	defer lastErrorMu.Unlock()
	return lastError
}

func storeBooster(b *gbm.Booster) uint64 {
	handleMu.Lock()
	defer handleMu.Unlock()
	handle := nextHandle
	boosters[handle] = b
	nextHandle++
	return handle
}

func fetchBooster(handle uint64) (*gbm.Booster, error) {
	handleMu.Lock()
	defer handleMu.Unlock()
	booster, ok := boosters[handle]
	if !ok {
		return nil, errors.New("invalid booster handle")
	}
	return booster, nil
}

//export FreeModel
func FreeModel(handle C.ulonglong) {
	handleMu.Lock()
	defer handleMu.Unlock()
	delete(boosters, uint64(handle))
}

func copyFloatSlice(ptr *C.double, length int) ([]float64, error) {
	if length < 0 {
		return nil, errors.New("negative length")
	}
	if length == 0 {
		return nil, nil
	}
	if ptr == nil {
		return nil, errors.New("null pointer for non-empty slice")
	}
	src := unsafe.Slice((*float64)(unsafe.Pointer(ptr)), length)
	dst := make([]float64, length)
	copy(dst, src)
	return dst, nil
}

func sliceFromPtr(ptr *C.double, length int) ([]float64, error) {
	if length < 0 {
		return nil, errors.New("negative length")
	}
	if length == 0 {
		return nil, nil
	}
	if ptr == nil {
		return nil, errors.New("null pointer for non-empty slice")
	}
	return unsafe.Slice((*float64)(unsafe.Pointer(ptr)), length), nil
}

//buildDense copies a row-major C array; empty matrices are reported as gbm.ErrEmptyDataset.
func buildDense(ptr *C.double, rows, cols C.int) (*mat.Dense, error) {
	r := int(rows)
	c := int(cols)
	if r < 0 || c < 0 {
		return nil, errors.New("invalid matrix dimensions")
	}
	if r == 0 || c == 0 {
		return nil, gbm.ErrEmptyDataset
	}
	data, err := copyFloatSlice(ptr, r*c)
	if err != nil {
		return nil, err
	}
	return mat.NewDense(r, c, data), nil
}

//decodeParams overrides the default parameters with a json object; nil keeps the defaults.
func decodeParams(paramsJSON *C.char) (gbm.BoosterParams, error) {
	params := gbm.DefaultBoosterParams()
	if paramsJSON == nil {
		return params, nil
	}
	if err := json.Unmarshal([]byte(C.GoString(paramsJSON)), &params); err != nil {
		return params, fmt.Errorf("booster parameters: %w", err)
	}
	return params, nil
}

//export RegisterLearningCurveDataset
func RegisterLearningCurveDataset(
	featuresPtr *C.double,
	rows C.int,
	cols C.int,
	targetPtr *C.double,
	targetCols C.int,
	desc *C.char,
) C.int {
	setLastError(nil)

	if rows <= 0 {
		setLastError(errors.New("monitor rows must be positive"))
		return 1
	}

	features, err := buildDense(featuresPtr, rows, cols)
	if err != nil {
		setLastError(err)
		return 2
	}

	target, err := buildDense(targetPtr, rows, targetCols)
	if err != nil {
		setLastError(err)
		return 3
	}

	dataset := gbm.Dataset{Features: features, Target: target}
	if desc != nil {
		dataset.SetDescription(C.GoString(desc))
	}

	monitorMu.Lock()
	defer monitorMu.Unlock()
	pendingMonitors = append(pendingMonitors, dataset)
	return 0
}

//export TrainModel
func TrainModel(
	featuresPtr *C.double,
	rows C.int,
	cols C.int,
	targetPtr *C.double,
	targetCols C.int,
	paramsJSON *C.char,
) C.ulonglong {
	setLastError(nil)

	if rows <= 0 {
		setLastError(errors.New("rows must be positive"))
		return 0
	}

	features, err := buildDense(featuresPtr, rows, cols)
	if err != nil {
		setLastError(err)
		return 0
	}

	target, err := buildDense(targetPtr, rows, targetCols)
	if err != nil {
		setLastError(err)
		return 0
	}

	params, err := decodeParams(paramsJSON)
	if err != nil {
		setLastError(err)
		return 0
	}
	if !params.Verbose {
		logSilenceOnce.Do(func() {
			log.SetOutput(io.Discard)
		})
	}

	monitorMu.Lock()
	if len(pendingMonitors) > 0 {
		params.Monitors = append([]gbm.Dataset(nil), pendingMonitors...)
		pendingMonitors = nil
	}
	monitorMu.Unlock()

	booster, err := gbm.Fit(features, target, params)
	if err != nil {
		setLastError(err)
		return 0
	}
	handle := storeBooster(booster)
	return C.ulonglong(handle)
}

//Kinds of predictions written by Predict.
const (
	predictValue = iota
	predictProba
	predictRaw
)

//export Predict
func Predict(
	handle C.ulonglong,
	featuresPtr *C.double,
	rows C.int,
	cols C.int,
	outputPtr *C.double,
	outputSize C.int,
	kind C.int,
	iterationLimit C.int,
) C.int {
	setLastError(nil)
	booster, err := fetchBooster(uint64(handle))
	if err != nil {
		setLastError(err)
		return 1
	}

	features, err := buildDense(featuresPtr, rows, cols)
	if err != nil {
		setLastError(err)
		return 2
	}

	raw, err := booster.RawPredictLimit(features, int(iterationLimit))
	if err != nil {
		setLastError(err)
		return 3
	}
	loss, err := booster.Loss()
	if err != nil {
		setLastError(err)
		return 3
	}

	var prediction *mat.Dense
	switch kind {
	case predictValue:
		prediction = loss.Predict(raw)
	case predictProba:
		if prediction, err = loss.PredictProba(raw); err != nil {
			setLastError(err)
			return 4
		}
	case predictRaw:
		prediction = raw
	default:
		setLastError(fmt.Errorf("unsupported prediction kind %d", kind))
		return 4
	}

	data := prediction.RawMatrix().Data
	if int(outputSize) != len(data) {
		setLastError(fmt.Errorf("output buffer holds %d values, the prediction has %d", outputSize, len(data)))
		return 5
	}
	outSlice, err := sliceFromPtr(outputPtr, len(data))
	if err != nil {
		setLastError(err)
		return 5
	}
	copy(outSlice, data)
	return 0
}

//export GetNTreesPerIteration
func GetNTreesPerIteration(handle C.ulonglong) C.int {
	setLastError(nil)
	booster, err := fetchBooster(uint64(handle))
	if err != nil {
		setLastError(err)
		return -1
	}
	return C.int(booster.NTreesPerIteration)
}

//export GetNIter
func GetNIter(handle C.ulonglong) C.int {
	setLastError(nil)
	booster, err := fetchBooster(uint64(handle))
	if err != nil {
		setLastError(err)
		return -1
	}
	return C.int(booster.NIter)
}

//export SaveModel
func SaveModel(handle C.ulonglong, path *C.char) C.int {
	setLastError(nil)
	booster, err := fetchBooster(uint64(handle))
	if err != nil {
		setLastError(err)
		return 1
	}
	if err := booster.SaveFile(C.GoString(path)); err != nil {
		setLastError(err)
		return 2
	}
	return 0
}

//export RenderTrees
func RenderTrees(handle C.ulonglong, prefix, figureType, directory *C.char) C.int {
	setLastError(nil)
	booster, err := fetchBooster(uint64(handle))
	if err != nil {
		setLastError(err)
		return 1
	}
	goPrefix := C.GoString(prefix)
	goFigureType := C.GoString(figureType)
	goDir := C.GoString(directory)
	if goPrefix == "" {
		goPrefix = "tree"
	}
	if goFigureType == "" {
		goFigureType = "svg"
	}
	if goDir == "" {
		goDir = "."
	}
	if err := booster.RenderTrees(goPrefix, goFigureType, goDir); err != nil {
		setLastError(err)
		return 2
	}
	return 0
}

//export LoadModel
func LoadModel(path *C.char) C.ulonglong {
	setLastError(nil)
	booster, err := gbm.LoadFile(C.GoString(path))
	if err != nil {
		setLastError(err)
		return 0
	}
	handle := storeBooster(booster)
	return C.ulonglong(handle)
}

//export DumpLearningCurves
func DumpLearningCurves(handle C.ulonglong, path *C.char) C.int {
	setLastError(nil)
	booster, err := fetchBooster(uint64(handle))
	if err != nil {
		setLastError(err)
		return 1
	}
	if err := booster.DumpLearningCurves(C.GoString(path)); err != nil {
		setLastError(err)
		return 2
	}
	return 0
}

//export GetLastError
func GetLastError() *C.char {
	errStr := getLastError()
	if errStr == "" {
		return nil
	}
	return C.CString(errStr)
}

//export FreeCString
func FreeCString(str *C.char) {
	if str != nil {
		C.free(unsafe.Pointer(str))
	}
}

func main() {}
