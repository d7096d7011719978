package gbm

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path"

	"github.com/goccy/go-graphviz"
	"github.com/tarstars/binned_boosting/golang/hist_boost/binning"
	"github.com/tarstars/binned_boosting/golang/hist_boost/hbl"
	"gonum.org/v1/gonum/mat"
)

//Tree is one tree of the ensemble. Output is the column of raw predictions the tree adds to.
type Tree struct {
	hbl.Predictor
	Iteration int
	Output    int
}

//Booster is the model class.
type Booster struct {
	LossName            string
	NTreesPerIteration  int
	NIter               int
	BinThresholds       [][]float64
	Trees               []Tree
	LearningCurveTitles []string
	LearningCurves      [][]float64

	loss Loss
}

//Fit trains a booster. Rows of x are samples; y holds one column per output for least squares
//and one column of class labels for classification losses.
func Fit(x, y *mat.Dense, params BoosterParams) (*Booster, error) {
	if x == nil || y == nil || x.IsEmpty() || y.IsEmpty() {
		return nil, ErrEmptyDataset
	}
	session, err := newTrainingSession(x, y, params)
	if err != nil {
		return nil, err
	}
	return session.run()
}

//Loss returns the loss the booster was trained with.
func (booster *Booster) Loss() (Loss, error) {
	if booster.loss == nil {
		loss, err := LossByName(booster.LossName)
		if err != nil {
			return nil, err
		}
		booster.loss = loss
	}
	return booster.loss, nil
}

//NLeafNodes returns the total number of leaves of all trees.
func (booster *Booster) NLeafNodes() int {
	n := 0
	for ind := range booster.Trees {
		n += booster.Trees[ind].NLeafNodes()
	}
	return n
}

//treesLimit returns the number of trees of the first nIter iterations; nIter <= 0 means all.
func (booster *Booster) treesLimit(nIter int) int {
	if nIter <= 0 || nIter >= booster.NIter {
		return len(booster.Trees)
	}
	return nIter * booster.NTreesPerIteration
}

func (booster *Booster) checkFeatures(h, w int) error {
	if h == 0 {
		return ErrEmptyDataset
	}
	if w != len(booster.BinThresholds) {
		return fmt.Errorf("%w: got %d, expected %d", ErrFeatureMismatch, w, len(booster.BinThresholds))
	}
	return nil
}

//accumulate sums per-tree predictions into the raw prediction matrix.
func (booster *Booster) accumulate(h, nIter int, predict func(tree *Tree) []float64) *mat.Dense {
	raw := mat.NewDense(h, booster.NTreesPerIteration, nil)
	for ind := 0; ind < booster.treesLimit(nIter); ind++ {
		tree := &booster.Trees[ind]
		for p, value := range predict(tree) {
			raw.Set(p, tree.Output, raw.At(p, tree.Output)+value)
		}
	}
	return raw
}

//RawPredictLimit sums the raw values of the trees of the first nIter iterations.
//nIter <= 0 uses every tree.
func (booster *Booster) RawPredictLimit(x mat.Matrix, nIter int) (*mat.Dense, error) {
	h, w := x.Dims()
	if err := booster.checkFeatures(h, w); err != nil {
		return nil, err
	}
	return booster.accumulate(h, nIter, func(tree *Tree) []float64 { return tree.Predict(x) }), nil
}

//RawPredict returns the sum of the leaf values of all trees, one column per output.
func (booster *Booster) RawPredict(x mat.Matrix) (*mat.Dense, error) {
	return booster.RawPredictLimit(x, 0)
}

//RawPredictBinned is RawPredict for data binned with the booster's thresholds.
func (booster *Booster) RawPredictBinned(binned *binning.BinnedMatrix) (*mat.Dense, error) {
	h, w := binned.Dims()
	if err := booster.checkFeatures(h, w); err != nil {
		return nil, err
	}
	return booster.accumulate(h, 0, func(tree *Tree) []float64 { return tree.PredictBinned(binned) }), nil
}

//Predict returns values for regression and class labels for classification.
func (booster *Booster) Predict(x mat.Matrix) (*mat.Dense, error) {
	loss, err := booster.Loss()
	if err != nil {
		return nil, err
	}
	raw, err := booster.RawPredict(x)
	if err != nil {
		return nil, err
	}
	return loss.Predict(raw), nil
}

//PredictProba returns class probabilities, one column per class.
func (booster *Booster) PredictProba(x mat.Matrix) (*mat.Dense, error) {
	loss, err := booster.Loss()
	if err != nil {
		return nil, err
	}
	raw, err := booster.RawPredict(x)
	if err != nil {
		return nil, err
	}
	return loss.PredictProba(raw)
}

//LearningCurve scores the model after every iteration on the given data.
func (booster *Booster) LearningCurve(x, y mat.Matrix, scoring string) ([]float64, error) {
	scorer, err := ScorerByName(scoring)
	if err != nil {
		return nil, err
	}
	loss, err := booster.Loss()
	if err != nil {
		return nil, err
	}
	h, w := x.Dims()
	if err := booster.checkFeatures(h, w); err != nil {
		return nil, err
	}
	if targetH, _ := y.Dims(); targetH != h {
		return nil, fmt.Errorf("%w: %d and %d", ErrInconsistentRows, h, targetH)
	}

	raw := mat.NewDense(h, booster.NTreesPerIteration, nil)
	curve := make([]float64, 0, booster.NIter)
	for ind := range booster.Trees {
		tree := &booster.Trees[ind]
		for p, value := range tree.Predict(x) {
			raw.Set(p, tree.Output, raw.At(p, tree.Output)+value)
		}
		if (ind+1)%booster.NTreesPerIteration != 0 {
			continue
		}
		score, err := scorer(y, raw, loss)
		if err != nil {
			return nil, err
		}
		curve = append(curve, score)
	}
	return curve, nil
}

//Save stores the model in json format.
func (booster *Booster) Save(filename string) (err error) {
	dest, err := os.Create(filename)
	if err != nil {
		log.Print("can't open file ", filename, " to write")
		return err
	}
	defer func() {
		if closeErr := dest.Close(); err == nil {
			err = closeErr
		}
	}()

	modelByteRepr, err := json.MarshalIndent(booster, "", "  ")
	if err != nil {
		return err
	}
	_, err = dest.Write(modelByteRepr)
	return err
}

//validate checks the consistency of a decoded model.
func (booster *Booster) validate() error {
	if _, err := booster.Loss(); err != nil {
		return err
	}
	if booster.NTreesPerIteration < 1 {
		return fmt.Errorf("the model has %d trees per iteration", booster.NTreesPerIteration)
	}
	for ind, tree := range booster.Trees {
		if tree.Output < 0 || tree.Output >= booster.NTreesPerIteration {
			return fmt.Errorf("tree %d adds to output %d of %d", ind, tree.Output, booster.NTreesPerIteration)
		}
		if len(tree.Nodes) == 0 {
			return fmt.Errorf("tree %d has no nodes", ind)
		}
		//Children are stored after their parent, which also rules out cycles.
		for pos, node := range tree.Nodes {
			if node.IsLeaf {
				continue
			}
			if node.FeatureNumber < 0 || node.FeatureNumber >= len(booster.BinThresholds) ||
				node.LeftIndex <= pos || node.LeftIndex >= len(tree.Nodes) ||
				node.RightIndex <= pos || node.RightIndex >= len(tree.Nodes) ||
				node.LeftIndex == node.RightIndex {
				return fmt.Errorf("tree %d has a broken node at position %d", ind, pos)
			}
			if int(node.BinThreshold) >= len(booster.BinThresholds[node.FeatureNumber]) {
				return fmt.Errorf("tree %d node at position %d splits feature %d on bin %d of %d",
					ind, pos, node.FeatureNumber, node.BinThreshold, len(booster.BinThresholds[node.FeatureNumber]))
			}
		}
	}
	return nil
}

//LoadModel reads a model saved with Save.
func LoadModel(filename string) (booster *Booster, err error) {
	source, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := source.Close(); err == nil {
			err = closeErr
		}
	}()

	booster = &Booster{}
	if err := json.NewDecoder(source).Decode(booster); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	if err := booster.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return booster, nil
}

var graphvizFormats = map[string]graphviz.Format{
	"png": graphviz.PNG,
	"svg": graphviz.SVG,
	"jpg": graphviz.JPG,
}

//RenderTrees draws every tree into picturesDirectory as <dumpPrefix>_<index>.<figureType>.
func (booster *Booster) RenderTrees(dumpPrefix, figureType, picturesDirectory string) error {
	graphvizType, ok := graphvizFormats[figureType]
	if !ok {
		return fmt.Errorf("unknown figure type %q", figureType)
	}

	for graphInd := range booster.Trees {
		filename := fmt.Sprintf("%s_%05d.%s", dumpPrefix, graphInd, figureType)
		if err := renderTree(&booster.Trees[graphInd].Predictor, graphvizType, path.Join(picturesDirectory, filename)); err != nil {
			return err
		}
	}
	return nil
}

func renderTree(predictor *hbl.Predictor, format graphviz.Format, filename string) error {
	graphViz, graph, err := predictor.DrawGraph()
	if err != nil {
		return err
	}
	defer func() {
		_ = graph.Close()
		_ = graphViz.Close()
	}()
	return graphViz.RenderFilename(graph, format, filename)
}

//LearningCurvesDump is the json layout of learning curves: one row of Values per scoring,
//one column per title.
type LearningCurvesDump struct {
	Titles []string
	Values [][]float64
}

//DumpLearningCurves stores the scores recorded while fitting.
func (booster *Booster) DumpLearningCurves(filenameLearningCurves string) (err error) {
	destination, err := os.Create(filenameLearningCurves)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := destination.Close(); err == nil {
			err = closeErr
		}
	}()

	learningCurvesDump := LearningCurvesDump{
		Titles: booster.LearningCurveTitles,
		Values: booster.LearningCurves,
	}
	if learningCurvesDump.Values == nil {
		learningCurvesDump.Values = make([][]float64, 0)
	}

	bytesResult, err := json.MarshalIndent(learningCurvesDump, "", "  ")
	if err != nil {
		return err
	}
	_, err = destination.Write(bytesResult)
	return err
}
