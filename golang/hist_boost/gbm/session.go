package gbm

import (
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/tarstars/binned_boosting/golang/hist_boost/binning"
	"github.com/tarstars/binned_boosting/golang/hist_boost/hbl"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

//scoringSubsample is the largest number of training samples used to score the model.
const scoringSubsample = 10000

//evalSet is a binned data set whose raw predictions are kept up to date while boosting.
type evalSet struct {
	title  string
	binned *binning.BinnedMatrix
	y      *mat.Dense
	raw    *mat.Dense
	scores []float64
}

func newEvalSet(title string, binned *binning.BinnedMatrix, y *mat.Dense, nTrees int) *evalSet {
	h, _ := binned.Dims()
	return &evalSet{title: title, binned: binned, y: y, raw: mat.NewDense(h, nTrees, nil)}
}

//addTree adds the predictions of a tree growing column output of the raw predictions.
func (set *evalSet) addTree(predictor *hbl.Predictor, output int) {
	for p, value := range predictor.PredictBinned(set.binned) {
		set.raw.Set(p, output, set.raw.At(p, output)+value)
	}
}

//trainingSession holds the mutable state of one Fit call.
type trainingSession struct {
	params BoosterParams
	loss   Loss
	scorer Scorer
	mapper *binning.BinMapper
	rng    *rand.Rand
	nTrees int

	train      *evalSet
	small      *evalSet // aliases train when the training set is small
	validation *evalSet
	monitors   []*evalSet

	gradients, hessians [][]float64
	booster             *Booster

	startTime      time.Time
	findSplitTime  time.Duration
	applySplitTime time.Duration
	predictionTime time.Duration
}

//selectRows copies the given rows of m.
func selectRows(m *mat.Dense, indices []int) *mat.Dense {
	_, w := m.Dims()
	result := mat.NewDense(len(indices), w, nil)
	for p, row := range indices {
		result.SetRow(p, m.RawRowView(row))
	}
	return result
}

func newTrainingSession(x, y *mat.Dense, params BoosterParams) (*trainingSession, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	h, w := x.Dims()
	targetH, _ := y.Dims()
	if targetH != h {
		return nil, fmt.Errorf("%w: %d and %d", ErrInconsistentRows, h, targetH)
	}
	loss, err := LossByName(params.Loss)
	if err != nil {
		return nil, err
	}
	nTrees, err := loss.NTreesPerIteration(y)
	if err != nil {
		return nil, err
	}

	session := &trainingSession{
		params:    params,
		loss:      loss,
		rng:       rand.New(rand.NewSource(params.RandomSeed)),
		nTrees:    nTrees,
		startTime: time.Now(),
	}
	if params.Scoring != "" {
		if session.scorer, err = ScorerByName(params.Scoring); err != nil {
			return nil, err
		}
	}

	if params.Verbose {
		log.Printf("Binning %.3f GB of data", float64(h*w*8)/1e9)
	}
	tic := time.Now()
	session.mapper, err = binning.NewBinMapper(params.MaxBins, params.RandomSeed)
	if err != nil {
		return nil, err
	}
	session.mapper.ThreadsNum = params.ThreadsNum
	binned, err := session.mapper.FitTransform(x)
	if err != nil {
		return nil, err
	}
	if params.Verbose {
		log.Printf("Binned in %.3f s", time.Since(tic).Seconds())
	}

	if err := session.splitTrainValidation(binned, y); err != nil {
		return nil, err
	}
	if err := session.sampleSmallTrain(); err != nil {
		return nil, err
	}
	for ind, monitor := range params.Monitors {
		if err := session.addMonitor(ind, monitor); err != nil {
			return nil, err
		}
	}

	trainH, _ := session.train.binned.Dims()
	session.gradients, session.hessians = loss.InitGradientsAndHessians(trainH, nTrees)
	session.booster = &Booster{
		LossName:           loss.Name(),
		NTreesPerIteration: nTrees,
		BinThresholds:      session.mapper.BinThresholds,
		loss:               loss,
	}
	for _, set := range session.scoredSets() {
		session.booster.LearningCurveTitles = append(session.booster.LearningCurveTitles, set.title)
	}
	return session, nil
}

//splitTrainValidation holds out a random part of the samples when a validation split is requested.
//Classification targets are split per class, so rare classes reach both sets.
func (session *trainingSession) splitTrainValidation(binned *binning.BinnedMatrix, y *mat.Dense) error {
	h, _ := binned.Dims()
	if session.params.ValidationSplit == 0 {
		session.train = newEvalSet("train", binned, y, session.nTrees)
		return nil
	}
	var trainRows, validationRows []int
	if isClassification(session.loss) {
		trainRows, validationRows = stratifiedSplit(y, session.params.ValidationSplit, session.rng)
	} else {
		nValidation := int(math.Ceil(session.params.ValidationSplit * float64(h)))
		permutation := session.rng.Perm(h)
		trainRows, validationRows = permutation[:h-nValidation], permutation[h-nValidation:]
	}
	if len(trainRows) < 1 || len(validationRows) < 1 {
		return fmt.Errorf("%w: validation_split=%g leaves %d training and %d validation samples",
			ErrInvalidParams, session.params.ValidationSplit, len(trainRows), len(validationRows))
	}

	var err error
	if session.train, err = newSubset("train", binned, y, trainRows, session.nTrees); err != nil {
		return err
	}
	session.validation, err = newSubset("validation", binned, y, validationRows, session.nTrees)
	return err
}

//stratifiedSplit holds out the ceiling of split times the size of every class. Classes are
//visited in the order of their labels, and the samples of each class are shuffled by rng.
func stratifiedSplit(y *mat.Dense, split float64, rng *rand.Rand) (trainRows, validationRows []int) {
	h, _ := y.Dims()
	var classes [][]int
	for p := 0; p < h; p++ {
		label := int(y.At(p, 0))
		for len(classes) <= label {
			classes = append(classes, nil)
		}
		classes[label] = append(classes[label], p)
	}
	for _, rows := range classes {
		nValidation := int(math.Ceil(split * float64(len(rows))))
		for ind, pos := range rng.Perm(len(rows)) {
			if ind < nValidation {
				validationRows = append(validationRows, rows[pos])
			} else {
				trainRows = append(trainRows, rows[pos])
			}
		}
	}
	return
}

//newSubset builds an eval set from the given rows of the binned data and the target.
func newSubset(title string, binned *binning.BinnedMatrix, y *mat.Dense, rows []int, nTrees int) (*evalSet, error) {
	subset, err := binned.SelectRows(rows)
	if err != nil {
		return nil, fmt.Errorf("%s set: %w", title, err)
	}
	return newEvalSet(title, subset, selectRows(y, rows), nTrees), nil
}

//sampleSmallTrain draws the training samples used for scoring.
func (session *trainingSession) sampleSmallTrain() error {
	h, _ := session.train.binned.Dims()
	if h <= scoringSubsample || session.scorer == nil {
		session.small = session.train
		return nil
	}
	rows := make([]int, scoringSubsample)
	for p := range rows {
		rows[p] = session.rng.Intn(h)
	}
	var err error
	session.small, err = newSubset("train", session.train.binned, session.train.y, rows, session.nTrees)
	return err
}

func (session *trainingSession) addMonitor(ind int, monitor Dataset) error {
	if _, _, err := monitor.Dims(); err != nil {
		return fmt.Errorf("monitor %d: %w", ind, err)
	}
	if err := session.checkTarget(monitor.Target); err != nil {
		return fmt.Errorf("monitor %d: %w", ind, err)
	}
	binned, err := session.mapper.Transform(monitor.Features)
	if err != nil {
		return fmt.Errorf("monitor %d: %w", ind, err)
	}
	title := monitor.description()
	if title == "" {
		title = fmt.Sprintf("monitor_%d", ind)
	}
	session.monitors = append(session.monitors, newEvalSet(title, binned, monitor.Target, session.nTrees))
	return nil
}

//checkTarget verifies that a target of another data set fits the trained outputs.
func (session *trainingSession) checkTarget(y mat.Matrix) error {
	if !isClassification(session.loss) {
		if _, w := y.Dims(); w != session.nTrees {
			return fmt.Errorf("%w: %d target columns, the model has %d outputs", ErrInvalidTarget, w, session.nTrees)
		}
		return nil
	}
	nClasses, err := checkLabels(y)
	if err != nil {
		return err
	}
	maxClasses := session.nTrees
	if maxClasses < 2 {
		maxClasses = 2
	}
	if nClasses > maxClasses {
		return fmt.Errorf("%w: %d classes, the model knows %d", ErrInvalidTarget, nClasses, maxClasses)
	}
	return nil
}

//scoredSets lists the sets whose scores form learning curves, in the order of their titles.
func (session *trainingSession) scoredSets() []*evalSet {
	if session.scorer == nil {
		return nil
	}
	sets := []*evalSet{session.small}
	if session.validation != nil {
		sets = append(sets, session.validation)
	}
	return append(sets, session.monitors...)
}

//predictedSets lists the sets whose raw predictions are computed with the predictor.
//Training raw predictions are updated from the leaves instead. Without scoring nothing
//reads the predictions of other sets.
func (session *trainingSession) predictedSets() []*evalSet {
	if session.scorer == nil {
		return nil
	}
	var sets []*evalSet
	if session.small != session.train {
		sets = append(sets, session.small)
	}
	if session.validation != nil {
		sets = append(sets, session.validation)
	}
	return append(sets, session.monitors...)
}

//score appends the current score of every scored set and records a learning curve row.
func (session *trainingSession) score() error {
	sets := session.scoredSets()
	if len(sets) == 0 {
		return nil
	}
	row := make([]float64, len(sets))
	for ind, set := range sets {
		value, err := session.scorer(set.y, set.raw, session.loss)
		if err != nil {
			return err
		}
		set.scores = append(set.scores, value)
		row[ind] = value
	}
	session.booster.LearningCurves = append(session.booster.LearningCurves, row)
	return nil
}

//shouldStop tells whether the early stopping criterion is met. Without scoring the model
//is never stopped early.
func (session *trainingSession) shouldStop() bool {
	if session.scorer == nil {
		return false
	}
	scores := session.small.scores
	if session.validation != nil {
		scores = session.validation.scores
	}
	return noImprovement(scores, session.params.MaxNoImprovement, session.params.Tol)
}

//noImprovement reports whether the score maxNoImprovement-1 iterations ago is within the
//relative tolerance of the best score obtained since then. Scores are higher-is-better.
func noImprovement(scores []float64, maxNoImprovement int, tol float64) bool {
	if len(scores) == 0 || len(scores) < maxNoImprovement {
		return false
	}
	window := scores[len(scores)-maxNoImprovement:]
	best := floats.Max(window)
	return window[0] >= best-tol*math.Abs(best)
}

func (session *trainingSession) logProgress() {
	if !session.params.Verbose {
		return
	}
	msg := fmt.Sprintf("[%d/%d]", session.booster.NIter, session.params.MaxIter)
	for _, set := range session.scoredSets() {
		msg += fmt.Sprintf(" %s %s: %.5f,", session.params.Scoring, set.title, set.scores[len(set.scores)-1])
	}
	if session.booster.NIter > 0 {
		last := session.booster.Trees[len(session.booster.Trees)-1]
		iterationTime := time.Since(session.startTime).Seconds() / float64(session.booster.NIter)
		msg += fmt.Sprintf(" %d leaf nodes, max depth %d in %.3fs", last.NLeafNodes(), last.MaxDepth(), iterationTime)
	}
	log.Print(msg)
}

//iterate grows the trees of one boosting round.
func (session *trainingSession) iterate() error {
	shrinkage := session.params.LearningRate
	if session.booster.NIter == 0 {
		shrinkage = 1
	}
	session.loss.UpdateGradientsAndHessians(session.gradients, session.hessians, session.train.y, session.train.raw)

	for k := 0; k < session.nTrees; k++ {
		grower, err := hbl.NewTreeGrower(session.train.binned, session.gradients[k], session.hessians[k],
			session.mapper.BinThresholds, session.params.growerParams(shrinkage))
		if err != nil {
			return err
		}
		_, leaves := grower.Grow()
		predictor, err := grower.Predictor()
		if err != nil {
			return err
		}
		session.booster.Trees = append(session.booster.Trees, Tree{
			Predictor: *predictor,
			Iteration: session.booster.NIter,
			Output:    k,
		})
		session.findSplitTime += grower.TotalFindSplitTime
		session.applySplitTime += grower.TotalApplySplitTime

		tic := time.Now()
		for _, leaf := range leaves {
			for _, sample := range leaf.SampleIndices {
				session.train.raw.Set(sample, k, session.train.raw.At(sample, k)+leaf.Value)
			}
		}
		for _, set := range session.predictedSets() {
			set.addTree(predictor, k)
		}
		session.predictionTime += time.Since(tic)
	}
	session.booster.NIter++
	return nil
}

func (session *trainingSession) run() (*Booster, error) {
	for {
		if err := session.score(); err != nil {
			return nil, err
		}
		session.logProgress()
		if session.shouldStop() || session.booster.NIter == session.params.MaxIter {
			break
		}
		if err := session.iterate(); err != nil {
			return nil, err
		}
	}

	if session.params.Verbose {
		log.Printf("Fit %d trees in %.3f s, (%d total leaf nodes)",
			len(session.booster.Trees), time.Since(session.startTime).Seconds(), session.booster.NLeafNodes())
		log.Printf("%-32s %.3fs", "Time spent finding best splits:", session.findSplitTime.Seconds())
		log.Printf("%-32s %.3fs", "Time spent applying splits:", session.applySplitTime.Seconds())
		log.Printf("%-32s %.3fs", "Time spent predicting:", session.predictionTime.Seconds())
	}
	return session.booster, nil
}
