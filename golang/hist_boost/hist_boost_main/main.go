package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/tarstars/binned_boosting/golang/hist_boost/gbm"
	"gonum.org/v1/gonum/mat"
)

func decodeConfig(srcConfig string, out interface{}) {
	file, err := os.Open(srcConfig)
	gbm.HandleError(err)
	defer func() { gbm.HandleError(file.Close()) }()

	decoder := json.NewDecoder(file)
	decoder.DisallowUnknownFields()
	gbm.HandleError(decoder.Decode(out))
}

type TestConfig struct {
	Description        string `json:"description"`
	FileNameTestData   string `json:"filename_test_data"`
	FileNameTestTarget string `json:"filename_test_target"`
}

type TrainConfig struct {
	gbm.BoosterParams
	FileNameTrainData   string       `json:"filename_train_data"`
	FileNameTrainTarget string       `json:"filename_train_target"`
	Tests               []TestConfig `json:"tests"`
	FileNameModel       string       `json:"filename_model"`
}

func loadModel(filename string) *gbm.Booster {
	clf, err := gbm.LoadFile(filename)
	gbm.HandleError(err)
	return clf
}

func train(srcConfig string) {
	trainConfig := TrainConfig{BoosterParams: gbm.DefaultBoosterParams()}
	decodeConfig(srcConfig, &trainConfig)

	log.Println("load train")
	datasetTrain, err := gbm.ReadDataset(trainConfig.FileNameTrainData, trainConfig.FileNameTrainTarget)
	gbm.HandleError(err)

	for _, testConfig := range trainConfig.Tests {
		log.Println("load", testConfig.Description)
		dataset, err := gbm.ReadDataset(testConfig.FileNameTestData, testConfig.FileNameTestTarget)
		gbm.HandleError(err)
		dataset.SetDescription(testConfig.Description)
		trainConfig.Monitors = append(trainConfig.Monitors, dataset)
	}

	clf, err := gbm.Fit(datasetTrain.Features, datasetTrain.Target, trainConfig.BoosterParams)
	gbm.HandleError(err)

	gbm.HandleError(clf.SaveFile(trainConfig.FileNameModel))
}

type PredictConfig struct {
	DataFileName       string `json:"filename_data"`
	ModelFileName      string `json:"filename_model"`
	PredictionFileName string `json:"filename_prediction"`
	IterationsNumber   int    `json:"iterations_number"`
	Output             string `json:"output"` // "value" (default), "proba" or "raw"
}

func predict(srcConfig string) {
	var predictConfig PredictConfig
	decodeConfig(srcConfig, &predictConfig)

	features, err := gbm.ReadNpy(predictConfig.DataFileName)
	gbm.HandleError(err)
	clf := loadModel(predictConfig.ModelFileName)

	raw, err := clf.RawPredictLimit(features, predictConfig.IterationsNumber)
	gbm.HandleError(err)
	loss, err := clf.Loss()
	gbm.HandleError(err)

	var prediction *mat.Dense
	switch predictConfig.Output {
	case "", "value":
		prediction = loss.Predict(raw)
	case "proba":
		prediction, err = loss.PredictProba(raw)
		gbm.HandleError(err)
	case "raw":
		prediction = raw
	default:
		log.Panicf("unknown output %q, use value, proba or raw", predictConfig.Output)
	}
	gbm.HandleError(gbm.WriteNpy(predictConfig.PredictionFileName, prediction))
}

type LcurveConfig struct {
	DataFileName          string `json:"filename_data"`
	TargetFileName        string `json:"filename_target"`
	ModelFileName         string `json:"filename_model"`
	Scoring               string `json:"scoring"`
	LearningCurveFileName string `json:"filename_learning_curve"`
}

func lcurve(srcConfig string) {
	lcurveConfig := LcurveConfig{Scoring: "neg_mean_squared_error"}
	decodeConfig(srcConfig, &lcurveConfig)

	dataset, err := gbm.ReadDataset(lcurveConfig.DataFileName, lcurveConfig.TargetFileName)
	gbm.HandleError(err)
	clf := loadModel(lcurveConfig.ModelFileName)

	curve, err := clf.LearningCurve(dataset.Features, dataset.Target, lcurveConfig.Scoring)
	gbm.HandleError(err)
	if len(curve) == 0 {
		log.Panic("the model has no iterations")
	}
	gbm.HandleError(gbm.WriteNpy(lcurveConfig.LearningCurveFileName, mat.NewDense(len(curve), 1, curve)))
}

type GraphConfig struct {
	ModelFileName     string `json:"filename_model"`
	FigureType        string `json:"figure_type"`
	PicturesDirectory string `json:"pictures_directory"`
	DumpPrefix        string `json:"dump_prefix"`
}

func graph(srcConfig string) {
	var graphConfig GraphConfig
	decodeConfig(srcConfig, &graphConfig)

	clf := loadModel(graphConfig.ModelFileName)
	gbm.HandleError(clf.RenderTrees(graphConfig.DumpPrefix, graphConfig.FigureType, graphConfig.PicturesDirectory))
}

type ModelLearningCurvesConfig struct {
	PathToModel            string `json:"path_to_model"`
	FilenameLearningCurves string `json:"filename_learning_curves"`
}

func getLearningCurves(srcConfig string) {
	var modelLearningCurves ModelLearningCurvesConfig
	decodeConfig(srcConfig, &modelLearningCurves)

	clf := loadModel(modelLearningCurves.PathToModel)
	gbm.HandleError(clf.DumpLearningCurves(modelLearningCurves.FilenameLearningCurves))
}

func main() {
	runMode := flag.String("mode", "train", "you can select either 'train', 'graph', 'predict', 'lcurve' or 'get_learning_curves' modes")
	config := flag.String("config", "hist_config.json", "a config file for the run of the program")
	memprofile := flag.String("memprofile", "", "write memory profile to `file`")

	flag.Parse()

	modes := map[string]func(string){
		"train":               train,
		"predict":             predict,
		"graph":               graph,
		"lcurve":              lcurve,
		"get_learning_curves": getLearningCurves,
	}
	mode, ok := modes[*runMode]
	if !ok {
		log.Fatalf("unknown mode %q", *runMode)
	}
	mode(*config)

	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		gbm.HandleError(err)
		defer func() { gbm.HandleError(f.Close()) }()
		runtime.GC()
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Fatal("could not write memory profile: ", err)
		}
	}
}
