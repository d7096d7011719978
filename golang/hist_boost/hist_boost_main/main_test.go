package main

import (
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/tarstars/binned_boosting/golang/hist_boost/gbm"
	"gonum.org/v1/gonum/mat"
)

func writeConfig(t *testing.T, dir, name string, config any) string {
	t.Helper()
	data, err := json.Marshal(config)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	filename := filepath.Join(dir, name)
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return filename
}

func writeData(t *testing.T, dir string, rows int, seed int64) (features, target string) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	x := mat.NewDense(rows, 2, nil)
	y := mat.NewDense(rows, 1, nil)
	for p := 0; p < rows; p++ {
		x.Set(p, 0, rng.Float64())
		x.Set(p, 1, rng.NormFloat64())
		y.Set(p, 0, 3*x.At(p, 0))
	}
	features = filepath.Join(dir, "x.npy")
	target = filepath.Join(dir, "y.npy")
	if err := gbm.WriteNpy(features, x); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := gbm.WriteNpy(target, y); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return
}

func TestModes(t *testing.T) {
	for _, modelName := range []string{"model.json", "model.hb"} {
		t.Run(modelName, func(t *testing.T) {
			dir := t.TempDir()
			features, target := writeData(t, dir, 300, 1)
			model := filepath.Join(dir, modelName)

			params := gbm.DefaultBoosterParams()
			params.MaxIter = 5
			params.MaxNoImprovement = 10
			train(writeConfig(t, dir, "train.json", TrainConfig{
				BoosterParams:       params,
				FileNameTrainData:   features,
				FileNameTrainTarget: target,
				Tests:               []TestConfig{{Description: "test", FileNameTestData: features, FileNameTestTarget: target}},
				FileNameModel:       model,
			}))

			prediction := filepath.Join(dir, "prediction.npy")
			predict(writeConfig(t, dir, "predict.json", PredictConfig{
				DataFileName:       features,
				ModelFileName:      model,
				PredictionFileName: prediction,
				IterationsNumber:   2,
			}))
			values, err := gbm.ReadNpy(prediction)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if h, w := values.Dims(); h != 300 || w != 1 {
				t.Errorf("got a %d x %d prediction", h, w)
			}

			curve := filepath.Join(dir, "curve.npy")
			lcurve(writeConfig(t, dir, "lcurve.json", LcurveConfig{
				DataFileName:          features,
				TargetFileName:        target,
				ModelFileName:         model,
				Scoring:               "r2",
				LearningCurveFileName: curve,
			}))
			scores, err := gbm.ReadNpy(curve)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if h, _ := scores.Dims(); h != 5 {
				t.Errorf("got %d scores, expected one per iteration", h)
			}

			curves := filepath.Join(dir, "curves.json")
			getLearningCurves(writeConfig(t, dir, "curves_config.json", ModelLearningCurvesConfig{
				PathToModel:            model,
				FilenameLearningCurves: curves,
			}))
			var dump gbm.LearningCurvesDump
			data, err := os.ReadFile(curves)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err := json.Unmarshal(data, &dump); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(dump.Titles) != 3 || dump.Titles[2] != "test" {
				t.Errorf("got titles %v", dump.Titles)
			}

			pictures := t.TempDir()
			graph(writeConfig(t, dir, "graph.json", GraphConfig{
				ModelFileName:     model,
				FigureType:        "svg",
				PicturesDirectory: pictures,
				DumpPrefix:        "tree",
			}))
			if _, err := os.Stat(filepath.Join(pictures, "tree_00004.svg")); err != nil {
				t.Errorf("trees were not rendered: %v", err)
			}
		})
	}
}

func TestUnknownConfigField(t *testing.T) {
	dir := t.TempDir()
	filename := writeConfig(t, dir, "bad.json", map[string]any{"filename_modle": "x"})
	defer func() {
		if recover() == nil {
			t.Errorf("a misspelled field should be rejected")
		}
	}()
	var config GraphConfig
	decodeConfig(filename, &config)
}
