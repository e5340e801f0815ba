package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gotest.tools/v3/assert"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shipnet.yaml")
	assert.NilError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFillsDefaults(t *testing.T) {
	path := writeConfig(t, `
# ship detection
dataset_root: "/data/ships"
epochs: 25
batch_size: 32
momentum: 0.9
`)
	cfg, err := Load(path)
	assert.NilError(t, err)

	assert.Equal(t, cfg.DatasetRoot, "/data/ships")
	assert.Equal(t, cfg.Source, SourceWebDataset)
	assert.Equal(t, cfg.Epochs, 25)
	assert.Equal(t, cfg.BatchSize, 32)
	assert.Equal(t, cfg.Momentum, 0.9)
	assert.Equal(t, cfg.LearningRate, 0.001)
	assert.Equal(t, cfg.NumClasses, 2)
	assert.Equal(t, cfg.HiddenUnits, 64)
	assert.Equal(t, cfg.ImageGrid, 16)
	assert.Equal(t, cfg.Device, "cpu")
	assert.Equal(t, cfg.LogEvery, 50)
}

func TestLoadMNISTDefaultsToTenClasses(t *testing.T) {
	path := writeConfig(t, "source: MNIST\nmnist_dir: /data/mnist\nepochs: 1\nbatch_size: 64\n")
	cfg, err := Load(path)
	assert.NilError(t, err)
	assert.Equal(t, cfg.Source, SourceMNIST)
	assert.Equal(t, cfg.NumClasses, 10)
}

func TestLoadRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"unknown key":     "dataset_root: x\nepochs: 1\nbatch_size: 1\nsteps: 4\n",
		"missing colon":   "dataset_root x\n",
		"bad int":         "dataset_root: x\nepochs: many\n",
		"no root":         "epochs: 1\nbatch_size: 1\n",
		"zero epochs":     "dataset_root: x\nbatch_size: 1\n",
		"bad source":      "source: s3\nepochs: 1\nbatch_size: 1\n",
		"bad dropout":     "dataset_root: x\nepochs: 1\nbatch_size: 1\ndropout: 1\n",
		"one class":       "dataset_root: x\nepochs: 1\nbatch_size: 1\nnum_classes: 1\n",
		"negative lr":     "dataset_root: x\nepochs: 1\nbatch_size: 1\nlearning_rate: -0.1\n",
		"momentum too hi": "dataset_root: x\nepochs: 1\nbatch_size: 1\nmomentum: 1.5\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Assert(t, err != nil)
		})
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := &Config{DatasetRoot: "/a", Epochs: 25, BatchSize: 4, LearningRate: 0.001, Device: "cpu"}
	cfg.ApplyOverrides(Overrides{
		DatasetRoot:  "/b",
		Epochs:       3,
		LearningRate: 0.01,
		SnapshotOut:  "best.snap",
	})
	assert.Equal(t, cfg.DatasetRoot, "/b")
	assert.Equal(t, cfg.Epochs, 3)
	assert.Equal(t, cfg.BatchSize, 4)
	assert.Equal(t, cfg.LearningRate, 0.01)
	assert.Equal(t, cfg.Device, "cpu")
	assert.Equal(t, cfg.SnapshotOut, "best.snap")
}

func TestLineNumbersInErrors(t *testing.T) {
	_, err := parseYAML(strings.NewReader("epochs: 1\n\nbatch_size: lots\n"))
	assert.ErrorContains(t, err, "line 3: batch_size")
}

func TestLogEveryZeroDisablesThroughputLogging(t *testing.T) {
	cfg, err := Load(writeConfig(t, "dataset_root: x\nepochs: 1\nbatch_size: 1\nlog_every: 0\n"))
	assert.NilError(t, err)
	assert.Equal(t, cfg.LogEvery, 0)

	_, err = Load(writeConfig(t, "dataset_root: x\nepochs: 1\nbatch_size: 1\nlog_every: -5\n"))
	assert.ErrorContains(t, err, "log_every")
}

func TestSwitchingSourceResetsClassCount(t *testing.T) {
	cfg, err := Load(writeConfig(t, "dataset_root: /data/ships\nepochs: 2\nbatch_size: 4\nnum_classes: 2\n"))
	assert.NilError(t, err)

	cfg.ApplyOverrides(Overrides{Source: "MNIST", MNISTDir: "/data/mnist"})
	assert.NilError(t, cfg.Validate())
	assert.Equal(t, cfg.Source, SourceMNIST)
	assert.Equal(t, cfg.MNISTDir, "/data/mnist")
	assert.Equal(t, cfg.NumClasses, 10)

	cfg.ApplyOverrides(Overrides{Source: SourceMNIST, NumClasses: 12})
	assert.NilError(t, cfg.Validate())
	assert.Equal(t, cfg.NumClasses, 12)
}
