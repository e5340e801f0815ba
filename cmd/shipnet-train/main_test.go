package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"
	"gotest.tools/v3/assert"

	"shipnet/internal/config"
	"shipnet/internal/dataset"
)

func TestBuildLoadersRequiresTrainShards(t *testing.T) {
	root := t.TempDir()
	assert.NilError(t, os.MkdirAll(filepath.Join(root, dataset.SplitTrain), 0o755))

	cfg := &config.Config{DatasetRoot: root, Epochs: 1, BatchSize: 2}
	assert.NilError(t, cfg.Validate())

	_, _, err := buildLoaders(context.Background(), cfg)
	assert.ErrorContains(t, err, "no shards discovered")
}

func TestBuildLoadersRejectsSmallMNISTClassCount(t *testing.T) {
	cfg := &config.Config{Source: config.SourceMNIST, MNISTDir: t.TempDir(), Epochs: 1, BatchSize: 2, NumClasses: 2}
	assert.NilError(t, cfg.Validate())

	_, _, err := buildLoaders(context.Background(), cfg)
	assert.ErrorContains(t, err, "num_classes")
}

func TestInspectSplit(t *testing.T) {
	loader, err := dataset.NewMemoryLoader(mat.NewDense(3, 2, nil), []int{0, 1, 0}, 2, false, 0)
	assert.NilError(t, err)
	assert.NilError(t, inspectSplit(context.Background(), dataset.SplitTest, loader))

	empty, err := dataset.NewMemoryLoader(nil, nil, 2, false, 0)
	assert.NilError(t, err)
	assert.NilError(t, inspectSplit(context.Background(), dataset.SplitTest, empty))
}

func TestShippedConfigSwitchesToMNIST(t *testing.T) {
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "shipnet.yaml"))
	assert.NilError(t, err)
	assert.Equal(t, cfg.NumClasses, 2)

	cfg.ApplyOverrides(config.Overrides{Source: config.SourceMNIST, MNISTDir: t.TempDir()})
	assert.NilError(t, cfg.Validate())
	assert.Equal(t, cfg.NumClasses, dataset.MNISTClasses)

	// Loading gets past the class check and fails only on the missing files.
	_, _, err = buildLoaders(context.Background(), cfg)
	assert.ErrorContains(t, err, "load mnist")
}
