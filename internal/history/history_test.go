package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"shipnet/internal/metrics"
)

func TestRunRecordsPhases(t *testing.T) {
	ctx := context.Background()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	assert.NilError(t, err)
	defer store.Close()

	run, err := store.StartRun(ctx, RunInfo{Epochs: 3, Device: "cpu"})
	assert.NilError(t, err)

	for epoch, acc := range []float64{0.5, 0.7, 0.6} {
		assert.NilError(t, run.RecordPhase(ctx, metrics.PhaseResult{
			Epoch: epoch, Phase: "train", Loss: 1, Accuracy: 0.9, Samples: 10, Duration: time.Millisecond,
		}))
		assert.NilError(t, run.RecordPhase(ctx, metrics.PhaseResult{
			Epoch: epoch, Phase: "val", Loss: 1, Accuracy: acc, Samples: 10, Improved: epoch < 2,
		}))
	}

	_, _, err = store.Best(ctx, run.ID)
	assert.ErrorContains(t, err, "not finished")

	assert.NilError(t, run.Finish(ctx, metrics.Summary{BestAccuracy: 0.7, BestEpoch: 1, Elapsed: time.Second}))

	hist, err := store.ValHistory(ctx, run.ID)
	assert.NilError(t, err)
	assert.DeepEqual(t, hist, []float64{0.5, 0.7, 0.6})

	acc, epoch, err := store.Best(ctx, run.ID)
	assert.NilError(t, err)
	assert.Equal(t, acc, 0.7)
	assert.Equal(t, epoch, 1)
}

func TestRunsAreSeparate(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := Open(path)
	assert.NilError(t, err)

	first, err := store.StartRun(ctx, RunInfo{Epochs: 1, Device: "cpu"})
	assert.NilError(t, err)
	assert.NilError(t, first.RecordPhase(ctx, metrics.PhaseResult{Phase: "val", Accuracy: 0.25}))
	assert.NilError(t, store.Close())

	reopened, err := Open(path)
	assert.NilError(t, err)
	defer reopened.Close()
	second, err := reopened.StartRun(ctx, RunInfo{Epochs: 1, Device: "cpu"})
	assert.NilError(t, err)
	assert.Assert(t, second.ID != first.ID)

	hist, err := reopened.ValHistory(ctx, second.ID)
	assert.NilError(t, err)
	assert.Equal(t, len(hist), 0)

	hist, err = reopened.ValHistory(ctx, first.ID)
	assert.NilError(t, err)
	assert.DeepEqual(t, hist, []float64{0.25})
}
