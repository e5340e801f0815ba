package metrics

import (
	"errors"
	"time"
)

// ErrEmptyDataset is reported when epoch statistics are requested for a
// phase whose dataset holds no samples.
var ErrEmptyDataset = errors.New("metrics: dataset is empty")

// Accumulator sums loss and correct predictions over one phase.
type Accumulator struct {
	runningLoss    float64
	runningCorrect int
	seen           int
}

// Add records one batch. loss is the batch mean.
func (a *Accumulator) Add(loss float64, batchSize, correct int) {
	a.runningLoss += loss * float64(batchSize)
	a.runningCorrect += correct
	a.seen += batchSize
}

// Seen returns the number of samples added since the last reset.
func (a *Accumulator) Seen() int { return a.seen }

// Result divides the running totals by the dataset size.
func (a *Accumulator) Result(datasetSize int) (loss, accuracy float64, err error) {
	if datasetSize <= 0 {
		return 0, 0, ErrEmptyDataset
	}
	n := float64(datasetSize)
	return a.runningLoss / n, float64(a.runningCorrect) / n, nil
}

// Reset zeroes the running totals.
func (a *Accumulator) Reset() {
	*a = Accumulator{}
}

// Window accumulates timing stats across multiple steps.
type Window struct {
	samples  int
	data     time.Duration
	compute  time.Duration
	steps    int
	lastLoss float64
}

// Record adds a new measurement to the window.
func (w *Window) Record(batchSize int, dataTime, computeTime time.Duration, loss float64) {
	w.samples += batchSize
	w.data += dataTime
	w.compute += computeTime
	w.steps++
	w.lastLoss = loss
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{}
	total := w.data + w.compute
	if total > 0 {
		snap.ImagesPerSec = float64(w.samples) / total.Seconds()
	}
	if w.steps > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(w.steps)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(w.steps)
	}
	snap.LastLoss = w.lastLoss

	w.samples = 0
	w.data = 0
	w.compute = 0
	w.steps = 0
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	ImagesPerSec float64
	AvgDataMS    float64
	AvgComputeMS float64
	LastLoss     float64
}

// PhaseResult is the outcome of one train or val pass.
type PhaseResult struct {
	Epoch        int
	Phase        string
	Loss         float64
	Accuracy     float64
	Samples      int
	Duration     time.Duration
	ImagesPerSec float64
	// Improved is set on val results that replaced the best snapshot.
	Improved bool
}

// Summary describes a finished run.
type Summary struct {
	BestAccuracy float64
	BestEpoch    int
	Elapsed      time.Duration
	History      []float64
}
