package trainer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"shipnet/internal/dataset"
	"shipnet/internal/device"
	"shipnet/internal/loss"
	"shipnet/internal/metrics"
	"shipnet/internal/model"
	"shipnet/internal/optim"
)

// Phase is one half of an epoch.
type Phase int

const (
	PhaseTrain Phase = iota
	PhaseVal
)

var phases = [...]Phase{PhaseTrain, PhaseVal}

func (p Phase) String() string {
	switch p {
	case PhaseTrain:
		return "train"
	case PhaseVal:
		return "val"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// gradients reports whether the phase backpropagates and updates parameters.
func (p Phase) gradients() bool {
	return p == PhaseTrain
}

// Dataloaders holds one loader per phase.
type Dataloaders struct {
	Train dataset.Loader
	Val   dataset.Loader
}

func (d Dataloaders) forPhase(p Phase) dataset.Loader {
	if p == PhaseTrain {
		return d.Train
	}
	return d.Val
}

// Recorder receives phase results as they complete.
type Recorder interface {
	RecordPhase(ctx context.Context, r metrics.PhaseResult) error
	Finish(ctx context.Context, s metrics.Summary) error
}

// RunConfig captures the knobs required by the training loop.
type RunConfig struct {
	Epochs int
	// Device defaults to the CPU.
	Device device.Device
	// Logger defaults to the standard logger.
	Logger *log.Logger
	// LogEvery logs throughput every N training batches. Zero disables it.
	LogEvery int
	Recorder Recorder
}

// Result is the outcome of a training run.
type Result struct {
	// Model holds the best snapshot's parameters.
	Model        model.Model
	History      []float64
	Best         model.Snapshot
	BestAccuracy float64
	// BestEpoch is -1 when no validation pass beat an accuracy of zero.
	BestEpoch int
	Elapsed   time.Duration
}

type runner struct {
	model     model.Model
	loaders   Dataloaders
	criterion loss.Criterion
	opt       optim.Optimizer
	device    device.Device
	logger    *log.Logger
	logEvery  int
	acc       metrics.Accumulator
}

// Train fits mdl on the train loader and evaluates it on the val loader once
// per epoch. The parameters with the highest validation accuracy are loaded
// back into mdl before returning. Collaborator errors abort the run and are
// returned as is.
func Train(ctx context.Context, mdl model.Model, loaders Dataloaders, criterion loss.Criterion, opt optim.Optimizer, cfg RunConfig) (*Result, error) {
	if cfg.Epochs <= 0 {
		return nil, errors.New("trainer: epochs must be > 0")
	}
	if mdl == nil || criterion == nil || opt == nil {
		return nil, errors.New("trainer: model, criterion and optimizer are required")
	}
	if loaders.Train == nil || loaders.Val == nil {
		return nil, errors.New("trainer: train and val loaders are required")
	}
	if cfg.Device == nil {
		cfg.Device = device.NewCPU()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	r := &runner{
		model:     mdl,
		loaders:   loaders,
		criterion: criterion,
		opt:       opt,
		device:    cfg.Device,
		logger:    cfg.Logger,
		logEvery:  cfg.LogEvery,
	}

	since := time.Now()
	if err := r.device.PlaceParameters(mdl.Parameters()); err != nil {
		return nil, err
	}

	best := mdl.StateDict()
	bestAcc := 0.0
	bestEpoch := -1
	history := make([]float64, 0, cfg.Epochs)

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		r.logger.Printf("epoch=%d/%d", epoch, cfg.Epochs-1)
		for _, phase := range phases {
			res, err := r.runPhase(ctx, epoch, phase)
			if err != nil {
				return nil, err
			}
			if phase == PhaseVal {
				history = append(history, res.Accuracy)
				if res.Accuracy > bestAcc {
					bestAcc = res.Accuracy
					bestEpoch = epoch
					best = mdl.StateDict()
					res.Improved = true
				}
			}
			r.logger.Printf("epoch=%d phase=%s loss=%.4f acc=%.4f improved=%t",
				epoch, phase, res.Loss, res.Accuracy, res.Improved)
			if cfg.Recorder != nil {
				if err := cfg.Recorder.RecordPhase(ctx, res); err != nil {
					return nil, err
				}
			}
		}
	}

	elapsed := time.Since(since)
	r.logger.Printf("training complete in %dm %ds", int(elapsed.Minutes()), int(elapsed.Seconds())%60)
	r.logger.Printf("best val acc=%.4f epoch=%d", bestAcc, bestEpoch)

	if err := mdl.LoadStateDict(best); err != nil {
		return nil, err
	}
	if cfg.Recorder != nil {
		err := cfg.Recorder.Finish(ctx, metrics.Summary{
			BestAccuracy: bestAcc,
			BestEpoch:    bestEpoch,
			Elapsed:      elapsed,
			History:      history,
		})
		if err != nil {
			return nil, err
		}
	}

	return &Result{
		Model:        mdl,
		History:      history,
		Best:         best,
		BestAccuracy: bestAcc,
		BestEpoch:    bestEpoch,
		Elapsed:      elapsed,
	}, nil
}

func (r *runner) runPhase(ctx context.Context, epoch int, phase Phase) (metrics.PhaseResult, error) {
	grads := phase.gradients()
	if grads {
		r.model.Train()
	} else {
		r.model.Eval()
	}

	loader := r.loaders.forPhase(phase)
	r.acc.Reset()
	var window metrics.Window
	start := time.Now()

	it := loader.Iterate(ctx)
	defer it.Close()

	for step := 1; ; step++ {
		startData := time.Now()
		batch, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return metrics.PhaseResult{}, err
		}
		batch, err = r.device.PlaceBatch(batch)
		if err != nil {
			return metrics.PhaseResult{}, err
		}
		dataTime := time.Since(startData)

		startCompute := time.Now()
		lossValue, correct, err := r.step(batch, grads)
		if err != nil {
			return metrics.PhaseResult{}, err
		}
		computeTime := time.Since(startCompute)

		r.acc.Add(lossValue, batch.Size(), correct)
		window.Record(batch.Size(), dataTime, computeTime, lossValue)

		if grads && r.logEvery > 0 && step%r.logEvery == 0 {
			snap := window.Snapshot()
			r.logger.Printf("epoch=%d phase=%s step=%d images_per_sec=%.1f data_ms=%.2f compute_ms=%.2f loss=%.4f",
				epoch,
				phase,
				step,
				snap.ImagesPerSec,
				snap.AvgDataMS,
				snap.AvgComputeMS,
				snap.LastLoss,
			)
		}
	}

	epochLoss, epochAcc, err := r.acc.Result(loader.Size())
	if err != nil {
		return metrics.PhaseResult{}, fmt.Errorf("trainer: %s phase: %w", phase, err)
	}
	duration := time.Since(start)
	res := metrics.PhaseResult{
		Epoch:    epoch,
		Phase:    phase.String(),
		Loss:     epochLoss,
		Accuracy: epochAcc,
		Samples:  r.acc.Seen(),
		Duration: duration,
	}
	if duration > 0 {
		res.ImagesPerSec = float64(r.acc.Seen()) / duration.Seconds()
	}
	return res, nil
}

// step runs one batch and returns its mean loss and number of correct
// predictions. Parameters change only when grads is set.
func (r *runner) step(batch model.Batch, grads bool) (float64, int, error) {
	r.opt.ZeroGrad()

	preds, err := r.model.Forward(batch.Inputs)
	if err != nil {
		return 0, 0, err
	}
	l, err := r.criterion.Forward(preds, batch.Labels)
	if err != nil {
		return 0, 0, err
	}
	correct := countCorrect(preds, batch.Labels)

	if grads {
		if err := r.model.Backward(l.Grad); err != nil {
			return 0, 0, err
		}
		if err := r.opt.Step(); err != nil {
			return 0, 0, err
		}
	}
	return l.Value, correct, nil
}

// countCorrect compares the arg-max of each prediction row with its label.
func countCorrect(preds *mat.Dense, labels []int) int {
	correct := 0
	for i, label := range labels {
		if floats.MaxIdx(preds.RawRowView(i)) == label {
			correct++
		}
	}
	return correct
}
