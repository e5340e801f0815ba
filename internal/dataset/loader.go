package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"golang.org/x/xerrors"

	"shipnet/internal/model"
)

// Loader yields a dataset in batches, one pass per Iterate call.
type Loader interface {
	// Iterate starts a new pass over the dataset.
	Iterate(ctx context.Context) Iterator
	// Size is the number of samples in the dataset.
	Size() int
}

// Iterator walks one pass. Next returns io.EOF after the last batch.
type Iterator interface {
	Next() (model.Batch, error)
	Close() error
}

// ShardOptions configures a ShardLoader.
type ShardOptions struct {
	Shards     []string
	BatchSize  int
	NumWorkers int
	Grid       int
	NumClasses int
	Seed       int64
	Shuffle    bool
	PendingCap int
}

// ShardLoader serves WebDataset shards as batches of grid intensity features.
type ShardLoader struct {
	opts  ShardOptions
	size  int
	epoch int64
}

// NewShardLoader validates opts and counts the samples held by the shards.
func NewShardLoader(ctx context.Context, opts ShardOptions) (*ShardLoader, error) {
	if len(opts.Shards) == 0 {
		return nil, errors.New("dataset: no shards")
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("dataset: batch size must be > 0 (got %d)", opts.BatchSize)
	}
	if opts.NumClasses <= 0 {
		return nil, fmt.Errorf("dataset: num classes must be > 0 (got %d)", opts.NumClasses)
	}
	if opts.Grid <= 0 {
		opts.Grid = DefaultGrid
	}
	size, err := CountSamples(ctx, opts.Shards, opts.PendingCap)
	if err != nil {
		return nil, xerrors.Errorf("dataset: count samples: %w", err)
	}
	return &ShardLoader{opts: opts, size: size}, nil
}

func (l *ShardLoader) Size() int { return l.size }

// FeatureSize is the width of each input row.
func (l *ShardLoader) FeatureSize() int { return l.opts.Grid * l.opts.Grid }

func (l *ShardLoader) Iterate(ctx context.Context) Iterator {
	seed := l.opts.Seed + l.epoch
	l.epoch++

	iterCtx, cancel := context.WithCancel(ctx)
	samples, errs, err := StartSampler(iterCtx, SamplerOptions{
		Shards:     l.opts.Shards,
		Seed:       seed,
		Shuffle:    l.opts.Shuffle,
		NumWorkers: l.opts.NumWorkers,
		PendingCap: l.opts.PendingCap,
	})
	if err != nil {
		cancel()
		return &failedIterator{err: err}
	}
	return &shardIterator{
		parent:  ctx,
		cancel:  cancel,
		samples: samples,
		errs:    errs,
		opts:    l.opts,
	}
}

type shardIterator struct {
	parent  context.Context
	cancel  context.CancelFunc
	samples <-chan Sample
	errs    <-chan error
	opts    ShardOptions
	done    bool
}

func (it *shardIterator) Next() (model.Batch, error) {
	if it.done {
		return model.Batch{}, io.EOF
	}
	width := it.opts.Grid * it.opts.Grid
	data := make([]float64, 0, it.opts.BatchSize*width)
	labels := make([]int, 0, it.opts.BatchSize)

	for len(labels) < it.opts.BatchSize && !it.done {
		select {
		case err, ok := <-it.errs:
			if !ok {
				it.errs = nil
				continue
			}
			if err != nil {
				return model.Batch{}, err
			}
		case sample, ok := <-it.samples:
			if !ok {
				it.done = true
				continue
			}
			if sample.Label < 0 || sample.Label >= it.opts.NumClasses {
				return model.Batch{}, fmt.Errorf("dataset: sample %s label %d outside [0, %d)", sample.Key, sample.Label, it.opts.NumClasses)
			}
			features, err := extractFeatures(sample.Image, it.opts.Grid)
			if err != nil {
				return model.Batch{}, xerrors.Errorf("dataset: sample %s: %w", sample.Key, err)
			}
			data = append(data, features...)
			labels = append(labels, sample.Label)
		}
	}

	if it.done {
		if it.errs != nil {
			if err, ok := <-it.errs; ok && err != nil {
				return model.Batch{}, err
			}
		}
		if err := it.parent.Err(); err != nil {
			return model.Batch{}, err
		}
		if len(labels) == 0 {
			return model.Batch{}, io.EOF
		}
	}
	return model.Batch{
		Inputs: mat.NewDense(len(labels), width, data),
		Labels: labels,
	}, nil
}

func (it *shardIterator) Close() error {
	it.cancel()
	return nil
}

type failedIterator struct {
	err error
}

func (it *failedIterator) Next() (model.Batch, error) { return model.Batch{}, it.err }

func (it *failedIterator) Close() error { return nil }

// MemoryLoader serves rows held in memory.
type MemoryLoader struct {
	inputs    *mat.Dense
	labels    []int
	batchSize int
	shuffle   bool
	seed      int64
	epoch     int64
}

// NewMemoryLoader serves inputs row by row alongside labels. inputs may be
// nil for an empty dataset.
func NewMemoryLoader(inputs *mat.Dense, labels []int, batchSize int, shuffle bool, seed int64) (*MemoryLoader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("dataset: batch size must be > 0 (got %d)", batchSize)
	}
	rows := 0
	if inputs != nil {
		rows, _ = inputs.Dims()
	}
	if rows != len(labels) {
		return nil, fmt.Errorf("dataset: %d input rows for %d labels", rows, len(labels))
	}
	return &MemoryLoader{
		inputs:    inputs,
		labels:    labels,
		batchSize: batchSize,
		shuffle:   shuffle,
		seed:      seed,
	}, nil
}

func (l *MemoryLoader) Size() int { return len(l.labels) }

// FeatureSize is the width of each input row.
func (l *MemoryLoader) FeatureSize() int {
	if l.inputs == nil {
		return 0
	}
	_, cols := l.inputs.Dims()
	return cols
}

func (l *MemoryLoader) Iterate(ctx context.Context) Iterator {
	order := make([]int, len(l.labels))
	for i := range order {
		order[i] = i
	}
	if l.shuffle {
		rng := rand.New(rand.NewSource(l.seed + l.epoch))
		rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}
	l.epoch++
	return &memoryIterator{ctx: ctx, loader: l, order: order}
}

type memoryIterator struct {
	ctx    context.Context
	loader *MemoryLoader
	order  []int
	pos    int
}

func (it *memoryIterator) Next() (model.Batch, error) {
	if err := it.ctx.Err(); err != nil {
		return model.Batch{}, err
	}
	if it.pos >= len(it.order) {
		return model.Batch{}, io.EOF
	}
	end := it.pos + it.loader.batchSize
	if end > len(it.order) {
		end = len(it.order)
	}
	_, cols := it.loader.inputs.Dims()
	inputs := mat.NewDense(end-it.pos, cols, nil)
	labels := make([]int, 0, end-it.pos)
	for i, idx := range it.order[it.pos:end] {
		inputs.SetRow(i, it.loader.inputs.RawRowView(idx))
		labels = append(labels, it.loader.labels[idx])
	}
	it.pos = end
	return model.Batch{Inputs: inputs, Labels: labels}, nil
}

func (it *memoryIterator) Close() error { return nil }
