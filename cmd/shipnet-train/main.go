package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"shipnet/internal/checkpoint"
	"shipnet/internal/config"
	"shipnet/internal/dataset"
	"shipnet/internal/device"
	"shipnet/internal/history"
	"shipnet/internal/loss"
	"shipnet/internal/model"
	"shipnet/internal/optim"
	"shipnet/internal/trainer"
)

func main() {
	cfgPath := flag.String("config", "configs/shipnet.yaml", "Path to YAML config")
	datasetRoot := flag.String("dataset-root", "", "Override dataset root holding train/val/test shards")
	source := flag.String("source", "", "Dataset source: webdataset or mnist")
	mnistDir := flag.String("mnist-dir", "", "Directory holding the gzipped MNIST IDX files")
	numClasses := flag.Int("num-classes", 0, "Number of output classes (defaults per source)")
	epochs := flag.Int("epochs", 0, "Number of epochs")
	batchSize := flag.Int("batch-size", 0, "Batch size")
	numWorkers := flag.Int("num-workers", 0, "Number of data loader workers")
	seed := flag.Int64("seed", 0, "PRNG seed")
	lr := flag.Float64("lr", 0, "Learning rate")
	deviceName := flag.String("device", "", "Compute device")
	logEvery := flag.Int("log-every", 0, "Log throughput every N training batches")
	historyDB := flag.String("history-db", "", "SQLite file recording per-epoch results")
	snapshotOut := flag.String("snapshot-out", "", "Write the best snapshot to this file")
	initPath := flag.String("init", "", "Warm start from a snapshot file")

	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	cfg.ApplyOverrides(config.Overrides{
		DatasetRoot:  *datasetRoot,
		Source:       *source,
		MNISTDir:     *mnistDir,
		NumClasses:   *numClasses,
		Epochs:       *epochs,
		BatchSize:    *batchSize,
		NumWorkers:   *numWorkers,
		Seed:         *seed,
		LearningRate: *lr,
		Device:       *deviceName,
		LogEvery:     *logEvery,
		HistoryDB:    *historyDB,
		SnapshotOut:  *snapshotOut,
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	dev, err := device.Parse(cfg.Device)
	if err != nil {
		log.Fatalf("select device: %v", err)
	}
	if cpu, ok := dev.(*device.CPU); ok {
		log.Print(cpu.Describe())
		if cfg.NumWorkers == 0 {
			cfg.NumWorkers = cpu.DefaultWorkers()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loaders, inputSize, err := buildLoaders(ctx, cfg)
	if err != nil {
		log.Fatalf("build loaders: %v", err)
	}

	net, err := model.NewShipNet(inputSize, cfg.HiddenUnits, cfg.NumClasses, cfg.Dropout, cfg.Seed)
	if err != nil {
		log.Fatalf("build model: %v", err)
	}
	if *initPath != "" {
		snap, err := checkpoint.LoadFile(*initPath)
		if err != nil {
			log.Fatalf("load snapshot: %v", err)
		}
		if err := net.LoadStateDict(snap); err != nil {
			log.Fatalf("load snapshot %s: %v", *initPath, err)
		}
		log.Printf("init=%s tensors=%d", *initPath, snap.Len())
	}
	opt := optim.NewSGD(net.Parameters(), cfg.LearningRate, cfg.Momentum, cfg.WeightDecay)

	runCfg := trainer.RunConfig{
		Epochs:   cfg.Epochs,
		Device:   dev,
		Logger:   log.Default(),
		LogEvery: cfg.LogEvery,
	}

	if cfg.HistoryDB != "" {
		store, err := history.Open(cfg.HistoryDB)
		if err != nil {
			log.Fatalf("open history: %v", err)
		}
		defer store.Close()
		run, err := store.StartRun(ctx, history.RunInfo{Epochs: cfg.Epochs, Device: dev.Name()})
		if err != nil {
			log.Fatalf("start run: %v", err)
		}
		runCfg.Recorder = run
		log.Printf("history_db=%s run_id=%d", cfg.HistoryDB, run.ID)
	}

	res, err := trainer.Train(ctx, net, loaders, loss.CrossEntropy{}, opt, runCfg)
	if err != nil {
		log.Fatalf("training failed: %v", err)
	}

	if cfg.SnapshotOut != "" {
		if err := checkpoint.SaveFile(cfg.SnapshotOut, res.Best); err != nil {
			log.Fatalf("save snapshot: %v", err)
		}
		log.Printf("snapshot=%s best_epoch=%d best_acc=%.4f", cfg.SnapshotOut, res.BestEpoch, res.BestAccuracy)
	}
}

// buildLoaders returns the train and val loaders for the configured source
// along with the width of their input rows.
func buildLoaders(ctx context.Context, cfg *config.Config) (trainer.Dataloaders, int, error) {
	switch cfg.Source {
	case config.SourceMNIST:
		if cfg.NumClasses < dataset.MNISTClasses {
			return trainer.Dataloaders{}, 0, fmt.Errorf("mnist needs num_classes >= %d (got %d)", dataset.MNISTClasses, cfg.NumClasses)
		}
		train, val, err := dataset.LoadMNIST(cfg.MNISTDir, cfg.BatchSize, cfg.Seed)
		if err != nil {
			return trainer.Dataloaders{}, 0, err
		}
		log.Printf("source=mnist dir=%s train=%d val=%d", cfg.MNISTDir, train.Size(), val.Size())
		return trainer.Dataloaders{Train: train, Val: val}, train.FeatureSize(), nil
	default:
		return buildShardLoaders(ctx, cfg)
	}
}

func buildShardLoaders(ctx context.Context, cfg *config.Config) (trainer.Dataloaders, int, error) {
	splits, err := dataset.DiscoverSplits(cfg.DatasetRoot, dataset.SplitTrain, dataset.SplitVal, dataset.SplitTest)
	if err != nil {
		return trainer.Dataloaders{}, 0, fmt.Errorf("discover shards under %s: %w", cfg.DatasetRoot, err)
	}

	loaders := make(map[string]*dataset.ShardLoader, len(splits))
	for _, split := range []string{dataset.SplitTrain, dataset.SplitVal, dataset.SplitTest} {
		shards := splits[split]
		if len(shards) == 0 {
			if split == dataset.SplitTest {
				continue
			}
			return trainer.Dataloaders{}, 0, fmt.Errorf("no shards discovered under %s/%s", cfg.DatasetRoot, split)
		}
		loader, err := dataset.NewShardLoader(ctx, dataset.ShardOptions{
			Shards:     shards,
			BatchSize:  cfg.BatchSize,
			NumWorkers: cfg.NumWorkers,
			Grid:       cfg.ImageGrid,
			NumClasses: cfg.NumClasses,
			Seed:       cfg.Seed,
			Shuffle:    split == dataset.SplitTrain,
		})
		if err != nil {
			return trainer.Dataloaders{}, 0, fmt.Errorf("%s split: %w", split, err)
		}
		loaders[split] = loader
		log.Printf("split=%s shards=%d samples=%d", split, len(shards), loader.Size())
	}

	if test, ok := loaders[dataset.SplitTest]; ok {
		if err := inspectSplit(ctx, dataset.SplitTest, test); err != nil {
			return trainer.Dataloaders{}, 0, err
		}
	}

	train := loaders[dataset.SplitTrain]
	return trainer.Dataloaders{Train: train, Val: loaders[dataset.SplitVal]}, train.FeatureSize(), nil
}

// inspectSplit logs the shape of the first batch of a split without
// training on it.
func inspectSplit(ctx context.Context, name string, loader dataset.Loader) error {
	it := loader.Iterate(ctx)
	defer it.Close()
	batch, err := it.Next()
	if errors.Is(err, io.EOF) {
		log.Printf("split=%s empty", name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("inspect %s split: %w", name, err)
	}
	rows, cols := batch.Inputs.Dims()
	log.Printf("split=%s first_batch=%dx%d labels=%d", name, rows, cols, len(batch.Labels))
	return nil
}
