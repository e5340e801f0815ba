package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const (
	SourceWebDataset = "webdataset"
	SourceMNIST      = "mnist"
)

// DefaultLogEvery applies when the config file has no log_every key.
const DefaultLogEvery = 50

// Config captures the runtime knobs for a training run.
type Config struct {
	DatasetRoot  string  `yaml:"dataset_root"`
	Source       string  `yaml:"source"`
	MNISTDir     string  `yaml:"mnist_dir"`
	Epochs       int     `yaml:"epochs"`
	BatchSize    int     `yaml:"batch_size"`
	NumWorkers   int     `yaml:"num_workers"`
	Seed         int64   `yaml:"seed"`
	LearningRate float64 `yaml:"learning_rate"`
	Momentum     float64 `yaml:"momentum"`
	WeightDecay  float64 `yaml:"weight_decay"`
	HiddenUnits  int     `yaml:"hidden_units"`
	Dropout      float64 `yaml:"dropout"`
	ImageGrid    int     `yaml:"image_grid"`
	NumClasses   int     `yaml:"num_classes"`
	Device       string  `yaml:"device"`
	LogEvery     int     `yaml:"log_every"`
	HistoryDB    string  `yaml:"history_db"`
	SnapshotOut  string  `yaml:"snapshot_out"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	DatasetRoot  string
	Source       string
	MNISTDir     string
	NumClasses   int
	Epochs       int
	BatchSize    int
	NumWorkers   int
	Seed         int64
	LearningRate float64
	Device       string
	LogEvery     int
	HistoryDB    string
	SnapshotOut  string
}

// Load reads and validates a Config from YAML.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := parseYAML(f)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override. Switching the
// source without overriding num_classes resets it to the new source's default.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.DatasetRoot != "" {
		c.DatasetRoot = o.DatasetRoot
	}
	if o.Source != "" {
		source := strings.ToLower(o.Source)
		if source != c.Source {
			c.NumClasses = 0
		}
		c.Source = source
	}
	if o.MNISTDir != "" {
		c.MNISTDir = o.MNISTDir
	}
	if o.NumClasses > 0 {
		c.NumClasses = o.NumClasses
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.LearningRate > 0 {
		c.LearningRate = o.LearningRate
	}
	if o.Device != "" {
		c.Device = o.Device
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
	if o.HistoryDB != "" {
		c.HistoryDB = o.HistoryDB
	}
	if o.SnapshotOut != "" {
		c.SnapshotOut = o.SnapshotOut
	}
}

// Validate verifies the config is runnable and fills defaults.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Source == "" {
		c.Source = SourceWebDataset
	}
	switch c.Source {
	case SourceWebDataset:
		if c.DatasetRoot == "" {
			return errors.New("dataset_root must be set for the webdataset source")
		}
		if c.NumClasses == 0 {
			c.NumClasses = 2
		}
	case SourceMNIST:
		if c.MNISTDir == "" {
			return errors.New("mnist_dir must be set for the mnist source")
		}
		if c.NumClasses == 0 {
			c.NumClasses = 10
		}
	default:
		return fmt.Errorf("source must be %q or %q (got %q)", SourceWebDataset, SourceMNIST, c.Source)
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be > 0 (got %d)", c.Epochs)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.NumWorkers < 0 {
		return fmt.Errorf("num_workers must be >= 0 (got %d)", c.NumWorkers)
	}
	if c.LearningRate == 0 {
		c.LearningRate = 0.001
	}
	if c.LearningRate < 0 {
		return fmt.Errorf("learning_rate must be > 0 (got %g)", c.LearningRate)
	}
	if c.Momentum < 0 || c.Momentum >= 1 {
		return fmt.Errorf("momentum must be in [0, 1) (got %g)", c.Momentum)
	}
	if c.WeightDecay < 0 {
		return fmt.Errorf("weight_decay must be >= 0 (got %g)", c.WeightDecay)
	}
	if c.HiddenUnits <= 0 {
		c.HiddenUnits = 64
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("dropout must be in [0, 1) (got %g)", c.Dropout)
	}
	if c.ImageGrid <= 0 {
		c.ImageGrid = 16
	}
	if c.NumClasses < 2 {
		return fmt.Errorf("num_classes must be >= 2 (got %d)", c.NumClasses)
	}
	if c.Device == "" {
		c.Device = "cpu"
	}
	if c.LogEvery < 0 {
		return fmt.Errorf("log_every must be >= 0 (got %d)", c.LogEvery)
	}
	return nil
}

func parseYAML(r io.Reader) (*Config, error) {
	cfg := &Config{LogEvery: DefaultLogEvery}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: missing ':'", lineNo)
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		value = strings.Trim(value, "\"'")

		var err error
		switch key {
		case "dataset_root":
			cfg.DatasetRoot = value
		case "source":
			cfg.Source = strings.ToLower(value)
		case "mnist_dir":
			cfg.MNISTDir = value
		case "device":
			cfg.Device = value
		case "history_db":
			cfg.HistoryDB = value
		case "snapshot_out":
			cfg.SnapshotOut = value
		case "epochs":
			cfg.Epochs, err = strconv.Atoi(value)
		case "batch_size":
			cfg.BatchSize, err = strconv.Atoi(value)
		case "num_workers":
			cfg.NumWorkers, err = strconv.Atoi(value)
		case "hidden_units":
			cfg.HiddenUnits, err = strconv.Atoi(value)
		case "image_grid":
			cfg.ImageGrid, err = strconv.Atoi(value)
		case "num_classes":
			cfg.NumClasses, err = strconv.Atoi(value)
		case "log_every":
			cfg.LogEvery, err = strconv.Atoi(value)
		case "seed":
			cfg.Seed, err = strconv.ParseInt(value, 10, 64)
		case "learning_rate":
			cfg.LearningRate, err = strconv.ParseFloat(value, 64)
		case "momentum":
			cfg.Momentum, err = strconv.ParseFloat(value, 64)
		case "weight_decay":
			cfg.WeightDecay, err = strconv.ParseFloat(value, 64)
		case "dropout":
			cfg.Dropout, err = strconv.ParseFloat(value, 64)
		default:
			return nil, fmt.Errorf("line %d: unknown key %s", lineNo, key)
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %s: %w", lineNo, key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return cfg, nil
}
