package metrics

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestWindowSnapshot(t *testing.T) {
	var w Window
	w.Record(64, 20*time.Millisecond, 10*time.Millisecond, 1.2)
	w.Record(64, 10*time.Millisecond, 20*time.Millisecond, 0.8)
	snap := w.Snapshot()
	if math.Abs(snap.ImagesPerSec-2133.3333) > 1 {
		t.Fatalf("unexpected throughput %.2f", snap.ImagesPerSec)
	}
	if w.samples != 0 || w.steps != 0 {
		t.Fatalf("window was not reset")
	}
	if snap.LastLoss != 0.8 {
		t.Fatalf("expected last loss 0.8, got %.2f", snap.LastLoss)
	}
}

func TestAccumulatorWeightsLossByBatchSize(t *testing.T) {
	var a Accumulator
	a.Add(1.0, 4, 3)
	a.Add(0.5, 2, 2)
	loss, acc, err := a.Result(6)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if math.Abs(loss-5.0/6.0) > 1e-12 {
		t.Fatalf("expected loss %.4f, got %.4f", 5.0/6.0, loss)
	}
	if math.Abs(acc-5.0/6.0) > 1e-12 {
		t.Fatalf("expected accuracy %.4f, got %.4f", 5.0/6.0, acc)
	}
	if a.Seen() != 6 {
		t.Fatalf("expected 6 samples seen, got %d", a.Seen())
	}
	a.Reset()
	if a.Seen() != 0 {
		t.Fatalf("accumulator was not reset")
	}
}

func TestAccumulatorEmptyDataset(t *testing.T) {
	var a Accumulator
	if _, _, err := a.Result(0); !errors.Is(err, ErrEmptyDataset) {
		t.Fatalf("expected ErrEmptyDataset, got %v", err)
	}
}
