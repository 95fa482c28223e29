package metrics

import (
	"math"
	"testing"
	"time"
)

func TestWindowSnapshot(t *testing.T) {
	var w Window
	w.Record(10, 2*time.Millisecond, 8*time.Millisecond, 1.2)
	w.Record(10, 3*time.Millisecond, 7*time.Millisecond, 0.8)
	snap := w.Snapshot()
	if math.Abs(snap.ProblemsPerSec-1000) > 1e-6 {
		t.Fatalf("unexpected throughput %.2f", snap.ProblemsPerSec)
	}
	if math.Abs(snap.AvgDataMS-2.5) > 1e-9 || math.Abs(snap.AvgComputeMS-7.5) > 1e-9 {
		t.Fatalf("unexpected averages data=%.3f compute=%.3f", snap.AvgDataMS, snap.AvgComputeMS)
	}
	if math.Abs(snap.MeanLoss-1.0) > 1e-9 {
		t.Fatalf("expected mean loss 1.0, got %.4f", snap.MeanLoss)
	}
	if snap.LastLoss != 0.8 {
		t.Fatalf("expected last loss 0.8, got %.2f", snap.LastLoss)
	}
	if snap.Steps != 2 {
		t.Fatalf("expected 2 steps, got %d", snap.Steps)
	}
	if w.problems != 0 || w.steps != 0 || w.lossSum != 0 {
		t.Fatalf("window was not reset")
	}
	if w.Steps() != 2 {
		t.Fatalf("total steps should survive snapshots, got %d", w.Steps())
	}
}

func TestEmptySnapshot(t *testing.T) {
	var w Window
	snap := w.Snapshot()
	if snap.ProblemsPerSec != 0 || snap.MeanLoss != 0 || snap.Steps != 0 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}
