package metrics

import "time"

// Window accumulates timing and loss across training steps.
type Window struct {
	problems  int
	data      time.Duration
	compute   time.Duration
	steps     int
	lossSum   float64
	lastLoss  float64
	totalStep int
}

// Record adds one training step to the window.
func (w *Window) Record(batchSize int, dataTime, computeTime time.Duration, loss float64) {
	w.problems += batchSize
	w.data += dataTime
	w.compute += computeTime
	w.steps++
	w.totalStep++
	w.lossSum += loss
	w.lastLoss = loss
}

// Steps returns the number of steps recorded since the window was created.
func (w *Window) Steps() int {
	return w.totalStep
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{Steps: w.steps}
	total := w.data + w.compute
	if total > 0 {
		snap.ProblemsPerSec = float64(w.problems) / total.Seconds()
	}
	if w.steps > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(w.steps)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(w.steps)
		snap.MeanLoss = w.lossSum / float64(w.steps)
	}
	snap.LastLoss = w.lastLoss

	w.problems = 0
	w.data = 0
	w.compute = 0
	w.steps = 0
	w.lossSum = 0
	return snap
}

// Snapshot represents loggable metrics.
type Snapshot struct {
	Steps          int
	ProblemsPerSec float64
	AvgDataMS      float64
	AvgComputeMS   float64
	MeanLoss       float64
	LastLoss       float64
}
