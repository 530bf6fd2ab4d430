// Package metrics aggregates training throughput and evaluation results.
package metrics

import "time"

// Window accumulates step timings between two log lines.
type Window struct {
	examples int
	data     time.Duration
	compute  time.Duration
	steps    int
	lossSum  float64
}

// Record adds one training step. loss is the batch mean loss.
func (w *Window) Record(batchSize int, dataTime, computeTime time.Duration, loss float64) {
	w.examples += batchSize
	w.data += dataTime
	w.compute += computeTime
	w.steps++
	w.lossSum += loss
}

// Steps returns the number of steps recorded since the last snapshot.
func (w *Window) Steps() int {
	return w.steps
}

// Snapshot returns aggregated metrics and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{Steps: w.steps}
	total := w.data + w.compute
	if total > 0 {
		snap.ExamplesPerSec = float64(w.examples) / total.Seconds()
	}
	if w.steps > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(w.steps)
		snap.AvgComputeMS = (w.compute.Seconds() * 1000) / float64(w.steps)
		snap.MeanLoss = w.lossSum / float64(w.steps)
	}
	*w = Window{}
	return snap
}

// Snapshot is one window's worth of loggable metrics.
type Snapshot struct {
	Steps          int
	ExamplesPerSec float64
	AvgDataMS      float64
	AvgComputeMS   float64
	MeanLoss       float64
}

// KeysAndValues flattens the snapshot for structured loggers.
func (s Snapshot) KeysAndValues() []any {
	return []any{
		"steps", s.Steps,
		"examplesPerSec", s.ExamplesPerSec,
		"dataMs", s.AvgDataMS,
		"computeMs", s.AvgComputeMS,
		"loss", s.MeanLoss,
	}
}
