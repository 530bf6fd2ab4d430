package metrics

// EvalAccumulator averages evaluation metrics over examples rather than
// batches, so a short final batch carries its true weight.
type EvalAccumulator struct {
	examples int
	correct  int
	lossSum  float64
}

// Add records a batch of n examples with correct argmax hits and the summed
// per-example loss.
func (a *EvalAccumulator) Add(n, correct int, lossSum float64) {
	a.examples += n
	a.correct += correct
	a.lossSum += lossSum
}

// Examples returns the number of examples seen.
func (a *EvalAccumulator) Examples() int {
	return a.examples
}

// Accuracy returns the fraction of correct predictions.
func (a *EvalAccumulator) Accuracy() float64 {
	if a.examples == 0 {
		return 0
	}
	return float64(a.correct) / float64(a.examples)
}

// Loss returns the mean per-example loss.
func (a *EvalAccumulator) Loss() float64 {
	if a.examples == 0 {
		return 0
	}
	return a.lossSum / float64(a.examples)
}

// Result returns the metrics keyed the way workloads report them.
func (a *EvalAccumulator) Result() map[string]float64 {
	return map[string]float64{
		"accuracy": a.Accuracy(),
		"loss":     a.Loss(),
	}
}
