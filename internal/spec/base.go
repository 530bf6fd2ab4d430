package spec

import "fmt"

// Base holds the constants every workload exposes and supplies the parts of
// the contract that do not depend on the model. Concrete workloads embed it
// and override the abstract obligations.
type Base struct {
	Name          string
	Target        float64
	Loss          LossType
	Mean          []float64
	Stddev        []float64
	MaxRuntimeSec int
	EvalPeriodSec int
	NumTrain      int
	NumEval       int
}

func (b *Base) TargetValue() float64      { return b.Target }
func (b *Base) LossType() LossType        { return b.Loss }
func (b *Base) MaxAllowedRuntimeSec() int { return b.MaxRuntimeSec }
func (b *Base) EvalPeriodTimeSec() int    { return b.EvalPeriodSec }
func (b *Base) NumTrainExamples() int     { return b.NumTrain }
func (b *Base) NumEvalExamples() int      { return b.NumEval }

// TrainMean returns a copy of the per-channel mean.
func (b *Base) TrainMean() []float64 {
	return append([]float64(nil), b.Mean...)
}

// TrainStddev returns a copy of the per-channel standard deviation.
func (b *Base) TrainStddev() []float64 {
	return append([]float64(nil), b.Stddev...)
}

// HasReachedGoal reports whether accuracy strictly exceeds the target.
func (b *Base) HasReachedGoal(result EvalResult) bool {
	return result["accuracy"] > b.Target
}

func (b *Base) IsOutputParams(key ParameterKey) (bool, error) {
	return false, b.unimplemented("IsOutputParams")
}

func (b *Base) ParamShapes() (map[ParameterKey][]int, error) {
	return nil, b.unimplemented("ParamShapes")
}

func (b *Base) ModelParamsTypes() (map[ParameterKey]ParamType, error) {
	return nil, b.unimplemented("ModelParamsTypes")
}

func (b *Base) unimplemented(method string) error {
	name := b.Name
	if name == "" {
		name = "workload"
	}
	return fmt.Errorf("%s: %s: %w", name, method, ErrNotImplemented)
}
