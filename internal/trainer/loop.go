// Package trainer drives a training algorithm against a workload.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"github.com/danielsnider/algorithmic-efficiency/internal/blobs"
	"github.com/danielsnider/algorithmic-efficiency/internal/checkpoint"
	"github.com/danielsnider/algorithmic-efficiency/internal/metrics"
	"github.com/danielsnider/algorithmic-efficiency/internal/prng"
	"github.com/danielsnider/algorithmic-efficiency/internal/profiler"
	"github.com/danielsnider/algorithmic-efficiency/internal/spec"
	"github.com/danielsnider/algorithmic-efficiency/internal/submission"
)

// RunConfig captures the knobs required by the training loop.
type RunConfig struct {
	Workload  spec.Workload
	Algorithm submission.Algorithm
	DataDir   string
	BatchSize int
	Seed      int64
	// MaxSteps stops training early when > 0. Steps restored from
	// InitCheckpoint count toward it.
	MaxSteps int
	LogEvery int

	// Tracer defaults to profiler.NoOp.
	Tracer profiler.Tracer
	// Checkpoints, when set, receives the final parameters.
	Checkpoints blobs.Store
	ArchName    string
	// InitCheckpoint, when set, is the location of a checkpoint to restore
	// after initialization. The run continues from its step.
	InitCheckpoint string
}

// StopReason says why Run returned.
type StopReason string

const (
	StopGoalReached StopReason = "goal_reached"
	StopBudget      StopReason = "budget_exhausted"
	StopMaxSteps    StopReason = "max_steps"
)

// EvalRecord is one evaluation during a run.
type EvalRecord struct {
	Step         int
	TrainingTime time.Duration
	Result       spec.EvalResult
}

// Result summarizes a finished run.
type Result struct {
	Steps        int
	TrainingTime time.Duration
	Reason       StopReason
	Evals        []EvalRecord
	Checkpoint   string
}

// ReachedGoal reports whether the run stopped on the workload target.
func (r Result) ReachedGoal() bool {
	return r.Reason == StopGoalReached
}

// Run trains until the workload goal is met, the runtime budget is spent or
// MaxSteps is reached. Only time spent fetching batches and updating
// parameters counts against the budget; evaluation is excluded.
func Run(ctx context.Context, cfg RunConfig) (Result, error) {
	if cfg.Workload == nil || cfg.Algorithm == nil {
		return Result{}, errors.New("trainer: workload and algorithm are required")
	}
	if cfg.BatchSize <= 0 {
		return Result{}, errors.New("trainer: batch size must be > 0")
	}
	if cfg.MaxSteps < 0 {
		return Result{}, errors.New("trainer: max steps must be >= 0")
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 50
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = profiler.NoOp{}
	}
	log := klog.FromContext(ctx)
	w := cfg.Workload

	streams := prng.New(cfg.Seed).Split(4)
	dataRNG, initRNG, updateRNG, evalRNG := streams[0], streams[1], streams[2], streams[3]

	var res Result
	params, aux, err := w.InitModelFn(ctx, initRNG)
	if err != nil {
		return Result{}, err
	}
	if cfg.InitCheckpoint != "" {
		store, key, err := blobs.OpenObject(cfg.InitCheckpoint)
		if err != nil {
			return Result{}, err
		}
		step, err := checkpoint.Load(ctx, store, key, cfg.ArchName, params)
		if err != nil {
			return Result{}, fmt.Errorf("restoring %s: %w", cfg.InitCheckpoint, err)
		}
		res.Steps = step
		log.Info("Resuming from checkpoint", "url", store.URL(key), "step", step)
	}
	queue, err := w.BuildInputQueue(ctx, dataRNG, spec.SplitTrain, cfg.DataDir, cfg.BatchSize)
	if err != nil {
		return Result{}, err
	}
	defer queue.Close()

	if err := tracer.Start(); err != nil {
		return Result{}, err
	}

	budget := time.Duration(w.MaxAllowedRuntimeSec()) * time.Second
	evalPeriod := time.Duration(w.EvalPeriodTimeSec()) * time.Second
	mean, stddev := w.TrainMean(), w.TrainStddev()

	var (
		window     metrics.Window
		lastEvalAt time.Duration
		evaluated  bool
	)
	evaluate := func() (bool, error) {
		start := time.Now()
		result, err := w.EvalModel(ctx, params, aux, evalRNG.Fold(uint64(res.Steps)), cfg.DataDir)
		if err != nil {
			return false, fmt.Errorf("eval at step %d: %w", res.Steps, err)
		}
		res.Evals = append(res.Evals, EvalRecord{Step: res.Steps, TrainingTime: res.TrainingTime, Result: result})
		lastEvalAt = res.TrainingTime
		evaluated = true
		log.Info("Evaluated", "step", res.Steps, "accuracy", result["accuracy"], "loss", result["loss"],
			"trainingTime", res.TrainingTime, "evalTime", time.Since(start))
		return w.HasReachedGoal(result), nil
	}

	if cfg.MaxSteps > 0 && res.Steps >= cfg.MaxSteps {
		res.Reason = StopMaxSteps
	}
	for res.Reason == "" {
		if err := ctx.Err(); err != nil {
			tracer.Stop()
			return res, err
		}

		endStep := tracer.Region(ctx, "train_step")
		startData := time.Now()
		raw, err := queue.Next(ctx)
		if err != nil {
			endStep()
			tracer.Stop()
			return res, fmt.Errorf("next batch: %w", err)
		}
		stepRNG := updateRNG.Fold(uint64(res.Steps))
		batch, err := w.PreprocessForTrain(raw, mean, stddev, stepRNG)
		if err != nil {
			endStep()
			tracer.Stop()
			return res, err
		}
		dataTime := time.Since(startData)

		startCompute := time.Now()
		out, err := cfg.Algorithm.UpdateParams(ctx, w, params, aux, batch, stepRNG)
		computeTime := time.Since(startCompute)
		endStep()
		if err != nil {
			tracer.Stop()
			return res, fmt.Errorf("update params at step %d: %w", res.Steps, err)
		}
		aux = out.Aux
		res.Steps++
		res.TrainingTime += dataTime + computeTime
		evaluated = false

		window.Record(batch.Size, dataTime, computeTime, out.Loss)
		tracer.Step()

		if res.Steps%cfg.LogEvery == 0 {
			snap := window.Snapshot()
			log.Info("Training", append([]any{"step", res.Steps}, snap.KeysAndValues()...)...)
		}

		if res.TrainingTime-lastEvalAt >= evalPeriod {
			goal, err := evaluate()
			if err != nil {
				tracer.Stop()
				return res, err
			}
			if goal {
				res.Reason = StopGoalReached
			}
		}
		if res.Reason == "" && res.TrainingTime >= budget {
			res.Reason = StopBudget
		}
		if res.Reason == "" && cfg.MaxSteps > 0 && res.Steps >= cfg.MaxSteps {
			res.Reason = StopMaxSteps
		}
	}

	if err := tracer.Stop(); err != nil {
		log.Error(err, "Profiler failed")
	}

	if !evaluated {
		goal, err := evaluate()
		if err != nil {
			return res, err
		}
		if goal {
			res.Reason = StopGoalReached
		}
	}

	if cfg.Checkpoints != nil {
		key, err := checkpoint.Save(ctx, cfg.Checkpoints, res.Steps, cfg.ArchName, params)
		if err != nil {
			return res, fmt.Errorf("saving checkpoint: %w", err)
		}
		res.Checkpoint = key
	}

	log.Info("Run finished", "steps", res.Steps, "reason", res.Reason, "trainingTime", res.TrainingTime, "evals", len(res.Evals))
	return res, nil
}
