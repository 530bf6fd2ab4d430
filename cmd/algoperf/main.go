package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"

	"k8s.io/klog/v2"

	"github.com/danielsnider/algorithmic-efficiency/internal/blobs"
	"github.com/danielsnider/algorithmic-efficiency/internal/config"
	"github.com/danielsnider/algorithmic-efficiency/internal/model"
	"github.com/danielsnider/algorithmic-efficiency/internal/profiler"
	"github.com/danielsnider/algorithmic-efficiency/internal/submission"
	"github.com/danielsnider/algorithmic-efficiency/internal/trainer"
	"github.com/danielsnider/algorithmic-efficiency/internal/workloads/imagenet"
)

func main() {
	klog.InitFlags(nil)
	cfgPath := flag.String("config", "", "Path to YAML config (defaults are used when empty)")
	dataDir := flag.String("data-dir", "", "Override dataset root")
	datasetName := flag.String("dataset", "", "Dataset variant: imagenet2012 or imagenette")
	arch := flag.String("arch", "", "Model architecture: resnet50, resnet18 or tiny")
	maxSteps := flag.Int("max-steps", 0, "Stop after N steps (0 runs until goal or budget)")
	batchSize := flag.Int("batch-size", 0, "Training batch size")
	evalBatchSize := flag.Int("eval-batch-size", 0, "Evaluation batch size")
	numWorkers := flag.Int("num-workers", 0, "Number of data loader workers (0 sizes the pool from the host CPU)")
	seed := flag.Int64("seed", config.DefaultSeed, "PRNG seed")
	logEvery := flag.Int("log-every", 0, "Log every N steps")
	lr := flag.Float64("lr", 0, "Learning rate")
	checkpointURL := flag.String("checkpoint-url", "", "Directory or gs:// location for the final checkpoint")
	initCheckpoint := flag.String("init-checkpoint", "", "Checkpoint file or gs:// object to resume from")
	profile := flag.Bool("profile", false, "Record an execution trace")
	profileDir := flag.String("profile-dir", "", "Directory for execution traces")

	flag.Parse()
	defer klog.Flush()

	// Only an explicitly passed -seed overrides the config, so -seed=0 works.
	var seedOverride *int64
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			seedOverride = seed
		}
	})

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			klog.Fatalf("failed to load config: %v", err)
		}
		cfg = loaded
	}

	cfg.ApplyOverrides(config.Overrides{
		DataDir:        *dataDir,
		Dataset:        *datasetName,
		Arch:           *arch,
		Seed:           seedOverride,
		BatchSize:      *batchSize,
		EvalBatchSize:  *evalBatchSize,
		NumWorkers:     *numWorkers,
		MaxSteps:       *maxSteps,
		LogEvery:       *logEvery,
		LearningRate:   *lr,
		CheckpointURL:  *checkpointURL,
		InitCheckpoint: *initCheckpoint,
		Profile:        *profile,
		ProfileDir:     *profileDir,
	})

	if err := cfg.Validate(); err != nil {
		klog.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = klog.NewContext(ctx, klog.Background())

	if err := run(ctx, cfg); err != nil {
		klog.Flush()
		klog.Fatalf("training failed: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	log := klog.FromContext(ctx)

	a, err := model.LookupArch(cfg.Arch)
	if err != nil {
		return err
	}
	w, err := imagenet.NewFromName(cfg.Dataset, imagenet.Options{
		Arch:          a,
		EvalBatchSize: cfg.EvalBatchSize,
		NumWorkers:    cfg.NumWorkers,
		DatasetFormat: cfg.DatasetFormat,
	})
	if err != nil {
		return err
	}
	log.Info("Workload ready", "workload", w.Name, "arch", a.Name, "dataDir", cfg.DataDir,
		"format", cfg.DatasetFormat, "batchSize", cfg.BatchSize, "numWorkers", cfg.NumWorkers, "seed", cfg.Seed)

	var checkpoints blobs.Store
	if cfg.CheckpointURL != "" {
		if checkpoints, err = blobs.Open(cfg.CheckpointURL); err != nil {
			return err
		}
	}

	var onReady func(context.Context, string) error
	if cfg.Profiler.UploadURL != "" {
		traces, err := blobs.Open(cfg.Profiler.UploadURL)
		if err != nil {
			return err
		}
		onReady = func(ctx context.Context, dir string) error {
			return uploadDir(ctx, traces, dir)
		}
	}
	tracer := profiler.New(ctx, profiler.Config{
		Enabled:   cfg.Profiler.Enabled,
		OutputDir: cfg.Profiler.OutputDir,
		Wait:      cfg.Profiler.Wait,
		Warmup:    cfg.Profiler.Warmup,
		Active:    cfg.Profiler.Active,
	}, onReady)

	res, err := trainer.Run(ctx, trainer.RunConfig{
		Workload: w,
		Algorithm: &submission.SGD{
			LearningRate: cfg.LearningRate,
			Momentum:     cfg.Momentum,
			WeightDecay:  cfg.WeightDecay,
		},
		DataDir:        cfg.DataDir,
		BatchSize:      cfg.BatchSize,
		Seed:           cfg.Seed,
		MaxSteps:       cfg.MaxSteps,
		LogEvery:       cfg.LogEvery,
		Tracer:         tracer,
		Checkpoints:    checkpoints,
		ArchName:       a.Name,
		InitCheckpoint: cfg.InitCheckpoint,
	})
	if err != nil {
		return err
	}

	fmt.Printf("steps=%d reason=%s training_time=%s goal=%t\n", res.Steps, res.Reason, res.TrainingTime, res.ReachedGoal())
	if n := len(res.Evals); n > 0 {
		last := res.Evals[n-1].Result
		fmt.Printf("accuracy=%.4f loss=%.4f\n", last["accuracy"], last["loss"])
	}
	if res.Checkpoint != "" {
		fmt.Printf("checkpoint=%s\n", checkpoints.URL(res.Checkpoint))
	}
	return nil
}

// uploadDir copies every file in dir to traces/<dir name>/<file>.
func uploadDir(ctx context.Context, store blobs.Store, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	prefix := path.Join("traces", filepath.Base(dir))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		key := path.Join(prefix, e.Name())
		if err := store.Upload(ctx, filepath.Join(dir, e.Name()), key); err != nil {
			return fmt.Errorf("uploading %s: %w", e.Name(), err)
		}
		klog.FromContext(ctx).Info("Uploaded trace", "url", store.URL(key))
	}
	return nil
}
