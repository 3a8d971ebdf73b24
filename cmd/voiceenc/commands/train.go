package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/voiceenc/pkg/audio"
	"github.com/haivivi/voiceenc/pkg/checkpoint"
	"github.com/haivivi/voiceenc/pkg/cli"
	"github.com/haivivi/voiceenc/pkg/config"
	"github.com/haivivi/voiceenc/pkg/dashboard"
	"github.com/haivivi/voiceenc/pkg/dataloader"
	"github.com/haivivi/voiceenc/pkg/dataset"
	"github.com/haivivi/voiceenc/pkg/experiment"
	"github.com/haivivi/voiceenc/pkg/kv"
	"github.com/haivivi/voiceenc/pkg/loss"
	"github.com/haivivi/voiceenc/pkg/nn"
	"github.com/haivivi/voiceenc/pkg/optim"
	"github.com/haivivi/voiceenc/pkg/sampler"
	"github.com/haivivi/voiceenc/pkg/trainer"
)

var (
	trainConfigPath  string
	trainRestorePath string
	trainOutputPath  string
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train an embedding encoder",
	Long: `Train a speaker or emotion encoder until max_train_step.

The run folder below output_path receives config.yaml, best_model.pth
(the lowest smoothed loss at a save point), checkpoint_<step>.pth when
checkpoint is enabled, and the dashboard. On failure or interruption the
folder is removed unless it already holds a checkpoint.

Interruption (Ctrl-C, SIGTERM) exits with status 0, any other failure
with status 1.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(trainConfigPath)
		if err != nil {
			return err
		}
		if trainOutputPath != "" {
			cfg = cfg.Clone()
			cfg.OutputPath = trainOutputPath
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		run, err := experiment.New(ctx, cfg)
		if err != nil {
			return err
		}
		res, err := train(ctx, cfg, run, trainRestorePath)
		switch {
		case err == nil:
			slog.Info("training done", "status", res.Status, "step", res.Step, "dir", run.Dir())
		case errors.Is(err, context.Canceled):
			slog.Info("training interrupted", "status", trainer.StatusInterrupted, "step", res.Step)
			res.Status = trainer.StatusInterrupted
			cleanup(run)
			err = nil
		default:
			slog.Error("training failed", "status", trainer.StatusFailed, "step", res.Step, "error", err)
			res.Status = trainer.StatusFailed
			cleanup(run)
		}
		fmt.Fprintln(cmd.OutOrStdout(), summary(run, res))
		return err
	},
}

func init() {
	trainCmd.Flags().StringVar(&trainConfigPath, "config", "", "training configuration file (YAML)")
	trainCmd.Flags().StringVar(&trainRestorePath, "restore-path", "", "checkpoint to resume from (local path or s3:// URL)")
	trainCmd.Flags().StringVar(&trainOutputPath, "output-path", "", "override output_path")
	trainCmd.MarkFlagRequired("config")
	rootCmd.AddCommand(trainCmd)
}

// train wires the collaborators of a run from cfg and runs the trainer.
func train(ctx context.Context, cfg *config.Config, run *experiment.Run, restorePath string) (trainer.Result, error) {
	var none trainer.Result

	proc, err := audio.NewProcessor(cfg.Audio)
	if err != nil {
		return none, err
	}
	items, evalItems, err := dataset.LoadSamples(cfg.Datasets, dataset.SplitOptions{
		Enabled: cfg.EvalSplitSize > 0,
		Size:    cfg.EvalSplitSize,
		MaxSize: cfg.EvalSplitMaxSize,
		Seed:    cfg.Seed,
	})
	if err != nil {
		return none, err
	}
	slog.Info("samples", "train", len(items), "eval", len(evalItems))

	var cache kv.Store
	if cfg.FeatureCachePath != "" {
		b, err := kv.NewBadger(kv.BadgerOptions{Dir: cfg.FeatureCachePath})
		if err != nil {
			return none, err
		}
		defer b.Close()
		cache = b
	}
	ds, err := dataset.New(proc, items, dataset.OptionsFromConfig(cfg, cache))
	if err != nil {
		return none, err
	}
	smp, err := sampler.New(ds.Labels(), cfg.ClassesInBatch(), cfg.UtterancesPerClass(), sampler.Options{
		Shuffle: true,
		Seed:    cfg.Seed,
	})
	if err != nil {
		return none, err
	}
	loader := dataloader.New(ds, smp, cfg.LoaderWorkers(), cfg.Seed)

	model, err := nn.NewModel(cfg.ModelParams, cfg.Seed)
	if err != nil {
		return none, err
	}
	crit, err := loss.New(cfg.Loss, model.EmbeddingDim(), ds.NumClasses(), cfg.Seed)
	if err != nil {
		return none, err
	}
	var classMap map[string]string
	if cfg.Model == config.ModelEmotionEncoder && cfg.Loss == config.LossSoftmaxProto {
		classMap = ds.ClassIDToName()
		cfg = cfg.Clone()
		cfg.MapClassIDToClassName = classMap
		if err := run.WriteConfig(ctx, cfg); err != nil {
			return none, err
		}
	}

	opt, err := optim.NewRAdam(slices.Concat(model.Parameters(), crit.Parameters()), optim.DefaultRAdamConfig(cfg.LR, cfg.WD))
	if err != nil {
		return none, err
	}
	step := 0
	if restorePath != "" {
		ckpt, err := checkpoint.LoadURL(ctx, restorePath)
		if err != nil {
			return none, err
		}
		if step, err = checkpoint.Restore(ckpt, model.Parameters(), crit.Parameters(), opt, cfg.LR); err != nil {
			return none, err
		}
	}
	var sched *optim.NoamLR
	if cfg.LRDecay {
		sched = optim.NewNoamLR(opt, cfg.LR, cfg.WarmupSteps, step-1)
	}

	statsDir, err := dashboardDir(cfg, run)
	if err != nil {
		return none, err
	}
	stats, err := kv.NewBadger(kv.BadgerOptions{Dir: statsDir})
	if err != nil {
		return none, err
	}
	defer stats.Close()
	slog.Info("dashboard", "dir", statsDir)

	t := &trainer.Trainer{
		Config:        cfg,
		Model:         model,
		Criterion:     crit,
		Optimizer:     opt,
		Scheduler:     sched,
		Loader:        loader,
		Dashboard:     dashboard.NewKV(stats, run.Store()),
		Store:         run.Store(),
		Saver:         checkpoint.NewBestSaver(run.Store()),
		ClassIDToName: classMap,
	}
	return t.Run(ctx, step)
}

func dashboardDir(cfg *config.Config, run *experiment.Run) (string, error) {
	switch {
	case cfg.DashboardPath != "":
		return cfg.DashboardPath, nil
	case run.Local():
		return filepath.Join(run.Dir(), "dashboard"), nil
	default:
		return os.MkdirTemp("", "voiceenc-dashboard-")
	}
}

func cleanup(run *experiment.Run) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := run.Cleanup(ctx); err != nil {
		slog.Warn("cleanup failed", "dir", run.Dir(), "error", err)
	}
}

func summary(run *experiment.Run, res trainer.Result) string {
	best := "-"
	if res.Step > 0 && !math.IsInf(res.BestLoss, 1) {
		best = strconv.FormatFloat(res.BestLoss, 'f', 5, 64)
	}
	return cli.Summary{
		Title:  "voiceenc",
		Status: string(res.Status),
		Warn:   res.Status != trainer.StatusCompleted,
		Rows: []cli.Row{
			{Label: "run", Value: run.Dir()},
			{Label: "step", Value: strconv.Itoa(res.Step)},
			{Label: "avg loss", Value: strconv.FormatFloat(res.AvgLoss, 'f', 5, 64)},
			{Label: "best loss", Value: best},
			{Label: "duration", Value: cli.FormatDuration(res.Duration)},
		},
	}.Render()
}
