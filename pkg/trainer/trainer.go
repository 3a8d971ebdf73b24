// Package trainer drives the optimization loop of the embedding encoder.
//
// Each step pulls a class-balanced batch, regroups it by class, embeds it,
// evaluates the criterion, back-propagates, clips the gradient norm and
// applies the optimizer. Training is bounded by max_train_step only; the
// loader is replayed with a new epoch number whenever it runs dry.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/haivivi/voiceenc/pkg/checkpoint"
	"github.com/haivivi/voiceenc/pkg/config"
	"github.com/haivivi/voiceenc/pkg/dashboard"
	"github.com/haivivi/voiceenc/pkg/dataset"
	"github.com/haivivi/voiceenc/pkg/loss"
	"github.com/haivivi/voiceenc/pkg/nn"
	"github.com/haivivi/voiceenc/pkg/optim"
	"github.com/haivivi/voiceenc/pkg/storage"
)

// ErrNoBatches is returned when a pass over the loader yields nothing,
// typically because there are fewer classes than num_classes_in_batch.
var ErrNoBatches = errors.New("trainer: data loader produced no batches")

// Status is how a run ended.
type Status string

const (
	StatusCompleted   Status = "completed"
	StatusInterrupted Status = "interrupted"
	StatusFailed      Status = "failed"
)

// Loader supplies the batches of an epoch. *dataloader.Loader satisfies
// it.
type Loader interface {
	Batches(ctx context.Context, epoch int) iter.Seq2[*dataset.Batch, error]
	Workers() int
}

// Trainer holds the collaborators of a training run.
type Trainer struct {
	Config    *config.Config
	Model     nn.Model
	Criterion loss.Criterion
	Optimizer *optim.RAdam
	// Scheduler is nil unless lr_decay is set.
	Scheduler *optim.NoamLR
	Loader    Loader
	// Dashboard may be nil.
	Dashboard dashboard.Logger
	// Store receives checkpoints; Saver tracks best_model.pth in it.
	Store storage.FileStore
	Saver *checkpoint.BestSaver
	// ClassIDToName is stored in every checkpoint when set.
	ClassIDToName map[string]string
}

// Result summarizes a run.
type Result struct {
	Status   Status
	Step     int
	AvgLoss  float64
	BestLoss float64
	Duration time.Duration
}

// Run trains from startStep until max_train_step. On cancellation the
// step in progress is abandoned and ctx.Err() is returned together with
// the partial result.
func (t *Trainer) Run(ctx context.Context, startStep int) (Result, error) {
	begin := time.Now()
	state := State{Step: startStep}
	result := func(st Status) Result {
		r := Result{Status: st, Step: state.Step, AvgLoss: state.AvgLoss, Duration: time.Since(begin)}
		if t.Saver != nil {
			r.BestLoss = t.Saver.Best()
		}
		return r
	}

	cfg := t.Config
	if state.Step >= cfg.MaxTrainStep {
		slog.Info("nothing to train", "step", state.Step, "max_train_step", cfg.MaxTrainStep)
		return result(StatusCompleted), nil
	}
	params := slices.Concat(t.Model.Parameters(), t.Criterion.Parameters())
	slog.Info("training",
		"step", state.Step,
		"max_train_step", cfg.MaxTrainStep,
		"batch_size", cfg.BatchSize(),
		"model_params", nn.CountParameters(t.Model.Parameters()),
		"loss", cfg.Loss)

	for epoch := 0; ; epoch++ {
		epochStart := time.Now()
		batches := 0
		waitStart := time.Now()
		for batch, err := range t.Loader.Batches(ctx, epoch) {
			if err != nil {
				if ctx.Err() != nil {
					return result(StatusInterrupted), ctx.Err()
				}
				return result(StatusFailed), err
			}
			if err := ctx.Err(); err != nil {
				return result(StatusInterrupted), err
			}
			loaderTime := time.Since(waitStart).Seconds()
			batches++

			st, err := t.step(batch, params)
			if err != nil {
				return result(StatusFailed), fmt.Errorf("trainer: step %d: %w", state.Step+1, err)
			}
			state.Step++
			state = UpdateLoss(state, st.loss)
			state = UpdateLoaderTime(state, loaderTime, t.Loader.Workers())

			if err := t.report(ctx, state, st, loaderTime); err != nil {
				return result(StatusFailed), err
			}
			if state.Step >= cfg.MaxTrainStep || state.Step%cfg.SaveStep == 0 {
				if err := t.save(ctx, state); err != nil {
					return result(StatusFailed), err
				}
			}
			if state.Step >= cfg.MaxTrainStep {
				slog.Info("training finished", "step", state.Step, "avg_loss", state.AvgLoss)
				return result(StatusCompleted), nil
			}
			waitStart = time.Now()
		}
		if batches == 0 {
			if err := ctx.Err(); err != nil {
				return result(StatusInterrupted), err
			}
			return result(StatusFailed), ErrNoBatches
		}
		slog.Info("epoch done", "epoch", epoch, "batches", batches, "step", state.Step,
			"avg_loss", state.AvgLoss, "epoch_time", time.Since(epochStart).Round(time.Millisecond))
	}
}

type stepStats struct {
	loss     float64
	gradNorm float64
	lr       float64
	stepTime float64
	emb      [][]float64
}

func (t *Trainer) step(batch *dataset.Batch, params []*nn.Param) (stepStats, error) {
	start := time.Now()
	classes, perClass := t.Config.ClassesInBatch(), t.Config.UtterancesPerClass()
	if batch.Len() != classes*perClass {
		return stepStats{}, fmt.Errorf("batch of %d, want %d", batch.Len(), classes*perClass)
	}
	feats := GroupByClass(batch.Features, classes, perClass)
	labels := GroupByClass(batch.Labels, classes, perClass)

	if t.Scheduler != nil {
		t.Scheduler.Step()
	}
	t.Optimizer.ZeroGrad()

	emb := t.Model.Forward(feats)
	value, grad, err := t.Criterion.Compute(split(emb, classes, perClass), labels)
	if err != nil {
		return stepStats{}, err
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return stepStats{}, fmt.Errorf("loss is %v", value)
	}
	t.Model.Backward(flatten(grad))

	norm := optim.ClipGradNorm(params, t.Config.GradClip)
	if math.IsNaN(norm) || math.IsInf(norm, 0) {
		slog.Warn("skipping optimizer step on non-finite gradient norm", "grad_norm", norm)
	} else {
		t.Optimizer.Step()
	}
	return stepStats{
		loss:     value,
		gradNorm: norm,
		lr:       t.Optimizer.LR(),
		stepTime: time.Since(start).Seconds(),
		emb:      emb,
	}, nil
}

func (t *Trainer) report(ctx context.Context, state State, st stepStats, loaderTime float64) error {
	cfg := t.Config
	if t.Dashboard != nil && state.Step%cfg.StepsPlotStats == 0 {
		err := t.Dashboard.TrainStats(ctx, state.Step, dashboard.Stats{
			Loss:          st.loss,
			AvgLoss:       state.AvgLoss,
			LR:            st.lr,
			GradNorm:      st.gradNorm,
			StepTime:      st.stepTime,
			LoaderTime:    loaderTime,
			AvgLoaderTime: state.AvgLoaderTime,
		})
		if err != nil {
			return fmt.Errorf("trainer: dashboard: %w", err)
		}
		if fig, err := dashboard.EmbeddingFigure(st.emb, cfg.ClassesInBatch()); err != nil {
			slog.Warn("embedding figure skipped", "step", state.Step, "error", err)
		} else if err := t.Dashboard.TrainFigures(ctx, state.Step, map[string]dashboard.Figure{"embeddings": fig}); err != nil {
			return fmt.Errorf("trainer: dashboard: %w", err)
		}
		if cfg.TBModelParamStats {
			if err := t.Dashboard.ModelParamStats(ctx, state.Step, t.Model.Parameters()); err != nil {
				return fmt.Errorf("trainer: dashboard: %w", err)
			}
		}
	}
	if state.Step%cfg.PrintStep == 0 {
		slog.Info("train",
			"step", state.Step,
			"loss", fmt.Sprintf("%.5f", st.loss),
			"avg_loss", fmt.Sprintf("%.5f", state.AvgLoss),
			"grad_norm", fmt.Sprintf("%.5f", st.gradNorm),
			"step_time", fmt.Sprintf("%.2f", st.stepTime),
			"loader_time", fmt.Sprintf("%.2f", loaderTime),
			"avg_loader_time", fmt.Sprintf("%.2f", state.AvgLoaderTime),
			"lr", fmt.Sprintf("%.6f", st.lr))
	}
	return nil
}

func (t *Trainer) save(ctx context.Context, state State) error {
	if t.Store == nil {
		return nil
	}
	c := checkpoint.Snapshot(t.Model.Parameters(), t.Criterion.Parameters(), t.Optimizer, state.Step, state.AvgLoss)
	c.ClassIDToName = t.ClassIDToName
	if t.Config.Checkpoint {
		if err := checkpoint.Save(ctx, t.Store, checkpoint.StepFile(state.Step), c); err != nil {
			return err
		}
		slog.Info("checkpoint saved", "step", state.Step, "file", checkpoint.StepFile(state.Step))
	}
	if t.Saver != nil {
		if _, err := t.Saver.MaybeSave(ctx, c); err != nil {
			return err
		}
	}
	return nil
}
