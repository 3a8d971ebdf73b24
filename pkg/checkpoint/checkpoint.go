// Package checkpoint persists and restores training state.
//
// A checkpoint is a msgpack document holding the model and criterion
// state dicts, the optimizer state, the global step and the smoothed loss
// at save time. Files use the .pth suffix so that run folders containing
// them are recognized as worth keeping.
package checkpoint

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/haivivi/voiceenc/pkg/nn"
	"github.com/haivivi/voiceenc/pkg/optim"
	"github.com/haivivi/voiceenc/pkg/storage"
)

// BestModelFile is the name of the lowest-loss checkpoint of a run.
const BestModelFile = "best_model.pth"

// Suffix marks checkpoint files.
const Suffix = ".pth"

// StepFile returns the name of the periodic checkpoint saved at step.
func StepFile(step int) string {
	return fmt.Sprintf("checkpoint_%d%s", step, Suffix)
}

// Checkpoint is the persisted training state.
type Checkpoint struct {
	Model     nn.StateDict `msgpack:"model"`
	Criterion nn.StateDict `msgpack:"criterion,omitempty"`
	Optimizer optim.State  `msgpack:"optimizer"`
	Step      int          `msgpack:"step"`
	Loss      float64      `msgpack:"loss"`
	Date      time.Time    `msgpack:"date"`
	// ClassIDToName maps decimal class ids to class names. Only set for
	// emotion encoders trained with the softmaxproto loss.
	ClassIDToName map[string]string `msgpack:"map_classid_to_classname,omitempty"`
}

// Snapshot captures the current state of a training run.
func Snapshot(model, criterion []*nn.Param, opt *optim.RAdam, step int, loss float64) *Checkpoint {
	c := &Checkpoint{
		Model:     nn.StateDictOf(model),
		Optimizer: opt.State(),
		Step:      step,
		Loss:      loss,
		Date:      time.Now().UTC(),
	}
	if len(criterion) > 0 {
		c.Criterion = nn.StateDictOf(criterion)
	}
	return c
}

// Save writes c to name in store.
func Save(ctx context.Context, store storage.FileStore, name string, c *Checkpoint) error {
	var buf bytes.Buffer
	if err := msgpack.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("checkpoint: encode: %w", err)
	}
	if err := storage.WriteFile(ctx, store, name, buf.Bytes()); err != nil {
		return fmt.Errorf("checkpoint: save %s: %w", name, err)
	}
	return nil
}

// Load reads the checkpoint name from store.
func Load(ctx context.Context, store storage.FileStore, name string) (*Checkpoint, error) {
	data, err := storage.ReadFile(ctx, store, name)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: load %s: %w", name, err)
	}
	var c Checkpoint
	if err := msgpack.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("checkpoint: decode %s: %w", name, err)
	}
	return &c, nil
}

// LoadURL reads a checkpoint from a local path or an s3:// object URL.
func LoadURL(ctx context.Context, location string) (*Checkpoint, error) {
	store, name, err := storage.OpenFile(ctx, location)
	if err != nil {
		return nil, err
	}
	return Load(ctx, store, name)
}

// BestSaver keeps best_model.pth pointing at the lowest loss seen.
type BestSaver struct {
	store storage.FileStore
	best  float64
}

// NewBestSaver returns a saver whose watermark starts at +Inf.
func NewBestSaver(store storage.FileStore) *BestSaver {
	return &BestSaver{store: store, best: math.Inf(1)}
}

// Best returns the current watermark.
func (s *BestSaver) Best() float64 { return s.best }

// MaybeSave writes c as the best model when its loss is below the
// watermark, and lowers the watermark.
func (s *BestSaver) MaybeSave(ctx context.Context, c *Checkpoint) (bool, error) {
	if !(c.Loss < s.best) {
		return false, nil
	}
	if err := Save(ctx, s.store, BestModelFile, c); err != nil {
		return false, err
	}
	slog.Info("best model saved", "step", c.Step, "loss", c.Loss, "previous", s.best)
	s.best = c.Loss
	return true, nil
}
