// Package dashboard records training statistics and figures.
//
// Scalars go to a kv.Store as one msgpack record per step and are read
// back by "voiceenc stats".
// Figures are SVG documents written through a storage.FileStore.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"path"
	"slices"
	"strconv"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/haivivi/voiceenc/pkg/kv"
	"github.com/haivivi/voiceenc/pkg/nn"
	"github.com/haivivi/voiceenc/pkg/storage"
)

// Stats are the scalars logged every steps_plot_stats steps.
type Stats struct {
	Loss          float64 `msgpack:"loss" json:"loss" yaml:"loss"`
	AvgLoss       float64 `msgpack:"avg_loss" json:"avg_loss" yaml:"avg_loss"`
	LR            float64 `msgpack:"lr" json:"lr" yaml:"lr"`
	GradNorm      float64 `msgpack:"grad_norm" json:"grad_norm" yaml:"grad_norm"`
	StepTime      float64 `msgpack:"step_time" json:"step_time" yaml:"step_time"`
	LoaderTime    float64 `msgpack:"loader_time" json:"loader_time" yaml:"loader_time"`
	AvgLoaderTime float64 `msgpack:"avg_loader_time" json:"avg_loader_time" yaml:"avg_loader_time"`
}

// ParamStat summarizes one parameter tensor.
type ParamStat struct {
	Mean     float64 `msgpack:"mean" json:"mean" yaml:"mean"`
	Std      float64 `msgpack:"std" json:"std" yaml:"std"`
	Min      float64 `msgpack:"min" json:"min" yaml:"min"`
	Max      float64 `msgpack:"max" json:"max" yaml:"max"`
	GradNorm float64 `msgpack:"grad_norm" json:"grad_norm" yaml:"grad_norm"`
}

// jsonFloat encodes non-finite values as null, which JSON cannot
// represent otherwise.
type jsonFloat float64

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

// MarshalJSON writes non-finite values, such as the gradient norm of a
// skipped update, as null.
func (s Stats) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Loss          jsonFloat `json:"loss"`
		AvgLoss       jsonFloat `json:"avg_loss"`
		LR            jsonFloat `json:"lr"`
		GradNorm      jsonFloat `json:"grad_norm"`
		StepTime      jsonFloat `json:"step_time"`
		LoaderTime    jsonFloat `json:"loader_time"`
		AvgLoaderTime jsonFloat `json:"avg_loader_time"`
	}{
		jsonFloat(s.Loss), jsonFloat(s.AvgLoss), jsonFloat(s.LR), jsonFloat(s.GradNorm),
		jsonFloat(s.StepTime), jsonFloat(s.LoaderTime), jsonFloat(s.AvgLoaderTime),
	})
}

// MarshalJSON writes non-finite values as null.
func (p ParamStat) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Mean     jsonFloat `json:"mean"`
		Std      jsonFloat `json:"std"`
		Min      jsonFloat `json:"min"`
		Max      jsonFloat `json:"max"`
		GradNorm jsonFloat `json:"grad_norm"`
	}{
		jsonFloat(p.Mean), jsonFloat(p.Std), jsonFloat(p.Min), jsonFloat(p.Max), jsonFloat(p.GradNorm),
	})
}

// Figure is a rendered image.
type Figure struct {
	SVG []byte
}

// Logger is the sink the trainer reports to.
type Logger interface {
	TrainStats(ctx context.Context, step int, s Stats) error
	TrainFigures(ctx context.Context, step int, figs map[string]Figure) error
	ModelParamStats(ctx context.Context, step int, params []*nn.Param) error
}

// Record is one stored statistics entry.
type Record struct {
	Step   int                  `msgpack:"step" json:"step" yaml:"step"`
	Time   time.Time            `msgpack:"time" json:"time" yaml:"time"`
	Stats  *Stats               `msgpack:"stats,omitempty" json:"stats,omitempty" yaml:"stats,omitempty"`
	Params map[string]ParamStat `msgpack:"params,omitempty" json:"params,omitempty" yaml:"params,omitempty"`
}

var (
	statsPrefix  = kv.Key{"train", "stats"}
	paramsPrefix = kv.Key{"train", "params"}
)

func stepKey(prefix kv.Key, step int) kv.Key {
	return append(append(kv.Key{}, prefix...), fmt.Sprintf("%010d", step))
}

// KV is a Logger backed by a kv.Store and a FileStore.
type KV struct {
	stats   kv.Store
	figures storage.FileStore
}

var _ Logger = (*KV)(nil)

// NewKV returns a logger writing scalars to stats and figures to figures.
// figures may be nil, in which case figures are dropped.
func NewKV(stats kv.Store, figures storage.FileStore) *KV {
	return &KV{stats: stats, figures: figures}
}

func (d *KV) TrainStats(ctx context.Context, step int, s Stats) error {
	return kv.SetValue(ctx, d.stats, stepKey(statsPrefix, step), Record{
		Step:  step,
		Time:  time.Now().UTC(),
		Stats: &s,
	})
}

// FigurePath returns the file name of figure name at step.
func FigurePath(name string, step int) string {
	return path.Join("figures", "train", fmt.Sprintf("%s_%010d.svg", name, step))
}

func (d *KV) TrainFigures(ctx context.Context, step int, figs map[string]Figure) error {
	if d.figures == nil {
		return nil
	}
	for name, f := range figs {
		if err := storage.WriteFile(ctx, d.figures, FigurePath(name, step), f.SVG); err != nil {
			return fmt.Errorf("dashboard: figure %s: %w", name, err)
		}
	}
	return nil
}

func (d *KV) ModelParamStats(ctx context.Context, step int, params []*nn.Param) error {
	return kv.SetValue(ctx, d.stats, stepKey(paramsPrefix, step), Record{
		Step:   step,
		Time:   time.Now().UTC(),
		Params: ParamStats(params),
	})
}

// ParamStats summarizes every parameter and its gradient.
func ParamStats(params []*nn.Param) map[string]ParamStat {
	out := make(map[string]ParamStat, len(params))
	for _, p := range params {
		if p.Size() == 0 {
			continue
		}
		mean, std := stat.MeanStdDev(p.Data, nil)
		if p.Size() == 1 {
			std = 0
		}
		out[p.Name] = ParamStat{
			Mean:     mean,
			Std:      std,
			Min:      floats.Min(p.Data),
			Max:      floats.Max(p.Data),
			GradNorm: floats.Norm(p.Grad, 2),
		}
	}
	return out
}

// ReadStats returns the stored records in step order, merging scalar and
// parameter statistics logged at the same step.
func ReadStats(ctx context.Context, store kv.Store) ([]Record, error) {
	bySteps := map[int]*Record{}
	var order []int
	for _, prefix := range []kv.Key{statsPrefix, paramsPrefix} {
		for e, err := range store.List(ctx, prefix) {
			if err != nil {
				return nil, err
			}
			var r Record
			if err := msgpack.Unmarshal(e.Value, &r); err != nil {
				return nil, fmt.Errorf("dashboard: decode %s: %w", e.Key, err)
			}
			if r.Step == 0 && len(e.Key) > 0 {
				if n, err := strconv.Atoi(e.Key[len(e.Key)-1]); err == nil {
					r.Step = n
				}
			}
			cur, ok := bySteps[r.Step]
			if !ok {
				rc := r
				bySteps[r.Step] = &rc
				order = append(order, r.Step)
				continue
			}
			if r.Stats != nil {
				cur.Stats = r.Stats
			}
			if r.Params != nil {
				cur.Params = r.Params
			}
		}
	}
	slices.Sort(order)
	out := make([]Record, 0, len(order))
	for _, s := range order {
		out = append(out, *bySteps[s])
	}
	return out, nil
}
