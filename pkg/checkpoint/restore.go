package checkpoint

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/haivivi/voiceenc/pkg/nn"
	"github.com/haivivi/voiceenc/pkg/optim"
)

// Restore loads c into the model, the criterion and the optimizer, and
// returns the step training resumes from.
//
// Parameters are first loaded strictly. When the checkpoint does not match
// the current architecture only the entries whose name and shape match are
// copied; the others keep their fresh values and are logged. The
// optimizer learning rate is reset to lr whatever the checkpoint stored.
// Optimizer moments of shape-mismatched parameters are not restored.
func Restore(c *Checkpoint, model, criterion []*nn.Param, opt *optim.RAdam, lr float64) (int, error) {
	mismatched, err := loadParams("model", model, c.Model)
	if err != nil {
		return 0, err
	}
	if len(criterion) > 0 && c.Criterion != nil {
		m, err := loadParams("criterion", criterion, c.Criterion)
		if err != nil {
			return 0, err
		}
		mismatched = append(mismatched, m...)
	}
	if opt != nil {
		opt.LoadState(withoutParams(c.Optimizer, mismatched))
		opt.SetLR(lr)
	}
	slog.Info("restored checkpoint", "step", c.Step, "loss", c.Loss, "date", c.Date)
	return c.Step, nil
}

// loadParams loads sd into params and returns the names skipped for a
// shape mismatch.
func loadParams(what string, params []*nn.Param, sd nn.StateDict) ([]string, error) {
	_, err := nn.LoadStateDict(params, sd, true)
	if err == nil {
		return nil, nil
	}
	var mismatch *nn.StateDictError
	if !errors.As(err, &mismatch) {
		return nil, fmt.Errorf("checkpoint: restore %s: %w", what, err)
	}
	report, err := nn.LoadStateDict(params, sd, false)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: partial restore %s: %w", what, err)
	}
	slog.Warn("partial restore: checkpoint does not match "+what,
		"loaded", len(report.Loaded),
		"missing", report.Missing,
		"unexpected", report.Unexpected,
		"mismatched", report.Mismatched)
	return report.Mismatched, nil
}

func withoutParams(s optim.State, names []string) optim.State {
	if len(names) == 0 {
		return s
	}
	out := optim.State{LR: s.LR, Params: make(map[string]optim.ParamState, len(s.Params))}
	for name, ps := range s.Params {
		if !slices.Contains(names, name) {
			out.Params[name] = ps
		}
	}
	return out
}
