package optim

import "math"

// LRSetter is implemented by optimizers whose learning rate a scheduler
// drives.
type LRSetter interface {
	SetLR(lr float64)
}

// NoamLR is the inverse square root schedule with linear warmup:
//
//	lr(s) = base * w^0.5 * min(s * w^-1.5, s^-0.5),  s = max(step, 1)
//
// which rises linearly for w warmup steps, peaks at base, and decays as
// 1/sqrt(s) afterwards.
type NoamLR struct {
	opt       LRSetter
	baseLR    float64
	warmup    float64
	lastEpoch int
}

// NewNoamLR attaches the schedule to opt. lastEpoch is the step the run
// resumes after (restore step - 1, or -1 for a fresh run); like any
// scheduler, construction performs one Step.
func NewNoamLR(opt LRSetter, baseLR float64, warmupSteps, lastEpoch int) *NoamLR {
	s := &NoamLR{opt: opt, baseLR: baseLR, warmup: float64(warmupSteps), lastEpoch: lastEpoch}
	s.Step()
	return s
}

// LRAt returns the learning rate at step.
func (s *NoamLR) LRAt(step int) float64 {
	st := float64(max(step, 1))
	return s.baseLR * math.Sqrt(s.warmup) * math.Min(st*math.Pow(s.warmup, -1.5), 1/math.Sqrt(st))
}

// Step advances the schedule, applies the new rate and returns it.
func (s *NoamLR) Step() float64 {
	s.lastEpoch++
	lr := s.LRAt(s.lastEpoch)
	s.opt.SetLR(lr)
	return lr
}

// LastEpoch returns the step the current rate belongs to.
func (s *NoamLR) LastEpoch() int { return s.lastEpoch }
