package trainer

// State is the running bookkeeping of a training loop.
type State struct {
	Step          int
	AvgLoss       float64
	AvgLoaderTime float64

	lossSeen   bool
	loaderSeen bool
}

// UpdateLoss folds loss into the moving average. The first observation
// seeds the average.
func UpdateLoss(s State, loss float64) State {
	if !s.lossSeen {
		s.AvgLoss = loss
		s.lossSeen = true
		return s
	}
	s.AvgLoss = 0.01*loss + 0.99*s.AvgLoss
	return s
}

// UpdateLoaderTime folds the time spent waiting for a batch into the
// moving average. Each of the workers prefetches in parallel, so a new
// sample is weighted 1/workers; with zero or one worker the average
// tracks the latest sample.
func UpdateLoaderTime(s State, seconds float64, workers int) State {
	if !s.loaderSeen {
		s.AvgLoaderTime = seconds
		s.loaderSeen = true
		return s
	}
	n := float64(max(workers, 1))
	s.AvgLoaderTime = seconds/n + (n-1)/n*s.AvgLoaderTime
	return s
}
