package vitals

import (
	"time"

	"github.com/banshee-data/vitals.report/internal/timeutil"
)

// HRStabilizer limits how fast the reported heart rate may move. Small
// changes are followed in bounded steps; large jumps must be proposed twice
// within a timeout before the reported value ramps toward them.
type HRStabilizer struct {
	clock   timeutil.Clock
	bounds  Bounds
	outlier int
	step    int
	confirm int
	ramp    int
	timeout time.Duration

	last      int
	pending   int
	hasPend   bool
	pendingAt time.Time
}

func NewHRStabilizer(cfg Config, clock timeutil.Clock) *HRStabilizer {
	cfg = cfg.withDefaults()
	return &HRStabilizer{
		clock:   clock,
		bounds:  cfg.HRBounds,
		outlier: cfg.HROutlierThreshold,
		step:    cfg.HRMaxStep,
		confirm: cfg.HRConfirmTolerance,
		ramp:    cfg.HRRampStep,
		timeout: cfg.HRPendingTimeout,
	}
}

// Stabilize folds a candidate heart rate into the reported value and returns
// the new reported value.
func (s *HRStabilizer) Stabilize(candidate int) int {
	s.last = s.next(candidate)
	return s.last
}

func (s *HRStabilizer) next(candidate int) int {
	if !s.bounds.Contains(candidate) {
		if s.last > 0 {
			return s.last
		}
		return s.bounds.Clamp(candidate)
	}
	if s.last <= 0 {
		s.hasPend = false
		return candidate
	}

	delta := candidate - s.last
	if abs(delta) <= s.outlier {
		return s.last + sign(delta)*min(abs(delta), s.step)
	}

	now := s.clock.Now()
	if s.hasPend && now.Sub(s.pendingAt) <= s.timeout && abs(candidate-s.pending) <= s.confirm {
		s.hasPend = false
		return s.last + sign(delta)*min(abs(delta), s.ramp)
	}
	s.pending, s.hasPend, s.pendingAt = candidate, true, now
	return s.last
}

// Last returns the reported heart rate, or 0 before the first candidate.
func (s *HRStabilizer) Last() int { return s.last }

// Pending returns the unconfirmed large-jump candidate, if any.
func (s *HRStabilizer) Pending() (int, bool) { return s.pending, s.hasPend }

func (s *HRStabilizer) Reset() {
	s.last, s.pending, s.hasPend, s.pendingAt = 0, 0, false, time.Time{}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
