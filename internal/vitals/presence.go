package vitals

import (
	"time"

	"github.com/banshee-data/vitals.report/internal/dsp"
	"github.com/banshee-data/vitals.report/internal/timeutil"
)

// PresenceState is the outcome of one presence evaluation.
type PresenceState struct {
	Present bool
	// FlatSince is when the current low-variation run began; zero when the
	// BCG channel is varying.
	FlatSince time.Time
	// Changed reports whether Present differs from the previous evaluation.
	Changed bool
}

// PresenceDetector decides whether a person is on the sensor from PPG
// amplitude and BCG variability.
type PresenceDetector struct {
	clock        timeutil.Clock
	amplitude    uint32
	stdThreshold float64
	debounce     time.Duration

	bcg       *dsp.Window
	present   bool
	flatSince time.Time
}

func NewPresenceDetector(cfg Config, clock timeutil.Clock) *PresenceDetector {
	cfg = cfg.withDefaults()
	return &PresenceDetector{
		clock:        clock,
		amplitude:    cfg.PresenceAmplitudeThreshold,
		stdThreshold: cfg.FlatStdThreshold,
		debounce:     cfg.FlatDebounce,
		bcg:          dsp.NewWindow(cfg.FlatWindow),
	}
}

// Evaluate updates presence with one sample.
func (d *PresenceDetector) Evaluate(red, ir uint32, bcg int16) PresenceState {
	was := d.present
	d.bcg.Push(float64(bcg))

	switch {
	case red < d.amplitude && ir < d.amplitude:
		d.present = false
	case !d.bcg.Full():
		d.flatSince = time.Time{}
		d.present = true
	case d.bcg.StdDev() <= d.stdThreshold:
		now := d.clock.Now()
		if d.flatSince.IsZero() {
			d.flatSince = now
		}
		d.present = now.Sub(d.flatSince) < d.debounce
	default:
		d.flatSince = time.Time{}
		d.present = true
	}

	return PresenceState{Present: d.present, FlatSince: d.flatSince, Changed: d.present != was}
}

// Present returns the last evaluated presence.
func (d *PresenceDetector) Present() bool { return d.present }

// Reset returns the detector to its initial absent state.
func (d *PresenceDetector) Reset() {
	d.bcg.Reset()
	d.present = false
	d.flatSince = time.Time{}
}
