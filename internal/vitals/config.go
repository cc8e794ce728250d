package vitals

import (
	"time"

	"github.com/banshee-data/vitals.report/internal/dsp"
)

// Bounds is an inclusive integer range.
type Bounds struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Contains reports whether v lies within b.
func (b Bounds) Contains(v int) bool { return v >= b.Min && v <= b.Max }

// Clamp limits v to b.
func (b Bounds) Clamp(v int) int {
	return min(max(v, b.Min), b.Max)
}

// Config holds every tunable of the pipeline. Zero fields take the value
// from DefaultConfig when passed to NewPipeline, so zero is never a usable
// setting: FlatStdThreshold 0 or PresenceAmplitudeThreshold 0 select the
// defaults. Use a small positive value instead.
type Config struct {
	SampleRateHz float64
	// CommitEvery is the number of present samples between commit ticks.
	CommitEvery int

	// Presence.
	PresenceAmplitudeThreshold uint32
	FlatWindow                 int
	FlatStdThreshold           float64
	FlatDebounce               time.Duration

	// Conditioning.
	PPGHighPassHz    float64
	BCGHighPassHz    float64
	PPGSmoothWindow  int
	BCGSmoothWindow  int
	PPGNormWindow    int
	PPGVarianceFloor float64
	PPGBaselineAlpha float64

	// Peak detection.
	EnvelopeAlpha  float64
	ThresholdScale float64
	PPGRefractory  time.Duration
	BCGRefractory  time.Duration
	PPGIntervals   int
	BCGIntervals   int
	HRBounds       Bounds
	RRBounds       Bounds

	// HR stabiliser.
	HROutlierThreshold int
	// HRMaxStep bounds each move toward a candidate within the outlier
	// threshold.
	HRMaxStep int
	// HRConfirmTolerance is how close a second large-jump candidate must be
	// to the pending one to confirm it.
	HRConfirmTolerance int
	// HRRampStep bounds each move toward a confirmed large jump.
	HRRampStep       int
	HRPendingTimeout time.Duration

	// SpO2.
	SpO2Window   int
	SpO2EMAAlpha float64
	SpO2CoeffA   float64
	SpO2CoeffB   float64
	SpO2Bounds   Bounds

	Alerts AlertThresholds
}

// DefaultConfig returns the reference tuning for an 80 Hz sensor.
func DefaultConfig() Config {
	return Config{
		SampleRateHz: 80,
		CommitEvery:  100,

		PresenceAmplitudeThreshold: 20000,
		FlatWindow:                 50,
		FlatStdThreshold:           10,
		FlatDebounce:               2 * time.Second,

		PPGHighPassHz:    0.7,
		BCGHighPassHz:    0.1,
		PPGSmoothWindow:  5,
		BCGSmoothWindow:  7,
		PPGNormWindow:    160,
		PPGVarianceFloor: 1e-9,
		PPGBaselineAlpha: 0.01,

		EnvelopeAlpha:  0.1,
		ThresholdScale: 0.6,
		PPGRefractory:  time.Second / 3,
		BCGRefractory:  time.Second,
		PPGIntervals:   8,
		BCGIntervals:   6,
		HRBounds:       Bounds{Min: 40, Max: 200},
		RRBounds:       Bounds{Min: 6, Max: 40},

		HROutlierThreshold: 15,
		HRMaxStep:          5,
		HRConfirmTolerance: 5,
		HRRampStep:         10,
		HRPendingTimeout:   15 * time.Second,

		SpO2Window:   160,
		SpO2EMAAlpha: 0.2,
		SpO2CoeffA:   121,
		SpO2CoeffB:   9,
		SpO2Bounds:   Bounds{Min: 90, Max: 100},

		Alerts: DefaultAlertThresholds(),
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	setF := func(v *float64, def float64) {
		if *v == 0 {
			*v = def
		}
	}
	setI := func(v *int, def int) {
		if *v == 0 {
			*v = def
		}
	}
	setD := func(v *time.Duration, def time.Duration) {
		if *v == 0 {
			*v = def
		}
	}
	setB := func(v *Bounds, def Bounds) {
		if *v == (Bounds{}) {
			*v = def
		}
	}

	setF(&c.SampleRateHz, d.SampleRateHz)
	setI(&c.CommitEvery, d.CommitEvery)
	if c.PresenceAmplitudeThreshold == 0 {
		c.PresenceAmplitudeThreshold = d.PresenceAmplitudeThreshold
	}
	setI(&c.FlatWindow, d.FlatWindow)
	setF(&c.FlatStdThreshold, d.FlatStdThreshold)
	setD(&c.FlatDebounce, d.FlatDebounce)
	setF(&c.PPGHighPassHz, d.PPGHighPassHz)
	setF(&c.BCGHighPassHz, d.BCGHighPassHz)
	setI(&c.PPGSmoothWindow, d.PPGSmoothWindow)
	setI(&c.BCGSmoothWindow, d.BCGSmoothWindow)
	setI(&c.PPGNormWindow, d.PPGNormWindow)
	setF(&c.PPGVarianceFloor, d.PPGVarianceFloor)
	setF(&c.PPGBaselineAlpha, d.PPGBaselineAlpha)
	setF(&c.EnvelopeAlpha, d.EnvelopeAlpha)
	setF(&c.ThresholdScale, d.ThresholdScale)
	setD(&c.PPGRefractory, d.PPGRefractory)
	setD(&c.BCGRefractory, d.BCGRefractory)
	setI(&c.PPGIntervals, d.PPGIntervals)
	setI(&c.BCGIntervals, d.BCGIntervals)
	setB(&c.HRBounds, d.HRBounds)
	setB(&c.RRBounds, d.RRBounds)
	setI(&c.HROutlierThreshold, d.HROutlierThreshold)
	setI(&c.HRMaxStep, d.HRMaxStep)
	setI(&c.HRConfirmTolerance, d.HRConfirmTolerance)
	setI(&c.HRRampStep, d.HRRampStep)
	setD(&c.HRPendingTimeout, d.HRPendingTimeout)
	setI(&c.SpO2Window, d.SpO2Window)
	setF(&c.SpO2EMAAlpha, d.SpO2EMAAlpha)
	setF(&c.SpO2CoeffA, d.SpO2CoeffA)
	setF(&c.SpO2CoeffB, d.SpO2CoeffB)
	setB(&c.SpO2Bounds, d.SpO2Bounds)
	if c.Alerts == (AlertThresholds{}) {
		c.Alerts = d.Alerts
	}
	return c
}

// samples converts a duration to a whole number of samples, truncating.
func (c Config) samples(d time.Duration) int {
	return int(c.SampleRateHz * d.Seconds())
}

func (c Config) ppgChannel() dsp.ChannelConfig {
	return dsp.ChannelConfig{
		SampleRateHz:  c.SampleRateHz,
		HighPassHz:    c.PPGHighPassHz,
		SmoothWindow:  c.PPGSmoothWindow,
		NormWindow:    c.PPGNormWindow,
		VarianceFloor: c.PPGVarianceFloor,
		BaselineAlpha: c.PPGBaselineAlpha,
	}
}

func (c Config) bcgChannel() dsp.ChannelConfig {
	return dsp.ChannelConfig{
		SampleRateHz: c.SampleRateHz,
		HighPassHz:   c.BCGHighPassHz,
		SmoothWindow: c.BCGSmoothWindow,
	}
}

func (c Config) ppgPeaks() dsp.PeakConfig {
	return dsp.PeakConfig{
		SampleRateHz:      c.SampleRateHz,
		EnvelopeAlpha:     c.EnvelopeAlpha,
		ThresholdScale:    c.ThresholdScale,
		RefractorySamples: c.samples(c.PPGRefractory),
		MinRate:           float64(c.HRBounds.Min),
		MaxRate:           float64(c.HRBounds.Max),
		IntervalCapacity:  c.PPGIntervals,
	}
}

func (c Config) bcgPeaks() dsp.PeakConfig {
	return dsp.PeakConfig{
		SampleRateHz:      c.SampleRateHz,
		EnvelopeAlpha:     c.EnvelopeAlpha,
		ThresholdScale:    c.ThresholdScale,
		RefractorySamples: c.samples(c.BCGRefractory),
		MinRate:           float64(c.RRBounds.Min),
		MaxRate:           float64(c.RRBounds.Max),
		IntervalCapacity:  c.BCGIntervals,
	}
}
