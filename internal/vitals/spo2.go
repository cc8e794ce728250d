package vitals

import (
	"math"

	"github.com/banshee-data/vitals.report/internal/dsp"
)

// SpO2FromRatio maps a red/IR ratio of ratios to an SpO2 percentage using the
// linear approximation a - b*r, clamped to bounds.
func SpO2FromRatio(r, a, b float64, bounds Bounds) float64 {
	v := a - b*r
	return math.Min(math.Max(v, float64(bounds.Min)), float64(bounds.Max))
}

// SpO2Estimator estimates SpO2 from windowed red and IR statistics using the
// ratio-of-ratios method.
type SpO2Estimator struct {
	red, ir    *dsp.Window
	minSamples int
	a, b       float64
	bounds     Bounds
	alpha      float64

	ema       float64
	displayed int
}

func NewSpO2Estimator(cfg Config) *SpO2Estimator {
	cfg = cfg.withDefaults()
	return &SpO2Estimator{
		red:        dsp.NewWindow(cfg.SpO2Window),
		ir:         dsp.NewWindow(cfg.SpO2Window),
		minSamples: cfg.SpO2Window / 3,
		a:          cfg.SpO2CoeffA,
		b:          cfg.SpO2CoeffB,
		bounds:     cfg.SpO2Bounds,
		alpha:      cfg.SpO2EMAAlpha,
	}
}

// Accumulate adds one red/IR pair to the windows.
func (e *SpO2Estimator) Accumulate(red, ir uint32) {
	e.red.Push(float64(red))
	e.ir.Push(float64(ir))
}

// Ratio returns the current ratio of ratios, or false when the windows hold
// too few samples or a DC or AC component is degenerate.
func (e *SpO2Estimator) Ratio() (float64, bool) {
	if e.red.Len() < e.minSamples {
		return 0, false
	}
	dcRed, dcIR := e.red.Mean(), e.ir.Mean()
	acRed, acIR := e.red.StdDev(), e.ir.StdDev()
	if dcRed <= 1 || dcIR <= 1 || acRed <= 1e-6 || acIR <= 1e-6 {
		return 0, false
	}
	return (acRed / dcRed) / (acIR / dcIR), true
}

// Commit smooths the current estimate into the displayed value. It reports
// true only when the displayed integer changed.
func (e *SpO2Estimator) Commit() (int, bool) {
	r, ok := e.Ratio()
	if !ok {
		return e.displayed, false
	}
	spo2 := SpO2FromRatio(r, e.a, e.b, e.bounds)
	if e.displayed <= 0 {
		e.ema = spo2
	} else {
		e.ema = (1-e.alpha)*e.ema + e.alpha*spo2
	}

	v := int(math.RoundToEven(e.ema))
	if v == e.displayed {
		return v, false
	}
	e.displayed = v
	return v, true
}

// Displayed returns the displayed SpO2, or 0 before the first estimate.
func (e *SpO2Estimator) Displayed() int { return e.displayed }

func (e *SpO2Estimator) Reset() {
	e.red.Reset()
	e.ir.Reset()
	e.ema, e.displayed = 0, 0
}
