package dsp

import "math"

// HighPassAlpha returns the coefficient of a first-order RC high-pass filter
// with cutoff fc at sample rate fs.
func HighPassAlpha(fc, fs float64) float64 {
	rc := 1.0 / (2 * math.Pi * fc)
	dt := 1.0 / fs
	return rc / (rc + dt)
}

// HighPass is a first-order high-pass filter, y = a*(yPrev + x - xPrev).
// Its memory starts at zero.
type HighPass struct {
	alpha float64
	xPrev float64
	yPrev float64
}

// NewHighPass returns a high-pass filter with cutoff fc Hz at fs Hz.
func NewHighPass(fc, fs float64) *HighPass {
	return &HighPass{alpha: HighPassAlpha(fc, fs)}
}

// Alpha returns the filter coefficient.
func (h *HighPass) Alpha() float64 { return h.alpha }

// Process filters one sample.
func (h *HighPass) Process(x float64) float64 {
	y := h.alpha * (h.yPrev + x - h.xPrev)
	h.xPrev = x
	h.yPrev = y
	return y
}

func (h *HighPass) Reset() {
	h.xPrev, h.yPrev = 0, 0
}

// MovingAverage is a boxcar mean over the most recent samples. Until the
// window fills, the mean covers the filled part only.
type MovingAverage struct {
	w *Window
}

func NewMovingAverage(size int) *MovingAverage {
	return &MovingAverage{w: NewWindow(size)}
}

// Process adds x and returns the current mean.
func (m *MovingAverage) Process(x float64) float64 {
	m.w.Push(x)
	return m.w.Mean()
}

func (m *MovingAverage) Reset() { m.w.Reset() }

// ZScore normalises each sample against the mean and population standard
// deviation of a trailing window that includes the sample itself.
type ZScore struct {
	w     *Window
	floor float64
}

// NewZScore returns a normaliser over size samples. floor is the minimum
// variance used in the denominator.
func NewZScore(size int, floor float64) *ZScore {
	return &ZScore{w: NewWindow(size), floor: floor}
}

func (z *ZScore) Process(x float64) float64 {
	z.w.Push(x)
	v := z.w.Variance()
	if v < z.floor {
		v = z.floor
	}
	return (x - z.w.Mean()) / math.Sqrt(v)
}

func (z *ZScore) Reset() { z.w.Reset() }

// EMA is an exponential moving average. When seeded, the first sample
// initialises the average directly instead of being blended with zero.
type EMA struct {
	alpha  float64
	value  float64
	seeded bool
	seed   bool
}

// NewEMA returns an EMA that starts from zero.
func NewEMA(alpha float64) *EMA {
	return &EMA{alpha: alpha}
}

// NewSeededEMA returns an EMA whose first sample becomes its value.
func NewSeededEMA(alpha float64) *EMA {
	return &EMA{alpha: alpha, seed: true}
}

// Update blends x into the average and returns the new value.
func (e *EMA) Update(x float64) float64 {
	if e.seed && !e.seeded {
		e.value = x
		e.seeded = true
		return e.value
	}
	e.value = (1-e.alpha)*e.value + e.alpha*x
	return e.value
}

// Value returns the current average.
func (e *EMA) Value() float64 { return e.value }

// Seeded reports whether a seeded EMA has received its first sample.
func (e *EMA) Seeded() bool { return e.seeded }

func (e *EMA) Reset() {
	e.value = 0
	e.seeded = false
}
