package dsp

// ChannelConfig configures the conditioning chain of one signal channel.
type ChannelConfig struct {
	SampleRateHz float64
	HighPassHz   float64
	// SmoothWindow is the moving-average length in samples.
	SmoothWindow int
	// NormWindow is the z-score window in samples; 0 disables normalisation.
	NormWindow    int
	VarianceFloor float64
	// BaselineAlpha is the EMA coefficient of the display baseline tracked on
	// the raw input; 0 disables it.
	BaselineAlpha float64
}

// Conditioned is the output of one Conditioner step.
type Conditioned struct {
	// Value feeds the peak detector: the z-score when normalisation is
	// enabled, otherwise Smoothed.
	Value float64
	// Smoothed is the moving average of the high-pass output.
	Smoothed float64
	// Display is the baseline plus Smoothed when a baseline is tracked,
	// otherwise Smoothed.
	Display float64
}

// Conditioner runs high-pass, moving average and optional z-score
// normalisation over a single channel.
type Conditioner struct {
	hp       *HighPass
	smooth   *MovingAverage
	norm     *ZScore
	baseline *EMA
}

func NewConditioner(cfg ChannelConfig) *Conditioner {
	c := &Conditioner{
		hp:     NewHighPass(cfg.HighPassHz, cfg.SampleRateHz),
		smooth: NewMovingAverage(cfg.SmoothWindow),
	}
	if cfg.NormWindow > 0 {
		c.norm = NewZScore(cfg.NormWindow, cfg.VarianceFloor)
	}
	if cfg.BaselineAlpha > 0 {
		c.baseline = NewSeededEMA(cfg.BaselineAlpha)
	}
	return c
}

// Process conditions one raw sample.
func (c *Conditioner) Process(raw float64) Conditioned {
	var base float64
	if c.baseline != nil {
		base = c.baseline.Update(raw)
	}

	smoothed := c.smooth.Process(c.hp.Process(raw))
	out := Conditioned{Value: smoothed, Smoothed: smoothed, Display: smoothed}
	if c.norm != nil {
		out.Value = c.norm.Process(smoothed)
	}
	if c.baseline != nil {
		out.Display = base + smoothed
	}
	return out
}

func (c *Conditioner) Reset() {
	c.hp.Reset()
	c.smooth.Reset()
	if c.norm != nil {
		c.norm.Reset()
	}
	if c.baseline != nil {
		c.baseline.Reset()
	}
}
