package dsp

import "math"

// PeakConfig configures an adaptive-threshold PeakDetector.
type PeakConfig struct {
	SampleRateHz float64
	// EnvelopeAlpha is the EMA coefficient of the absolute-amplitude envelope.
	EnvelopeAlpha float64
	// ThresholdScale multiplies the envelope to give the crossing threshold.
	ThresholdScale float64
	// RefractorySamples is the minimum distance between accepted peaks.
	RefractorySamples int
	// MinRate and MaxRate bound plausible rates in events per minute.
	MinRate float64
	MaxRate float64
	// IntervalCapacity is the number of recent intervals averaged for Rate.
	IntervalCapacity int
}

// PeakDetector finds peaks as the maximum of each excursion above an adaptive
// threshold and estimates a rate from the mean of recent peak intervals.
type PeakDetector struct {
	cfg PeakConfig

	envelope   float64
	above      bool
	candMax    float64
	candIndex  int
	lastPeak   int
	havePeak   bool
	intervals  []int
	nextSlot   int
	nIntervals int
	rate       int
}

func NewPeakDetector(cfg PeakConfig) *PeakDetector {
	if cfg.IntervalCapacity < 1 {
		cfg.IntervalCapacity = 1
	}
	return &PeakDetector{
		cfg:       cfg,
		intervals: make([]int, cfg.IntervalCapacity),
	}
}

// OnSample processes one conditioned sample at the given sample index. It
// returns the interval in samples to the previous peak when a peak was
// accepted with an in-band instantaneous rate.
func (p *PeakDetector) OnSample(value float64, index int) (interval int, ok bool) {
	p.envelope = (1-p.cfg.EnvelopeAlpha)*p.envelope + p.cfg.EnvelopeAlpha*math.Abs(value)
	threshold := p.cfg.ThresholdScale * p.envelope

	if value > threshold {
		if !p.above {
			p.above = true
			p.candMax = value
			p.candIndex = index
		} else if value > p.candMax {
			p.candMax = value
			p.candIndex = index
		}
		return 0, false
	}
	if !p.above {
		return 0, false
	}
	p.above = false

	peak := p.candIndex
	if !p.havePeak {
		// The first peak only anchors the interval count; no interval is
		// measured from the start of the stream.
		p.havePeak = true
		p.lastPeak = peak
		return 0, false
	}
	interval = peak - p.lastPeak
	if interval < p.cfg.RefractorySamples {
		return 0, false
	}
	p.lastPeak = peak
	if interval <= 0 {
		return 0, false
	}

	instant := 60 * p.cfg.SampleRateHz / float64(interval)
	if !p.inBand(instant) {
		return 0, false
	}
	p.intervals[p.nextSlot] = interval
	p.nextSlot = (p.nextSlot + 1) % len(p.intervals)
	if p.nIntervals < len(p.intervals) {
		p.nIntervals++
	}

	var sum int
	for _, v := range p.intervals[:p.nIntervals] {
		sum += v
	}
	mean := float64(sum) / float64(p.nIntervals)
	rate := math.RoundToEven(60 * p.cfg.SampleRateHz / mean)
	if p.inBand(rate) {
		p.rate = int(rate)
	}
	return interval, true
}

func (p *PeakDetector) inBand(rate float64) bool {
	return rate >= p.cfg.MinRate && rate <= p.cfg.MaxRate
}

// Rate returns the most recent in-band rate estimate, or 0 when none yet.
func (p *PeakDetector) Rate() int { return p.rate }

func (p *PeakDetector) Reset() {
	clear(p.intervals)
	*p = PeakDetector{cfg: p.cfg, intervals: p.intervals}
}
