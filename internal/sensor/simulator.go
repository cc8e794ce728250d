package sensor

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/banshee-data/vitals.report/internal/timeutil"
	"github.com/banshee-data/vitals.report/internal/vitals"
)

// SimConfig describes the synthetic person generated by a Simulator.
type SimConfig struct {
	SampleRateHz float64
	HeartRateBPM float64
	RespRateBPM  float64

	// PPG DC level and pulse amplitude for each LED. SpO2 follows from
	// 121 - 9*((RedAC/RedDC)/(IRAC/IRDC)).
	RedDC, RedAC float64
	IRDC, IRAC   float64

	BCGAmplitude float64
	ECGAmplitude float64
	// Noise is the standard deviation of additive Gaussian noise as a
	// fraction of each channel's AC amplitude.
	Noise float64

	TempC float64
	Seed  int64

	// When AbsentEvery is set, the person leaves the sensor for AbsentFor
	// at the end of every AbsentEvery period.
	AbsentEvery time.Duration
	AbsentFor   time.Duration
}

// DefaultSimConfig returns a resting adult: HR 72, RR 18, SpO2 97.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		SampleRateHz: 80,
		HeartRateBPM: 72,
		RespRateBPM:  18,
		RedDC:        60000,
		RedAC:        1600,
		IRDC:         80000,
		IRAC:         800,
		BCGAmplitude: 800,
		ECGAmplitude: 1000,
		TempC:        36.6,
		Seed:         1,
	}
}

// ExpectedSpO2 returns the SpO2 the configured signal should yield.
func (c SimConfig) ExpectedSpO2() float64 {
	r := (c.RedAC / c.RedDC) / (c.IRAC / c.IRDC)
	return 121 - 9*r
}

// Simulator generates deterministic synthetic samples.
type Simulator struct {
	mu      sync.Mutex
	cfg     SimConfig
	n       int64
	rng     *rand.Rand
	present bool
}

func NewSimulator(cfg SimConfig) *Simulator {
	if cfg.SampleRateHz <= 0 {
		cfg.SampleRateHz = 80
	}
	return &Simulator{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed)), present: true}
}

// Config returns the simulator configuration.
func (s *Simulator) Config() SimConfig { return s.cfg }

// SetPresent places the synthetic person on or off the sensor.
func (s *Simulator) SetPresent(p bool) {
	s.mu.Lock()
	s.present = p
	s.mu.Unlock()
}

func (s *Simulator) absentAt(n int64) bool {
	if !s.present {
		return true
	}
	every := int64(s.cfg.AbsentEvery.Seconds() * s.cfg.SampleRateHz)
	span := int64(s.cfg.AbsentFor.Seconds() * s.cfg.SampleRateHz)
	if every <= 0 || span <= 0 {
		return false
	}
	return n%every >= every-span
}

func (s *Simulator) noise(amp float64) float64 {
	if s.cfg.Noise == 0 {
		return 0
	}
	return s.rng.NormFloat64() * s.cfg.Noise * amp
}

// Next returns the next sample.
func (s *Simulator) Next() vitals.RawSample {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.n
	s.n++
	c := s.cfg
	tempRaw := uint16(math.Round((c.TempC + 273.15) / 0.02))

	if s.absentAt(n) {
		return vitals.RawSample{Red: 5000, IR: 5000, Temp1: tempRaw, Temp2: tempRaw}
	}

	t := float64(n) / c.SampleRateHz
	cardiacPhase := math.Mod(t*c.HeartRateBPM/60, 1)
	pulse := math.Sin(2 * math.Pi * cardiacPhase)
	resp := math.Sin(2 * math.Pi * t * c.RespRateBPM / 60)

	return vitals.RawSample{
		ECG:   clamp16(c.ECGAmplitude*ecgShape(cardiacPhase) + s.noise(c.ECGAmplitude)),
		BCG:   clamp16(c.BCGAmplitude*resp + s.noise(c.BCGAmplitude)),
		Red:   clampU32(c.RedDC + c.RedAC*pulse + s.noise(c.RedAC)),
		IR:    clampU32(c.IRDC + c.IRAC*pulse + s.noise(c.IRAC)),
		Temp1: tempRaw,
		Temp2: tempRaw,
	}
}

// Run emits samples at the configured rate until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context, clock timeutil.Clock, emit func(vitals.RawSample)) error {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	ticker := clock.NewTicker(time.Duration(float64(time.Second) / s.cfg.SampleRateHz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			emit(s.Next())
		}
	}
}

// ecgShape is a PQRST complex built from Gaussians over one cardiac cycle.
func ecgShape(phase float64) float64 {
	p := 0.08 * gauss(phase, 0.18, 0.03)
	q := -0.12 * gauss(phase, 0.30, 0.01)
	r := 1.00 * gauss(phase, 0.32, 0.008)
	sw := -0.25 * gauss(phase, 0.35, 0.012)
	tw := 0.25 * gauss(phase, 0.60, 0.06)
	return p + q + r + sw + tw
}

func gauss(x, mu, sigma float64) float64 {
	z := (x - mu) / sigma
	return math.Exp(-0.5 * z * z)
}

func clamp16(v float64) int16 {
	return int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, math.Round(v))))
}

func clampU32(v float64) uint32 {
	return uint32(math.Max(0, math.Min(math.MaxUint32, math.Round(v))))
}
