package vitals

import (
	"github.com/banshee-data/vitals.report/internal/dsp"
	"github.com/banshee-data/vitals.report/internal/timeutil"
)

// Hooks receive pipeline events. Nil hooks are skipped. Hooks run on the
// goroutine calling OnSample and must not call back into the Pipeline.
type Hooks struct {
	OnRecord   func(VitalsRecord)
	OnWaveform func(Waveform)
	OnPresence func(present bool)
}

// Pipeline coordinates presence detection, conditioning, peak detection,
// SpO2 estimation and the periodic commit of a VitalsRecord. It is not safe
// for concurrent use.
type Pipeline struct {
	cfg   Config
	clock timeutil.Clock
	hooks Hooks

	presence *PresenceDetector
	ppg      *dsp.Conditioner
	bcg      *dsp.Conditioner
	hrPeaks  *dsp.PeakDetector
	rrPeaks  *dsp.PeakDetector
	hr       *HRStabilizer
	spo2     *SpO2Estimator

	// index counts present samples and is shared by both peak detectors.
	index int
	// count counts present samples since the last commit tick.
	count int

	latest    VitalsRecord
	hasLatest bool
}

func NewPipeline(cfg Config, clock timeutil.Clock, hooks Hooks) *Pipeline {
	cfg = cfg.withDefaults()
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Pipeline{
		cfg:      cfg,
		clock:    clock,
		hooks:    hooks,
		presence: NewPresenceDetector(cfg, clock),
		ppg:      dsp.NewConditioner(cfg.ppgChannel()),
		bcg:      dsp.NewConditioner(cfg.bcgChannel()),
		hrPeaks:  dsp.NewPeakDetector(cfg.ppgPeaks()),
		rrPeaks:  dsp.NewPeakDetector(cfg.bcgPeaks()),
		hr:       NewHRStabilizer(cfg, clock),
		spo2:     NewSpO2Estimator(cfg),
	}
}

// Config returns the effective configuration with defaults applied.
func (p *Pipeline) Config() Config { return p.cfg }

// OnSample processes one raw sample and reports whether it was processed.
// Samples taken while nobody is present leave all signal state untouched.
func (p *Pipeline) OnSample(s RawSample) bool {
	st := p.presence.Evaluate(s.Red, s.IR, s.BCG)
	if st.Changed {
		if !st.Present {
			p.count = 0
		}
		if p.hooks.OnPresence != nil {
			p.hooks.OnPresence(st.Present)
		}
	}
	if !st.Present {
		return false
	}

	p.index++
	ppg := p.ppg.Process(float64(s.Red))
	p.hrPeaks.OnSample(ppg.Value, p.index)
	bcg := p.bcg.Process(float64(s.BCG))
	p.rrPeaks.OnSample(bcg.Value, p.index)
	p.spo2.Accumulate(s.Red, s.IR)

	if p.hooks.OnWaveform != nil {
		p.hooks.OnWaveform(Waveform{
			Timestamp: p.clock.Now(),
			ECG:       s.ECG,
			BCG:       clampInt16(bcg.Smoothed),
			PPG:       clampUint32(ppg.Display),
		})
	}

	p.count++
	if p.count >= p.cfg.CommitEvery {
		p.count = 0
		p.commit(s)
	}
	return true
}

func (p *Pipeline) commit(s RawSample) {
	rec := p.latest
	rec.Timestamp = p.clock.Now()
	rec.T1 = Temperature(s.Red)
	rec.T2 = Temperature(s.IR)
	if rate := p.hrPeaks.Rate(); rate > 0 {
		rec.HeartRate = p.hr.Stabilize(rate)
	}
	if rate := p.rrPeaks.Rate(); rate > 0 {
		rec.BreathRate = rate
	}
	rec.SpO2, _ = p.spo2.Commit()

	p.latest, p.hasLatest = rec, true
	if p.hooks.OnRecord != nil {
		p.hooks.OnRecord(rec)
	}
}

// Latest returns the most recently committed record.
func (p *Pipeline) Latest() (VitalsRecord, bool) { return p.latest, p.hasLatest }

// Present reports whether a person was present at the last sample.
func (p *Pipeline) Present() bool { return p.presence.Present() }

// Rates returns the current raw peak-detector rates before stabilisation.
func (p *Pipeline) Rates() (hr, rr int) { return p.hrPeaks.Rate(), p.rrPeaks.Rate() }

// Reset returns the pipeline to its freshly constructed state.
func (p *Pipeline) Reset() {
	p.presence.Reset()
	p.ppg.Reset()
	p.bcg.Reset()
	p.hrPeaks.Reset()
	p.rrPeaks.Reset()
	p.hr.Reset()
	p.spo2.Reset()
	p.index, p.count = 0, 0
	p.latest, p.hasLatest = VitalsRecord{}, false
}
