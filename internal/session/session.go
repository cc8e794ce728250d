// Package session hosts a vitals pipeline for one monitored person. It
// serialises sample ingestion and control commands, stamps committed records
// with a session ID and fans them out to record sinks from its own goroutine.
package session

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/banshee-data/vitals.report/internal/monitoring"
	"github.com/banshee-data/vitals.report/internal/timeutil"
	"github.com/banshee-data/vitals.report/internal/vitals"
)

// DefaultQueueSize is the number of pending sink events held before records
// are dropped.
const DefaultQueueSize = 64

// flushTimeout bounds delivery of queued events after Run is cancelled.
const flushTimeout = 5 * time.Second

// Display is shown in place of a value that is not available.
const Display = "--"

// RecordSink receives every committed record.
type RecordSink interface {
	RecordVitals(ctx context.Context, rec vitals.VitalsRecord) error
}

// SessionStarter is implemented by sinks that track session boundaries.
type SessionStarter interface {
	StartSession(ctx context.Context, id string, at time.Time) error
}

// SessionEnder is implemented by sinks that close sessions.
type SessionEnder interface {
	EndSession(ctx context.Context, id string, at time.Time) error
}

// WaveformSink receives every processed waveform sample. It is called with
// the session lock held and must not block.
type WaveformSink interface {
	PublishWaveform(w vitals.Waveform)
}

type eventKind int

const (
	eventRecord eventKind = iota
	eventStart
	eventEnd
)

type event struct {
	kind eventKind
	id   string
	at   time.Time
	rec  vitals.VitalsRecord
}

type namedSink struct {
	name string
	sink RecordSink
}

// Option configures a Session.
type Option func(*Session)

func WithClock(c timeutil.Clock) Option { return func(s *Session) { s.clock = c } }

func WithLogger(l *zap.Logger) Option { return func(s *Session) { s.logger = l } }

func WithMetrics(m *monitoring.Metrics) Option { return func(s *Session) { s.metrics = m } }

// WithSink adds a record sink. name labels its errors in logs and metrics.
func WithSink(name string, sink RecordSink) Option {
	return func(s *Session) { s.sinks = append(s.sinks, namedSink{name, sink}) }
}

func WithWaveformSink(w WaveformSink) Option {
	return func(s *Session) { s.waveforms = append(s.waveforms, w) }
}

func WithQueueSize(n int) Option { return func(s *Session) { s.queueSize = n } }

// Session owns a vitals.Pipeline. All methods are safe for concurrent use.
type Session struct {
	clock     timeutil.Clock
	logger    *zap.Logger
	metrics   *monitoring.Metrics
	sinks     []namedSink
	waveforms []WaveformSink
	queueSize int

	queue   chan event
	dropped atomic.Uint64

	mu        sync.Mutex
	pipeline  *vitals.Pipeline
	id        string
	startedAt time.Time
	paused    bool
}

// New creates a session and queues the start of its first session ID.
func New(cfg vitals.Config, opts ...Option) *Session {
	s := &Session{queueSize: DefaultQueueSize}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = timeutil.RealClock{}
	}
	s.logger = monitoring.OrDefault(s.logger).Named("session")
	if s.queueSize <= 0 {
		s.queueSize = DefaultQueueSize
	}
	s.queue = make(chan event, s.queueSize)

	s.pipeline = vitals.NewPipeline(cfg, s.clock, vitals.Hooks{
		OnRecord:   s.onRecord,
		OnWaveform: s.onWaveform,
		OnPresence: s.onPresence,
	})
	s.metrics.ObservePresence(false)

	s.mu.Lock()
	s.begin()
	s.mu.Unlock()
	return s
}

// begin starts a new session ID. Callers hold s.mu.
func (s *Session) begin() {
	s.id = uuid.NewString()
	s.startedAt = s.clock.Now()
	s.enqueue(event{kind: eventStart, id: s.id, at: s.startedAt})
	s.logger.Info("session started", zap.String("session", s.id))
}

func (s *Session) enqueue(ev event) {
	select {
	case s.queue <- ev:
	default:
		s.dropped.Add(1)
		s.metrics.RecordDropped()
		s.logger.Warn("sink queue full, event dropped", zap.String("session", ev.id))
	}
}

func (s *Session) onRecord(rec vitals.VitalsRecord) {
	rec.SessionID = s.id
	s.metrics.ObserveRecord(rec.HeartRate, rec.BreathRate, rec.SpO2)
	s.logger.Debug("vitals committed",
		zap.String("session", s.id),
		zap.Int("hr", rec.HeartRate),
		zap.Int("rr", rec.BreathRate),
		zap.Int("spo2", rec.SpO2),
	)
	s.enqueue(event{kind: eventRecord, id: s.id, at: rec.Timestamp, rec: rec})
}

func (s *Session) onWaveform(w vitals.Waveform) {
	for _, ws := range s.waveforms {
		ws.PublishWaveform(w)
	}
}

func (s *Session) onPresence(present bool) {
	s.metrics.ObservePresence(present)
	s.logger.Info("presence changed", zap.String("session", s.id), zap.Bool("present", present))
}

// HandleSample feeds one sample to the pipeline. Samples received while the
// session is paused are dropped.
func (s *Session) HandleSample(sample vitals.RawSample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.paused {
		s.metrics.SampleSkipped("paused")
		return
	}
	if s.pipeline.OnSample(sample) {
		s.metrics.SampleProcessed()
	} else {
		s.metrics.SampleSkipped("absent")
	}
}

func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		s.paused = true
		s.logger.Info("session paused", zap.String("session", s.id))
	}
}

func (s *Session) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		s.paused = false
		s.logger.Info("session resumed", zap.String("session", s.id))
	}
}

func (s *Session) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Reset clears all signal state and starts a new session ID. The paused
// state is kept.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enqueue(event{kind: eventEnd, id: s.id, at: s.clock.Now()})
	s.pipeline.Reset()
	s.metrics.ObservePresence(false)
	s.begin()
}

// ID returns the current session ID.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Dropped returns the number of sink events dropped on a full queue.
func (s *Session) Dropped() uint64 { return s.dropped.Load() }

// Snapshot is the externally visible state of a session.
type Snapshot struct {
	SessionID string               `json:"session_id"`
	StartedAt time.Time            `json:"started_at"`
	Present   bool                 `json:"present"`
	Paused    bool                 `json:"paused"`
	Latest    *vitals.VitalsRecord `json:"latest,omitempty"`
	Alerts    []vitals.Alert       `json:"alerts"`

	HeartRateDisplay  string `json:"heart_rate_display"`
	BreathRateDisplay string `json:"breath_rate_display"`
	SpO2Display       string `json:"spo2_display"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		SessionID:         s.id,
		StartedAt:         s.startedAt,
		Present:           s.pipeline.Present(),
		Paused:            s.paused,
		Alerts:            []vitals.Alert{},
		HeartRateDisplay:  Display,
		BreathRateDisplay: Display,
		SpO2Display:       Display,
	}
	rec, ok := s.pipeline.Latest()
	if ok {
		rec.SessionID = s.id
		snap.Latest = &rec
	}
	if !snap.Present {
		return snap
	}

	snap.HeartRateDisplay = strconv.Itoa(rec.HeartRate)
	snap.BreathRateDisplay = strconv.Itoa(rec.BreathRate)
	if rec.SpO2 > 0 {
		snap.SpO2Display = strconv.Itoa(rec.SpO2)
	}
	if alerts := vitals.EvaluateAlerts(rec, true, s.pipeline.Config().Alerts); alerts != nil {
		snap.Alerts = alerts
	}
	return snap
}

// Run delivers queued events to the sinks until ctx is cancelled. It then
// delivers what is still queued, ends the current session and returns
// ctx.Err().
func (s *Session) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.flush(ctx)
			return ctx.Err()
		case ev := <-s.queue:
			s.deliver(ctx, ev)
		}
	}
}

func (s *Session) flush(parent context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), flushTimeout)
	defer cancel()

	for drained := false; !drained; {
		select {
		case ev := <-s.queue:
			s.deliver(ctx, ev)
		default:
			drained = true
		}
	}

	s.mu.Lock()
	end := event{kind: eventEnd, id: s.id, at: s.clock.Now()}
	s.mu.Unlock()
	s.deliver(ctx, end)
}

func (s *Session) deliver(ctx context.Context, ev event) {
	for _, ns := range s.sinks {
		var err error
		switch ev.kind {
		case eventRecord:
			err = ns.sink.RecordVitals(ctx, ev.rec)
		case eventStart:
			if st, ok := ns.sink.(SessionStarter); ok {
				err = st.StartSession(ctx, ev.id, ev.at)
			}
		case eventEnd:
			if en, ok := ns.sink.(SessionEnder); ok {
				err = en.EndSession(ctx, ev.id, ev.at)
			}
		}
		if err != nil {
			s.metrics.SinkError(ns.name)
			s.logger.Warn("sink failed",
				zap.String("sink", ns.name),
				zap.String("session", ev.id),
				zap.Error(err),
			)
		}
	}
}
