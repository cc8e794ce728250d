package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the prometheus collectors of the vitals service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	SamplesProcessed prometheus.Counter
	SamplesSkipped   *prometheus.CounterVec
	Commits          prometheus.Counter
	Present          prometheus.Gauge
	HeartRate        prometheus.Gauge
	BreathRate       prometheus.Gauge
	SpO2             prometheus.Gauge
	SinkErrors       *prometheus.CounterVec
	RecordsDropped   prometheus.Counter
	FrameErrors      *prometheus.CounterVec

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SamplesProcessed: f.NewCounter(prometheus.CounterOpts{
			Name: "vitals_samples_processed_total",
			Help: "Samples that went through the signal pipeline",
		}),
		SamplesSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vitals_samples_skipped_total",
			Help: "Samples not processed, by reason",
		}, []string{"reason"}),
		Commits: f.NewCounter(prometheus.CounterOpts{
			Name: "vitals_commits_total",
			Help: "Vitals records committed",
		}),
		Present: f.NewGauge(prometheus.GaugeOpts{
			Name: "vitals_person_present",
			Help: "1 when a person is detected on the sensor",
		}),
		HeartRate: f.NewGauge(prometheus.GaugeOpts{
			Name: "vitals_heart_rate_bpm",
			Help: "Last committed heart rate",
		}),
		BreathRate: f.NewGauge(prometheus.GaugeOpts{
			Name: "vitals_breath_rate_bpm",
			Help: "Last committed respiration rate",
		}),
		SpO2: f.NewGauge(prometheus.GaugeOpts{
			Name: "vitals_spo2_percent",
			Help: "Last committed SpO2",
		}),
		SinkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vitals_sink_errors_total",
			Help: "Record sink failures, by sink",
		}, []string{"sink"}),
		RecordsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "vitals_records_dropped_total",
			Help: "Records dropped because the sink queue was full",
		}),
		FrameErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vitals_frame_errors_total",
			Help: "Device frame decoding errors, by kind",
		}, []string{"kind"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// ObserveRecord sets the vitals gauges from a committed record.
func (m *Metrics) ObserveRecord(hr, rr, spo2 int) {
	if m == nil {
		return
	}
	m.Commits.Inc()
	m.HeartRate.Set(float64(hr))
	m.BreathRate.Set(float64(rr))
	m.SpO2.Set(float64(spo2))
}

func (m *Metrics) ObservePresence(present bool) {
	if m == nil {
		return
	}
	if present {
		m.Present.Set(1)
	} else {
		m.Present.Set(0)
	}
}

func (m *Metrics) SampleProcessed() {
	if m == nil {
		return
	}
	m.SamplesProcessed.Inc()
}

// SampleSkipped counts a sample that was not processed. reason is "absent"
// or "paused".
func (m *Metrics) SampleSkipped(reason string) {
	if m == nil {
		return
	}
	m.SamplesSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) SinkError(sink string) {
	if m == nil {
		return
	}
	m.SinkErrors.WithLabelValues(sink).Inc()
}

func (m *Metrics) RecordDropped() {
	if m == nil {
		return
	}
	m.RecordsDropped.Inc()
}

// FrameError counts a device frame error. kind is "checksum" or "resync".
func (m *Metrics) FrameError(kind string, n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.FrameErrors.WithLabelValues(kind).Add(float64(n))
}
