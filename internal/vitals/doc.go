// Package vitals turns a stream of raw biosignal samples into vital signs.
//
// Responsibilities: the sample and record data model, presence detection,
// heart-rate stabilisation, SpO2 estimation, alert evaluation and the
// Pipeline that coordinates them once per sample.
// Key types: RawSample, VitalsRecord, Waveform, Config, Pipeline.
//
// A Pipeline is single threaded and deterministic given its Clock. Hosts that
// feed it from several goroutines (see internal/session) must serialise
// access themselves.
//
// Dependency rule: vitals depends on internal/dsp and internal/timeutil only.
// Transport, persistence and presentation live in their own packages.
package vitals
