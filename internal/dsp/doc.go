// Package dsp owns the per-channel signal processing primitives of the vitals
// pipeline.
//
// Responsibilities: fixed-capacity windows with running sums, first-order
// high-pass filtering, moving averages, z-score normalisation, exponential
// smoothing, and adaptive-threshold peak detection with rate estimation.
// Key types: Window, Conditioner, PeakDetector.
//
// Every type here processes one sample at a time in O(1) without allocating
// after construction. None of them are safe for concurrent use; the owning
// pipeline serialises access.
//
// Dependency rule: dsp depends on nothing else in this module.
package dsp
