package dsp

import "math"

// Window is a fixed-capacity ring of samples that keeps the running sum and
// sum of squares of its contents. Push evicts the oldest sample once the ring
// is full, then adds the new one.
type Window struct {
	buf   []float64
	next  int
	count int
	sum   float64
	sumSq float64
}

// NewWindow returns an empty window holding at most capacity samples.
// A capacity below 1 is treated as 1.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{buf: make([]float64, capacity)}
}

// Push adds v to the window, evicting the oldest sample when full.
func (w *Window) Push(v float64) {
	if w.count == len(w.buf) {
		old := w.buf[w.next]
		w.sum -= old
		w.sumSq -= old * old
	} else {
		w.count++
	}
	w.buf[w.next] = v
	w.sum += v
	w.sumSq += v * v

	w.next++
	if w.next == len(w.buf) {
		w.next = 0
		// Re-derive the sums once per wrap so rounding error cannot accumulate.
		if w.count == len(w.buf) {
			w.resum()
		}
	}
}

func (w *Window) resum() {
	var s, sq float64
	for _, v := range w.buf[:w.count] {
		s += v
		sq += v * v
	}
	w.sum, w.sumSq = s, sq
}

// Len returns the number of samples currently held.
func (w *Window) Len() int { return w.count }

// Cap returns the window capacity.
func (w *Window) Cap() int { return len(w.buf) }

// Full reports whether the window holds Cap samples.
func (w *Window) Full() bool { return w.count == len(w.buf) }

// Sum returns the running sum of the window contents.
func (w *Window) Sum() float64 { return w.sum }

// Mean returns the mean of the window contents, or 0 when empty.
func (w *Window) Mean() float64 {
	if w.count == 0 {
		return 0
	}
	return w.sum / float64(w.count)
}

// Variance returns the population variance of the window contents, floored
// at zero.
func (w *Window) Variance() float64 {
	if w.count == 0 {
		return 0
	}
	n := float64(w.count)
	mean := w.sum / n
	v := w.sumSq/n - mean*mean
	if v < 0 {
		return 0
	}
	return v
}

// StdDev returns the population standard deviation of the window contents.
func (w *Window) StdDev() float64 {
	return math.Sqrt(w.Variance())
}

// Reset empties the window.
func (w *Window) Reset() {
	clear(w.buf)
	w.next, w.count = 0, 0
	w.sum, w.sumSq = 0, 0
}
