package dsp

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/stat"
)

func TestWindow_MatchesReferenceStatistics(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		n        int
	}{
		{"partial", 50, 20},
		{"exactly full", 50, 50},
		{"many wraps", 50, 1234},
		{"capacity one", 1, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(7))
			w := NewWindow(tt.capacity)
			var all []float64
			for i := 0; i < tt.n; i++ {
				v := 40000 + rng.Float64()*500
				w.Push(v)
				all = append(all, v)
			}

			start := len(all) - tt.capacity
			if start < 0 {
				start = 0
			}
			contents := all[start:]

			if w.Len() != len(contents) {
				t.Fatalf("Len = %d, want %d", w.Len(), len(contents))
			}
			if got, want := w.Mean(), stat.Mean(contents, nil); math.Abs(got-want) > 1e-6 {
				t.Errorf("Mean = %v, want %v", got, want)
			}
			if got, want := w.Variance(), stat.PopVariance(contents, nil); math.Abs(got-want) > 1e-3 {
				t.Errorf("Variance = %v, want %v", got, want)
			}
			if got, want := w.StdDev(), stat.PopStdDev(contents, nil); math.Abs(got-want) > 1e-4 {
				t.Errorf("StdDev = %v, want %v", got, want)
			}
		})
	}
}

func TestWindow_RunningSumEqualsContents(t *testing.T) {
	w := NewWindow(7)
	for i := 1; i <= 100; i++ {
		w.Push(float64(i))
		var want float64
		lo := i - 6
		if lo < 1 {
			lo = 1
		}
		for v := lo; v <= i; v++ {
			want += float64(v)
		}
		if w.Sum() != want {
			t.Fatalf("after %d pushes Sum = %v, want %v", i, w.Sum(), want)
		}
	}
}

func TestWindow_VarianceNeverNegative(t *testing.T) {
	w := NewWindow(50)
	for i := 0; i < 500; i++ {
		w.Push(1e9 + 0.1)
		if v := w.Variance(); v < 0 {
			t.Fatalf("Variance = %v after %d pushes", v, i+1)
		}
	}
}

func TestWindow_Reset(t *testing.T) {
	w := NewWindow(4)
	for i := 0; i < 6; i++ {
		w.Push(float64(i))
	}
	w.Reset()
	if w.Len() != 0 || w.Sum() != 0 || w.Mean() != 0 || w.Variance() != 0 || w.Full() {
		t.Errorf("window not empty after Reset: len=%d sum=%v", w.Len(), w.Sum())
	}
	w.Push(3)
	if w.Mean() != 3 {
		t.Errorf("Mean after reset and push = %v, want 3", w.Mean())
	}
}
