package vitals

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/vitals.report/internal/timeutil"
)

func TestPresenceDetector_InitiallyAbsent(t *testing.T) {
	d := NewPresenceDetector(DefaultConfig(), timeutil.NewMockClock(epoch))
	assert.False(t, d.Present())

	st := d.Evaluate(50000, 50000, 0)
	assert.True(t, st.Present, "strong PPG amplitude is present immediately")
	assert.True(t, st.Changed)

	st = d.Evaluate(50000, 50000, 0)
	assert.True(t, st.Present)
	assert.False(t, st.Changed)
}

func TestPresenceDetector_AmplitudeGate(t *testing.T) {
	tests := []struct {
		name    string
		red, ir uint32
		want    bool
	}{
		{"both low", 19999, 19999, false},
		{"red high", 20000, 100, true},
		{"ir high", 100, 25000, true},
		{"both high", 60000, 80000, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewPresenceDetector(DefaultConfig(), timeutil.NewMockClock(epoch))
			assert.Equal(t, tt.want, d.Evaluate(tt.red, tt.ir, 0).Present)
		})
	}
}

func TestPresenceDetector_FlatDebounce(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	d := NewPresenceDetector(DefaultConfig(), clock)

	// Fill the 50-sample window with a constant BCG. The flat timer starts on
	// the sample that fills it.
	var st PresenceState
	for i := 0; i < 50; i++ {
		st = d.Evaluate(50000, 50000, 100)
	}
	require.True(t, st.Present)
	require.Equal(t, epoch, st.FlatSince)

	clock.Advance(1900 * time.Millisecond)
	st = d.Evaluate(50000, 50000, 100)
	assert.True(t, st.Present, "flat for 1.9 s must stay present")

	clock.Advance(100 * time.Millisecond)
	st = d.Evaluate(50000, 50000, 100)
	assert.False(t, st.Present, "flat for 2.0 s must flip absent")
	assert.True(t, st.Changed)

	// Strong variation clears the timer and restores presence at once.
	st = d.Evaluate(50000, 50000, 2000)
	assert.True(t, st.Present)
	assert.True(t, st.Changed)
	assert.True(t, st.FlatSince.IsZero())
}

func TestPresenceDetector_SmallVariationCountsAsFlat(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	d := NewPresenceDetector(DefaultConfig(), clock)

	// Alternating +/-10 has a population std of exactly 10.
	for i := 0; i < 50; i++ {
		v := int16(10)
		if i%2 == 1 {
			v = -10
		}
		d.Evaluate(50000, 50000, v)
	}
	clock.Advance(2 * time.Second)
	assert.False(t, d.Evaluate(50000, 50000, 10).Present)
}

func TestPresenceDetector_Reset(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	d := NewPresenceDetector(DefaultConfig(), clock)
	for i := 0; i < 60; i++ {
		d.Evaluate(50000, 50000, int16(i*100))
	}
	require.True(t, d.Present())

	d.Reset()
	assert.False(t, d.Present())
	st := d.Evaluate(50000, 50000, 0)
	assert.True(t, st.Changed)
	assert.True(t, st.FlatSince.IsZero())
}
