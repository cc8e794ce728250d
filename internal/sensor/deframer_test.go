package sensor

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/vitals.report/internal/vitals"
)

func frameFor(t *testing.T, s vitals.RawSample) []byte {
	t.Helper()
	f, err := EncodeFrame(EncodePayload(s))
	require.NoError(t, err)
	return f
}

func drain(d *Deframer) []vitals.RawSample {
	var out []vitals.RawSample
	for {
		p, ok := d.Next()
		if !ok {
			return out
		}
		s, _ := DecodePayload(p)
		out = append(out, s)
	}
}

func TestDeframer_ChunkedStream(t *testing.T) {
	samples := []vitals.RawSample{
		{BCG: 1, Red: 50000, IR: 60000},
		{BCG: 2, Red: 50001, IR: 60001},
		{BCG: 3, Red: 50002, IR: 60002},
	}
	var stream []byte
	for _, s := range samples {
		stream = append(stream, frameFor(t, s)...)
	}

	d := NewDeframer()
	var got []vitals.RawSample
	// Feed in 7-byte chunks so frames straddle writes.
	for i := 0; i < len(stream); i += 7 {
		end := min(i+7, len(stream))
		d.Write(stream[i:end])
		got = append(got, drain(d)...)
	}

	if diff := cmp.Diff(samples, got); diff != "" {
		t.Errorf("samples mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, uint64(3), d.Stats().Frames)
	assert.Equal(t, 0, d.Buffered())
}

func TestDeframer_Resync(t *testing.T) {
	good := vitals.RawSample{BCG: 42, Red: 30000, IR: 31000}

	tests := []struct {
		name          string
		stream        func() []byte
		wantChecksums uint64
		minResyncs    uint64
	}{
		{
			name: "garbage prefix",
			stream: func() []byte {
				return append([]byte{0xaa, 0xbb, 0xcc}, frameFor(t, good)...)
			},
			minResyncs: 1,
		},
		{
			name: "missing eof",
			stream: func() []byte {
				bad := frameFor(t, good)
				bad[FrameSize-1] = 0x00
				return append(bad, frameFor(t, good)...)
			},
			minResyncs: 1,
		},
		{
			name: "checksum mismatch drops whole frame",
			stream: func() []byte {
				bad := frameFor(t, vitals.RawSample{BCG: 7})
				bad[FrameSize-2] ^= 0x01
				return append(bad, frameFor(t, good)...)
			},
			wantChecksums: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDeframer()
			d.Write(tt.stream())
			got := drain(d)
			if diff := cmp.Diff([]vitals.RawSample{good}, got); diff != "" {
				t.Errorf("samples mismatch (-want +got):\n%s", diff)
			}
			st := d.Stats()
			assert.Equal(t, tt.wantChecksums, st.ChecksumErrors)
			assert.GreaterOrEqual(t, st.Resyncs, tt.minResyncs)
		})
	}
}

func TestDeframer_NoSOFDiscardsBuffer(t *testing.T) {
	d := NewDeframer()
	d.Write(make([]byte, 2*FrameSize))
	_, ok := d.Next()
	assert.False(t, ok)
	assert.Equal(t, 0, d.Buffered())
	assert.Equal(t, uint64(2*FrameSize), d.Stats().DroppedBytes)
}
