package sensor

import "bytes"

// DeframerStats counts what a Deframer has seen.
type DeframerStats struct {
	Frames         uint64 `json:"frames"`
	ChecksumErrors uint64 `json:"checksum_errors"`
	Resyncs        uint64 `json:"resyncs"`
	DroppedBytes   uint64 `json:"dropped_bytes"`
}

// Deframer extracts device frames from an arbitrarily chunked byte stream.
// It resynchronises on SOF, drops a single byte when the EOF is not where a
// frame would end, and drops a whole frame on checksum mismatch.
// A Deframer is not safe for concurrent use.
type Deframer struct {
	buf   []byte
	stats DeframerStats
}

func NewDeframer() *Deframer {
	return &Deframer{buf: make([]byte, 0, 4*FrameSize)}
}

// Write appends p to the internal buffer. It never fails.
func (d *Deframer) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

func (d *Deframer) drop(n int) {
	d.stats.DroppedBytes += uint64(n)
	d.buf = append(d.buf[:0], d.buf[n:]...)
}

// Next returns a copy of the payload of the next valid frame, or false when
// no complete frame is buffered.
func (d *Deframer) Next() ([]byte, bool) {
	for len(d.buf) >= FrameSize {
		i := bytes.IndexByte(d.buf, frameSOF)
		if i < 0 {
			d.stats.Resyncs++
			d.drop(len(d.buf))
			return nil, false
		}
		if i > 0 {
			d.stats.Resyncs++
			d.drop(i)
			if len(d.buf) < FrameSize {
				return nil, false
			}
		}
		if d.buf[FrameSize-1] != frameEOF {
			d.stats.Resyncs++
			d.drop(1)
			continue
		}
		if d.buf[FrameSize-2] != checksum(d.buf) {
			d.stats.ChecksumErrors++
			d.drop(FrameSize)
			continue
		}

		payload := make([]byte, PayloadSize)
		copy(payload, d.buf[2:2+PayloadSize])
		d.buf = append(d.buf[:0], d.buf[FrameSize:]...)
		d.stats.Frames++
		return payload, true
	}
	return nil, false
}

// Buffered returns the number of bytes waiting for a complete frame.
func (d *Deframer) Buffered() int { return len(d.buf) }

func (d *Deframer) Stats() DeframerStats { return d.stats }
