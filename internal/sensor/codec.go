// Package sensor implements the sensor wire format and the transports that
// carry it: the bridge TCP stream of 16-byte payloads, the 20-byte device
// frames seen on UART and BLE links, and a synthetic sample generator.
package sensor

import (
	"encoding/binary"
	"fmt"

	"github.com/banshee-data/vitals.report/internal/vitals"
)

const (
	// PayloadSize is the size of one little-endian sample payload.
	PayloadSize = 16
	// FrameSize is the size of a device frame: SOF, length, payload,
	// checksum, EOF.
	FrameSize = PayloadSize + 4

	frameSOF = 0x02
	frameEOF = 0x03
)

var (
	ErrShortPayload = fmt.Errorf("sensor payload shorter than %d bytes", PayloadSize)
	ErrChecksum     = fmt.Errorf("sensor frame checksum mismatch")
	ErrBadFrame     = fmt.Errorf("malformed sensor frame")
)

// DecodePayload decodes a sample from the first PayloadSize bytes of b.
//
// Layout: [0:2] BCG int16, [2:4] ECG int16, [4:8] red uint32, [8:12] IR
// uint32, [12:14] temp1 uint16, [14:16] temp2 uint16.
func DecodePayload(b []byte) (vitals.RawSample, error) {
	if len(b) < PayloadSize {
		return vitals.RawSample{}, fmt.Errorf("%w: got %d", ErrShortPayload, len(b))
	}
	le := binary.LittleEndian
	return vitals.RawSample{
		BCG:   int16(le.Uint16(b[0:2])),
		ECG:   int16(le.Uint16(b[2:4])),
		Red:   le.Uint32(b[4:8]),
		IR:    le.Uint32(b[8:12]),
		Temp1: le.Uint16(b[12:14]),
		Temp2: le.Uint16(b[14:16]),
	}, nil
}

// EncodePayload encodes s in the payload layout.
func EncodePayload(s vitals.RawSample) []byte {
	return AppendPayload(make([]byte, 0, PayloadSize), s)
}

// AppendPayload appends the payload encoding of s to dst.
func AppendPayload(dst []byte, s vitals.RawSample) []byte {
	le := binary.LittleEndian
	dst = le.AppendUint16(dst, uint16(s.BCG))
	dst = le.AppendUint16(dst, uint16(s.ECG))
	dst = le.AppendUint32(dst, s.Red)
	dst = le.AppendUint32(dst, s.IR)
	dst = le.AppendUint16(dst, s.Temp1)
	dst = le.AppendUint16(dst, s.Temp2)
	return dst
}

// checksum is the XOR of the first FrameSize-2 bytes of a frame.
func checksum(frame []byte) byte {
	var x byte
	for _, b := range frame[:FrameSize-2] {
		x ^= b
	}
	return x
}

// EncodeFrame wraps a payload in a device frame.
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) != PayloadSize {
		return nil, fmt.Errorf("%w: payload is %d bytes", ErrBadFrame, len(payload))
	}
	frame := make([]byte, FrameSize)
	frame[0] = frameSOF
	frame[1] = PayloadSize
	copy(frame[2:], payload)
	frame[FrameSize-2] = checksum(frame)
	frame[FrameSize-1] = frameEOF
	return frame, nil
}

// DecodeFrame validates a single device frame and returns its payload.
func DecodeFrame(frame []byte) ([]byte, error) {
	if len(frame) != FrameSize || frame[0] != frameSOF || frame[FrameSize-1] != frameEOF {
		return nil, ErrBadFrame
	}
	if frame[FrameSize-2] != checksum(frame) {
		return nil, ErrChecksum
	}
	return frame[2 : 2+PayloadSize], nil
}
