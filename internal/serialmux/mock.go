package serialmux

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/banshee-data/vitals.report/internal/sensor"
	"github.com/banshee-data/vitals.report/internal/timeutil"
	"github.com/banshee-data/vitals.report/internal/vitals"
)

// MockSerialPort is a SerialPorter fed by a Simulator. Commands written to
// it are kept for inspection.
type MockSerialPort struct {
	r      *io.PipeReader
	w      *io.PipeWriter
	cancel context.CancelFunc

	mu       sync.Mutex
	commands bytes.Buffer
}

func (m *MockSerialPort) Read(p []byte) (int, error) { return m.r.Read(p) }

func (m *MockSerialPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commands.Write(p)
}

// Commands returns everything written to the port.
func (m *MockSerialPort) Commands() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commands.String()
}

func (m *MockSerialPort) Close() error {
	m.cancel()
	m.w.Close()
	return m.r.Close()
}

// NewMockSerialMux creates a SerialMux backed by a mock serial port that
// carries device frames generated by sim at its sample rate.
func NewMockSerialMux(sim *sensor.Simulator, clock timeutil.Clock) *SerialMux[*MockSerialPort] {
	r, w := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	port := &MockSerialPort{r: r, w: w, cancel: cancel}

	// generate frames periodically to simulate serial port input
	go func() {
		defer w.Close()
		_ = sim.Run(ctx, clock, func(s vitals.RawSample) {
			frame, err := sensor.EncodeFrame(sensor.EncodePayload(s))
			if err != nil {
				return
			}
			if _, err := w.Write(frame); err != nil {
				cancel()
			}
		})
	}()

	return NewSerialMux(port)
}

// TestableSerialPort is an in-memory SerialPorter for tests. Reads block
// until data is added with Feed or the port is closed.
type TestableSerialPort struct {
	mu     sync.Mutex
	cond   *sync.Cond
	read   bytes.Buffer
	wrote  bytes.Buffer
	closed bool
	eof    bool

	// ReadError, when set, is returned by the next Read once the buffer is
	// drained.
	ReadError error
	// ShortWrite makes Write report one byte less than it was given.
	ShortWrite bool
}

func NewTestableSerialPort() *TestableSerialPort {
	t := &TestableSerialPort{}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Feed adds data for subsequent reads.
func (t *TestableSerialPort) Feed(p []byte) {
	t.mu.Lock()
	t.read.Write(p)
	t.mu.Unlock()
	t.cond.Broadcast()
}

// FinishReads makes Read return io.EOF once the buffer is drained.
func (t *TestableSerialPort) FinishReads() {
	t.mu.Lock()
	t.eof = true
	t.mu.Unlock()
	t.cond.Broadcast()
}

func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.read.Len() == 0 && !t.closed && !t.eof && t.ReadError == nil {
		t.cond.Wait()
	}
	switch {
	case t.closed:
		return 0, errors.New("serial port closed")
	case t.read.Len() > 0:
		return t.read.Read(p)
	case t.ReadError != nil:
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	default:
		return 0, io.EOF
	}
}

func (t *TestableSerialPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, errors.New("serial port closed")
	}
	if t.ShortWrite && len(p) > 0 {
		return t.wrote.Write(p[:len(p)-1])
	}
	return t.wrote.Write(p)
}

// Written returns all data written to the port.
func (t *TestableSerialPort) Written() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wrote.String()
}

func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.cond.Broadcast()
	return nil
}

func (t *TestableSerialPort) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
