package serialmux

import (
	"io"

	"go.bug.st/serial"
)

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// SerialPortOpener opens a serial port at path. NewRealSerialMux uses
// openPort, which tests may replace.
type SerialPortOpener func(path string, mode *serial.Mode) (SerialPorter, error)

var openPort SerialPortOpener = func(path string, mode *serial.Mode) (SerialPorter, error) {
	return serial.Open(path, mode)
}
