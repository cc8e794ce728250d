// Serialmux provides an abstraction over the sensor's UART with the ability
// for multiple clients to subscribe to the decoded samples from a single
// serial port and send commands to the device.
package serialmux

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
	"tailscale.com/tsweb"

	"github.com/banshee-data/vitals.report/internal/monitoring"
	"github.com/banshee-data/vitals.report/internal/sensor"
	"github.com/banshee-data/vitals.report/internal/vitals"
)

var ErrWriteFailed = errors.New("failed to write to serial port")

// subscriberBuffer is the number of samples buffered per subscriber before
// samples are dropped for that subscriber.
const subscriberBuffer = 256

const readChunk = 512

// SerialMux is a generic serial port multiplexer that allows multiple clients to
// subscribe to samples from a single serial port.
type SerialMux[T SerialPorter] struct {
	port    T
	logger  *zap.Logger
	metrics *monitoring.Metrics

	subscribers  map[string]chan vitals.RawSample
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      bool
	closingMu    sync.Mutex

	statsMu  sync.Mutex
	deframer *sensor.Deframer
	samples  uint64
	dropped  uint64
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// Subscribe creates a new channel for receiving samples from the serial
	// port. The channel ID is used to identify the unique channel when
	// unsubscribing.
	Subscribe() (string, chan vitals.RawSample)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// SendCommand writes the provided command to the serial port.
	SendCommand(string) error
	// Monitor reads frames from the serial port and sends the decoded
	// samples to the subscribers.
	Monitor(context.Context) error
	// Close closes all subscribed channels and closes the serial port.
	Close() error
	// Stats reports decoder and fan-out counters.
	Stats() Stats

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

// Stats are the counters of a SerialMux.
type Stats struct {
	sensor.DeframerStats
	// Samples is the number of samples decoded.
	Samples uint64 `json:"samples"`
	// Dropped counts samples not delivered to a subscriber whose buffer was
	// full.
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}

// NewSerialMux creates a SerialMux instance backed by the given port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		logger:      monitoring.L().Named("serialmux"),
		subscribers: make(map[string]chan vitals.RawSample),
		deframer:    sensor.NewDeframer(),
	}
}

// WithObservers sets the logger and metrics used by Monitor.
func (s *SerialMux[T]) WithObservers(logger *zap.Logger, metrics *monitoring.Metrics) *SerialMux[T] {
	s.logger = monitoring.OrDefault(logger).Named("serialmux")
	s.metrics = metrics
	return s
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *SerialMux[T]) Subscribe() (string, chan vitals.RawSample) {
	id := randomID()
	ch := make(chan vitals.RawSample, subscriberBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// SendCommand sends a newline terminated command to the device.
func (s *SerialMux[T]) SendCommand(command string) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor reads device frames from the serial port and sends the decoded
// samples to subscribers until ctx is cancelled, the port reaches EOF or the
// mux is closed.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	chunks := make(chan []byte)
	readErr := make(chan error, 1)

	// The blocking Read runs in its own goroutine so cancellation is not
	// held up by a quiet port.
	go func() {
		defer close(chunks)
		for {
			buf := make([]byte, readChunk)
			n, err := s.port.Read(buf)
			if n > 0 {
				select {
				case chunks <- buf[:n]:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					select {
					case readErr <- err:
					case <-ctx.Done():
					}
				}
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErr:
			if s.isClosing() {
				return nil
			}
			return fmt.Errorf("read serial port: %w", err)

		case chunk, ok := <-chunks:
			if !ok {
				select {
				case err := <-readErr:
					if !s.isClosing() {
						return fmt.Errorf("read serial port: %w", err)
					}
				default:
				}
				return nil
			}
			if s.isClosing() {
				return nil
			}
			s.ingest(chunk)
		}
	}
}

func (s *SerialMux[T]) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}

func (s *SerialMux[T]) ingest(chunk []byte) {
	s.statsMu.Lock()
	before := s.deframer.Stats()
	s.deframer.Write(chunk)
	var batch []vitals.RawSample
	for {
		payload, ok := s.deframer.Next()
		if !ok {
			break
		}
		sample, err := sensor.DecodePayload(payload)
		if err != nil {
			continue
		}
		batch = append(batch, sample)
	}
	after := s.deframer.Stats()
	s.samples += uint64(len(batch))
	s.statsMu.Unlock()

	if n := after.ChecksumErrors - before.ChecksumErrors; n > 0 {
		s.metrics.FrameError("checksum", n)
		s.logger.Debug("frame checksum mismatch", zap.Uint64("count", n))
	}
	s.metrics.FrameError("resync", after.Resyncs-before.Resyncs)

	var dropped uint64
	s.subscriberMu.Lock()
	for _, sample := range batch {
		for _, ch := range s.subscribers {
			select {
			case ch <- sample:
			default:
				// a slow subscriber must not block the port
				dropped++
			}
		}
	}
	s.subscriberMu.Unlock()

	if dropped > 0 {
		s.statsMu.Lock()
		s.dropped += dropped
		s.statsMu.Unlock()
	}
}

func (s *SerialMux[T]) Stats() Stats {
	s.statsMu.Lock()
	st := Stats{DeframerStats: s.deframer.Stats(), Samples: s.samples, Dropped: s.dropped}
	s.statsMu.Unlock()

	s.subscriberMu.Lock()
	st.Subscribers = len(s.subscribers)
	s.subscriberMu.Unlock()
	return st
}

func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	if s.closing {
		s.closingMu.Unlock()
		return nil
	}
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()
	return s.port.Close()
}

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("serial-stats", "decoded sample and frame error counters", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(s.Stats()); err != nil {
			http.Error(w, "Failed to encode stats", http.StatusInternalServerError)
		}
	})

	// API endpoint to write a command to the device
	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := s.SendCommand(command); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "Wrote command %q to serial port", command)
	})

	// Server-Sent Events stream of decoded samples as JSON.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		// Send initial ping to establish connection
		io.WriteString(w, ": ping\n\n")
		flusher.Flush()

		for {
			select {
			case sample, ok := <-c:
				if !ok {
					return
				}
				b, err := json.Marshal(sample)
				if err != nil {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
