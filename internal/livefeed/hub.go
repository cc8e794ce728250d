// Package livefeed streams waveforms and committed vitals to websocket
// clients.
package livefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/banshee-data/vitals.report/internal/monitoring"
	"github.com/banshee-data/vitals.report/internal/vitals"
)

const (
	writeTimeout = 200 * time.Millisecond
	queueSize    = 256
)

// Message types.
const (
	TypeWaveform = "waveform"
	TypeVitals   = "vitals"
)

// Message is the JSON envelope of every text frame.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans messages out to websocket clients. Publishing never blocks on a
// client: messages are queued and written by Run.
type Hub struct {
	logger        *zap.Logger
	waveformEvery uint64

	mu    sync.Mutex
	conns map[*websocket.Conn]bool

	out       chan []byte
	waveforms atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub creates a hub that forwards every waveformEvery-th waveform sample.
func NewHub(waveformEvery int, logger *zap.Logger) *Hub {
	if waveformEvery < 1 {
		waveformEvery = 1
	}
	return &Hub{
		logger:        monitoring.OrDefault(logger).Named("livefeed"),
		waveformEvery: uint64(waveformEvery),
		conns:         make(map[*websocket.Conn]bool),
		out:           make(chan []byte, queueSize),
	}
}

func (h *Hub) add(c *websocket.Conn) {
	h.mu.Lock()
	h.conns[c] = true
	h.mu.Unlock()
}

func (h *Hub) remove(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

func (h *Hub) snapshot() []*websocket.Conn {
	h.mu.Lock()
	clients := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	return clients
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Dropped returns the number of messages dropped on a full queue.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// ServeHTTP upgrades the request and keeps the client registered until it
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", zap.Error(err))
		return
	}
	h.add(conn)
	h.logger.Debug("client connected", zap.String("remote", r.RemoteAddr))
	defer func() {
		h.remove(conn)
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func encode(typ string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: typ, Data: data})
}

// PublishWaveform queues a waveform sample, keeping one in waveformEvery.
func (h *Hub) PublishWaveform(w vitals.Waveform) {
	if (h.waveforms.Add(1)-1)%h.waveformEvery != 0 {
		return
	}
	b, err := encode(TypeWaveform, w)
	if err != nil {
		return
	}
	select {
	case h.out <- b:
	default:
		h.dropped.Add(1)
	}
}

// RecordVitals queues a committed record. It waits for queue space until ctx
// is done.
func (h *Hub) RecordVitals(ctx context.Context, rec vitals.VitalsRecord) error {
	b, err := encode(TypeVitals, rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	select {
	case h.out <- b:
		return nil
	case <-ctx.Done():
		h.dropped.Add(1)
		return ctx.Err()
	}
}

// Run writes queued messages to all clients until ctx is cancelled, then
// closes every connection.
func (h *Hub) Run(ctx context.Context) error {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b := <-h.out:
			h.broadcastText(b)
		}
	}
}

func (h *Hub) broadcastText(b []byte) {
	for _, c := range h.snapshot() {
		_ = c.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
			_ = c.Close()
			h.remove(c)
		}
	}
}

func (h *Hub) closeAll() {
	for _, c := range h.snapshot() {
		_ = c.Close()
		h.remove(c)
	}
}
