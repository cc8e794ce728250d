package livefeed

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/vitals.report/internal/vitals"
)

func dial(t *testing.T, h *Hub, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	before := h.Clients()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return h.Clients() == before+1 }, 5*time.Second, 5*time.Millisecond)
	return conn
}

func read(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	typ, b, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, typ)
	var m Message
	require.NoError(t, json.Unmarshal(b, &m))
	return m
}

func TestHub_BroadcastsToAllClients(t *testing.T) {
	h := NewHub(1, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	a := dial(t, h, srv)
	b := dial(t, h, srv)

	rec := vitals.VitalsRecord{SessionID: "s", Timestamp: time.Unix(1700000000, 0).UTC(), HeartRate: 72, BreathRate: 18, SpO2: 97}
	require.NoError(t, h.RecordVitals(ctx, rec))

	for _, c := range []*websocket.Conn{a, b} {
		m := read(t, c)
		assert.Equal(t, TypeVitals, m.Type)
		var got vitals.VitalsRecord
		require.NoError(t, json.Unmarshal(m.Data, &got))
		assert.Equal(t, rec, got)
	}

	h.PublishWaveform(vitals.Waveform{ECG: 1, BCG: 2, PPG: 3})
	m := read(t, a)
	assert.Equal(t, TypeWaveform, m.Type)
	var w vitals.Waveform
	require.NoError(t, json.Unmarshal(m.Data, &w))
	assert.Equal(t, uint32(3), w.PPG)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Zero(t, h.Clients())
}

func TestHub_DecimatesWaveforms(t *testing.T) {
	h := NewHub(4, nil)
	for i := 0; i < 10; i++ {
		h.PublishWaveform(vitals.Waveform{ECG: int16(i)})
	}
	require.Len(t, h.out, 3)

	var got []int16
	for len(h.out) > 0 {
		var m Message
		require.NoError(t, json.Unmarshal(<-h.out, &m))
		var w vitals.Waveform
		require.NoError(t, json.Unmarshal(m.Data, &w))
		got = append(got, w.ECG)
	}
	assert.Equal(t, []int16{0, 4, 8}, got)
}

func TestHub_FullQueue(t *testing.T) {
	h := NewHub(1, nil)
	for i := 0; i < queueSize+5; i++ {
		h.PublishWaveform(vitals.Waveform{})
	}
	assert.Equal(t, uint64(5), h.Dropped())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := h.RecordVitals(ctx, vitals.VitalsRecord{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, uint64(6), h.Dropped())
}

func TestHub_RemovesDisconnectedClients(t *testing.T) {
	h := NewHub(1, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, h, srv)
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return h.Clients() == 0 }, 5*time.Second, 5*time.Millisecond)
}
