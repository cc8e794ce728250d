package publish

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/vitals.report/internal/vitals"
)

var sample = vitals.VitalsRecord{
	SessionID:  "0b9a7c1e",
	Timestamp:  time.Date(2025, 5, 6, 7, 8, 9, 0, time.UTC),
	HeartRate:  72,
	BreathRate: 18,
	T1:         36.6,
	T2:         36.8,
	SpO2:       97,
}

type fakeConn struct {
	subject string
	data    []byte
	err     error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.subject, f.data = subject, data
	return f.err
}

func TestNATSPublisher(t *testing.T) {
	conn := &fakeConn{}
	p := NewNATSPublisher(conn, "")
	assert.Equal(t, DefaultSubject, p.Subject())

	require.NoError(t, p.RecordVitals(context.Background(), sample))
	assert.Equal(t, "vitals.records", conn.subject)

	var got vitals.VitalsRecord
	require.NoError(t, json.Unmarshal(conn.data, &got))
	if diff := cmp.Diff(sample, got); diff != "" {
		t.Errorf("published record mismatch (-want +got):\n%s", diff)
	}

	conn.err = errors.New("nats: connection closed")
	err := NewNATSPublisher(conn, "ward.bed1").RecordVitals(context.Background(), sample)
	assert.ErrorContains(t, err, "ward.bed1")
	assert.ErrorIs(t, err, conn.err)
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisPublisher) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisPublisher(client)
}

func TestRedisPublisher_StreamAndLatest(t *testing.T) {
	mr, p := setupTestRedis(t)
	ctx := context.Background()

	_, err := p.Latest(ctx)
	assert.True(t, errors.Is(err, ErrNoRecord))

	require.NoError(t, p.RecordVitals(ctx, sample))
	second := sample
	second.HeartRate = 74
	require.NoError(t, p.RecordVitals(ctx, second))

	latest, err := p.Latest(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(second, latest); diff != "" {
		t.Errorf("latest mismatch (-want +got):\n%s", diff)
	}

	entries, err := mr.Stream(DefaultStream)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	values := map[string]string{}
	for i := 0; i+1 < len(entries[0].Values); i += 2 {
		values[entries[0].Values[i]] = entries[0].Values[i+1]
	}
	assert.Equal(t, "72", values["heart_rate"])
	assert.Equal(t, "0b9a7c1e", values["session_id"])
	assert.Equal(t, "1746515289000", values["timestamp"])
}

func TestRedisPublisher_Errors(t *testing.T) {
	mr, p := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, mr.Set(DefaultLatestKey, "{not json"))
	_, err := p.Latest(ctx)
	assert.ErrorContains(t, err, "decode record")

	mr.Close()
	assert.Error(t, p.RecordVitals(ctx, sample))
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewRedisClient(ctx, addr)
	assert.Error(t, err)
}
