package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/banshee-data/vitals.report/internal/vitals"
)

const (
	DefaultStream    = "vitals:records"
	DefaultLatestKey = "vitals:latest"
	// DefaultMaxLen bounds the stream; trimming is approximate.
	DefaultMaxLen = 10000
)

// ErrNoRecord is returned by Latest before any record was published.
var ErrNoRecord = errors.New("no record published")

// RedisPublisher appends records to a Redis stream and caches the latest one.
type RedisPublisher struct {
	client    *redis.Client
	Stream    string
	LatestKey string
	MaxLen    int64
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{
		client:    client,
		Stream:    DefaultStream,
		LatestKey: DefaultLatestKey,
		MaxLen:    DefaultMaxLen,
	}
}

// NewRedisClient creates a client for addr and checks the connection.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

func (p *RedisPublisher) RecordVitals(ctx context.Context, rec vitals.VitalsRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	pipe := p.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: p.Stream,
		MaxLen: p.MaxLen,
		Approx: true,
		Values: map[string]any{
			"session_id":  rec.SessionID,
			"timestamp":   rec.Timestamp.UnixMilli(),
			"heart_rate":  rec.HeartRate,
			"breath_rate": rec.BreathRate,
			"spo2":        rec.SpO2,
			"data":        string(b),
		},
	})
	pipe.Set(ctx, p.LatestKey, b, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Latest returns the most recently published record.
func (p *RedisPublisher) Latest(ctx context.Context) (vitals.VitalsRecord, error) {
	var rec vitals.VitalsRecord
	b, err := p.client.Get(ctx, p.LatestKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return rec, ErrNoRecord
	}
	if err != nil {
		return rec, fmt.Errorf("redis get %s: %w", p.LatestKey, err)
	}
	if err := json.Unmarshal(b, &rec); err != nil {
		return rec, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}
