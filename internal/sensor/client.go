package sensor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/banshee-data/vitals.report/internal/monitoring"
	"github.com/banshee-data/vitals.report/internal/vitals"
)

// DefaultRetryDelay is the pause between reconnection attempts.
const DefaultRetryDelay = 2 * time.Second

// Client reads sample payloads from a bridge over TCP. It reconnects after
// any error until its context is cancelled; reconnecting never touches
// downstream state.
type Client struct {
	Addr        string
	RetryDelay  time.Duration
	DialTimeout time.Duration
	Logger      *zap.Logger

	connected atomic.Bool
	received  atomic.Uint64
	attempts  atomic.Uint64
}

func NewClient(addr string, logger *zap.Logger) *Client {
	return &Client{
		Addr:        addr,
		RetryDelay:  DefaultRetryDelay,
		DialTimeout: 3 * time.Second,
		Logger:      monitoring.OrDefault(logger).Named("sensor-client"),
	}
}

// Connected reports whether the client currently has an open stream.
func (c *Client) Connected() bool { return c.connected.Load() }

// Received returns the number of payloads decoded since the client started.
func (c *Client) Received() uint64 { return c.received.Load() }

// Attempts returns the number of connection attempts made so far.
func (c *Client) Attempts() uint64 { return c.attempts.Load() }

// Run connects and delivers every decoded sample to handle until ctx is
// cancelled, then returns ctx.Err().
func (c *Client) Run(ctx context.Context, handle func(vitals.RawSample)) error {
	logger := monitoring.OrDefault(c.Logger)
	retry := c.RetryDelay
	if retry <= 0 {
		retry = DefaultRetryDelay
	}

	for {
		c.attempts.Add(1)
		logger.Info("connecting", zap.String("addr", c.Addr))
		err := c.stream(ctx, handle)
		c.connected.Store(false)
		if ctx.Err() != nil {
			logger.Info("stopped", zap.String("addr", c.Addr))
			return ctx.Err()
		}
		logger.Warn("sensor stream failed, retrying",
			zap.String("addr", c.Addr), zap.Duration("retry", retry), zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retry):
		}
	}
}

func (c *Client) stream(ctx context.Context, handle func(vitals.RawSample)) error {
	d := net.Dialer{Timeout: c.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.Addr, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c.connected.Store(true)
	monitoring.OrDefault(c.Logger).Info("streaming", zap.String("addr", c.Addr))

	buf := make([]byte, PayloadSize)
	for {
		if _, err := io.ReadFull(conn, buf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("server closed the stream: %w", err)
			}
			return fmt.Errorf("read payload: %w", err)
		}
		s, err := DecodePayload(buf)
		if err != nil {
			return err
		}
		c.received.Add(1)
		handle(s)
	}
}
