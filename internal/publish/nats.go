// Package publish forwards committed vitals records to message buses.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/banshee-data/vitals.report/internal/monitoring"
	"github.com/banshee-data/vitals.report/internal/vitals"
)

// DefaultSubject is the NATS subject records are published on.
const DefaultSubject = "vitals.records"

// Connect dials NATS and keeps reconnecting for the life of the process.
func Connect(url string) (*nats.Conn, error) {
	logger := monitoring.L().Named("nats")
	return nats.Connect(
		url,
		nats.Name("vitals.report"),
		nats.Timeout(3*time.Second),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
}

// Conn is the part of *nats.Conn used by NATSPublisher.
type Conn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes each record as JSON.
type NATSPublisher struct {
	conn    Conn
	subject string
}

// NewNATSPublisher publishes on subject, or DefaultSubject when empty.
func NewNATSPublisher(conn Conn, subject string) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{conn: conn, subject: subject}
}

func (p *NATSPublisher) Subject() string { return p.subject }

func (p *NATSPublisher) RecordVitals(_ context.Context, rec vitals.VitalsRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := p.conn.Publish(p.subject, b); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}
	return nil
}
