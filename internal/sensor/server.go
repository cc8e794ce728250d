package sensor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/banshee-data/vitals.report/internal/monitoring"
)

const writeTimeout = 200 * time.Millisecond

// Server is the bridge side of the TCP stream: it accepts any number of
// clients and broadcasts raw payloads to all of them. Clients whose writes
// fail are dropped.
type Server struct {
	ln     net.Listener
	logger *zap.Logger

	mu      sync.Mutex
	clients map[net.Conn]struct{}
}

// Listen opens a TCP listener on addr.
func Listen(addr string, logger *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &Server{
		ln:      ln,
		logger:  monitoring.OrDefault(logger).Named("sensor-server"),
		clients: make(map[net.Conn]struct{}),
	}, nil
}

// Addr returns the listener address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve accepts clients until ctx is cancelled or the listener is closed.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.ln.Close() })
	defer stop()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.logger.Info("client connected", zap.Stringer("remote", conn.RemoteAddr()))
		s.mu.Lock()
		s.clients[conn] = struct{}{}
		s.mu.Unlock()
	}
}

func (s *Server) snapshot() []net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	conns := make([]net.Conn, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c)
	}
	return conns
}

func (s *Server) remove(c net.Conn) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.Close()
}

// Broadcast writes b to every connected client.
func (s *Server) Broadcast(b []byte) {
	for _, c := range s.snapshot() {
		_ = c.SetWriteDeadline(time.Now().Add(writeTimeout))
		if _, err := c.Write(b); err != nil {
			s.logger.Info("client dropped", zap.Stringer("remote", c.RemoteAddr()), zap.Error(err))
			s.remove(c)
		}
	}
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close closes the listener and all client connections.
func (s *Server) Close() error {
	err := s.ln.Close()
	for _, c := range s.snapshot() {
		s.remove(c)
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
