// Package server exposes a map collection over the memcache text
// protocol, so stock memcache clients can read and write entries.
package server

import (
	"net"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/offheapio/offheap/pkg/offheap"
)

// Server serves one map collection on a TCP or unix socket address.
type Server struct {
	m              *offheap.Map
	addr           string
	log            *zap.Logger
	maxConnections int32
	currConns      int32
	startTime      time.Time

	ln     net.Listener
	closed atomic.Bool
}

// New creates a server with the default connection limit.
func New(m *offheap.Map, addr string, logger *zap.Logger) *Server {
	return NewWithOptions(m, addr, logger, 1024)
}

// NewWithOptions creates a server with an explicit connection limit.
func NewWithOptions(m *offheap.Map, addr string, logger *zap.Logger, maxConnections int) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		m:              m,
		addr:           addr,
		log:            logger,
		maxConnections: int32(maxConnections),
		startTime:      time.Now(),
	}
}

// Start listens and serves until Stop is called. An address starting
// with '/' is served as a unix socket.
func (s *Server) Start() error {
	network := "tcp"
	if len(s.addr) > 0 && s.addr[0] == '/' {
		network = "unix"
		os.Remove(s.addr)
	}

	ln, err := net.Listen(network, s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	defer ln.Close()

	s.log.Info("listening",
		zap.String("network", network),
		zap.String("addr", s.addr),
		zap.Int32("max_connections", s.maxConnections))

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			s.log.Warn("accept failed", zap.Error(err))
			continue
		}

		if atomic.LoadInt32(&s.currConns) >= s.maxConnections {
			s.log.Warn("connection limit reached",
				zap.Int32("limit", s.maxConnections),
				zap.String("remote", conn.RemoteAddr().String()))
			conn.Close()
			continue
		}

		atomic.AddInt32(&s.currConns, 1)
		go s.handleConnection(conn)
	}
}

// Stop closes the listener; in-flight connections finish on their own.
func (s *Server) Stop() {
	s.closed.Store(true)
	if s.ln != nil {
		s.ln.Close()
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer func() {
		conn.Close()
		atomic.AddInt32(&s.currConns, -1)
	}()
	s.handleText(conn)
}

// CurrentConnections returns the current number of connections.
func (s *Server) CurrentConnections() int {
	return int(atomic.LoadInt32(&s.currConns))
}
