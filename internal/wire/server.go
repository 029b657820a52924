package wire

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/iut62elec/CIMApplication/internal/engine"
	"github.com/iut62elec/CIMApplication/internal/logging"
)

// Server answers engine requests on a listener. Each connection carries
// requests one after another.
type Server struct {
	registry *engine.Registry

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	closed   bool
}

// NewServer returns a server dispatching to registry.
func NewServer(registry *engine.Registry) *Server {
	return &Server{registry: registry, conns: make(map[net.Conn]struct{})}
}

// ListenAndServe listens on addr and serves until ctx is done or Close.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	a, err := ParseAddress(addr)
	if err != nil {
		return err
	}
	ln, err := Listen(a)
	if err != nil {
		return err
	}
	logging.Op().Info("wire engine listening", "address", a.String())
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln. It returns nil after a shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return net.ErrClosed
	}
	s.listener = ln
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			return err
		}
		if !s.track(conn) {
			conn.Close()
			return nil
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	codec := NewCodec(conn)
	for {
		msg, err := codec.Receive()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logging.Op().Debug("wire connection ended", "remote", conn.RemoteAddr(), "error", err)
			}
			return
		}
		if err := s.registry.Serve(ctx, "wire", msg, codec.Send); err != nil {
			logging.Op().Warn("wire send failed", "remote", conn.RemoteAddr(), "error", err)
			return
		}
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops accepting, closes open connections and waits for their
// handlers to return.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}
