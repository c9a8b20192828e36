package procbridge

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"
)

// HandlerFunc serves one procbridge call. A returned error is sent to the
// caller as a bad response.
type HandlerFunc func(method string, payload json.RawMessage) (json.RawMessage, error)

// Server answers procbridge calls, one request per connection. It backs
// the local core stub and tests.
type Server struct {
	Handler HandlerFunc
	Logger  *slog.Logger
	// ReadTimeout bounds how long a connection may take to send its request.
	ReadTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
	closed   bool
}

// Serve accepts connections on ln until Close is called.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return net.ErrClosed
	}
	s.listener = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(conn)
		}()
	}
}

// Close stops accepting and waits for in-flight calls.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	ln := s.listener
	s.mu.Unlock()
	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	if s.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
	}
	frame, err := ReadFrame(conn)
	if err != nil {
		s.logger().Warn("procbridge read request", slog.Any("error", err))
		return
	}
	if frame.Status != StatusRequest {
		s.reply(conn, nil, errors.New("expected a request frame"))
		return
	}
	var req request
	if err := json.Unmarshal(frame.Body, &req); err != nil {
		s.reply(conn, nil, errors.New("malformed request body"))
		return
	}
	if s.Handler == nil {
		s.reply(conn, nil, errors.New("no handler"))
		return
	}
	out, err := s.Handler(req.Method, req.Payload)
	s.reply(conn, out, err)
}

func (s *Server) reply(conn net.Conn, payload json.RawMessage, callErr error) {
	var (
		body   []byte
		status Status
		err    error
	)
	if callErr != nil {
		status = StatusBadResponse
		body, err = json.Marshal(badResponse{Message: callErr.Error()})
	} else {
		if payload == nil {
			payload = json.RawMessage("null")
		}
		status = StatusGoodResponse
		body, err = json.Marshal(goodResponse{Payload: payload})
	}
	if err != nil {
		s.logger().Warn("procbridge encode response", slog.Any("error", err))
		return
	}
	if err := WriteFrame(conn, Frame{Status: status, Body: body}); err != nil {
		s.logger().Warn("procbridge write response", slog.Any("error", err))
	}
}
