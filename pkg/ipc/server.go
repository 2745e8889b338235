// Package ipc implements the daemon's Unix-socket RPC protocol: one JSON
// document per length-prefixed frame, request/response plus server-pushed
// event streams.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	mathrand "math/rand"
	"net"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// HandlerFunc processes RPC params and returns a result or structured error.
type HandlerFunc func(context.Context, json.RawMessage) (any, *Error)

// StreamFunc starts a subscription: it returns a channel of event payloads
// and a stop function. The connection switches to push mode until the
// channel closes or the client disconnects.
type StreamFunc func(context.Context, json.RawMessage) (<-chan json.RawMessage, func(), *Error)

// Logger is satisfied by logging.Logger; kept minimal to avoid dependency
// cycles.
type Logger interface {
	Printf(format string, v ...any)
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

func newTraceID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Server listens for IPC requests over Unix sockets.
type Server struct {
	ln       net.Listener
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	streams  map[string]StreamFunc
	closed   bool
	logger   Logger
}

// NewServer constructs an IPC server.
func NewServer(logger Logger) *Server {
	return &Server{
		handlers: make(map[string]HandlerFunc),
		streams:  make(map[string]StreamFunc),
		logger:   logger,
	}
}

// Register installs a handler for a method.
func (s *Server) Register(method string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = handler
}

// RegisterStream installs a subscription handler for a method.
func (s *Server) RegisterStream(method string, handler StreamFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[method] = handler
}

// Start begins accepting connections on endpoint.
func (s *Server) Start(ctx context.Context, endpoint string) error {
	if s == nil {
		return errors.New("nil server")
	}
	ln, err := net.Listen("unix", endpoint)
	if err != nil {
		return err
	}
	s.ln = ln
	go s.acceptLoop(ctx)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || s.isClosed() {
				return
			}
			s.logf("accept error: %v", err)
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	for {
		payload, err := readFrame(conn)
		if err != nil {
			return
		}
		var req Request
		if err := json.Unmarshal(payload, &req); err != nil {
			s.writeError(conn, req.ID, "INVALID_REQUEST", "invalid json", nil)
			continue
		}
		traceID := newTraceID()

		if stream := s.lookupStream(req.Type); stream != nil {
			s.serveStream(ctx, conn, req, stream, traceID)
			return
		}

		handler := s.lookupHandler(req.Type)
		if handler == nil {
			s.writeError(conn, req.ID, "INVALID_REQUEST", "unknown method", map[string]any{"method": req.Type, "traceId": traceID})
			continue
		}
		result, rpcErr := handler(ctx, req.Params)
		resp := Response{ID: req.ID, TraceID: traceID}
		if rpcErr != nil {
			resp.Error = rpcErr
		} else {
			raw, err := json.Marshal(result)
			if err != nil {
				s.writeError(conn, req.ID, "INTERNAL", err.Error(), map[string]any{"traceId": traceID})
				continue
			}
			resp.OK = true
			resp.Result = raw
		}
		if err := s.writeResponse(conn, resp); err != nil {
			return
		}
	}
}

// serveStream acknowledges the subscription, then pushes one frame per event
// until the source closes or the client goes away.
func (s *Server) serveStream(ctx context.Context, conn net.Conn, req Request, stream StreamFunc, traceID string) {
	events, stop, rpcErr := stream(ctx, req.Params)
	if rpcErr != nil {
		resp := Response{ID: req.ID, TraceID: traceID, Error: rpcErr}
		_ = s.writeResponse(conn, resp)
		return
	}
	defer stop()
	if err := s.writeResponse(conn, Response{ID: req.ID, OK: true, TraceID: traceID}); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-events:
			if !ok {
				return
			}
			resp := Response{OK: true, Event: req.Type, Result: payload, TraceID: newTraceID()}
			if err := s.writeResponse(conn, resp); err != nil {
				return
			}
		}
	}
}

func (s *Server) lookupHandler(method string) HandlerFunc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handlers[method]
}

func (s *Server) lookupStream(method string) StreamFunc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streams[method]
}

func (s *Server) writeResponse(conn net.Conn, resp Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return writeFrame(conn, payload)
}

func (s *Server) writeError(conn net.Conn, id, code, msg string, details map[string]any) {
	resp := Response{ID: id, TraceID: newTraceID()}
	resp.Error = &Error{Code: code, Message: msg, Details: details}
	_ = s.writeResponse(conn, resp)
}

// Stop shuts down the listener.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

func (s *Server) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Server) logf(format string, v ...any) {
	if s.logger != nil {
		s.logger.Printf(format, v...)
	} else {
		log.Printf(format, v...)
	}
}

// Errorf helps build protocol errors.
func Errorf(code, message string, details map[string]any) *Error {
	return &Error{Code: code, Message: message, Details: details}
}
