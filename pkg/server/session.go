package server

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/labrig/labrig-go/pkg/log"
	"github.com/labrig/labrig-go/pkg/transport"
	"github.com/labrig/labrig-go/pkg/wire"
)

// SessionInfo describes a connected caller.
type SessionInfo struct {
	ID          string    `json:"id"`
	Client      string    `json:"client,omitempty"`
	RemoteAddr  string    `json:"remoteAddr"`
	ConnectedAt time.Time `json:"connectedAt"`
	Requests    uint64    `json:"requests"`
	Pending     int64     `json:"pending"`
	TLS         bool      `json:"tls"`
}

// Session is one connected caller. It holds no device state, only the
// bookkeeping of calls that have not been answered yet.
type Session struct {
	id          string
	conn        transport.Conn
	remoteAddr  string
	connectedAt time.Time
	tls         bool
	logger      log.Logger

	mu     sync.Mutex
	client string

	requests atomic.Uint64
	pending  atomic.Int64
	closed   atomic.Bool
}

func newSession(conn *transport.ServerConn, logger log.Logger) *Session {
	return &Session{
		id:          conn.ConnID(),
		conn:        conn,
		remoteAddr:  conn.RemoteAddr().String(),
		connectedAt: conn.ConnectedAt(),
		tls:         conn.TLSState() != nil,
		logger:      log.OrNoop(logger),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Closed returns true once the connection is gone.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	return SessionInfo{
		ID:          s.id,
		Client:      client,
		RemoteAddr:  s.remoteAddr,
		ConnectedAt: s.connectedAt,
		Requests:    s.requests.Load(),
		Pending:     s.pending.Load(),
		TLS:         s.tls,
	}
}

func (s *Session) setClient(name string) {
	s.mu.Lock()
	s.client = name
	s.mu.Unlock()
}

func (s *Session) close() {
	s.closed.Store(true)
}

// respond sends resp unless the session has closed meanwhile.
func (s *Session) respond(resp *wire.Response, received time.Time) error {
	if s.Closed() {
		return transport.ErrConnectionClosed
	}
	data, err := wire.EncodeResponse(resp)
	if err != nil {
		return err
	}
	if err := s.conn.Send(data); err != nil {
		return err
	}

	elapsed := time.Since(received)
	status := resp.Status
	s.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.id,
		Direction:    log.DirectionOut,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		LocalRole:    log.RoleServer,
		RemoteAddr:   s.remoteAddr,
		Message: &log.MessageEvent{
			Type:           log.MessageTypeResponse,
			MessageID:      resp.MessageID,
			Status:         &status,
			ProcessingTime: &elapsed,
		},
	})
	return nil
}

func (s *Session) logRequest(req *wire.Request) {
	op := req.Operation
	s.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.id,
		Direction:    log.DirectionIn,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		LocalRole:    log.RoleServer,
		RemoteAddr:   s.remoteAddr,
		DeviceID:     req.Device,
		Message: &log.MessageEvent{
			Type:      log.MessageTypeRequest,
			MessageID: req.MessageID,
			Operation: &op,
			Device:    req.Device,
		},
	})
}

func (s *Session) logState(from, to, reason string) {
	s.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.id,
		Layer:        log.LayerService,
		Category:     log.CategoryState,
		LocalRole:    log.RoleServer,
		RemoteAddr:   s.remoteAddr,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySession,
			OldState: from,
			NewState: to,
			Reason:   reason,
		},
	})
}
