package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/labrig/labrig-go/pkg/device"
	"github.com/labrig/labrig-go/pkg/log"
	"github.com/labrig/labrig-go/pkg/model"
	"github.com/labrig/labrig-go/pkg/transport"
	"github.com/labrig/labrig-go/pkg/wire"
)

// DefaultQueueSize is the per-device dispatch queue size.
const DefaultQueueSize = 256

// Config configures a Server.
type Config struct {
	// ServerID identifies this server in Hello responses.
	ServerID string

	// Address to listen on. Defaults to ":7421".
	Address string

	// TLS enables TLS. Nil selects plain TCP.
	TLS *transport.TLSConfig

	// MaxMessageSize bounds a single message.
	MaxMessageSize uint32

	// QueueSize bounds each device's dispatch queue.
	QueueSize int

	// Logger for debug output (optional).
	Logger *slog.Logger

	// ProtocolLogger captures frames, messages and session changes (optional).
	ProtocolLogger log.Logger
}

// Server exposes devices to remote proxies.
type Server struct {
	config    Config
	transport *transport.Server
	logger    log.Logger

	devices map[string]device.Device
	order   []string

	mu          sync.RWMutex
	sessions    map[string]*Session
	dispatchers map[string]*dispatcher

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a server for devices. Device IDs must be unique.
func New(cfg Config, devices ...device.Device) (*Server, error) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.ServerID == "" {
		cfg.ServerID = "labrig"
	}

	s := &Server{
		config:      cfg,
		logger:      log.OrNoop(cfg.ProtocolLogger),
		devices:     make(map[string]device.Device, len(devices)),
		sessions:    make(map[string]*Session),
		dispatchers: make(map[string]*dispatcher),
	}
	for _, dev := range devices {
		id := dev.ID()
		if _, dup := s.devices[id]; dup {
			return nil, fmt.Errorf("duplicate device %q", id)
		}
		s.devices[id] = dev
		s.order = append(s.order, id)
	}
	sort.Strings(s.order)

	ts, err := transport.NewServer(transport.ServerConfig{
		Address:        cfg.Address,
		TLSConfig:      cfg.TLS,
		MaxMessageSize: cfg.MaxMessageSize,
		Logger:         cfg.ProtocolLogger,
		OnConnect:      s.handleConnect,
		OnDisconnect:   s.handleDisconnect,
		OnMessage:      s.handleMessage,
		OnError:        s.handleError,
	})
	if err != nil {
		return nil, err
	}
	s.transport = ts
	return s, nil
}

// Start starts the dispatchers and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.mu.Lock()
	for id, dev := range s.devices {
		s.dispatchers[id] = newDispatcher(s.ctx, dev, s.config.QueueSize, s.finish)
	}
	s.mu.Unlock()

	if err := s.transport.Start(s.ctx); err != nil {
		s.cancel()
		return err
	}
	s.debugLog("server started", "addr", s.transport.Addr().String(), "devices", len(s.devices), "tls", s.transport.TLSEnabled())
	return nil
}

// Stop closes all connections and stops dispatching. Device state is not
// touched.
func (s *Server) Stop() error {
	if s.cancel == nil {
		return nil
	}
	err := s.transport.Stop()
	s.cancel()

	s.mu.RLock()
	for _, d := range s.dispatchers {
		<-d.done
	}
	s.mu.RUnlock()
	return err
}

// Addr returns the listen address.
func (s *Server) Addr() net.Addr {
	return s.transport.Addr()
}

// TLSEnabled reports whether connections use TLS.
func (s *Server) TLSEnabled() bool {
	return s.transport.TLSEnabled()
}

// ServerID returns the identity sent in Hello responses.
func (s *Server) ServerID() string {
	return s.config.ServerID
}

// Devices returns the hosted devices sorted by ID.
func (s *Server) Devices() []device.Device {
	out := make([]device.Device, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.devices[id])
	}
	return out
}

// Device returns the hosted device with the given ID.
func (s *Server) Device(id string) (device.Device, bool) {
	dev, ok := s.devices[id]
	return dev, ok
}

// Sessions returns a snapshot of all connected sessions, oldest first.
func (s *Server) Sessions() []SessionInfo {
	s.mu.RLock()
	out := make([]SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Info())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}

func (s *Server) handleConnect(conn *transport.ServerConn) {
	sess := newSession(conn, s.config.ProtocolLogger)

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	sess.logState("", "OPEN", "")
	s.debugLog("session opened", "session", sess.id, "remote", sess.remoteAddr)
}

func (s *Server) handleDisconnect(conn *transport.ServerConn) {
	s.mu.Lock()
	sess, ok := s.sessions[conn.ConnID()]
	delete(s.sessions, conn.ConnID())
	s.mu.Unlock()
	if !ok {
		return
	}

	sess.close()
	sess.logState("OPEN", "CLOSED", "")
	s.debugLog("session closed", "session", sess.id, "pending", sess.pending.Load())
}

func (s *Server) handleError(conn *transport.ServerConn, err error) {
	connID := ""
	if conn != nil {
		connID = conn.ConnID()
	}
	if errors.Is(err, transport.ErrConnectionClosed) {
		return
	}
	s.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryError,
		LocalRole:    log.RoleServer,
		Error: &log.ErrorEventData{
			Layer:   log.LayerTransport,
			Message: err.Error(),
		},
	})
}

// handleMessage runs on the connection's read goroutine, so calls from one
// session reach the dispatchers in the order they were sent.
func (s *Server) handleMessage(conn *transport.ServerConn, data []byte) {
	received := time.Now()

	s.mu.RLock()
	sess := s.sessions[conn.ConnID()]
	s.mu.RUnlock()
	if sess == nil {
		return
	}

	req, err := wire.DecodeRequest(data)
	if req == nil || req.MessageID == wire.ControlMessageID {
		s.logger.Log(log.Event{
			Timestamp:    received,
			ConnectionID: sess.id,
			Direction:    log.DirectionIn,
			Layer:        log.LayerWire,
			Category:     log.CategoryError,
			LocalRole:    log.RoleServer,
			Error: &log.ErrorEventData{
				Layer:   log.LayerWire,
				Message: err.Error(),
				Context: "decode request",
			},
		})
		return
	}
	sess.requests.Add(1)
	sess.logRequest(req)

	if err != nil {
		s.reply(sess, wire.NewErrorResponse(req.MessageID, model.WrapError(model.KindInvalidRequest, err, "invalid request")), received)
		return
	}

	if req.Operation == wire.OpHello {
		s.reply(sess, s.hello(sess, req), received)
		return
	}

	s.mu.RLock()
	d := s.dispatchers[req.Device]
	s.mu.RUnlock()
	if d == nil {
		s.reply(sess, wire.NewErrorResponse(req.MessageID, model.NewError(model.KindUnknownDevice, "unknown device %q", req.Device)), received)
		return
	}

	d.enqueue(sess, req, received)
}

func (s *Server) hello(sess *Session, req *wire.Request) *wire.Response {
	var hello wire.HelloRequest
	if err := wire.DecodePayload(req.Payload, &hello); err != nil {
		return wire.NewErrorResponse(req.MessageID, err)
	}
	sess.setClient(hello.Client)
	if hello.Version != 0 && hello.Version != wire.ProtocolVersion {
		return wire.NewErrorResponse(req.MessageID, model.NewError(model.KindInvalidRequest,
			"protocol version %d not supported, server speaks %d", hello.Version, wire.ProtocolVersion))
	}

	result := wire.HelloResponse{ServerID: s.config.ServerID, Version: wire.ProtocolVersion}
	for _, dev := range s.Devices() {
		desc, err := dev.DescribeCapabilities(s.ctx)
		if err != nil {
			return wire.NewErrorResponse(req.MessageID, err)
		}
		result.Devices = append(result.Devices, desc)
	}

	resp, err := wire.NewResponse(req.MessageID, result)
	if err != nil {
		return wire.NewErrorResponse(req.MessageID, model.WrapError(model.KindCommunicationError, err, "encode hello"))
	}
	s.debugLog("hello", "session", sess.id, "client", hello.Client)
	return resp
}

func (s *Server) reply(sess *Session, resp *wire.Response, received time.Time) {
	if err := sess.respond(resp, received); err != nil {
		s.debugLog("response dropped", "session", sess.id, "msg", resp.MessageID, "error", err)
	}
}

// finish delivers a dispatched call's response. The result of a call whose
// session closed while it ran is discarded.
func (s *Server) finish(c *call, resp *wire.Response) {
	defer c.session.pending.Add(-1)
	if c.session.Closed() {
		s.debugLog("result discarded, session closed", "session", c.session.id, "op", c.req.Operation.String())
		return
	}
	s.reply(c.session, resp, c.received)
}

func (s *Server) debugLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(msg, args...)
	}
}
