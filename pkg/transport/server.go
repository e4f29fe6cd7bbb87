package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labrig/labrig-go/pkg/log"
	"github.com/labrig/labrig-go/pkg/wire"
)

// ServerConfig configures the listening side.
type ServerConfig struct {
	// TLSConfig enables TLS. Nil selects plain TCP.
	TLSConfig *TLSConfig

	// Address defaults to ":DefaultPort".
	Address string

	MaxMessageSize uint32

	// HandshakeTimeout bounds the TLS handshake (default 10s).
	HandshakeTimeout time.Duration

	Logger log.Logger

	OnConnect    func(conn *ServerConn)
	OnDisconnect func(conn *ServerConn)

	// OnMessage runs on the connection's read goroutine for every data
	// message, in arrival order. Control messages are answered here and
	// never reach it.
	OnMessage func(conn *ServerConn, msg []byte)

	// OnError receives accept, handshake and read errors. conn is nil
	// before a connection is established.
	OnError func(conn *ServerConn, err error)
}

// Server accepts proxy connections.
type Server struct {
	config   ServerConfig
	tlsConf  *tls.Config
	listener net.Listener

	mu    sync.RWMutex
	conns map[*ServerConn]struct{}

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewServer(config ServerConfig) (*Server, error) {
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	s := &Server{config: config, conns: make(map[*ServerConn]struct{})}
	if config.TLSConfig != nil {
		conf, err := NewServerTLSConfig(config.TLSConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		s.tlsConf = conf
	}
	return s, nil
}

func (s *Server) TLSEnabled() bool { return s.tlsConf != nil }

// Start listens on the configured address and accepts in the background.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return errors.New("server already running")
	}
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.listener = ln
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and every connection and waits for their
// goroutines.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}
	s.cancel()
	s.listener.Close()

	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for s.running.Load() {
		raw, err := s.listener.Accept()
		if err != nil {
			if s.running.Load() {
				s.reportError(nil, fmt.Errorf("accept error: %w", err))
			}
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serve(raw)
		}()
	}
}

func (s *Server) serve(raw net.Conn) {
	hsCtx, cancel := context.WithTimeout(s.ctx, s.config.HandshakeTimeout)
	conn, state, err := secure(hsCtx, raw, s.tlsConf, true)
	cancel()
	if err != nil {
		s.reportError(nil, err)
		return
	}

	c := &ServerConn{server: s, connectedAt: time.Now()}
	c.init(conn, raw.RemoteAddr(), state, s.config.MaxMessageSize, log.RoleServer, s.config.Logger)
	c.traceState("", "CONNECTED")
	s.track(c, true)
	if s.config.OnConnect != nil {
		s.config.OnConnect(c)
	}

	c.readLoop()
	c.Close()

	s.track(c, false)
	c.traceState("CONNECTED", "DISCONNECTED")
	if s.config.OnDisconnect != nil {
		s.config.OnDisconnect(c)
	}
}

func (s *Server) track(c *ServerConn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
}

func (s *Server) reportError(conn *ServerConn, err error) {
	if s.config.OnError != nil {
		s.config.OnError(conn, err)
	}
}

// ServerConn is one accepted connection.
type ServerConn struct {
	link
	server      *Server
	connectedAt time.Time
}

func (c *ServerConn) ConnectedAt() time.Time { return c.connectedAt }

func (c *ServerConn) readLoop() {
	for !c.closed() && c.server.ctx.Err() == nil {
		data, err := c.framer.ReadFrame()
		if err != nil {
			if !c.closed() && c.server.running.Load() {
				c.server.reportError(c, err)
			}
			return
		}
		if ctrl, _ := wire.IsControl(data); ctrl {
			if msg, err := wire.DecodeControlMessage(data); err == nil {
				c.answerControl(msg)
				continue
			}
		}
		if c.server.config.OnMessage != nil {
			c.server.config.OnMessage(c, data)
		}
	}
}

// answerControl replies to pings and acknowledges a close before closing.
func (c *ServerConn) answerControl(msg *wire.ControlMessage) {
	c.traceControl(msg.Type, log.DirectionIn)
	switch msg.Type {
	case wire.ControlPing:
		_ = c.sendControl(&wire.ControlMessage{Type: wire.ControlPong, Sequence: msg.Sequence})
	case wire.ControlClose:
		_ = c.sendControl(&wire.ControlMessage{Type: wire.ControlClose})
		c.Close()
	}
}
