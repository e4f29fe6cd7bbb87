package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/labrig/labrig-go/pkg/log"
	"github.com/labrig/labrig-go/pkg/wire"
)

// link is the state shared by both ends of a connection.
type link struct {
	conn     net.Conn
	remote   net.Addr
	framer   *Framer
	tlsState *tls.ConnectionState
	connID   string
	role     log.Role
	logger   log.Logger

	closeCh   chan struct{}
	closeOnce sync.Once
}

func (l *link) init(conn net.Conn, remote net.Addr, state *tls.ConnectionState, maxSize uint32, role log.Role, logger log.Logger) {
	l.conn = conn
	l.remote = remote
	l.framer = NewFramer(conn, maxSize)
	l.tlsState = state
	l.connID = uuid.NewString()
	l.role = role
	l.logger = logger
	l.closeCh = make(chan struct{})
	if logger != nil {
		l.framer.Trace(logger, l.connID)
	}
}

// secure runs the TLS handshake on raw when conf is set and checks the
// negotiated parameters. raw is closed on failure.
func secure(ctx context.Context, raw net.Conn, conf *tls.Config, server bool) (net.Conn, *tls.ConnectionState, error) {
	if conf == nil {
		return raw, nil, nil
	}
	var tc *tls.Conn
	if server {
		tc = tls.Server(raw, conf)
	} else {
		tc = tls.Client(raw, conf)
	}
	if err := tc.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, nil, fmt.Errorf("TLS handshake failed: %w", err)
	}
	st := tc.ConnectionState()
	if err := VerifyConnection(st); err != nil {
		tc.Close()
		return nil, nil, err
	}
	return tc, &st, nil
}

// ConnID returns the UUID assigned to the connection.
func (l *link) ConnID() string { return l.connID }

// TLSState returns the negotiated TLS state, or nil for plain TCP.
func (l *link) TLSState() *tls.ConnectionState { return l.tlsState }

func (l *link) RemoteAddr() net.Addr { return l.remote }

// Done is closed when the connection closes.
func (l *link) Done() <-chan struct{} { return l.closeCh }

// Send writes one message. It is safe for concurrent use.
func (l *link) Send(data []byte) error {
	select {
	case <-l.closeCh:
		return ErrConnectionClosed
	default:
	}
	return l.framer.WriteFrame(data)
}

func (l *link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closeCh)
		err = l.conn.Close()
	})
	return err
}

func (l *link) closed() bool {
	select {
	case <-l.closeCh:
		return true
	default:
		return false
	}
}

// sendControl encodes and sends a control message and records it.
func (l *link) sendControl(msg *wire.ControlMessage) error {
	data, err := wire.EncodeControlMessage(msg)
	if err != nil {
		return err
	}
	if err := l.Send(data); err != nil {
		return err
	}
	l.traceControl(msg.Type, log.DirectionOut)
	return nil
}

var controlEvents = map[wire.ControlMessageType]log.ControlMsgType{
	wire.ControlPing:  log.ControlMsgPing,
	wire.ControlPong:  log.ControlMsgPong,
	wire.ControlClose: log.ControlMsgClose,
}

func (l *link) traceControl(t wire.ControlMessageType, dir log.Direction) {
	ev, ok := controlEvents[t]
	if l.logger == nil || !ok {
		return
	}
	l.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: l.connID,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryControl,
		LocalRole:    l.role,
		ControlMsg:   &log.ControlMsgEvent{Type: ev},
	})
}

func (l *link) traceState(from, to string) {
	if l.logger == nil {
		return
	}
	l.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: l.connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		LocalRole:    l.role,
		RemoteAddr:   l.remote.String(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: from,
			NewState: to,
		},
	})
}

// EncodePong encodes the answer to ping seq.
func EncodePong(seq uint32) ([]byte, error) {
	return wire.EncodeControlMessage(&wire.ControlMessage{Type: wire.ControlPong, Sequence: seq})
}
