package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/labrig/labrig-go/pkg/log"
	"github.com/labrig/labrig-go/pkg/wire"
)

// ClientConfig configures the dialing side.
type ClientConfig struct {
	// TLSConfig enables TLS. Nil selects plain TCP.
	TLSConfig *TLSConfig

	MaxMessageSize uint32

	// ConnectTimeout bounds dial plus handshake when the context passed
	// to Connect has no deadline (default 10s).
	ConnectTimeout time.Duration

	Logger log.Logger
}

// Client dials labrig servers.
type Client struct {
	config  ClientConfig
	tlsConf *tls.Config
}

func NewClient(config ClientConfig) (*Client, error) {
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	c := &Client{config: config}
	if config.TLSConfig != nil {
		conf, err := NewClientTLSConfig(config.TLSConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		c.tlsConf = conf
	}
	return c, nil
}

// Connect dials address and completes the TLS handshake if configured.
func (c *Client) Connect(ctx context.Context, address string) (*ClientConn, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ConnectTimeout)
		defer cancel()
	}

	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	conn, state, err := secure(ctx, raw, c.tlsConf, false)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", address, err)
	}
	cc := &ClientConn{}
	cc.init(conn, raw.RemoteAddr(), state, c.config.MaxMessageSize, log.RoleProxy, c.config.Logger)
	return cc, nil
}

// ClientConn is a proxy's connection to a server.
type ClientConn struct {
	link
	readMu sync.Mutex
}

func (c *ClientConn) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// Receive reads the next message. A zero timeout blocks until a message
// arrives or the connection closes.
func (c *ClientConn) Receive(timeout time.Duration) ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if c.closed() {
		return nil, ErrConnectionClosed
	}
	if timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
		defer c.conn.SetReadDeadline(time.Time{})
	}
	return c.framer.ReadFrame()
}

func (c *ClientConn) SendPing(seq uint32) error {
	return c.sendControl(&wire.ControlMessage{Type: wire.ControlPing, Sequence: seq})
}

func (c *ClientConn) SendClose() error {
	return c.sendControl(&wire.ControlMessage{Type: wire.ControlClose})
}
