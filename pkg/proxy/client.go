package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labrig/labrig-go/pkg/log"
	"github.com/labrig/labrig-go/pkg/model"
	"github.com/labrig/labrig-go/pkg/transport"
	"github.com/labrig/labrig-go/pkg/wire"
)

// DefaultCallTimeout bounds the wait for a response when the caller's
// context has no deadline.
const DefaultCallTimeout = 30 * time.Second

// ErrClientClosed is the cause of calls failing after Close.
var ErrClientClosed = errors.New("proxy client closed")

// Config configures a Client.
type Config struct {
	// ClientName is sent in Hello and shows up in the server's session list.
	ClientName string

	// TLS enables TLS. Nil selects plain TCP.
	TLS *transport.TLSConfig

	// MaxMessageSize bounds a single message.
	MaxMessageSize uint32

	// ConnectTimeout bounds dial, handshake and Hello.
	ConnectTimeout time.Duration

	// CallTimeout bounds each call whose context has no deadline.
	CallTimeout time.Duration

	// KeepAlive configures liveness pings. Zero values select defaults.
	KeepAlive transport.KeepAliveConfig

	// DisableKeepAlive turns pings off.
	DisableKeepAlive bool

	// Logger for debug output (optional).
	Logger *slog.Logger

	// ProtocolLogger captures frames and messages (optional).
	ProtocolLogger log.Logger
}

// Client is a connection to one server. It hands out a Device for every
// device the server hosts.
type Client struct {
	config Config
	conn   *transport.ClientConn
	logger log.Logger
	ka     *transport.KeepAlive

	nextID atomic.Uint32

	pendingMu sync.Mutex
	pending   map[uint32]chan *wire.Response

	mu       sync.RWMutex
	serverID string
	devices  map[string]*Device

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
	cancel    context.CancelFunc
}

// Dial connects to a server and performs the Hello exchange.
func Dial(ctx context.Context, address string, cfg Config) (*Client, error) {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}

	tc, err := transport.NewClient(transport.ClientConfig{
		TLSConfig:      cfg.TLS,
		MaxMessageSize: cfg.MaxMessageSize,
		ConnectTimeout: cfg.ConnectTimeout,
		Logger:         cfg.ProtocolLogger,
	})
	if err != nil {
		return nil, err
	}
	conn, err := tc.Connect(ctx, address)
	if err != nil {
		return nil, model.WrapError(model.KindCommunicationError, err, "connect %s", address)
	}

	c := &Client{
		config:  cfg,
		conn:    conn,
		logger:  log.OrNoop(cfg.ProtocolLogger),
		pending: make(map[uint32]chan *wire.Response),
		devices: make(map[string]*Device),
		done:    make(chan struct{}),
	}

	var loopCtx context.Context
	loopCtx, c.cancel = context.WithCancel(context.Background())
	go c.readLoop()

	if !cfg.DisableKeepAlive {
		c.ka = transport.NewKeepAlive(cfg.KeepAlive, conn.SendPing, func() {
			c.shutdown(errors.New("keep-alive timeout"))
		})
		c.ka.Start(loopCtx)
	}

	helloCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		helloCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if err := c.Refresh(helloCtx); err != nil {
		c.Close()
		return nil, err
	}

	c.debugLog("connected", "server", c.ServerID(), "addr", address, "devices", len(c.devices))
	return c, nil
}

// ServerID returns the identity the server sent in Hello.
func (c *Client) ServerID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverID
}

// Devices returns a proxy for every remote device, sorted by ID.
func (c *Client) Devices() []*Device {
	c.mu.RLock()
	out := make([]*Device, 0, len(c.devices))
	for _, d := range c.devices {
		out = append(out, d)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Device returns the proxy for the named remote device.
func (c *Client) Device(id string) (*Device, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.devices[id]
	if !ok {
		return nil, model.NewError(model.KindUnknownDevice, "server %q has no device %q", c.serverID, id)
	}
	return d, nil
}

// Refresh repeats the Hello exchange and replaces every device's cached
// description. Devices that disappeared stay usable but fail with
// UnknownDevice on the server.
func (c *Client) Refresh(ctx context.Context) error {
	var hello wire.HelloResponse
	err := c.call(ctx, wire.OpHello, "", wire.HelloRequest{
		Client:  c.config.ClientName,
		Version: wire.ProtocolVersion,
	}, &hello, 0)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.serverID = hello.ServerID
	for _, desc := range hello.Devices {
		if d, ok := c.devices[desc.DeviceID]; ok {
			d.setDescription(desc)
			continue
		}
		c.devices[desc.DeviceID] = newDevice(c, desc)
	}
	return nil
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection closed, or nil while it is open.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.closeErr
	default:
		return nil
	}
}

// KeepAliveStats returns liveness statistics. It is zero when keep-alive
// is disabled.
func (c *Client) KeepAliveStats() transport.KeepAliveStats {
	if c.ka == nil {
		return transport.KeepAliveStats{}
	}
	return c.ka.Stats()
}

// Close ends the connection. Calls in flight fail with CommunicationError.
func (c *Client) Close() error {
	_ = c.conn.SendClose()
	c.shutdown(ErrClientClosed)
	return nil
}

func (c *Client) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.closeErr = cause
		close(c.done)
		c.cancel()
		if c.ka != nil {
			c.ka.Stop()
		}
		c.conn.Close()
		c.debugLog("disconnected", "server", c.ServerID(), "cause", cause)
	})
}

// call sends one request and decodes the result into out. extra extends
// the default call timeout for operations that wait on the server side.
func (c *Client) call(ctx context.Context, op wire.Operation, dev string, payload, out any, extra time.Duration) error {
	select {
	case <-c.done:
		return c.lost(op)
	default:
	}

	raw, err := wire.EncodePayload(payload)
	if err != nil {
		return model.WrapError(model.KindInvalidRequest, err, "%s", op)
	}
	req := &wire.Request{MessageID: c.messageID(), Operation: op, Device: dev, Payload: raw}
	data, err := wire.EncodeRequest(req)
	if err != nil {
		return model.WrapError(model.KindInvalidRequest, err, "%s", op)
	}

	respCh := make(chan *wire.Response, 1)
	c.pendingMu.Lock()
	c.pending[req.MessageID] = respCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, req.MessageID)
		c.pendingMu.Unlock()
	}()

	if err := c.conn.Send(data); err != nil {
		c.shutdown(err)
		return c.lost(op)
	}
	c.logRequest(req)

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.CallTimeout+extra)
		defer cancel()
	}

	select {
	case resp := <-respCh:
		if err := resp.Err(); err != nil {
			return err
		}
		if out != nil && len(resp.Payload) > 0 {
			if err := wire.Unmarshal(resp.Payload, out); err != nil {
				return model.WrapError(model.KindCommunicationError, err, "decode %s result", op)
			}
		}
		return nil
	case <-c.done:
		return c.lost(op)
	case <-ctx.Done():
		return model.FromContext(ctx.Err(), "%s %s", op, dev)
	}
}

func (c *Client) lost(op wire.Operation) error {
	cause := c.closeErr
	if cause == nil {
		cause = transport.ErrConnectionClosed
	}
	return model.WrapError(model.KindCommunicationError, cause, "%s", op)
}

func (c *Client) messageID() uint32 {
	for {
		if id := c.nextID.Add(1); id != wire.ControlMessageID {
			return id
		}
	}
}

func (c *Client) readLoop() {
	for {
		data, err := c.conn.Receive(0)
		if err != nil {
			c.shutdown(fmt.Errorf("connection lost: %w", err))
			return
		}

		ctrl, err := wire.IsControl(data)
		if err != nil {
			c.logError("peek message", err)
			continue
		}
		if ctrl {
			c.handleControl(data)
			continue
		}

		resp, err := wire.DecodeResponse(data)
		if err != nil {
			c.logError("decode response", err)
			continue
		}
		c.logResponse(resp)
		c.deliver(resp)
	}
}

func (c *Client) deliver(resp *wire.Response) {
	c.pendingMu.Lock()
	ch, ok := c.pending[resp.MessageID]
	c.pendingMu.Unlock()
	if !ok {
		c.debugLog("unexpected response", "msg", resp.MessageID)
		return
	}
	select {
	case ch <- resp:
	default:
	}
}

func (c *Client) handleControl(data []byte) {
	msg, err := wire.DecodeControlMessage(data)
	if err != nil {
		c.logError("decode control message", err)
		return
	}
	switch msg.Type {
	case wire.ControlPong:
		if c.ka != nil {
			c.ka.PongReceived(msg.Sequence)
		}
	case wire.ControlPing:
		if pong, err := transport.EncodePong(msg.Sequence); err == nil {
			_ = c.conn.Send(pong)
		}
	case wire.ControlClose:
		c.shutdown(errors.New("server closed the connection"))
	}
}

func (c *Client) logRequest(req *wire.Request) {
	op := req.Operation
	c.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.conn.ConnID(),
		Direction:    log.DirectionOut,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		LocalRole:    log.RoleProxy,
		DeviceID:     req.Device,
		Message: &log.MessageEvent{
			Type:      log.MessageTypeRequest,
			MessageID: req.MessageID,
			Operation: &op,
			Device:    req.Device,
		},
	})
}

func (c *Client) logResponse(resp *wire.Response) {
	status := resp.Status
	c.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.conn.ConnID(),
		Direction:    log.DirectionIn,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		LocalRole:    log.RoleProxy,
		Message: &log.MessageEvent{
			Type:      log.MessageTypeResponse,
			MessageID: resp.MessageID,
			Status:    &status,
		},
	})
}

func (c *Client) logError(what string, err error) {
	c.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.conn.ConnID(),
		Direction:    log.DirectionIn,
		Layer:        log.LayerWire,
		Category:     log.CategoryError,
		LocalRole:    log.RoleProxy,
		Error: &log.ErrorEventData{
			Layer:   log.LayerWire,
			Message: err.Error(),
			Context: what,
		},
	})
}

func (c *Client) debugLog(msg string, args ...any) {
	if c.config.Logger != nil {
		c.config.Logger.Debug(msg, args...)
	}
}
