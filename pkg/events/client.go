package events

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/labrig/labrig-go/pkg/config"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 500 // milliseconds
	defaultKeepAlive         = 30 * time.Second
	maxReconnectInterval     = 30 * time.Second
)

// Errors.
var (
	ErrNotConnected     = errors.New("mqtt: not connected")
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
)

// Broker publishes messages. Client implements it with paho.
type Broker interface {
	Publish(topic string, payload []byte, retained bool) error
	Close() error
}

// Client is a paho MQTT client that reconnects on its own and announces
// the server through a retained status topic with a last will.
type Client struct {
	client    pahomqtt.Client
	qos       byte
	status    string
	serverID  string
	logger    *slog.Logger
	connected atomic.Bool
}

var _ Broker = (*Client)(nil)

type hostStatus struct {
	ServerID string    `json:"serverId"`
	Online   bool      `json:"online"`
	Time     time.Time `json:"time"`
}

// Connect connects to the broker configured in cfg.MQTT. The status topic
// is named after cfg.Server.ID.
func Connect(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	mc := cfg.MQTT
	c := &Client{
		qos:      byte(mc.QoS),
		status:   Topics{Prefix: mc.TopicPrefix}.HostStatus(cfg.Server.ID),
		serverID: cfg.Server.ID,
		logger:   logger,
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTTBrokerURL())
	opts.SetClientID(mc.Broker.ClientID)
	if mc.Auth.Username != "" {
		opts.SetUsername(mc.Auth.Username)
		opts.SetPassword(mc.Auth.Password)
	}
	if mc.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetMaxReconnectInterval(maxReconnectInterval)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)
	opts.SetWill(c.status, string(c.statusPayload(false)), c.qos, true)

	opts.SetOnConnectHandler(func(pc pahomqtt.Client) {
		c.connected.Store(true)
		pc.Publish(c.status, c.qos, true, c.statusPayload(true))
		c.logger.Info("mqtt connected", "broker", cfg.MQTTBrokerURL())
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.connected.Store(false)
		c.logger.Warn("mqtt connection lost", "error", err)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	c.connected.Store(true)
	return c, nil
}

// Publish sends one message and waits for the broker to acknowledge it.
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	token := c.client.Publish(topic, c.qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client.IsConnected()
}

// Close publishes the offline status and disconnects.
func (c *Client) Close() error {
	if c.IsConnected() {
		token := c.client.Publish(c.status, c.qos, true, c.statusPayload(false))
		token.WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)
	return nil
}

func (c *Client) statusPayload(online bool) []byte {
	b, _ := json.Marshal(hostStatus{ServerID: c.serverID, Online: online, Time: time.Now().UTC()})
	return b
}
