package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labrig/labrig-go/pkg/device"
	"github.com/labrig/labrig-go/pkg/trigger"
)

// DefaultQueueSize bounds the messages waiting to be published.
const DefaultQueueSize = 256

// StatePayload is published on the state topic of a device.
type StatePayload struct {
	Device string        `json:"device"`
	State  trigger.State `json:"state"`
	From   trigger.State `json:"from"`
	Cycle  uint64        `json:"cycle"`
	Cause  string        `json:"cause,omitempty"`
	Time   time.Time     `json:"time"`
}

// SettingPayload is published on the topic of a setting.
type SettingPayload struct {
	Device string    `json:"device"`
	Name   string    `json:"name"`
	Value  any       `json:"value"`
	Time   time.Time `json:"time"`
}

type message struct {
	topic   string
	payload []byte
}

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	Broker    Broker
	Prefix    string
	QueueSize int
	Logger    *slog.Logger
}

// Publisher mirrors device state and setting changes to retained MQTT
// topics. It implements device.Observer. Observer calls only enqueue;
// a background goroutine publishes, so a slow or absent broker never
// stalls a device worker. Messages that do not fit the queue are dropped.
type Publisher struct {
	broker Broker
	topics Topics
	logger *slog.Logger

	queue     chan message
	dropped   atomic.Uint64
	published atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

var _ device.Observer = (*Publisher)(nil)

// NewPublisher creates a publisher and starts its goroutine.
func NewPublisher(cfg PublisherConfig) *Publisher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	p := &Publisher{
		broker: cfg.Broker,
		topics: Topics{Prefix: cfg.Prefix},
		logger: cfg.Logger,
		queue:  make(chan message, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// StateChanged implements device.Observer.
func (p *Publisher) StateChanged(deviceID string, t trigger.Transition) {
	payload := StatePayload{
		Device: deviceID,
		State:  t.To,
		From:   t.From,
		Cycle:  t.Cycle,
		Time:   time.Now().UTC(),
	}
	if t.Cause != nil {
		payload.Cause = t.Cause.Error()
	}
	p.enqueue(p.topics.State(deviceID), payload)
}

// SettingChanged implements device.Observer.
func (p *Publisher) SettingChanged(deviceID string, name string, value any) {
	p.enqueue(p.topics.Setting(deviceID, name), SettingPayload{
		Device: deviceID,
		Name:   name,
		Value:  value,
		Time:   time.Now().UTC(),
	})
}

// Snapshot publishes the current state and settings of a device, so that
// retained topics are correct after a restart.
func (p *Publisher) Snapshot(ctx context.Context, d device.Device) error {
	status, err := d.State(ctx)
	if err != nil {
		return err
	}
	p.enqueue(p.topics.State(d.ID()), StatePayload{
		Device: d.ID(),
		State:  status.State,
		From:   status.State,
		Cycle:  status.Cycle,
		Cause:  status.Cause,
		Time:   time.Now().UTC(),
	})

	settings, err := d.ListSettings(ctx)
	if err != nil {
		// Faulted devices have no readable settings.
		return nil
	}
	for _, s := range settings {
		if s.Value != nil {
			p.SettingChanged(d.ID(), s.Name, s.Value)
		}
	}
	return nil
}

// Stats returns the number of published and dropped messages.
func (p *Publisher) Stats() (published, dropped uint64) {
	return p.published.Load(), p.dropped.Load()
}

// Close publishes what is queued, stops the goroutine and closes the
// broker. ctx bounds the wait for the queue to drain.
func (p *Publisher) Close(ctx context.Context) error {
	p.closeOnce.Do(func() { close(p.done) })

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
	}
	return p.broker.Close()
}

func (p *Publisher) enqueue(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		p.logger.Warn("mqtt payload not encodable", "topic", topic, "error", err)
		return
	}
	select {
	case <-p.done:
		return
	default:
	}
	select {
	case p.queue <- message{topic: topic, payload: payload}:
	default:
		if p.dropped.Add(1) == 1 {
			p.logger.Warn("mqtt queue full, dropping messages", "topic", topic)
		}
	}
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for {
		select {
		case m := <-p.queue:
			p.publish(m)
		case <-p.done:
			for {
				select {
				case m := <-p.queue:
					p.publish(m)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) publish(m message) {
	if err := p.broker.Publish(m.topic, m.payload, true); err != nil {
		p.logger.Debug("mqtt publish failed", "topic", m.topic, "error", err)
		return
	}
	p.published.Add(1)
}
