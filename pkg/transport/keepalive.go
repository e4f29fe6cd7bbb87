package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Keep-alive defaults. With these a dead peer is noticed after at most
// PingInterval*MaxMissedPongs + PongTimeout (35s).
const (
	DefaultPingInterval   = 10 * time.Second
	DefaultPongTimeout    = 5 * time.Second
	DefaultMaxMissedPongs = 3
)

// KeepAliveConfig configures keep-alive behavior.
type KeepAliveConfig struct {
	// PingInterval is the interval between pings.
	PingInterval time.Duration

	// PongTimeout is how long a ping may stay unanswered before it counts
	// as missed.
	PongTimeout time.Duration

	// MaxMissedPongs is the number of consecutive missed pongs after which
	// the connection is declared dead.
	MaxMissedPongs int
}

// DefaultKeepAliveConfig returns the default keep-alive configuration.
func DefaultKeepAliveConfig() KeepAliveConfig {
	return KeepAliveConfig{
		PingInterval:   DefaultPingInterval,
		PongTimeout:    DefaultPongTimeout,
		MaxMissedPongs: DefaultMaxMissedPongs,
	}
}

func (c KeepAliveConfig) withDefaults() KeepAliveConfig {
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = DefaultPongTimeout
	}
	if c.MaxMissedPongs <= 0 {
		c.MaxMissedPongs = DefaultMaxMissedPongs
	}
	return c
}

// DetectionDelay is the longest time a dead peer can go unnoticed.
func (c KeepAliveConfig) DetectionDelay() time.Duration {
	c = c.withDefaults()
	return c.PingInterval*time.Duration(c.MaxMissedPongs) + c.PongTimeout
}

// KeepAliveStats is a snapshot of keep-alive state.
type KeepAliveStats struct {
	LastPing    time.Time
	LastPong    time.Time
	LastLatency time.Duration
	MissedPongs int
	Sequence    uint32
}

// KeepAlive pings a peer periodically and reports when it stops answering.
type KeepAlive struct {
	config    KeepAliveConfig
	sendPing  func(seq uint32) error
	onTimeout func()

	seq    atomic.Uint32
	pongCh chan uint32

	mu      sync.Mutex
	stats   KeepAliveStats
	pending uint32
	sentAt  time.Time
	stopCh  chan struct{}
}

// NewKeepAlive creates a keep-alive monitor. onTimeout is called once,
// from the monitor goroutine, when the peer is declared dead.
func NewKeepAlive(config KeepAliveConfig, sendPing func(seq uint32) error, onTimeout func()) *KeepAlive {
	return &KeepAlive{
		config:    config.withDefaults(),
		sendPing:  sendPing,
		onTimeout: onTimeout,
		pongCh:    make(chan uint32, 4),
	}
}

// Start runs the monitor until Stop is called, ctx is done or the peer
// times out.
func (ka *KeepAlive) Start(ctx context.Context) {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	if ka.stopCh != nil {
		return
	}
	ka.stopCh = make(chan struct{})
	go ka.run(ctx, ka.stopCh)
}

// Stop stops the monitor.
func (ka *KeepAlive) Stop() {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	if ka.stopCh != nil {
		close(ka.stopCh)
		ka.stopCh = nil
	}
}

// PongReceived records a pong from the peer.
func (ka *KeepAlive) PongReceived(seq uint32) {
	select {
	case ka.pongCh <- seq:
	default:
	}
}

// Stats returns a snapshot of the keep-alive state.
func (ka *KeepAlive) Stats() KeepAliveStats {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	s := ka.stats
	s.Sequence = ka.seq.Load()
	return s
}

func (ka *KeepAlive) run(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(ka.config.PingInterval)
	defer ticker.Stop()

	ka.ping()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case seq := <-ka.pongCh:
			ka.pong(seq)
		case <-ticker.C:
			if ka.expired() {
				if ka.onTimeout != nil {
					ka.onTimeout()
				}
				return
			}
			ka.ping()
		}
	}
}

func (ka *KeepAlive) ping() {
	seq := ka.seq.Add(1)
	now := time.Now()

	ka.mu.Lock()
	ka.pending = seq
	ka.sentAt = now
	ka.stats.LastPing = now
	ka.mu.Unlock()

	// A failed send is left to the pong timeout.
	_ = ka.sendPing(seq)
}

func (ka *KeepAlive) pong(seq uint32) {
	ka.mu.Lock()
	defer ka.mu.Unlock()

	now := time.Now()
	ka.stats.LastPong = now
	if ka.pending != 0 && seq == ka.pending {
		ka.stats.LastLatency = now.Sub(ka.sentAt)
		ka.stats.MissedPongs = 0
		ka.pending = 0
	}
}

// expired counts an unanswered ping as missed and reports whether the
// peer is now considered dead.
func (ka *KeepAlive) expired() bool {
	ka.mu.Lock()
	defer ka.mu.Unlock()

	if ka.pending == 0 || time.Since(ka.sentAt) < ka.config.PongTimeout {
		return false
	}
	ka.pending = 0
	ka.stats.MissedPongs++
	return ka.stats.MissedPongs >= ka.config.MaxMissedPongs
}
