package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/labrig/labrig-go/pkg/config"
	"github.com/labrig/labrig-go/pkg/device"
	"github.com/labrig/labrig-go/pkg/discovery"
	"github.com/labrig/labrig-go/pkg/events"
	"github.com/labrig/labrig-go/pkg/log"
	"github.com/labrig/labrig-go/pkg/registry"
	"github.com/labrig/labrig-go/pkg/server"
	"github.com/labrig/labrig-go/pkg/status"
	"github.com/labrig/labrig-go/pkg/transport"
	"github.com/labrig/labrig-go/pkg/wire"
)

// Options configures a Host. Only Config is required.
type Options struct {
	Config *config.Config

	// Registry resolves device kinds. Defaults to registry.Builtin().
	Registry *registry.Registry

	Logger         *slog.Logger
	ProtocolLogger log.Logger

	// Advertiser replaces the mDNS advertiser when discovery is enabled.
	Advertiser discovery.Advertiser

	// Broker replaces the paho client when MQTT is enabled.
	Broker events.Broker
}

// Host runs the devices of one configuration behind a server, together
// with the optional advertiser, status API and MQTT publisher.
type Host struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	cores  []*device.Core
	server *server.Server

	publisher  *events.Publisher
	advertiser discovery.Advertiser
	api        *status.API
	statusAddr net.Addr

	// stops run in reverse order on Stop.
	stops []func(context.Context) error
}

// New builds the device cores and the server. Nothing is started.
func New(opts Options) (*Host, error) {
	if opts.Config == nil {
		return nil, errors.New("host: config is required")
	}
	if opts.Registry == nil {
		opts.Registry = registry.Builtin()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	cfg := opts.Config
	h := &Host{cfg: cfg, opts: opts, logger: opts.Logger}

	base := device.Config{
		Logger:         opts.Logger,
		ProtocolLogger: opts.ProtocolLogger,
	}
	devices := make([]device.Device, 0, len(cfg.Devices))
	for _, dc := range cfg.Devices {
		core, err := opts.Registry.Build(dc, base)
		if err != nil {
			return nil, err
		}
		h.cores = append(h.cores, core)
		devices = append(devices, core)
	}

	var tlsCfg *transport.TLSConfig
	if t := cfg.Server.TLS; t.Enabled() {
		var err error
		if tlsCfg, err = transport.LoadTLSConfig(t.CertFile, t.KeyFile, t.CAFile); err != nil {
			return nil, fmt.Errorf("server tls: %w", err)
		}
	}

	srv, err := server.New(server.Config{
		ServerID:       cfg.Server.ID,
		Address:        cfg.Server.Listen,
		TLS:            tlsCfg,
		MaxMessageSize: cfg.Server.MaxMessageSize,
		QueueSize:      cfg.Server.QueueSize,
		Logger:         opts.Logger,
		ProtocolLogger: opts.ProtocolLogger,
	}, devices...)
	if err != nil {
		return nil, err
	}
	h.server = srv
	return h, nil
}

// Start brings everything up in order: MQTT, devices, server, mDNS and
// the status API. A device whose adapter fails to initialize stays
// Faulted and can be reset by a client; any other failure stops what was
// already started.
func (h *Host) Start(ctx context.Context) error {
	if err := h.start(ctx); err != nil {
		_ = h.Stop(context.WithoutCancel(ctx))
		return err
	}
	return nil
}

func (h *Host) start(ctx context.Context) error {
	cfg := h.cfg

	if cfg.MQTT.Enabled {
		broker := h.opts.Broker
		if broker == nil {
			client, err := events.Connect(cfg, h.logger)
			if err != nil {
				return err
			}
			broker = client
		}
		h.publisher = events.NewPublisher(events.PublisherConfig{
			Broker: broker,
			Prefix: cfg.MQTT.TopicPrefix,
			Logger: h.logger,
		})
		for _, core := range h.cores {
			core.AddObserver(h.publisher)
		}
		h.stops = append(h.stops, h.publisher.Close)
	}

	for _, core := range h.cores {
		if err := core.Start(ctx); err != nil {
			h.logger.Warn("device failed to initialize", "device", core.ID(), "error", err)
		}
		h.stops = append(h.stops, core.Detach)
	}

	if h.publisher != nil {
		for _, core := range h.cores {
			if err := h.publisher.Snapshot(ctx, core); err != nil {
				h.logger.Warn("mqtt snapshot failed", "device", core.ID(), "error", err)
			}
		}
	}

	if err := h.server.Start(ctx); err != nil {
		return err
	}
	h.stops = append(h.stops, func(context.Context) error { return h.server.Stop() })

	if cfg.Discovery.Enabled {
		h.advertiser = h.opts.Advertiser
		if h.advertiser == nil {
			dc := discovery.DefaultConfig()
			dc.Logger = h.logger
			h.advertiser = discovery.NewMDNSAdvertiser(dc)
		}
		if err := h.advertiser.Advertise(ctx, h.serverInfo()); err != nil {
			return err
		}
		h.stops = append(h.stops, func(context.Context) error { return h.advertiser.Stop() })
	}

	if cfg.Status.Enabled {
		h.api = status.New(h.server, h.logger)
		addr, err := h.api.Start(cfg.Status.Listen)
		if err != nil {
			return fmt.Errorf("status api: %w", err)
		}
		h.statusAddr = addr
		h.stops = append(h.stops, h.api.Shutdown)
	}

	h.logger.Info("host started",
		"server", cfg.Server.ID,
		"addr", h.server.Addr().String(),
		"devices", len(h.cores))
	return nil
}

// Stop shuts everything down in the reverse order of Start.
func (h *Host) Stop(ctx context.Context) error {
	var errs []error
	for i := len(h.stops) - 1; i >= 0; i-- {
		if err := h.stops[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	h.stops = nil
	return errors.Join(errs...)
}

// Run starts the host, blocks until ctx ends and stops it again.
func (h *Host) Run(ctx context.Context) error {
	if err := h.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	h.logger.Info("shutting down")
	return h.Stop(context.WithoutCancel(ctx))
}

// Server returns the device server.
func (h *Host) Server() *server.Server {
	return h.server
}

// StatusAddr returns the address of the status API, or nil if disabled.
func (h *Host) StatusAddr() net.Addr {
	return h.statusAddr
}

// Publisher returns the MQTT publisher, or nil if disabled.
func (h *Host) Publisher() *events.Publisher {
	return h.publisher
}

func (h *Host) serverInfo() *discovery.ServerInfo {
	info := &discovery.ServerInfo{
		ServerID: h.cfg.Server.ID,
		Instance: h.cfg.Discovery.Instance,
		TLS:      h.server.TLSEnabled(),
		Version:  wire.ProtocolVersion,
	}
	if tcp, ok := h.server.Addr().(*net.TCPAddr); ok {
		info.Port = uint16(tcp.Port)
	}
	for _, core := range h.cores {
		info.Devices = append(info.Devices, core.ID())
	}
	return info
}
