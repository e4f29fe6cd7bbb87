package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// Advertiser makes a device server findable on the local network.
type Advertiser interface {
	// Advertise starts advertising info, replacing an earlier advertisement.
	Advertise(ctx context.Context, info *ServerInfo) error

	// Update replaces the TXT records of the running advertisement.
	Update(info *ServerInfo) error

	// Stop withdraws the advertisement.
	Stop() error
}

// Browser finds device servers.
type Browser interface {
	// Browse reports every server found until ctx ends.
	Browse(ctx context.Context) (<-chan *Service, error)

	// Find returns the server with the given ID.
	Find(ctx context.Context, serverID string) (*Service, error)
}

// Config configures the mDNS advertiser and browser.
type Config struct {
	// Interface restricts mDNS to one network interface. Empty means all.
	Interface string

	// TTL is the DNS record TTL. Default: 120 seconds.
	TTL time.Duration

	// Logger for debug output (optional).
	Logger *slog.Logger
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{TTL: 120 * time.Second}
}

func (c Config) interfaces() []net.Interface {
	if c.Interface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(c.Interface)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

// MDNSAdvertiser implements Advertiser using zeroconf.
type MDNSAdvertiser struct {
	config Config

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewMDNSAdvertiser creates an mDNS advertiser.
func NewMDNSAdvertiser(config Config) *MDNSAdvertiser {
	return &MDNSAdvertiser{config: config}
}

func (a *MDNSAdvertiser) Advertise(_ context.Context, info *ServerInfo) error {
	if info.ServerID == "" {
		return fmt.Errorf("%w: server id", ErrMissingRequired)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	port := int(info.Port)
	if port == 0 {
		port = DefaultPort
	}

	var opts []zeroconf.ServerOption
	if a.config.TTL > 0 {
		opts = append(opts, zeroconf.TTL(uint32(a.config.TTL.Seconds())))
	}

	instance := info.Instance
	if instance == "" {
		instance = info.ServerID
	}
	instance = InstanceName(instance)

	server, err := zeroconf.Register(
		instance,
		ServiceType,
		Domain,
		port,
		TXTRecordsToStrings(EncodeServerTXT(info)),
		a.config.interfaces(),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("failed to register %s: %w", ServiceType, err)
	}
	a.server = server
	a.debugLog("advertising", "instance", instance, "port", port, "devices", len(info.Devices))
	return nil
}

func (a *MDNSAdvertiser) Update(info *ServerInfo) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil {
		return ErrNotAdvertising
	}
	a.server.SetText(TXTRecordsToStrings(EncodeServerTXT(info)))
	return nil
}

func (a *MDNSAdvertiser) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
		a.debugLog("advertisement withdrawn")
	}
	return nil
}

func (a *MDNSAdvertiser) debugLog(msg string, args ...any) {
	if a.config.Logger != nil {
		a.config.Logger.Debug(msg, args...)
	}
}

// MDNSBrowser implements Browser using zeroconf.
type MDNSBrowser struct {
	config Config
}

// NewMDNSBrowser creates an mDNS browser.
func NewMDNSBrowser(config Config) *MDNSBrowser {
	return &MDNSBrowser{config: config}
}

// Browse aggregates entries by instance name: addresses seen on several
// interfaces are merged into one Service, which is reported once.
func (b *MDNSBrowser) Browse(ctx context.Context) (<-chan *Service, error) {
	out := make(chan *Service)
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	go func() {
		defer close(out)
		services := make(map[string]*Service)

		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				svc := entryToService(entry)
				if svc == nil {
					continue
				}
				if existing, found := services[svc.InstanceName]; found {
					existing.Addresses = mergeAddresses(existing.Addresses, svc.Addresses)
					continue
				}
				services[svc.InstanceName] = svc
				select {
				case out <- svc:
				case <-ctx.Done():
					return
				}

			case entry, ok := <-removed:
				if !ok {
					continue
				}
				if existing, found := services[entry.Instance]; found {
					existing.Addresses = removeAddresses(existing.Addresses, entry)
					if len(existing.Addresses) == 0 {
						delete(services, entry.Instance)
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, b.options()...)
	}()

	return out, nil
}

// Find browses until the server with serverID shows up. Without a
// deadline on ctx it gives up after BrowseTimeout.
func (b *MDNSBrowser) Find(ctx context.Context, serverID string) (*Service, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, BrowseTimeout)
		defer cancel()
	}

	results, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}
	for svc := range results {
		if svc.ServerID == serverID {
			return svc, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, serverID)
}

func (b *MDNSBrowser) options() []zeroconf.ClientOption {
	if ifaces := b.config.interfaces(); ifaces != nil {
		return []zeroconf.ClientOption{zeroconf.SelectIfaces(ifaces)}
	}
	return nil
}

func entryToService(entry *zeroconf.ServiceEntry) *Service {
	return newService(entry.Instance, entry.HostName, entry.Port, entry.Text, slices.Concat(entry.AddrIPv4, entry.AddrIPv6))
}

// newService builds a Service from a resolved DNS-SD record. Records with
// unusable TXT data yield nil.
func newService(instance, host string, port int, text []string, ips []net.IP) *Service {
	info, err := DecodeServerTXT(StringsToTXTRecords(text))
	if err != nil {
		return nil
	}

	addrs := make([]string, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, ip.String())
	}

	info.Port = uint16(port)
	info.Instance = instance
	return &Service{
		InstanceName: instance,
		Host:         host,
		Port:         uint16(port),
		Addresses:    addrs,
		ServerInfo:   *info,
	}
}

func mergeAddresses(existing, added []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}
	for _, addr := range added {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

func removeAddresses(addresses []string, entry *zeroconf.ServiceEntry) []string {
	gone := make(map[string]bool)
	for _, ip := range entry.AddrIPv4 {
		gone[ip.String()] = true
	}
	for _, ip := range entry.AddrIPv6 {
		gone[ip.String()] = true
	}
	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !gone[addr] {
			result = append(result, addr)
		}
	}
	return result
}

var (
	_ Advertiser = (*MDNSAdvertiser)(nil)
	_ Browser    = (*MDNSBrowser)(nil)
)
