package discovery

import (
	"errors"
	"time"
)

// Service constants for mDNS.
const (
	// ServiceType is the DNS-SD service type of a device server.
	ServiceType = "_labrig._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the default device server port.
	DefaultPort = 7421

	// BrowseTimeout is the default timeout for mDNS browsing.
	BrowseTimeout = 5 * time.Second

	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63

	// maxTXTLen is the DNS limit for one TXT string.
	maxTXTLen = 255
)

// TXT record keys.
const (
	TXTKeyServerID = "id"
	TXTKeyDevices  = "devices"
	TXTKeyTLS      = "tls"
	TXTKeyVersion  = "ver"
)

// Errors.
var (
	ErrMissingRequired  = errors.New("discovery: missing required field")
	ErrInvalidTXTRecord = errors.New("discovery: invalid TXT record")
	ErrNotFound         = errors.New("discovery: server not found")
	ErrNotAdvertising   = errors.New("discovery: not advertising")
)

// ServerInfo is what a device server advertises about itself.
type ServerInfo struct {
	// ServerID is the stable server name.
	ServerID string

	// Instance is the mDNS instance name. Defaults to ServerID.
	Instance string

	// Port the server listens on.
	Port uint16

	// Devices are the handles of the attached devices.
	Devices []string

	// TLS is true if the server requires TLS.
	TLS bool

	// Version is the wire protocol version.
	Version uint8
}

// Service is a device server found by browsing.
type Service struct {
	InstanceName string
	Host         string
	Port         uint16
	Addresses    []string
	ServerInfo
}

// Address returns a dialable host:port, preferring a resolved address over
// the host name.
func (s *Service) Address() string {
	host := s.Host
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}
	return joinHostPort(host, s.Port)
}
