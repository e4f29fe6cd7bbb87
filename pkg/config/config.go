package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the configuration of one labrig host. It is loaded from YAML
// and can be overridden by LABRIG_* environment variables.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Status    StatusConfig    `yaml:"status"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Logging   LoggingConfig   `yaml:"logging"`
	Devices   []DeviceConfig  `yaml:"devices"`
}

// ServerConfig configures the device server.
type ServerConfig struct {
	ID             string    `yaml:"id"`
	Listen         string    `yaml:"listen"`
	MaxMessageSize uint32    `yaml:"max_message_size"`
	QueueSize      int       `yaml:"queue_size"`
	TLS            TLSConfig `yaml:"tls"`
}

// TLSConfig points at PEM files. TLS is enabled when CertFile is set.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`
}

// Enabled returns true if a certificate is configured.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != ""
}

// DiscoveryConfig configures mDNS advertisement of the server.
type DiscoveryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
}

// StatusConfig configures the read-only HTTP status API.
type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// MQTTConfig configures the state publisher.
type MQTTConfig struct {
	Enabled     bool             `yaml:"enabled"`
	Broker      MQTTBrokerConfig `yaml:"broker"`
	Auth        MQTTAuthConfig   `yaml:"auth"`
	QoS         int              `yaml:"qos"`
	TopicPrefix string           `yaml:"topic_prefix"`
}

// MQTTBrokerConfig contains broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains broker credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// LoggingConfig configures operational and protocol logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`

	// ProtocolLog is a file receiving CBOR protocol events. Empty disables it.
	ProtocolLog string `yaml:"protocol_log"`
}

// DeviceConfig declares one device and the adapter that drives it.
type DeviceConfig struct {
	ID             string `yaml:"id"`
	Kind           string `yaml:"kind"`
	BufferCapacity int    `yaml:"buffer_capacity"`
	Params         Params `yaml:"params"`
}

// Load reads path, applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns a configuration with every optional value filled in and
// no devices.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ID:        hostname(),
			Listen:    ":7421",
			QueueSize: 256,
		},
		Discovery: DiscoveryConfig{Enabled: true},
		Status:    StatusConfig{Listen: ":8421"},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "labrig",
			},
			QoS:         1,
			TopicPrefix: "labrig",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// applyEnvOverrides applies LABRIG_SECTION_KEY environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LABRIG_SERVER_ID"); v != "" {
		cfg.Server.ID = v
	}
	if v := os.Getenv("LABRIG_LISTEN"); v != "" {
		cfg.Server.Listen = v
	}
	if v := os.Getenv("LABRIG_STATUS_LISTEN"); v != "" {
		cfg.Status.Listen = v
	}
	if v := os.Getenv("LABRIG_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("LABRIG_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("LABRIG_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("LABRIG_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("LABRIG_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.ID == "" {
		errs = append(errs, "server.id is required")
	}
	if c.Server.Listen == "" {
		errs = append(errs, "server.listen is required")
	}
	if c.Server.TLS.Enabled() && c.Server.TLS.KeyFile == "" {
		errs = append(errs, "server.tls.key_file is required with cert_file")
	}
	if c.Status.Enabled && c.Status.Listen == "" {
		errs = append(errs, "status.listen is required when status is enabled")
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
		}
		if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
			errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
		}
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Sprintf("logging.level: %v", err))
	}
	if f := c.Logging.Format; f != "text" && f != "json" {
		errs = append(errs, fmt.Sprintf("logging.format must be text or json, got %q", f))
	}

	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		switch {
		case d.ID == "":
			errs = append(errs, fmt.Sprintf("devices[%d].id is required", i))
		case seen[d.ID]:
			errs = append(errs, fmt.Sprintf("devices[%d]: duplicate id %q", i, d.ID))
		}
		seen[d.ID] = true
		if d.Kind == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].kind is required", i))
		}
		if d.BufferCapacity < 0 {
			errs = append(errs, fmt.Sprintf("devices[%d].buffer_capacity must not be negative", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// MQTTBrokerURL returns the broker URL for the MQTT client.
func (c *Config) MQTTBrokerURL() string {
	scheme := "tcp"
	if c.MQTT.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.MQTT.Broker.Host, c.MQTT.Broker.Port)
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("unknown level %q", name)
	}
	return level, nil
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "labrig"
	}
	if i := strings.IndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	return name
}

// durationParam accepts "50ms" style strings and plain numbers of seconds.
func durationParam(v any) (time.Duration, bool) {
	switch d := v.(type) {
	case string:
		parsed, err := time.ParseDuration(d)
		return parsed, err == nil
	case int:
		return time.Duration(d) * time.Second, true
	case float64:
		return time.Duration(d * float64(time.Second)), true
	}
	return 0, false
}
