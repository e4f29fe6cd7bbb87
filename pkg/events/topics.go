package events

import "strings"

// DefaultPrefix is the default topic prefix.
const DefaultPrefix = "labrig"

// Topics builds MQTT topic names below a prefix.
//
//	<prefix>/<device>/state
//	<prefix>/<device>/settings/<name>
//	<prefix>/hosts/<server>/status
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultPrefix
	}
	return strings.TrimSuffix(t.Prefix, "/")
}

// State is the retained trigger state of a device.
func (t Topics) State(deviceID string) string {
	return t.prefix() + "/" + level(deviceID) + "/state"
}

// Setting is the retained value of one setting.
func (t Topics) Setting(deviceID, name string) string {
	return t.prefix() + "/" + level(deviceID) + "/settings/" + level(name)
}

// HostStatus carries the online/offline status of a server.
func (t Topics) HostStatus(serverID string) string {
	return t.prefix() + "/hosts/" + level(serverID) + "/status"
}

var levelReplacer = strings.NewReplacer("/", "_", "+", "_", "#", "_")

// level makes s usable as one topic level.
func level(s string) string {
	return levelReplacer.Replace(s)
}
