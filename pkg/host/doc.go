// Package host wires a configuration into a running device server: it
// builds the devices through the adapter registry, serves them, and adds
// mDNS advertisement, the status API and the MQTT publisher when enabled.
package host
