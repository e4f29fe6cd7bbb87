package model

import "strings"

// Capability flags for devices.
type Capability uint16

const (
	// CapSettings means the device exposes settable settings.
	CapSettings Capability = 1 << iota

	// CapTrigger means the device supports the arm/trigger/abort lifecycle.
	CapTrigger

	// CapAcquisition means the device produces frames.
	CapAcquisition

	// CapMovableAxis means the device moves along one or more axes.
	CapMovableAxis

	// CapDigitalIO means the device exposes digital lines.
	CapDigitalIO

	// CapCamera is the usual camera combination.
	CapCamera = CapSettings | CapTrigger | CapAcquisition
)

var capabilityNames = []struct {
	c    Capability
	name string
}{
	{CapSettings, "settings"},
	{CapTrigger, "trigger"},
	{CapAcquisition, "acquisition"},
	{CapMovableAxis, "movable-axis"},
	{CapDigitalIO, "digital-io"},
}

// Has returns true if all flags in other are set.
func (c Capability) Has(other Capability) bool { return c&other == other }

// Names returns the names of the set flags.
func (c Capability) Names() []string {
	var names []string
	for _, cn := range capabilityNames {
		if c.Has(cn.c) {
			names = append(names, cn.name)
		}
	}
	return names
}

// String returns the flags as a comma separated list.
func (c Capability) String() string {
	if c == 0 {
		return "-"
	}
	return strings.Join(c.Names(), ",")
}

// ParseCapability parses a single capability name.
func ParseCapability(name string) (Capability, bool) {
	for _, cn := range capabilityNames {
		if cn.name == name {
			return cn.c, true
		}
	}
	return 0, false
}
