// Package registry turns device entries of the configuration into device
// cores by looking up the adapter factory registered for their kind.
package registry
