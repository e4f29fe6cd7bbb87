// Package status serves a read-only HTTP view of a device server:
//
//	GET /healthz
//	GET /api/devices
//	GET /api/devices/{id}
//	GET /api/sessions
package status
