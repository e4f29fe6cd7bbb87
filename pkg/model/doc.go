// Package model implements the labrig device data model.
//
// # Devices and Settings
//
// A device is identified by a stable string handle and advertises a
// capability set plus a list of typed settings:
//
//	camera-1
//	├── capabilities: settings, trigger, acquisition
//	├── exposure time   float  [0.001, 10] s
//	├── gain            int    [0, 100]
//	├── trigger type    enum   {software, rising edge, falling edge}
//	└── sensor temperature  float  read-only
//
// Each setting has metadata (type, range or allowed values, read-only flag)
// and a cached value. The cached value always satisfies its constraint; a
// rejected write leaves it unchanged.
//
// # Registry
//
// A Registry holds the settings of one device and applies writes through a
// SettingIO (the vendor adapter). Values are validated before the adapter is
// called and cached only after the adapter acknowledges the write.
//
// # Errors
//
// Every failure that can cross the network carries an ErrorKind. Errors
// compare with errors.Is against the ErrXxx sentinels by kind, so a kind
// reconstructed on the client side matches the one raised on the server:
//
//	if errors.Is(err, model.ErrInvalidValue) { ... }
package model
