// Package proxy gives remote devices the same interface as local ones.
//
// Dial connects to a server, runs the Hello exchange and keeps a Device
// per remote device. A Device implements device.Device by sending one
// request per call and waiting for the matching response:
//
//	c, err := proxy.Dial(ctx, "bench-1.local:7421", proxy.Config{ClientName: "notebook"})
//	cam, err := c.Device("cam0")
//	err = cam.SetSetting(ctx, "exposure time", 0.05)
//
// Errors returned by the server keep their model.ErrorKind, so
// errors.Is(err, model.ErrDeviceBusy) works the same for local and remote
// devices. A lost connection fails pending and later calls with
// CommunicationError. Each Device caches the description and the setting
// values it last saw in a Shadow.
package proxy
