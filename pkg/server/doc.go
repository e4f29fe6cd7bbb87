// Package server exposes local devices to remote proxies.
//
// Each accepted connection becomes a Session. Requests are decoded on the
// connection's read goroutine and handed to the dispatcher of the device
// they name. A dispatcher runs the calls for its device one at a time in
// arrival order, across all sessions:
//
//	session A ──┐
//	session B ──┼──▶ dispatcher(cam0) ──▶ device.Device
//	session C ──┘
//
// Hello is answered by the server itself. Abort is not queued: it reaches
// the device right away and cancels whatever is still waiting behind it.
//
// When a session closes, calls it still has waiting are skipped and the
// result of its in-flight call is discarded. Device state is never rolled
// back.
package server
