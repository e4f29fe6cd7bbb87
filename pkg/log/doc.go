// Package log provides protocol event capture for labrig servers and proxies.
//
// It is separate from operational logging (slog): protocol capture records
// a machine-readable trace of frames, decoded requests and responses,
// session lifecycle and device trigger transitions.
//
// # Basic Usage
//
//	// Console, via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Capture file
//	fl, _ := log.NewFileLogger("/var/log/labrig/server.lrlog")
//	cfg.ProtocolLogger = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// # Event Types
//
//   - Transport: raw frame sizes (FrameEvent)
//   - Wire: decoded requests and responses (MessageEvent)
//   - Service: session and trigger state changes (StateChangeEvent)
//
// Control messages (ping/pong/close) and errors have dedicated event types.
//
// # File Format
//
// Capture files are a concatenated stream of CBOR-encoded events; read them
// back with OpenReader, which can filter by session, device and layer.
package log
