// Package device composes the settings registry, the trigger state machine
// and the acquisition buffer into one device.
//
// A Core owns exactly one Adapter. Every operation that touches the
// adapter or changes state runs on the Core's worker goroutine, one at a
// time, in submission order:
//
//	callers ──▶ request queue ──┐
//	abort   ──▶ priority queue ─┼─▶ worker ──▶ Adapter
//	adapter ──▶ frame/fault ────┘      │
//	                                   ▼
//	                          acquisition.Buffer ──▶ FetchFrame
//
// Read-only queries (DescribeCapabilities, GetSetting, ListSettings, State,
// BufferStats) do not enter the queue. FetchFrame waits on the buffer and
// never blocks the worker.
//
// Abort overtakes queued requests. Once it has run, requests that were
// submitted before it and are still waiting fail with model.ErrAborted.
//
// Adapter errors that carry a model.ErrorKind other than CommunicationError
// are rejections and leave the device usable. Any other adapter error, and
// every Sink.OnFault, moves the device to Faulted; only Reset leaves it.
package device
