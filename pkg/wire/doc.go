// Package wire defines the CBOR wire format between a labrig server and
// its proxies.
//
// Messages use CBOR (RFC 8949) with integer keys and travel in
// length-prefixed frames (see package transport).
//
// # Message Types
//
//   - Request: proxy to server, naming a device and an operation
//   - Response: server to proxy, paired to its request by message ID
//   - Control: ping, pong and close, carried with message ID 0
//
// # Payloads
//
// Request and response payloads are kept as raw CBOR until the receiver
// knows which operation they belong to; DecodePayload then decodes them
// into the operation's payload type. Setting values travel as plain CBOR
// scalars and are coerced to the declared setting type on arrival, since
// CBOR integers decode as uint64 or int64.
package wire
