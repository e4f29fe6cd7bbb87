// Package transport carries labrig messages between a server and its
// proxies.
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│      CBOR Messages             │
//	├────────────────────────────────┤
//	│   Length-Prefix Framing (4B)   │
//	├────────────────────────────────┤
//	│   TLS 1.3 (optional)           │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// Lab networks are usually isolated, so TLS is opt-in: a nil TLSConfig
// selects plain TCP on both sides.
//
// # Keep-Alive
//
// Proxies ping the server; the server answers every ping with a pong
// carrying the same sequence number. A proxy that misses MaxMissedPongs
// pongs in a row considers the connection lost.
package transport
