// Package discovery advertises device servers over mDNS/DNS-SD and finds
// them again from the client side.
//
// A server registers one instance of _labrig._tcp in the local domain.
// The instance name is the server ID. TXT records:
//
//	id=<server id>
//	devices=<comma separated device handles>
//	tls=0|1
//	ver=<protocol version>
//
// The device list is informational and may be truncated to fit one TXT
// string; clients learn the full list from the Hello exchange.
package discovery
