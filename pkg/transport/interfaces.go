package transport

import (
	"net"
)

// Conn is the part of a connection a server session uses.
type Conn interface {
	RemoteAddr() net.Addr
	Send(data []byte) error
	Done() <-chan struct{}
	Close() error
}

var (
	_ Conn = (*ServerConn)(nil)
	_ Conn = (*ClientConn)(nil)
)
