// Package transport abstracts the persistent byte-stream a Connection
// speaks over. TCP is the primary transport; a serial implementation is
// provided for installations that wire the controller directly over
// UART/RS-485 rather than through a TCP bridge.
package transport

import (
	"io"
	"time"
)

// Transport is a duplex byte stream produced by a Dialer. It is
// deliberately narrower than net.Conn: the connection package only
// ever needs to read, write, close, and set a read deadline.
type Transport interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
}

// Dialer produces a freshly connected Transport. Connection calls Dial
// exactly once per connect attempt.
type Dialer interface {
	Dial() (Transport, error)
}
