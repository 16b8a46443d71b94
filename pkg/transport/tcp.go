package transport

import (
	"fmt"
	"net"
	"time"
)

// TCPDialer dials a TCP connection to a fixed host:port, bounded by a
// connect timeout.
type TCPDialer struct {
	Host          string
	Port          int
	ConnectTimeout time.Duration
}

// NewTCPDialer returns a Dialer for host:port with the given connect
// timeout.
func NewTCPDialer(host string, port int, connectTimeout time.Duration) *TCPDialer {
	return &TCPDialer{Host: host, Port: port, ConnectTimeout: connectTimeout}
}

func (d *TCPDialer) Dial() (Transport, error) {
	addr := fmt.Sprintf("%s:%d", d.Host, d.Port)
	conn, err := net.DialTimeout("tcp", addr, d.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(30 * time.Second)
	}
	return conn, nil
}
