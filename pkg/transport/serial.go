package transport

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// SerialDialer opens a UART connection to a directly-wired controller.
// It mirrors TCPDialer's shape so Connection can treat both uniformly.
type SerialDialer struct {
	Device   string
	BaudRate int
}

// NewSerialDialer returns a Dialer for a serial device at the given
// baud rate, 8 data bits, no parity, one stop bit.
func NewSerialDialer(device string, baudRate int) *SerialDialer {
	return &SerialDialer{Device: device, BaudRate: baudRate}
}

func (d *SerialDialer) Dial() (Transport, error) {
	mode := &serial.Mode{
		BaudRate: d.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(d.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("transport: open serial port %s: %w", d.Device, err)
	}
	return &serialTransport{port: port}, nil
}

// serialTransport adapts go.bug.st/serial's relative-timeout API to the
// absolute-deadline shape the rest of the package uses.
type serialTransport struct {
	port serial.Port
}

func (s *serialTransport) Read(p []byte) (int, error)  { return s.port.Read(p) }
func (s *serialTransport) Write(p []byte) (int, error) { return s.port.Write(p) }
func (s *serialTransport) Close() error                { return s.port.Close() }

func (s *serialTransport) SetReadDeadline(t time.Time) error {
	if t.IsZero() {
		return s.port.SetReadTimeout(serial.NoTimeout)
	}
	d := time.Until(t)
	if d < 0 {
		d = 0
	}
	return s.port.SetReadTimeout(d)
}
