package protocol

import "github.com/librescoot/inverter-link/pkg/crc"

// Encode builds the on-wire byte sequence for a datagram:
//
//	0x2B | ESC(cmd) | ESC(len) | ESC(id[31:24])..ESC(id[7:0]) | ESC(data...) | CRC_HI | CRC_LO
//
// The leading start byte is never escaped and never enters the CRC.
// Escaping doubles any occurrence of 0x2B or 0x2D in the logical body
// with a preceding 0x2D; the CRC is computed over the unescaped
// (logical) bytes, padded to an even length per the crc package.
func Encode(d Datagram) ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	length := byte(4 + len(d.Data))

	logical := make([]byte, 0, HeaderLength+len(d.Data))
	logical = append(logical, byte(d.Cmd), length)
	logical = append(logical,
		byte(d.ID>>24), byte(d.ID>>16), byte(d.ID>>8), byte(d.ID))
	logical = append(logical, d.Data...)

	sum := crc.Checksum(logical)

	out := make([]byte, 0, 1+2*len(logical)+2)
	out = append(out, StartByte)
	for _, b := range logical {
		out = appendEscaped(out, b)
	}
	out = append(out, byte(sum>>8), byte(sum))
	return out, nil
}

// appendEscaped appends b to buf, preceded by an escape byte if b
// collides with the start or escape markers.
func appendEscaped(buf []byte, b byte) []byte {
	if b == StartByte || b == EscapeByte {
		buf = append(buf, EscapeByte)
	}
	return append(buf, b)
}
