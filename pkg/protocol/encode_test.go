package protocol

import (
	"bytes"
	"testing"
)

func hexBytes(s string) []byte {
	b, err := decodeHex(s)
	if err != nil {
		panic(err)
	}
	return b
}

// decodeHex parses a space-separated hex string like "2B 01 04" without
// pulling in encoding/hex's stricter two-char grouping requirements.
func decodeHex(s string) ([]byte, error) {
	out := make([]byte, 0, len(s)/2)
	var hi byte
	have := false
	for _, r := range s {
		if r == ' ' {
			continue
		}
		var v byte
		switch {
		case r >= '0' && r <= '9':
			v = byte(r - '0')
		case r >= 'A' && r <= 'F':
			v = byte(r-'A') + 10
		case r >= 'a' && r <= 'f':
			v = byte(r-'a') + 10
		}
		if !have {
			hi = v
			have = true
		} else {
			out = append(out, hi<<4|v)
			have = false
		}
	}
	return out, nil
}

func TestEncodeReadNoData(t *testing.T) {
	dg := Datagram{Cmd: CmdRead, ID: 0x400F015B}
	got, err := Encode(dg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := hexBytes("2B 01 04 40 0F 01 5B 58 B4")
	if !bytes.Equal(got, want) {
		t.Fatalf("Encode() = % X, want % X", got, want)
	}
}

func TestEncodeEscapesIDByte(t *testing.T) {
	dg := Datagram{Cmd: CmdRead, ID: 0xDB2D69AE}
	got, err := Encode(dg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := hexBytes("2B 01 04 DB 2D 2D 69 AE 55 AB")
	if !bytes.Equal(got, want) {
		t.Fatalf("Encode() = % X, want % X", got, want)
	}
}

func TestEncodeRejectsOversizedData(t *testing.T) {
	dg := Datagram{Cmd: CmdWrite, ID: 1, Data: make([]byte, MaxDataLength+1)}
	if _, err := Encode(dg); err == nil {
		t.Fatal("expected error for oversized data")
	}
}

func TestEncodeRejectsInvalidCommand(t *testing.T) {
	dg := Datagram{Cmd: Command(0x99), ID: 1}
	if _, err := Encode(dg); err == nil {
		t.Fatal("expected error for invalid command")
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	dg := Datagram{Cmd: CmdWrite, ID: 0x2B2D2B2D, Data: []byte{0x2B, 0x2D, 0x00, 0xFF}}
	a, err := Encode(dg)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Encode(dg)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("Encode not deterministic: %X vs %X", a, b)
	}
}
