// Package register defines the core's view of a register catalog: the
// wire-type tags, the descriptor shape, and the encode/decode logic
// selected by tag. The catalog's actual contents — which ids exist,
// their labels, and their validation predicates — are supplied by the
// caller as configuration; this package never hard-codes a specific
// device's registers.
package register

import (
	"encoding/binary"
	"fmt"
	"math"
)

// WireType identifies how a register's value is represented in a
// datagram payload.
type WireType int

const (
	Float32BE WireType = iota
	Uint8
	Uint16BE
	Uint32BE
	EnumU8
	StringASCII
)

func (w WireType) String() string {
	switch w {
	case Float32BE:
		return "float32_be"
	case Uint8:
		return "uint8"
	case Uint16BE:
		return "uint16_be"
	case Uint32BE:
		return "uint32_be"
	case EnumU8:
		return "enum_u8"
	case StringASCII:
		return "string_ascii"
	default:
		return "unknown"
	}
}

// ErrUnsupportedWireType is terminal: the catalog named a wire type the
// core does not know how to encode or decode.
type ErrUnsupportedWireType struct {
	WireType WireType
}

func (e *ErrUnsupportedWireType) Error() string {
	return fmt.Sprintf("register: unsupported wire type %s", e.WireType)
}

// ValidationError is terminal: a value was rejected by a descriptor's
// validation predicate before being written.
type ValidationError struct {
	ID    uint32
	Value any
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("register: value %v rejected by validation predicate for id %#08x", e.Value, e.ID)
}

// EnumDecoder maps a raw enum_u8 byte to a human label. Descriptors
// with EnumU8 wire type may supply one; it is purely informational and
// never affects encode/decode correctness.
type EnumDecoder func(raw uint8) string

// Descriptor is one entry of an externally supplied register catalog.
type Descriptor struct {
	ID       uint32
	WireType WireType
	Writable bool
	Label    string

	// Validate rejects a decoded or to-be-encoded value before a write
	// is attempted. A nil Validate accepts everything.
	Validate func(value any) bool

	// DecodeEnum renders an EnumU8 raw byte as a label. Ignored for
	// other wire types.
	DecodeEnum EnumDecoder
}

// Catalog is a read-only lookup table of descriptors keyed by id.
type Catalog map[uint32]Descriptor

// Lookup returns the descriptor for id and whether it was found.
func (c Catalog) Lookup(id uint32) (Descriptor, bool) {
	d, ok := c[id]
	return d, ok
}

// DecodeValue interprets raw payload bytes according to d's wire type.
// The returned value's concrete type depends on WireType:
// float32_be -> float32, uint8/enum_u8 -> uint8, uint16_be -> uint16,
// uint32_be -> uint32, string_ascii -> string.
func (d Descriptor) DecodeValue(raw []byte) (any, error) {
	switch d.WireType {
	case Float32BE:
		if len(raw) < 4 {
			return nil, fmt.Errorf("register: float32_be needs 4 bytes, got %d", len(raw))
		}
		bits := binary.BigEndian.Uint32(raw)
		return math.Float32frombits(bits), nil
	case Uint8, EnumU8:
		if len(raw) < 1 {
			return nil, fmt.Errorf("register: %s needs 1 byte, got %d", d.WireType, len(raw))
		}
		return raw[0], nil
	case Uint16BE:
		if len(raw) < 2 {
			return nil, fmt.Errorf("register: uint16_be needs 2 bytes, got %d", len(raw))
		}
		return binary.BigEndian.Uint16(raw), nil
	case Uint32BE:
		if len(raw) < 4 {
			return nil, fmt.Errorf("register: uint32_be needs 4 bytes, got %d", len(raw))
		}
		return binary.BigEndian.Uint32(raw), nil
	case StringASCII:
		end := len(raw)
		for i, b := range raw {
			if b == 0 {
				end = i
				break
			}
		}
		return string(raw[:end]), nil
	default:
		return nil, &ErrUnsupportedWireType{WireType: d.WireType}
	}
}

// EncodeValue renders value as payload bytes according to d's wire
// type, applying d.Validate first when set.
func (d Descriptor) EncodeValue(value any) ([]byte, error) {
	if d.Validate != nil && !d.Validate(value) {
		return nil, &ValidationError{ID: d.ID, Value: value}
	}

	switch d.WireType {
	case Float32BE:
		f, ok := toFloat32(value)
		if !ok {
			return nil, fmt.Errorf("register: value %v is not a float32_be value", value)
		}
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, math.Float32bits(f))
		return buf, nil
	case Uint8, EnumU8:
		u, ok := toUint8(value)
		if !ok {
			return nil, fmt.Errorf("register: value %v is not a %s value", value, d.WireType)
		}
		return []byte{u}, nil
	case Uint16BE:
		u, ok := toUint16(value)
		if !ok {
			return nil, fmt.Errorf("register: value %v is not a uint16_be value", value)
		}
		buf := make([]byte, 2)
		binary.BigEndian.PutUint16(buf, u)
		return buf, nil
	case Uint32BE:
		u, ok := toUint32(value)
		if !ok {
			return nil, fmt.Errorf("register: value %v is not a uint32_be value", value)
		}
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, u)
		return buf, nil
	case StringASCII:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("register: value %v is not a string_ascii value", value)
		}
		return []byte(s), nil
	default:
		return nil, &ErrUnsupportedWireType{WireType: d.WireType}
	}
}

func toFloat32(v any) (float32, bool) {
	switch n := v.(type) {
	case float32:
		return n, true
	case float64:
		return float32(n), true
	default:
		return 0, false
	}
}

func toUint8(v any) (uint8, bool) {
	switch n := v.(type) {
	case uint8:
		return n, true
	case int:
		return uint8(n), true
	default:
		return 0, false
	}
}

func toUint16(v any) (uint16, bool) {
	switch n := v.(type) {
	case uint16:
		return n, true
	case int:
		return uint16(n), true
	default:
		return 0, false
	}
}

func toUint32(v any) (uint32, bool) {
	switch n := v.(type) {
	case uint32:
		return n, true
	case int:
		return uint32(n), true
	case int64:
		return uint32(n), true
	default:
		return 0, false
	}
}
