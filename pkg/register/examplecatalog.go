package register

// This file provides a worked example catalog, not a real device's
// register map. The actual catalog — which ids exist on a given
// inverter/battery controller, their labels, and their validation
// rules — is external configuration owned by the caller; the core
// never hard-codes it. cmd/registerctl and the connection and pool
// tests use this table as a stand-in.

const (
	// IDBatteryStatus is a status byte: zero means normal operation,
	// non-zero means the device is not ready to accept writes.
	IDBatteryStatus uint32 = 0x40000001
	// IDSolarPowerW reports instantaneous solar input power in watts.
	IDSolarPowerW uint32 = 0x400F015B
	// IDGridPowerW reports instantaneous grid power in watts, signed by
	// convention (export negative, import positive), carried on the
	// wire as a big-endian float32.
	IDGridPowerW uint32 = 0x4A7F6D8E
	// IDBatterySOC reports state of charge as a percentage, 0-100.
	IDBatterySOC uint32 = 0x959B8D92
	// IDOperatingMode is a writable enum selecting the inverter's
	// operating mode.
	IDOperatingMode uint32 = 0x3A19EA45
	// IDSerialNumber is a read-only ASCII identifier.
	IDSerialNumber uint32 = 0x6500DE24
)

// OperatingMode enumerates the legal values of IDOperatingMode.
const (
	OperatingModeAuto     uint8 = 0
	OperatingModeManual   uint8 = 1
	OperatingModeStandby  uint8 = 2
	OperatingModeExternal uint8 = 3
)

func operatingModeLabel(raw uint8) string {
	switch raw {
	case OperatingModeAuto:
		return "auto"
	case OperatingModeManual:
		return "manual"
	case OperatingModeStandby:
		return "standby"
	case OperatingModeExternal:
		return "external"
	default:
		return "unknown"
	}
}

// ExampleCatalog returns a small, realistic catalog suitable for demos
// and tests. Production callers build their own Catalog from the
// device's actual register documentation.
func ExampleCatalog() Catalog {
	return Catalog{
		IDBatteryStatus: {
			ID:       IDBatteryStatus,
			WireType: Uint8,
			Writable: false,
			Label:    "Battery status (0 = normal operation)",
		},
		IDSolarPowerW: {
			ID:       IDSolarPowerW,
			WireType: Float32BE,
			Writable: false,
			Label:    "Solar input power (W)",
		},
		IDGridPowerW: {
			ID:       IDGridPowerW,
			WireType: Float32BE,
			Writable: false,
			Label:    "Grid power (W)",
		},
		IDBatterySOC: {
			ID:       IDBatterySOC,
			WireType: Float32BE,
			Writable: false,
			Label:    "Battery state of charge (%)",
			Validate: func(v any) bool {
				f, ok := v.(float32)
				return !ok || (f >= 0 && f <= 100)
			},
		},
		IDOperatingMode: {
			ID:       IDOperatingMode,
			WireType: EnumU8,
			Writable: true,
			Label:    "Operating mode",
			DecodeEnum: operatingModeLabel,
			Validate: func(v any) bool {
				u, ok := toUint8(v)
				if !ok {
					return false
				}
				switch u {
				case OperatingModeAuto, OperatingModeManual, OperatingModeStandby, OperatingModeExternal:
					return true
				default:
					return false
				}
			},
		},
		IDSerialNumber: {
			ID:       IDSerialNumber,
			WireType: StringASCII,
			Writable: false,
			Label:    "Serial number",
		},
	}
}
