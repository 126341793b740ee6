// Package chip holds the closed, static data tables that describe the
// BK72xx family: chip identifiers, the three known bootloader command
// surfaces, and the fingerprinted bootloader builds that map a CRC-32 to a
// concrete chip + protocol combination.
package chip

// Type identifies a specific silicon variant.
type Type uint32

const (
	BK7231Q Type = 0x7231
	BK7231U Type = 0x0001 // not checked
	BK7231T Type = 0x7231A
	BK7231N Type = 0x7231C
	BK7238  Type = 0x7238
	BK7252  Type = 0x7252
)

func (t Type) String() string {
	switch t {
	case BK7231Q:
		return "BK7231Q"
	case BK7231U:
		return "BK7231U"
	case BK7231T:
		return "BK7231T"
	case BK7231N:
		return "BK7231N"
	case BK7238:
		return "BK7238"
	case BK7252:
		return "BK7252"
	default:
		return "unknown"
	}
}

// Long marks a command as using the long framing variant (PACKET_CMND_LONG /
// PACKET_RESP_LONG), as opposed to the short single-byte-length framing.
type Long bool

const (
	Short Long = false
	Far   Long = true
)

// Code identifies a single command within a ProtocolType's closed set.
type Code struct {
	Cmd  byte
	Long Long
}

// ProtocolType is the closed set of (command code, framing) pairs a given
// bootloader build accepts. The three variants below are exhaustive: every
// known bootloader implements exactly one of them.
type ProtocolType int

const (
	// Full is the BK7231N boot ROM protocol: the richest surface, including
	// register read/write and the unbounded (non-4K-aligned) flash read.
	Full ProtocolType = iota
	// BasicBeken is the reduced surface shared by the BK7231Q/U/7252
	// bootloader builds.
	BasicBeken
	// BasicTuya additionally exposes CMD_ReadBootVersion.
	BasicTuya
)

func (p ProtocolType) String() string {
	switch p {
	case Full:
		return "FULL"
	case BasicBeken:
		return "BASIC_BEKEN"
	case BasicTuya:
		return "BASIC_TUYA"
	default:
		return "unknown"
	}
}

var protocolCodes = map[ProtocolType][]Code{
	Full: {
		{0x00, Short}, // CMD_LinkCheck
		{0x01, Short}, // CMD_WriteReg
		{0x03, Short}, // CMD_ReadReg
		{0x0E, Short}, // CMD_Reboot
		{0x0F, Short}, // CMD_SetBaudRate
		{0x10, Short}, // CMD_CheckCRC
		{0x70, Short}, // CMD_RESET
		{0xAA, Short}, // CMD_StayRom
		{0x06, Far},   // CMD_FlashWrite
		{0x07, Far},   // CMD_FlashWrite4K
		{0x08, Far},   // CMD_FlashRead
		{0x09, Far},   // CMD_FlashRead4K
		{0x0A, Far},   // CMD_FlashEraseAll
		{0x0B, Far},   // CMD_FlashErase4K
		{0x0C, Far},   // CMD_FlashReadSR
		{0x0D, Far},   // CMD_FlashWriteSR
		{0x0E, Far},   // CMD_FlashGetMID
		{0x0F, Far},   // CMD_FlashErase
	},
	BasicBeken: {
		{0x00, Short}, // CMD_LinkCheck
		{0x0E, Short}, // CMD_Reboot
		{0x0F, Short}, // CMD_SetBaudRate
		{0x10, Short}, // CMD_CheckCRC
		{0x06, Far},   // CMD_FlashWrite
		{0x07, Far},   // CMD_FlashWrite4K
		{0x09, Far},   // CMD_FlashRead4K
		{0x0F, Far},   // CMD_FlashErase
	},
	BasicTuya: {
		{0x00, Short}, // CMD_LinkCheck
		{0x0E, Short}, // CMD_Reboot
		{0x0F, Short}, // CMD_SetBaudRate
		{0x10, Short}, // CMD_CheckCRC
		{0x11, Short}, // CMD_ReadBootVersion
		{0x06, Far},   // CMD_FlashWrite
		{0x07, Far},   // CMD_FlashWrite4K
		{0x09, Far},   // CMD_FlashRead4K
		{0x0F, Far},   // CMD_FlashErase
	},
}

// Supports reports whether the protocol exposes the given command code at
// the given framing length.
func (p ProtocolType) Supports(cmd byte, long Long) bool {
	for _, c := range protocolCodes[p] {
		if c.Cmd == cmd && c.Long == long {
			return true
		}
	}
	return false
}

// Bootloader describes one fingerprinted bootloader build: the CRC-32 over
// its first 256 (BK7231N: 257) bytes, the chip and protocol it implements,
// and quirks a session needs to work around.
type Bootloader struct {
	Name string
	// CRC is the CRC-32 of the bootloader's first 256 bytes (BK7231N: 257,
	// end-inclusive; every other chip: 256, end-exclusive).
	CRC      uint32
	Chip     Type
	Protocol ProtocolType
	Version  string
	// FlashSize is the known flash size in bytes, or 0 if unknown and must
	// be probed.
	FlashSize uint32
	// CRCFlashProtectLock is set for bootloaders that re-protect flash
	// after every CheckCRC command; it can only be lifted by FlashErase,
	// and only right after a fresh LinkCheck.
	CRCFlashProtectLock bool
}

// Bootloaders is the closed, ordered table of every known fingerprinted
// bootloader build, keyed implicitly by CRC via BootloaderByCRC.
var Bootloaders = []Bootloader{
	{
		Name: "BK7231N_1_0_1", CRC: 0xE14191BA,
		Chip: BK7231N, Protocol: Full, Version: "1.0.1",
	},
	{
		Name: "BK7231Q_1", CRC: 0xF0231EF6,
		Chip: BK7231Q, Protocol: BasicBeken, CRCFlashProtectLock: true,
	},
	{
		Name: "BK7231Q_2", CRC: 0xFF5A3EAC,
		Chip: BK7231Q, Protocol: BasicBeken, CRCFlashProtectLock: true,
	},
	{
		Name: "BK7231S_1_0_1", CRC: 0xC1ECA871,
		Chip: BK7231T, Protocol: BasicTuya, Version: "1.0.1",
		FlashSize: 0x200_000, CRCFlashProtectLock: true,
	},
	{
		Name: "BK7231S_1_0_3", CRC: 0x4B31E44D,
		Chip: BK7231T, Protocol: BasicTuya, Version: "1.0.3",
		FlashSize: 0x200_000, CRCFlashProtectLock: true,
	},
	{
		Name: "BK7231S_1_0_5", CRC: 0xBA54C1B8,
		Chip: BK7231T, Protocol: BasicTuya, Version: "1.0.5",
		FlashSize: 0x200_000, CRCFlashProtectLock: true,
	},
	{
		Name: "BK7231S_1_0_6", CRC: 0xE5CBC953,
		Chip: BK7231T, Protocol: BasicTuya, Version: "1.0.6",
		FlashSize: 0x200_000, CRCFlashProtectLock: true,
	},
	{
		Name: "BK7231U_1_0_6", CRC: 0x2739019F,
		Chip: BK7231U, Protocol: BasicBeken, Version: "1.0.6",
		FlashSize: 0x200_000, CRCFlashProtectLock: true,
	},
	{
		Name: "BK7252_0_1_3", CRC: 0x39F9B50C,
		Chip: BK7252, Protocol: BasicBeken, Version: "0.1.3", CRCFlashProtectLock: true,
	},
	{
		Name: "BK7252_SDK", CRC: 0xE3A27C26,
		Chip: BK7252, Protocol: BasicBeken, CRCFlashProtectLock: true,
	},
}

// BootloaderByCRC returns the fingerprinted bootloader matching crc, and
// false if the CRC is unrecognized.
func BootloaderByCRC(crc uint32) (Bootloader, bool) {
	for _, b := range Bootloaders {
		if b.CRC == crc {
			return b, true
		}
	}
	return Bootloader{}, false
}
