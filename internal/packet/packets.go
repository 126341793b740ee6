package packet

import (
	"encoding/binary"
	"fmt"
)

// EraseSize is the block size argument to FlashEraseBlockCmnd.
type EraseSize byte

const (
	EraseSector4K EraseSize = 0x20
	EraseBlock64K EraseSize = 0xD8
)

// CMD_FlashRead (0x08, long) and CMD_FlashEraseAll (0x0A, long) appear in
// chip.Full's command table but no capture of their wire payload exists;
// they are recognized codes with no Cmnd/Resp implementation here.
const (
	CodeFlashRead     = 0x08
	CodeFlashEraseAll = 0x0A
)

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func le16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

// --- CMD_LinkCheck (0x00) ---

type LinkCheckCmnd struct{}

func (LinkCheckCmnd) Code() byte                     { return 0x00 }
func (LinkCheckCmnd) Long() bool                     { return false }
func (LinkCheckCmnd) Marshal() []byte                { return nil }
func (LinkCheckCmnd) RespSame() (int, int, bool)     { return 0, 0, false }
func (LinkCheckCmnd) NewResp() Resp                  { return &LinkCheckResp{} }

// LinkCheckResp uses code 0x01 (CMD_LinkCheck + 1), the one command whose
// response code differs from its request code.
type LinkCheckResp struct {
	Value byte
}

func (*LinkCheckResp) Code() byte { return 0x01 }
func (r *LinkCheckResp) Unmarshal(data []byte) error {
	if len(data) < 1 {
		return errShort("LinkCheckResp", 1, len(data))
	}
	r.Value = data[0]
	return nil
}

// --- CMD_WriteReg (0x01) ---

type WriteRegCmnd struct {
	Address, Value uint32
}

func (WriteRegCmnd) Code() byte { return 0x01 }
func (WriteRegCmnd) Long() bool { return false }
func (c WriteRegCmnd) Marshal() []byte {
	return append(le32(c.Address), le32(c.Value)...)
}
func (WriteRegCmnd) RespSame() (int, int, bool) { return 0, 8, true }
func (WriteRegCmnd) NewResp() Resp              { return &WriteRegResp{} }

type WriteRegResp struct {
	Address, Value uint32
}

func (*WriteRegResp) Code() byte { return 0x01 }
func (r *WriteRegResp) Unmarshal(data []byte) error {
	if len(data) < 8 {
		return errShort("WriteRegResp", 8, len(data))
	}
	r.Address = binary.LittleEndian.Uint32(data[0:4])
	r.Value = binary.LittleEndian.Uint32(data[4:8])
	return nil
}

// --- CMD_ReadReg (0x03) ---

type ReadRegCmnd struct {
	Address uint32
}

func (ReadRegCmnd) Code() byte                     { return 0x03 }
func (ReadRegCmnd) Long() bool                     { return false }
func (c ReadRegCmnd) Marshal() []byte              { return le32(c.Address) }
func (ReadRegCmnd) RespSame() (int, int, bool)     { return 0, 4, true }
func (ReadRegCmnd) NewResp() Resp                  { return &ReadRegResp{} }

type ReadRegResp struct {
	Address, Value uint32
}

func (*ReadRegResp) Code() byte { return 0x03 }
func (r *ReadRegResp) Unmarshal(data []byte) error {
	if len(data) < 8 {
		return errShort("ReadRegResp", 8, len(data))
	}
	r.Address = binary.LittleEndian.Uint32(data[0:4])
	r.Value = binary.LittleEndian.Uint32(data[4:8])
	return nil
}

// --- CMD_Reboot (0x0E, short) ---

type RebootCmnd struct {
	Value byte
}

func (RebootCmnd) Code() byte                 { return 0x0E }
func (RebootCmnd) Long() bool                 { return false }
func (c RebootCmnd) Marshal() []byte          { return []byte{c.Value} }
func (RebootCmnd) RespSame() (int, int, bool) { return 0, 0, false }
func (RebootCmnd) NewResp() Resp              { return nil }

// --- CMD_SetBaudRate (0x0F, short) ---

type SetBaudRateCmnd struct {
	BaudRate uint32
	DelayMs  byte
}

func (SetBaudRateCmnd) Code() byte { return 0x0F }
func (SetBaudRateCmnd) Long() bool { return false }
func (c SetBaudRateCmnd) Marshal() []byte {
	return append(le32(c.BaudRate), c.DelayMs)
}
func (SetBaudRateCmnd) RespSame() (int, int, bool) { return 0, 5, true }
func (SetBaudRateCmnd) NewResp() Resp              { return nil }

// --- CMD_CheckCRC (0x10, short) ---

type CheckCrcCmnd struct {
	Start, End uint32
}

func (CheckCrcCmnd) Code() byte { return 0x10 }
func (CheckCrcCmnd) Long() bool { return false }
func (c CheckCrcCmnd) Marshal() []byte {
	return append(le32(c.Start), le32(c.End)...)
}
func (CheckCrcCmnd) RespSame() (int, int, bool) { return 0, 0, false }
func (CheckCrcCmnd) NewResp() Resp              { return &CheckCrcResp{} }

type CheckCrcResp struct {
	CRC32 uint32
}

func (*CheckCrcResp) Code() byte { return 0x10 }
func (r *CheckCrcResp) Unmarshal(data []byte) error {
	if len(data) < 4 {
		return errShort("CheckCrcResp", 4, len(data))
	}
	r.CRC32 = binary.LittleEndian.Uint32(data[0:4])
	return nil
}

// --- CMD_ReadBootVersion (0x11, short) ---

type BootVersionCmnd struct{}

func (BootVersionCmnd) Code() byte                 { return 0x11 }
func (BootVersionCmnd) Long() bool                 { return false }
func (BootVersionCmnd) Marshal() []byte            { return nil }
func (BootVersionCmnd) RespSame() (int, int, bool) { return 0, 0, false }
func (BootVersionCmnd) NewResp() Resp              { return &BootVersionResp{} }

// BootVersionResp has no fixed-length fields: its entire payload is the
// boot version string.
type BootVersionResp struct {
	Version []byte
}

func (*BootVersionResp) Code() byte { return 0x11 }
func (r *BootVersionResp) Unmarshal(data []byte) error {
	r.Version = append([]byte(nil), data...)
	return nil
}

// --- CMD_FlashWrite (0x06, long) ---

type FlashWriteCmnd struct {
	Start uint32
	Data  []byte
}

func (FlashWriteCmnd) Code() byte { return 0x06 }
func (FlashWriteCmnd) Long() bool { return true }
func (c FlashWriteCmnd) Marshal() []byte {
	return append(le32(c.Start), c.Data...)
}
func (FlashWriteCmnd) RespSame() (int, int, bool) { return 1, 5, true }
func (FlashWriteCmnd) NewResp() Resp              { return &FlashWriteResp{} }

type FlashWriteResp struct {
	Status  byte
	Start   uint32
	Written byte
}

func (*FlashWriteResp) Code() byte { return 0x06 }
func (r *FlashWriteResp) Unmarshal(data []byte) error {
	if len(data) < 6 {
		return errShort("FlashWriteResp", 6, len(data))
	}
	r.Status = data[0]
	r.Start = binary.LittleEndian.Uint32(data[1:5])
	r.Written = data[5]
	return nil
}

// --- CMD_FlashWrite4K (0x07, long) ---

type FlashWrite4KCmnd struct {
	Start uint32
	Data  []byte
}

func (FlashWrite4KCmnd) Code() byte { return 0x07 }
func (FlashWrite4KCmnd) Long() bool { return true }
func (c FlashWrite4KCmnd) Marshal() []byte {
	return append(le32(c.Start), c.Data...)
}
func (FlashWrite4KCmnd) RespSame() (int, int, bool) { return 1, 5, true }
func (FlashWrite4KCmnd) NewResp() Resp              { return &FlashWrite4KResp{} }

type FlashWrite4KResp struct {
	Status byte
	Start  uint32
}

func (*FlashWrite4KResp) Code() byte { return 0x07 }
func (r *FlashWrite4KResp) Unmarshal(data []byte) error {
	if len(data) < 5 {
		return errShort("FlashWrite4KResp", 5, len(data))
	}
	r.Status = data[0]
	r.Start = binary.LittleEndian.Uint32(data[1:5])
	return nil
}

// --- CMD_FlashRead4K (0x09, long) ---

type FlashRead4KCmnd struct {
	Start uint32
}

func (FlashRead4KCmnd) Code() byte                     { return 0x09 }
func (FlashRead4KCmnd) Long() bool                     { return true }
func (c FlashRead4KCmnd) Marshal() []byte              { return le32(c.Start) }
func (FlashRead4KCmnd) RespSame() (int, int, bool)     { return 1, 5, true }
func (FlashRead4KCmnd) NewResp() Resp                  { return &FlashRead4KResp{} }

type FlashRead4KResp struct {
	Status byte
	Start  uint32
	Data   []byte
}

func (*FlashRead4KResp) Code() byte { return 0x09 }
func (r *FlashRead4KResp) Unmarshal(data []byte) error {
	if len(data) < 5 {
		return errShort("FlashRead4KResp", 5, len(data))
	}
	r.Status = data[0]
	r.Start = binary.LittleEndian.Uint32(data[1:5])
	r.Data = append([]byte(nil), data[5:]...)
	return nil
}

// --- CMD_FlashReadSR, 8-bit (0x0C, long) ---

type FlashReg8ReadCmnd struct {
	Cmd byte
}

func (FlashReg8ReadCmnd) Code() byte                 { return 0x0C }
func (FlashReg8ReadCmnd) Long() bool                 { return true }
func (c FlashReg8ReadCmnd) Marshal() []byte          { return []byte{c.Cmd} }
func (FlashReg8ReadCmnd) RespSame() (int, int, bool) { return 1, 2, true }
func (FlashReg8ReadCmnd) NewResp() Resp              { return &FlashReg8ReadResp{} }

type FlashReg8ReadResp struct {
	Status, Cmd, Data0 byte
}

func (*FlashReg8ReadResp) Code() byte { return 0x0C }
func (r *FlashReg8ReadResp) Unmarshal(data []byte) error {
	if len(data) < 3 {
		return errShort("FlashReg8ReadResp", 3, len(data))
	}
	r.Status, r.Cmd, r.Data0 = data[0], data[1], data[2]
	return nil
}

// --- CMD_FlashWriteSR, 8-bit (0x0D, long) ---

type FlashReg8WriteCmnd struct {
	Cmd, Data byte
}

func (FlashReg8WriteCmnd) Code() byte                 { return 0x0D }
func (FlashReg8WriteCmnd) Long() bool                 { return true }
func (c FlashReg8WriteCmnd) Marshal() []byte          { return []byte{c.Cmd, c.Data} }
func (FlashReg8WriteCmnd) RespSame() (int, int, bool) { return 1, 3, true }
func (FlashReg8WriteCmnd) NewResp() Resp              { return &FlashReg8WriteResp{} }

type FlashReg8WriteResp struct {
	Status, Cmd, Data byte
}

func (*FlashReg8WriteResp) Code() byte { return 0x0D }
func (r *FlashReg8WriteResp) Unmarshal(data []byte) error {
	if len(data) < 3 {
		return errShort("FlashReg8WriteResp", 3, len(data))
	}
	r.Status, r.Cmd, r.Data = data[0], data[1], data[2]
	return nil
}

// --- CMD_FlashWriteSR, 16-bit (0x0D, long) ---

type FlashReg16WriteCmnd struct {
	Cmd  byte
	Data uint16
}

func (FlashReg16WriteCmnd) Code() byte { return 0x0D }
func (FlashReg16WriteCmnd) Long() bool { return true }
func (c FlashReg16WriteCmnd) Marshal() []byte {
	return append([]byte{c.Cmd}, le16(c.Data)...)
}
func (FlashReg16WriteCmnd) RespSame() (int, int, bool) { return 1, 4, true }
func (FlashReg16WriteCmnd) NewResp() Resp              { return &FlashReg16WriteResp{} }

type FlashReg16WriteResp struct {
	Status byte
	Cmd    byte
	Data   uint16
}

func (*FlashReg16WriteResp) Code() byte { return 0x0D }
func (r *FlashReg16WriteResp) Unmarshal(data []byte) error {
	if len(data) < 4 {
		return errShort("FlashReg16WriteResp", 4, len(data))
	}
	r.Status = data[0]
	r.Cmd = data[1]
	r.Data = binary.LittleEndian.Uint16(data[2:4])
	return nil
}

// --- CMD_FlashGetMID (0x0E, long) ---

type FlashReg24ReadCmnd struct {
	Cmd uint32
}

func (FlashReg24ReadCmnd) Code() byte                     { return 0x0E }
func (FlashReg24ReadCmnd) Long() bool                     { return true }
func (c FlashReg24ReadCmnd) Marshal() []byte              { return le32(c.Cmd) }
func (FlashReg24ReadCmnd) RespSame() (int, int, bool)     { return 0, 0, false }
func (FlashReg24ReadCmnd) NewResp() Resp                  { return &FlashReg24ReadResp{} }

// FlashReg24ReadResp's wire format is "<BxBBB": status, one pad byte, then
// the three JEDEC ID bytes.
type FlashReg24ReadResp struct {
	Status             byte
	Data0, Data1, Data2 byte
}

func (*FlashReg24ReadResp) Code() byte { return 0x0E }
func (r *FlashReg24ReadResp) Unmarshal(data []byte) error {
	if len(data) < 5 {
		return errShort("FlashReg24ReadResp", 5, len(data))
	}
	r.Status = data[0]
	// data[1] is the padding byte.
	r.Data0, r.Data1, r.Data2 = data[2], data[3], data[4]
	return nil
}

// --- CMD_FlashErase (0x0F, long) ---

type FlashEraseBlockCmnd struct {
	Size  EraseSize
	Start uint32
}

func (FlashEraseBlockCmnd) Code() byte { return 0x0F }
func (FlashEraseBlockCmnd) Long() bool { return true }
func (c FlashEraseBlockCmnd) Marshal() []byte {
	return append([]byte{byte(c.Size)}, le32(c.Start)...)
}
func (FlashEraseBlockCmnd) RespSame() (int, int, bool) { return 1, 6, true }
func (FlashEraseBlockCmnd) NewResp() Resp              { return nil }

func errShort(what string, want, got int) error {
	return fmt.Errorf("%s: expected at least %d bytes, got %d", what, want, got)
}
