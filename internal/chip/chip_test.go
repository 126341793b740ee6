package chip

import "testing"

func TestTypeString(t *testing.T) {
	cases := []struct {
		typ  Type
		want string
	}{
		{BK7231Q, "BK7231Q"},
		{BK7231T, "BK7231T"},
		{BK7231N, "BK7231N"},
		{BK7238, "BK7238"},
		{BK7252, "BK7252"},
		{Type(0xDEAD), "unknown"},
	}
	for _, c := range cases {
		if got := c.typ.String(); got != c.want {
			t.Errorf("Type(0x%X).String() = %q, want %q", uint32(c.typ), got, c.want)
		}
	}
}

func TestProtocolTypeString(t *testing.T) {
	cases := []struct {
		p    ProtocolType
		want string
	}{
		{Full, "FULL"},
		{BasicBeken, "BASIC_BEKEN"},
		{BasicTuya, "BASIC_TUYA"},
		{ProtocolType(99), "unknown"},
	}
	for _, c := range cases {
		if got := c.p.String(); got != c.want {
			t.Errorf("ProtocolType(%d).String() = %q, want %q", int(c.p), got, c.want)
		}
	}
}

func TestProtocolTypeSupports(t *testing.T) {
	if !Full.Supports(0x03, Short) {
		t.Error("Full should support CMD_ReadReg (0x03, Short)")
	}
	if BasicBeken.Supports(0x03, Short) {
		t.Error("BasicBeken should not support CMD_ReadReg (register access is Full-only)")
	}
	if !BasicTuya.Supports(0x11, Short) {
		t.Error("BasicTuya should support CMD_ReadBootVersion (0x11, Short)")
	}
	if BasicBeken.Supports(0x11, Short) {
		t.Error("BasicBeken should not support CMD_ReadBootVersion")
	}
	if !Full.Supports(0x06, Far) {
		t.Error("Full should support CMD_FlashWrite (0x06, Far)")
	}
	if Full.Supports(0x06, Short) {
		t.Error("CMD_FlashWrite is a Far-framed command, not Short")
	}
}

func TestBootloaderByCRC(t *testing.T) {
	b, ok := BootloaderByCRC(0xE14191BA)
	if !ok {
		t.Fatal("expected to find BK7231N_1_0_1 by CRC")
	}
	if b.Name != "BK7231N_1_0_1" || b.Chip != BK7231N || b.Protocol != Full {
		t.Errorf("BootloaderByCRC(0xE14191BA) = %+v, want BK7231N_1_0_1/BK7231N/Full", b)
	}

	if _, ok := BootloaderByCRC(0); ok {
		t.Error("BootloaderByCRC(0) should not match any known bootloader")
	}
}

func TestBootloadersTableCRCsUnique(t *testing.T) {
	seen := map[uint32]string{}
	for _, b := range Bootloaders {
		if prev, ok := seen[b.CRC]; ok {
			t.Errorf("duplicate bootloader CRC 0x%08X shared by %s and %s", b.CRC, prev, b.Name)
		}
		seen[b.CRC] = b.Name
	}
}
