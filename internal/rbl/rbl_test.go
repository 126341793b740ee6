package rbl

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/tuya-cloudcutter/bk7231tools/internal/codec"
	"github.com/tuya-cloudcutter/bk7231tools/internal/layout"
)

// buildHeader packs a Header the same way the original Header.to_bytes
// does: a 96-byte little-endian record with a self-referential CRC-32 over
// the first 92 bytes.
func buildHeader(t *testing.T, algo Algorithm, name, version, serial string, crc32, hash, sizeRaw, sizePkg uint32) []byte {
	t.Helper()
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], Magic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(algo))
	binary.LittleEndian.PutUint32(buf[8:12], 0)
	putCString(buf[12:28], name)
	putCString(buf[28:52], version)
	putCString(buf[52:76], serial)
	binary.LittleEndian.PutUint32(buf[76:80], crc32)
	binary.LittleEndian.PutUint32(buf[80:84], hash)
	binary.LittleEndian.PutUint32(buf[84:88], sizeRaw)
	binary.LittleEndian.PutUint32(buf[88:92], sizePkg)
	binary.LittleEndian.PutUint32(buf[92:96], codec.CRC32(buf[:92], 0))
	return buf
}

func putCString(dst []byte, s string) {
	copy(dst, s)
}

func TestParseHeaderRoundTrip(t *testing.T) {
	raw := buildHeader(t, AlgoNone, "app", "1.0.0", "ABCDEFGH", 0xDEADBEEF, 0, 100, 128)
	h, err := ParseHeader(raw)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.Name != "app" || h.Version != "1.0.0" || h.Serial != "ABCDEFGH" {
		t.Fatalf("unexpected strings: %+v", h)
	}
	if h.SizeRaw != 100 || h.SizePkg != 128 {
		t.Fatalf("unexpected sizes: %+v", h)
	}
}

func TestParseHeaderBadMagic(t *testing.T) {
	raw := buildHeader(t, AlgoNone, "app", "1.0.0", "X", 0, 0, 0, 0)
	raw[0] = 'X'
	if _, err := ParseHeader(raw); err == nil {
		t.Fatal("expected error for corrupted magic")
	}
}

func TestParseHeaderBadCRC(t *testing.T) {
	raw := buildHeader(t, AlgoNone, "app", "1.0.0", "X", 0, 0, 0, 0)
	raw[92] ^= 0xFF
	if _, err := ParseHeader(raw); err == nil {
		t.Fatal("expected error for header CRC mismatch")
	}
}

func TestParseAtNoLayout(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 64)
	crc := codec.CRC32(payload, 0)
	header := buildHeader(t, AlgoNone, "app", "1.0.0", "SN01", crc, 0, uint32(len(payload)), uint32(len(payload)))

	image := append([]byte{0x00, 0x01, 0x02}, header...)
	image = append(image, payload...)

	c, err := ParseAt(image, 3, nil)
	if err != nil {
		t.Fatalf("ParseAt: %v", err)
	}
	if !bytes.Equal(c.Payload, payload) {
		t.Fatalf("payload mismatch: got %x want %x", c.Payload, payload)
	}
}

func TestParseAtNoLayoutBadPayloadCRC(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 64)
	header := buildHeader(t, AlgoNone, "app", "1.0.0", "SN01", 0x12345678, 0, uint32(len(payload)), uint32(len(payload)))
	image := append(append([]byte{}, header...), payload...)

	c, err := ParseAt(image, 0, nil)
	if err != nil {
		t.Fatalf("ParseAt: %v", err)
	}
	if c.Payload != nil {
		t.Fatalf("expected nil payload on CRC mismatch, got %x", c.Payload)
	}
}

func TestStripBlockCRCsNoShift(t *testing.T) {
	block := bytes.Repeat([]byte{0x5A}, 32)
	crc := codec.CRC16(block, 0xFFFF)
	stream := append(append([]byte{}, block...), byte(crc>>8), byte(crc))

	got := StripBlockCRCs(stream)
	if !bytes.Equal(got, block) {
		t.Fatalf("got %x want %x", got, block)
	}
}

func TestStripBlockCRCsShifted(t *testing.T) {
	block := bytes.Repeat([]byte{0x5A}, 32)
	crc := codec.CRC16(block, 0xFFFF)
	stream := append([]byte{0x00, 0x00}, append(append([]byte{}, block...), byte(crc>>8), byte(crc))...)

	got := StripBlockCRCs(stream)
	if !bytes.Equal(got, block) {
		t.Fatalf("got %x want %x", got, block)
	}
}

func TestFindMagicOffsets(t *testing.T) {
	image := make([]byte, 0)
	image = append(image, bytes.Repeat([]byte{0x00}, 10)...)
	image = append(image, Magic...)
	image = append(image, bytes.Repeat([]byte{0x00}, 20)...)
	image = append(image, Magic...)

	got := FindMagicOffsets(image)
	want := []int{10, 10 + 4 + 20}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestParseAtWithLayoutWindowing(t *testing.T) {
	crcByteCount := (HeaderSize / 32) * 2 // 6

	// partition size chosen so packageReadBytes (size - header - crc
	// overhead) is a clean multiple of 34 (32 data + 2 CRC bytes per
	// block): 102 + 5*34 = 272.
	part := layout.Partition{Name: "app", Size: 272, Start: 0x11000, Mapped: 0x10000}
	l := &layout.Layout{Name: "ota_1", WithCRC: true, Partitions: []layout.Partition{part}}

	packageReadBytes := int(part.Size) - HeaderSize - crcByteCount // 170, 5 encoded blocks

	rawPayload := bytes.Repeat([]byte{0x11}, packageReadBytes/34*32) // 160 decoded bytes
	encodedPayload := encodeBlocks(rawPayload)
	if len(encodedPayload) != packageReadBytes {
		t.Fatalf("fixture bug: encoded payload is %d bytes, want %d", len(encodedPayload), packageReadBytes)
	}

	crc := codec.CRC32(rawPayload, 0)
	header := buildHeader(t, AlgoNone, "app", "1.0.0", "SN01", crc, 0, uint32(len(rawPayload)), uint32(len(rawPayload)))
	encodedHeader := encodeBlocks(header)

	image := make([]byte, len(encodedPayload)+len(encodedHeader))
	copy(image, encodedPayload)
	copy(image[len(encodedPayload):], encodedHeader)

	headerPos := len(encodedPayload)
	c, err := ParseAt(image, headerPos, l)
	if err != nil {
		t.Fatalf("ParseAt: %v", err)
	}
	if !bytes.Equal(c.Payload, rawPayload) {
		t.Fatalf("payload mismatch: got %x want %x", c.Payload, rawPayload)
	}
}

// encodeBlocks appends a trailing CRC-16 after every 32-byte block, the
// inverse of StripBlockCRCs, for building synthetic "32+2" fixtures.
func encodeBlocks(data []byte) []byte {
	var out bytes.Buffer
	for len(data) >= 32 {
		block := data[:32]
		out.Write(block)
		crc := codec.CRC16(block, 0xFFFF)
		out.WriteByte(byte(crc >> 8))
		out.WriteByte(byte(crc))
		data = data[32:]
	}
	if len(data) > 0 {
		out.Write(data)
	}
	return out.Bytes()
}
