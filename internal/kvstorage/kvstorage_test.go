package kvstorage

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"testing"

	"github.com/tuya-cloudcutter/bk7231tools/internal/codec"
)

func TestNewGeometry(t *testing.T) {
	s := New(0, 0)
	if s.FlashSize != DefaultFlashSize || s.SwapFlashSize != DefaultSwapFlashSize {
		t.Fatalf("New(0, 0) should fall back to the default sizes, got FlashSize=%d SwapFlashSize=%d", s.FlashSize, s.SwapFlashSize)
	}
	if s.BlockSize != 4096 {
		t.Fatalf("BlockSize = %d, want 4096", s.BlockSize)
	}
	if s.PageSize != 128 {
		t.Fatalf("PageSize = %d, want 128", s.PageSize)
	}
	if s.BlockPages != 32 {
		t.Fatalf("BlockPages = %d, want 32", s.BlockPages)
	}
	wantBlockNums := DefaultFlashSize / 4096
	if s.BlockNums != uint32(wantBlockNums) {
		t.Fatalf("BlockNums = %d, want %d", s.BlockNums, wantBlockNums)
	}
}

func TestLoadMagicNotFound(t *testing.T) {
	s := New(4096, 4096)
	_, err := s.Load(bytes.Repeat([]byte{0xFF}, 1024))
	if err != ErrMagicNotFound {
		t.Fatalf("Load on an image with no magic = %v, want ErrMagicNotFound", err)
	}
}

func TestLoadTruncatedImage(t *testing.T) {
	s := New(4096, 4096)
	magic, _ := hex.DecodeString(keyMagicHex)
	needle := bytes.Repeat(magic, 4)

	// The magic is found, but there isn't enough trailing data for the
	// configured flash+swap region.
	image := append(bytes.Repeat([]byte{0x00}, 40), needle...)
	_, err := s.Load(image)
	if err != ErrTruncatedImage {
		t.Fatalf("Load on a short image = %v, want ErrTruncatedImage", err)
	}
}

func TestLoadFindsRegion(t *testing.T) {
	s := New(4096, 4096)
	magic, _ := hex.DecodeString(keyMagicHex)
	needle := bytes.Repeat(magic, 4)

	prefix := bytes.Repeat([]byte{0x11}, 100)
	region := make([]byte, 32+4096+4096)
	for i := range region {
		region[i] = 0x22
	}
	copy(region[32:], needle)

	image := append(append([]byte{}, prefix...), region...)
	pos, err := s.Load(image)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if pos != len(prefix) {
		t.Fatalf("Load returned offset %d, want %d", pos, len(prefix))
	}
	// The region starts at the rewound offset and spans flash+swap bytes.
	if want := int(s.FlashSize + s.SwapFlashSize); len(s.Data) != want {
		t.Fatalf("loaded region length = %d, want %d", len(s.Data), want)
	}
}

// buildIndexPage writes one index page's header, name, and element table
// starting at off within block.
func buildIndexPage(block []byte, off int, crc, dataLen uint32, blockID uint16, pageID uint8, name string, elements []Element) {
	binary.LittleEndian.PutUint32(block[off:], crc)
	binary.LittleEndian.PutUint32(block[off+4:], dataLen)
	binary.LittleEndian.PutUint16(block[off+8:], blockID)
	block[off+10] = pageID
	binary.LittleEndian.PutUint16(block[off+11:], uint16(len(elements)))
	block[off+17] = byte(len(name))
	copy(block[off+18:], name)

	elOff := off + 18 + len(name)
	for _, el := range elements {
		binary.LittleEndian.PutUint16(block[elOff:], el.BlockID)
		block[elOff+2] = el.StartPageID
		block[elOff+3] = el.EndPageID
		elOff += 4
	}
}

// buildStorageImage assembles a two-block (key block + one data block)
// plaintext store holding a single named JSON value, then double-encrypts
// it exactly as the real bootloader does.
func buildStorageImage(t *testing.T, name string, value []byte) (*Storage, []byte) {
	t.Helper()

	s := New(4096, 4096) // BlockNums = 1
	pageSize := int(s.PageSize)

	dataBlock := make([]byte, s.BlockSize)
	// Directory header lives at page 0; its first 8 bytes double as the
	// block's own magic + checksum, filled in once the rest is ready.
	binary.LittleEndian.PutUint16(dataBlock[8:], 0) // nextBlockID = 0 (points at itself)
	dataBlock[14] = 1                               // bitmapLen
	dataBlock[15] = 0x02                             // bit 1 set -> index page at pageID 1

	buildIndexPage(dataBlock, pageSize, sumChecksum(value), uint32(len(value)), 0, 1, name, []Element{
		{BlockID: 0, StartPageID: 2, EndPageID: 2},
	})

	copy(dataBlock[2*pageSize:], value)

	binary.LittleEndian.PutUint32(dataBlock[0:], dataBlockMagic)
	binary.LittleEndian.PutUint32(dataBlock[4:], sumChecksum(dataBlock[8:]))

	innerKey := bytes.Repeat([]byte{0x42}, 16)
	keyBlock := make([]byte, s.BlockSize)
	binary.LittleEndian.PutUint32(keyBlock[0:], keyBlockMagic)
	binary.LittleEndian.PutUint32(keyBlock[4:], sumChecksum(innerKey))
	copy(keyBlock[8:24], innerKey)

	master, err := codec.NewECBCipher(codec.MasterKey)
	if err != nil {
		t.Fatalf("NewECBCipher(master): %v", err)
	}
	dataKey := codec.DeriveDataKey(innerKey)
	dataCipher, err := codec.NewECBCipher(dataKey)
	if err != nil {
		t.Fatalf("NewECBCipher(data): %v", err)
	}

	image := append(master.Encrypt(keyBlock), dataCipher.Encrypt(dataBlock)...)
	return s, image
}

func TestDecryptAndReadValue(t *testing.T) {
	value := []byte(`"hello"`)
	s, image := buildStorageImage(t, "greeting", value)
	s.Data = image

	if err := s.Decrypt(); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}

	idx, ok := s.FindIndex("greeting")
	if !ok {
		t.Fatal("FindIndex(\"greeting\") not found after Decrypt")
	}

	got, err := s.ReadValue(idx)
	if err != nil {
		t.Fatalf("ReadValue: %v", err)
	}
	if !bytes.Equal(got, value) {
		t.Fatalf("ReadValue = %q, want %q", got, value)
	}
}

func TestDecryptBadKeyBlockMagic(t *testing.T) {
	s, image := buildStorageImage(t, "greeting", []byte(`"hi"`))
	// Flip a byte in the still-encrypted key block. ECB scrambles the
	// whole first 16-byte block on decryption (magic, checksum and the
	// start of the inner key) and leaves the later blocks intact, so the
	// magic check fails deterministically.
	image[0] ^= 0xFF
	s.Data = image

	if err := s.Decrypt(); err == nil {
		t.Fatal("Decrypt should fail when the key block has been corrupted")
	}
}

func TestReadAllKeysParsesJSON(t *testing.T) {
	s, image := buildStorageImage(t, "greeting", []byte(`{"a":1}`))
	s.Data = image
	if err := s.Decrypt(); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}

	keys := s.ReadAllKeys()
	got, ok := keys["greeting"].(map[string]any)
	if !ok {
		t.Fatalf("ReadAllKeys()[\"greeting\"] = %#v, want a parsed JSON object", keys["greeting"])
	}
	if got["a"] != float64(1) {
		t.Errorf("parsed value a=%v, want 1", got["a"])
	}
}

func TestParseUserParamKey(t *testing.T) {
	raw := `{module:wifi,crc:1234,online:1,}`
	m, ok := ParseUserParamKey(raw)
	if !ok {
		t.Fatalf("ParseUserParamKey(%q) failed to parse", raw)
	}
	if m["module"] != "wifi" {
		t.Errorf("module = %v, want \"wifi\"", m["module"])
	}
	if m["crc"] != float64(1234) {
		t.Errorf("crc = %v, want 1234", m["crc"])
	}
}

func TestParseUserParamKeyInvalid(t *testing.T) {
	if _, ok := ParseUserParamKey("not even close to json{{{"); ok {
		t.Error("ParseUserParamKey should fail on unrepairable garbage")
	}
}

func TestFindUserParamKey(t *testing.T) {
	payload := append([]byte("noise\x00"), []byte("Jsonver:1,module:wifi,crc:99\x00")...)
	payload = append(payload, []byte("trailing\x00")...)

	got, ok := FindUserParamKey(payload)
	if !ok {
		t.Fatal("FindUserParamKey did not find the embedded value")
	}
	want := "Jsonver:1,module:wifi,crc:99"
	if got != want {
		t.Errorf("FindUserParamKey = %q, want %q", got, want)
	}
}

func TestFindUserParamKeyAbsent(t *testing.T) {
	if _, ok := FindUserParamKey([]byte("nothing interesting here")); ok {
		t.Error("FindUserParamKey should report false when no anchor pattern is present")
	}
}
