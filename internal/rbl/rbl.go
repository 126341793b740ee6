// Package rbl parses RBL ("RBL\0"-magic) OTA container images: the
// 96-byte header, the optional "32+2" CRC-interleaved encoding flash
// partitions use, and the backward payload windowing that recovers a
// container's data from its position inside a partition.
package rbl

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/tuya-cloudcutter/bk7231tools/internal/codec"
	"github.com/tuya-cloudcutter/bk7231tools/internal/layout"
)

// Magic is the fixed 4-byte container signature.
var Magic = []byte("RBL\x00")

// HeaderSize is the fixed, packed size of Header's wire form:
// 4s + I + I + 16s + 24s + 24s + I + I + I + I + I = 96 bytes.
const HeaderSize = 96

// Algorithm identifies how a container's payload is transformed before
// being written to the chip's address space.
type Algorithm uint32

const (
	AlgoNone         Algorithm = 0
	AlgoCryptXOR     Algorithm = 1
	AlgoCryptAES256  Algorithm = 2
	AlgoCompressGzip Algorithm = 256
	AlgoCompressQLZ  Algorithm = 512
	AlgoCompressFLZ  Algorithm = 768
)

var (
	ErrBadMagic       = errors.New("rbl: bad container magic")
	ErrHeaderCRC      = errors.New("rbl: header CRC mismatch")
	ErrNoPartition    = errors.New("rbl: no partition named in layout matches header")
	ErrShortPartition = errors.New("rbl: partition too small to hold container payload")
)

// Header is an RBL container's fixed-size metadata block.
type Header struct {
	Algo      Algorithm
	Timestamp uint32
	Name      string
	Version   string
	Serial    string
	CRC32     uint32
	Hash      uint32
	SizeRaw   uint32
	SizePkg   uint32
	InfoCRC32 uint32
}

// ParseHeader decodes and validates a 96-byte RBL header, including its
// own trailing info_crc32 self-check over the preceding bytes.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("rbl: header too short: %d bytes", len(data))
	}
	if !bytes.Equal(data[0:4], Magic) {
		return Header{}, ErrBadMagic
	}

	var h Header
	h.Algo = Algorithm(binary.LittleEndian.Uint32(data[4:8]))
	h.Timestamp = binary.LittleEndian.Uint32(data[8:12])
	h.Name = cString(data[12:28])
	h.Version = cString(data[28:52])
	h.Serial = cString(data[52:76])
	h.CRC32 = binary.LittleEndian.Uint32(data[76:80])
	h.Hash = binary.LittleEndian.Uint32(data[80:84])
	h.SizeRaw = binary.LittleEndian.Uint32(data[84:88])
	h.SizePkg = binary.LittleEndian.Uint32(data[88:92])
	h.InfoCRC32 = binary.LittleEndian.Uint32(data[92:96])

	calc := codec.CRC32(data[:92], 0)
	if calc != h.InfoCRC32 {
		return Header{}, fmt.Errorf("%w: header says 0x%08X, calculated 0x%08X", ErrHeaderCRC, h.InfoCRC32, calc)
	}
	return h, nil
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// Container is a decoded RBL container: its header plus the recovered
// payload (SizePkg bytes; for AlgoNone the bytes after SizeRaw are set to
// the padding length). Payload is nil when the payload CRC-32 fails.
type Container struct {
	Header  Header
	Payload []byte
}

// StripBlockCRCs removes the trailing 2-byte CRC-16 from every 32-byte
// block of a "32+2"-encoded stream, auto-detecting a possible 2-byte
// phase shift at the start (some images begin mid-block after a short
// unencoded prefix).
func StripBlockCRCs(data []byte) []byte {
	if len(data) >= 36 {
		if codec.Block32CRCOK(data[0:32], data[32:34]) {
			// no shift
		} else if codec.Block32CRCOK(data[2:34], data[34:36]) {
			data = data[2:]
		}
	}

	var out bytes.Buffer
	for len(data) >= 32 {
		out.Write(data[0:32])
		data = data[32:]
		if len(data) >= 2 {
			data = data[2:]
		} else {
			data = nil
		}
	}
	return out.Bytes()
}

// ParseAt locates and decodes the RBL container whose header magic begins
// at position headerPos within image (the full raw partition dump, or the
// whole flash dump if layout is nil).
//
// With a layout whose WithCRC is set, the header itself is stored "32+2"
// encoded starting at headerPos, and the payload is NOT the bytes that
// follow the header: the OTA updater always appends the header immediately
// after its payload, so the payload is read *backwards* from the position
// right after the (still-encoded) header by the partition's own size.
func ParseAt(image []byte, headerPos int, l *layout.Layout) (Container, error) {
	if l == nil || !l.WithCRC {
		header, err := ParseHeader(image[headerPos : headerPos+HeaderSize])
		if err != nil {
			return Container{}, err
		}
		bodyStart := headerPos + HeaderSize
		if bodyStart+int(header.SizePkg) > len(image) {
			return Container{}, fmt.Errorf("rbl: image truncated before end of payload")
		}
		return decodeContainer(header, image[bodyStart:bodyStart+int(header.SizePkg)])
	}

	crcByteCount := (HeaderSize / 32) * 2

	headerStream := StripBlockCRCs(image[headerPos:])
	if len(headerStream) < HeaderSize {
		return Container{}, fmt.Errorf("rbl: not enough decoded bytes for header")
	}
	header, err := ParseHeader(headerStream[:HeaderSize])
	if err != nil {
		return Container{}, err
	}

	// Position right after the still-encoded header, matching the
	// original's bytestream.seek(pos + header_byte_count + crc_byte_count).
	startPos := headerPos + HeaderSize + crcByteCount

	part, ok := findPartition(*l, header.Name)
	if !ok {
		return Container{}, fmt.Errorf("%w: %q", ErrNoPartition, header.Name)
	}
	packagePos := startPos - int(part.Size)
	if packagePos < 0 {
		return Container{}, ErrShortPartition
	}
	packageReadBytes := int(part.Size) - HeaderSize - crcByteCount
	if packagePos+packageReadBytes > len(image) {
		return Container{}, fmt.Errorf("rbl: image truncated before end of windowed payload")
	}

	raw := image[packagePos : packagePos+packageReadBytes]
	body := StripBlockCRCs(raw)
	return decodeContainer(header, body)
}

func decodeContainer(header Header, body []byte) (Container, error) {
	if len(body) < int(header.SizePkg) {
		return Container{}, fmt.Errorf("rbl: not enough payload bytes: want %d, have %d", header.SizePkg, len(body))
	}
	payload := body[:header.SizePkg]

	if header.Algo == AlgoNone {
		padding := int(header.SizePkg) - int(header.SizeRaw)
		if padding < 0 || int(header.SizeRaw) > len(payload) {
			return Container{}, fmt.Errorf("rbl: invalid raw/package size pair")
		}
		trimmed := make([]byte, header.SizeRaw, header.SizeRaw+uint32(padding))
		copy(trimmed, payload[:header.SizeRaw])
		for i := 0; i < padding; i++ {
			trimmed = append(trimmed, byte(padding))
		}
		payload = trimmed
	}

	if codec.CRC32(payload, 0) != header.CRC32 {
		return Container{Header: header, Payload: nil}, nil
	}
	return Container{Header: header, Payload: payload}, nil
}

func findPartition(l layout.Layout, name string) (layout.Partition, bool) {
	for _, p := range l.Partitions {
		if p.Name == name {
			return p, true
		}
	}
	return layout.Partition{}, false
}

// FindMagicOffsets scans image for every occurrence of the RBL magic and
// returns their byte offsets, in ascending order.
func FindMagicOffsets(image []byte) []int {
	var out []int
	for i := 0; i+len(Magic) <= len(image); i++ {
		if bytes.Equal(image[i:i+len(Magic)], Magic) {
			out = append(out, i)
		}
	}
	return out
}

// String renders a human-friendly one-line summary, matching the style of
// the original tool's CLI dump.
func (h Header) String() string {
	return strings.TrimSpace(fmt.Sprintf("%s v%s (sn=%s, algo=%d, raw=%d, pkg=%d)",
		h.Name, h.Version, h.Serial, h.Algo, h.SizeRaw, h.SizePkg))
}
