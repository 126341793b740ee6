package session

import (
	"bytes"
	"fmt"
	"io"

	"github.com/tuya-cloudcutter/bk7231tools/internal/chip"
	"github.com/tuya-cloudcutter/bk7231tools/internal/codec"
	"github.com/tuya-cloudcutter/bk7231tools/internal/packet"
)

// flashSRSize maps a flash's 3-byte JEDEC ID to the width (in bytes) of its
// status register, as collected from real hardware by the bootloader tool
// this is derived from; there is no algorithmic shortcut; every entry had
// to be observed.
var flashSRSize = map[[3]byte]int{
	{0x0B, 0x40, 0x14}: 2,
	{0x0B, 0x40, 0x15}: 2,
	{0x0B, 0x40, 0x16}: 2,
	{0x0B, 0x40, 0x17}: 2,
	{0x0B, 0x60, 0x17}: 2,
	{0x0E, 0x40, 0x16}: 2,
	{0x1C, 0x31, 0x13}: 1,
	{0x1C, 0x41, 0x16}: 1,
	{0x1C, 0x70, 0x15}: 1,
	{0x1C, 0x70, 0x16}: 1,
	{0x20, 0x40, 0x16}: 2,
	{0x51, 0x40, 0x13}: 1,
	{0x51, 0x40, 0x14}: 1,
	{0x5E, 0x40, 0x14}: 1,
	{0x85, 0x42, 0x15}: 1,
	{0x85, 0x60, 0x13}: 2,
	{0x85, 0x60, 0x14}: 2,
	{0x85, 0x60, 0x16}: 2,
	{0x85, 0x60, 0x17}: 2,
	{0xC2, 0x23, 0x14}: 2,
	{0xC2, 0x23, 0x15}: 2,
	{0xC8, 0x40, 0x13}: 1,
	{0xC8, 0x40, 0x14}: 2,
	{0xC8, 0x40, 0x15}: 2,
	{0xC8, 0x40, 0x16}: 1,
	{0xC8, 0x65, 0x15}: 2,
	{0xC8, 0x65, 0x16}: 2,
	{0xC8, 0x65, 0x17}: 2,
	{0xCD, 0x60, 0x14}: 2,
	{0xE0, 0x40, 0x13}: 1,
	{0xE0, 0x40, 0x14}: 1,
	{0xEB, 0x60, 0x15}: 2,
	{0xEF, 0x40, 0x16}: 2,
	{0xEF, 0x40, 0x18}: 2,
}

// defaultUnprotectMask clears BP0-BP2 and TBP (bits 2-6), the block
// protection bits that cover the whole chip on every flash part this
// table was built against.
const defaultUnprotectMask = 0b01111100

// FlashUnprotect clears the flash's block-protection bits so program/erase
// commands aren't silently ignored.
func (s *Session) FlashUnprotect(mask uint16) error {
	if mask == 0 {
		mask = defaultUnprotectMask
	}
	id, err := s.FlashReadID(0x9F)
	if err != nil {
		return err
	}
	size, ok := flashSRSize[id]
	if !ok {
		return fmt.Errorf("%w: 0x%02X%02X%02X", ErrUnknownFlashID, id[0], id[1], id[2])
	}
	sr, err := s.FlashReadSR(size)
	if err != nil {
		return err
	}
	sr &^= mask
	return s.FlashWriteSR(sr, size, mask)
}

// FlashDetectSize finds the flash chip's size by reading a fixed page and
// looking for the first power-of-two offset at which its contents repeat
// (wraparound through chip select address aliasing).
func (s *Session) FlashDetectSize() (uint32, error) {
	s.log.Info("detecting flash size by wraparound")
	prevBypass := s.BootProtectionBypass
	s.BootProtectionBypass = false
	defer func() { s.BootProtectionBypass = prevBypass }()

	const safeOffset = 0x11000
	startData, err := s.FlashRead4K(safeOffset, false)
	if err != nil {
		return 0, err
	}
	for _, mib := range []float64{0.5, 1, 2, 4, 8, 16} {
		size := uint32(mib * 0x100_000)
		probe := size + safeOffset
		checkData, err := s.FlashRead4K(probe, false)
		if err != nil {
			return 0, err
		}
		if bytes.Equal(startData, checkData) {
			s.log.Info("flash size detected", "size", size)
			return size, nil
		}
	}
	return 0, fmt.Errorf("session: could not detect flash chip size")
}

// FlashRead streams [start, start+length) to w, reading one 4K-aligned
// page at a time and trimming to the requested window. progress, if
// non-nil, is called with each chunk's length as it's written.
func (s *Session) FlashRead(w io.Writer, start, length uint32, crcCheck bool, progress func(n int)) error {
	if s.FlashSize != 0 && start+length > s.FlashSize {
		return fmt.Errorf("%w: 0x%X bytes from 0x%X exceeds flash size 0x%X", ErrFlashTooSmall, length, start, s.FlashSize)
	}

	blockCount := (length-1)/4096 + 1
	blockStart := start &^ 0xFFF
	offset := start & 0xFFF
	remaining := length

	for i := uint32(0); i < blockCount; i++ {
		s.log.Debug("reading 4K page", "addr", blockStart, "progress_pct", float64(i)/float64(blockCount)*100)
		chunk, err := s.FlashRead4K(blockStart, crcCheck)
		if err != nil {
			return err
		}
		end := offset + remaining
		if end > uint32(len(chunk)) {
			end = uint32(len(chunk))
		}
		chunk = chunk[offset:end]
		offset = 0
		remaining -= uint32(len(chunk))
		blockStart += 4096

		if _, err := w.Write(chunk); err != nil {
			return err
		}
		if progress != nil {
			progress(len(chunk))
		}
	}
	return nil
}

// FlashReadBytes is FlashRead collected into a single byte slice.
func (s *Session) FlashReadBytes(start, length uint32, crcCheck bool) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.FlashRead(&buf, start, length, crcCheck, nil); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ProgramFlash writes ioSize bytes from r to flash starting at start:
// erasing each 4K sector and then writing it, except that a sector whose
// input chunk is all 0xFF is only erased, and optionally verifying the whole write with a
// single CheckCRC at the end. progress, if non-nil, is called with the
// number of bytes consumed from r after each chunk.
func (s *Session) ProgramFlash(r io.Reader, ioSize int, start uint32, crcCheck, reallyErase, dryRun bool, progress func(n int)) error {
	end := start + uint32(ioSize)
	addr := start

	if start&0xFFF != 0 && !reallyErase {
		return fmt.Errorf("session: start address not on 4K boundary; sector erase needed")
	}
	if s.FlashSize != 0 && end > s.FlashSize {
		return fmt.Errorf("%w: image larger than flash", ErrFlashTooSmall)
	}

	if s.ProtocolType == chip.Full {
		s.log.Info("unprotecting flash memory")
		if err := s.FlashUnprotect(0); err != nil {
			return err
		}
	}

	if addr&0xFFF != 0 {
		s.log.Info("writing unaligned leading data")
		sectorAddr := addr &^ 0xFFF
		if err := s.FlashEraseBlock(sectorAddr, packet.EraseSector4K, dryRun); err != nil {
			return err
		}
		sectorEnd := sectorAddr + 4096
		for addr&0xFFF != 0 {
			chunkLen := 256
			if remaining := int(sectorEnd - addr); remaining < chunkLen {
				chunkLen = remaining
			}
			block := make([]byte, chunkLen)
			n, err := io.ReadFull(r, block)
			if n == 0 {
				return nil
			}
			block = block[:n]
			if err != nil && err != io.ErrUnexpectedEOF {
				return err
			}
			if err := s.FlashWriteBytes(addr, block, crcCheck, dryRun); err != nil {
				return err
			}
			if progress != nil {
				progress(len(block))
			}
			addr += uint32(len(block))
		}
	}

	var crc uint32
	for {
		block := make([]byte, 4096)
		n, err := io.ReadFull(r, block)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return err
		}
		block = block[:n]

		blockSize := len(block)
		if addr >= end {
			blockSize = 0
		}
		blockEmpty := isAllFF(block)

		if blockSize == 0 {
			if crcCheck {
				s.log.Info("verifying CRC")
				padSize := (4096 - (ioSize % 4096)) % 4096
				crc = codec.CRC32(bytes.Repeat([]byte{0xFF}, padSize), crc)
				chipCRC, err := s.ReadFlashRangeCRC(start, start+uint32(ioSize)+uint32(padSize))
				if err != nil {
					return err
				}
				if crc != chipCRC {
					return fmt.Errorf("%w: chip=0x%08X calc=0x%08X", ErrCRCMismatch, chipCRC, crc)
				}
			}
			return nil
		}

		progressPct := 100.0 - float64(end-addr)/float64(ioSize)*100.0
		if blockEmpty {
			s.log.Info("erasing", "addr", addr, "progress_pct", progressPct)
		} else {
			s.log.Info("erasing and writing", "addr", addr, "progress_pct", progressPct)
		}

		crc = codec.CRC32(block, crc)
		if err := s.FlashEraseBlock(addr, packet.EraseSector4K, dryRun); err != nil {
			return err
		}
		if !blockEmpty {
			if err := s.FlashWrite4K(addr, block, crcCheck, dryRun); err != nil {
				return err
			}
		}
		if progress != nil {
			progress(len(block))
		}
		addr += uint32(blockSize)
	}
}

func isAllFF(b []byte) bool {
	for _, v := range b {
		if v != 0xFF {
			return false
		}
	}
	return true
}
