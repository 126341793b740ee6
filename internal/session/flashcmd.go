package session

import (
	"fmt"
	"math"
	"time"

	"github.com/tuya-cloudcutter/bk7231tools/internal/chip"
	"github.com/tuya-cloudcutter/bk7231tools/internal/codec"
	"github.com/tuya-cloudcutter/bk7231tools/internal/packet"
)

const crc32FF4K = 0xF154670A

// FixAddr re-maps a flash address into the bootloader's unprotected
// 0x200000-0x3FFFFF alias window. It is a no-op while the flash size is
// still unknown (during FlashDetectSize's own probing), and whenever
// BootProtectionBypass has been turned off. ReadFlashRangeCRC is its only
// caller; the read, write and erase commands do not re-map addresses.
func (s *Session) FixAddr(addr uint32) uint32 {
	if s.FlashSize == 0 || !s.BootProtectionBypass {
		return addr
	}
	return (addr & 0x1FFFFF) | 0x200000
}

// RebootChip sends the magic reboot command (0xA5).
func (s *Session) RebootChip() error {
	_, err := s.Command(packet.RebootCmnd{Value: 0xA5})
	return err
}

// RegisterRead reads a 32-bit chip register.
func (s *Session) RegisterRead(address uint32) (uint32, error) {
	resp, err := s.Command(packet.ReadRegCmnd{Address: address})
	if err != nil {
		return 0, err
	}
	return resp.(*packet.ReadRegResp).Value, nil
}

// RegisterWrite writes a 32-bit chip register.
func (s *Session) RegisterWrite(address, value uint32) error {
	_, err := s.Command(packet.WriteRegCmnd{Address: address, Value: value})
	return err
}

// ReadFlashRangeCRC asks the chip to CRC-32 [start, end) of flash, raising
// the read deadline first if CRCSpeedBps says the range will take longer
// than the current one allows.
func (s *Session) ReadFlashRangeCRC(start, end uint32) (uint32, error) {
	start = s.FixAddr(start)
	end = s.FixAddr(end)
	if end == 0x200000 {
		end += 0x200000
	}
	if start == end {
		return 0, fmt.Errorf("session: CRC start and end must differ")
	}
	if start > end {
		return 0, fmt.Errorf("session: CRC start must be less than end")
	}

	prevTimeout := s.CmndTimeout
	minTimeout := float64(end-start) / float64(s.CRCSpeedBps)
	if minTimeout > prevTimeout.Seconds() {
		s.log.Warn("CheckCRC range is slow for current timeout, raising it",
			"timeout_s", prevTimeout.Seconds(), "bytes", end-start)
		s.port.SetReadTimeout(time.Duration(math.Ceil(minTimeout)) * time.Second)
	}

	endArg := end
	if s.protocolKnown && s.ProtocolType == chip.Full {
		// BK7231N also counts the end offset.
		endArg--
	}
	resp, err := s.Command(packet.CheckCrcCmnd{Start: start, End: endArg})
	s.port.SetReadTimeout(prevTimeout)
	if err != nil {
		return 0, err
	}
	return resp.(*packet.CheckCrcResp).CRC32 ^ 0xFFFFFFFF, nil
}

// CheckCRC compares the chip's CRC over [start, start+len(data)) against
// data's own CRC-32, returning ErrCRCMismatch if they disagree.
func (s *Session) CheckCRC(start uint32, data []byte) error {
	chipCRC, err := s.ReadFlashRangeCRC(start, start+uint32(len(data)))
	if err != nil {
		return err
	}
	calc := codec.CRC32(data, 0)
	if chipCRC != calc {
		return fmt.Errorf("%w: chip=0x%08X calc=0x%08X", ErrCRCMismatch, chipCRC, calc)
	}
	return nil
}

// FlashReadReg8 issues an 8-bit flash SPI command and returns its single
// response byte.
func (s *Session) FlashReadReg8(cmd byte) (byte, error) {
	resp, err := s.Command(packet.FlashReg8ReadCmnd{Cmd: cmd})
	if err != nil {
		return 0, err
	}
	return resp.(*packet.FlashReg8ReadResp).Data0, nil
}

func (s *Session) flashWriteReg8(cmd, data byte) error {
	resp, err := s.Command(packet.FlashReg8WriteCmnd{Cmd: cmd, Data: data})
	if err != nil {
		return err
	}
	if resp.(*packet.FlashReg8WriteResp).Data != data {
		return fmt.Errorf("session: flash SR write readback mismatch")
	}
	return nil
}

func (s *Session) flashWriteReg16(cmd byte, data uint16) error {
	resp, err := s.Command(packet.FlashReg16WriteCmnd{Cmd: cmd, Data: data})
	if err != nil {
		return err
	}
	if resp.(*packet.FlashReg16WriteResp).Data != data {
		return fmt.Errorf("session: flash SR write readback mismatch")
	}
	return nil
}

// FlashReadReg24 issues a 24-bit-response flash SPI command (used for the
// JEDEC ID read).
func (s *Session) FlashReadReg24(cmd uint32) (byte, byte, byte, error) {
	resp, err := s.Command(packet.FlashReg24ReadCmnd{Cmd: cmd})
	if err != nil {
		return 0, 0, 0, err
	}
	r := resp.(*packet.FlashReg24ReadResp)
	return r.Data0, r.Data1, r.Data2, nil
}

// FlashReadSR reads the flash's status register, 1 or 2 bytes wide.
func (s *Session) FlashReadSR(size int) (uint16, error) {
	lo, err := s.FlashReadReg8(0x05)
	if err != nil {
		return 0, err
	}
	sr := uint16(lo)
	if size == 2 {
		hi, err := s.FlashReadReg8(0x35)
		if err != nil {
			return 0, err
		}
		sr |= uint16(hi) << 8
	}
	return sr, nil
}

// FlashWriteSR writes the flash's status register and verifies the bits
// covered by mask took effect.
func (s *Session) FlashWriteSR(sr uint16, size int, mask uint16) error {
	if size == 1 {
		if err := s.flashWriteReg8(0x01, byte(sr)); err != nil {
			return err
		}
	} else {
		if err := s.flashWriteReg16(0x01, sr); err != nil {
			return err
		}
	}
	read, err := s.FlashReadSR(size)
	if err != nil {
		return err
	}
	if sr&mask != read&mask {
		return fmt.Errorf("session: writing status register failed: wrote 0x%04X, read back 0x%04X", sr, read)
	}
	return nil
}

// FlashReadID reads and caches the flash's JEDEC manufacturer/chip/size-code
// triplet.
func (s *Session) FlashReadID(cmd uint32) ([3]byte, error) {
	if s.flashIDKnown {
		return s.FlashID, nil
	}
	if err := s.RequireProtocol(0x0E, chip.Far); err != nil {
		return [3]byte{}, err
	}
	b0, b1, b2, err := s.FlashReadReg24(cmd)
	if err != nil {
		return [3]byte{}, err
	}
	s.FlashID = [3]byte{b0, b1, b2}
	s.flashIDKnown = true
	return s.FlashID, nil
}

// FlashRead4K reads one 4K-aligned page, retrying on short reads or CRC
// mismatch up to ReadRetries times.
func (s *Session) FlashRead4K(start uint32, crcCheck bool) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= s.ReadRetries; attempt++ {
		resp, err := s.Command(packet.FlashRead4KCmnd{Start: start})
		if err != nil {
			lastErr = err
			continue
		}
		data := resp.(*packet.FlashRead4KResp).Data
		if len(data) != 0x1000 {
			lastErr = fmt.Errorf("session: invalid 4K read length %d @ 0x%X", len(data), start)
			s.log.Warn("flash read failed, retrying", "addr", start, "attempt", attempt, "err", lastErr)
			continue
		}
		if crcCheck {
			if err := s.CheckCRC(start, data); err != nil {
				lastErr = err
				s.log.Warn("flash read failed, retrying", "addr", start, "attempt", attempt, "err", lastErr)
				continue
			}
		}
		return data, nil
	}
	return nil, lastErr
}

// FlashWriteBytes writes up to 256 bytes with an unaligned start address.
func (s *Session) FlashWriteBytes(start uint32, data []byte, crcCheck bool, dryRun bool) error {
	if len(data) > 256 {
		return fmt.Errorf("session: write chunk too long (%d > 256)", len(data))
	}
	if dryRun {
		s.log.Info("would write bytes", "addr", start, "len", len(data))
		return nil
	}
	resp, err := s.Command(packet.FlashWriteCmnd{Start: start, Data: data})
	if err != nil {
		return err
	}
	if int(resp.(*packet.FlashWriteResp).Written) != len(data) {
		return fmt.Errorf("session: write failed, wrote only %d bytes", resp.(*packet.FlashWriteResp).Written)
	}
	if crcCheck {
		return s.CheckCRC(start, data)
	}
	return nil
}

// FlashWrite4K writes a 4K-aligned page, re-erasing and retrying on
// failure up to WriteRetries times.
func (s *Session) FlashWrite4K(start uint32, data []byte, crcCheck bool, dryRun bool) error {
	if len(data) > 4096 {
		return fmt.Errorf("session: write chunk too long (%d > 4096)", len(data))
	}
	if len(data) < 4096 {
		padded := make([]byte, 4096)
		copy(padded, data)
		for i := len(data); i < 4096; i++ {
			padded[i] = 0xFF
		}
		data = padded
	}
	if dryRun {
		s.log.Info("would write 4K page", "addr", start)
		return nil
	}

	var lastErr error
	for attempt := 0; attempt <= s.WriteRetries; attempt++ {
		_, err := s.Command(packet.FlashWrite4KCmnd{Start: start, Data: data})
		if err == nil && crcCheck {
			err = s.CheckCRC(start, data)
		}
		if err == nil {
			return nil
		}
		lastErr = err
		s.log.Warn("flash write 4K failed, retrying", "addr", start, "attempt", attempt, "err", err)
		if err := s.FlashEraseBlock(start, packet.EraseSector4K, dryRun); err != nil {
			return err
		}
	}
	return lastErr
}

// FlashEraseBlock erases a sector or block, verifying the result reads
// back as all-0xFF the first time (subsequent erases in the same session
// skip the CRC bracket once verified working).
func (s *Session) FlashEraseBlock(start uint32, size packet.EraseSize, dryRun bool) error {
	if dryRun {
		s.log.Info("would erase block", "addr", start, "size", size)
		return nil
	}

	doErase := func() error {
		_, err := s.Command(packet.FlashEraseBlockCmnd{Size: size, Start: start})
		return err
	}

	doEraseVerify := func() error {
		pre, err := s.ReadFlashRangeCRC(start, start+0x1000)
		if err != nil {
			return err
		}
		if pre == crc32FF4K {
			s.log.Debug("block already erased, skipping", "addr", start)
			return nil
		}
		if err := doErase(); err != nil {
			return err
		}
		post, err := s.ReadFlashRangeCRC(start, start+0x1000)
		if err != nil {
			return err
		}
		if post != crc32FF4K {
			return fmt.Errorf("session: erase verify failed, non-0xFF bytes remain @ 0x%X", start)
		}
		s.flashEraseChecked = true
		return nil
	}

	var lastErr error
	for attempt := 0; attempt <= s.WriteRetries; attempt++ {
		var err error
		if !s.flashEraseChecked {
			if size != packet.EraseSector4K {
				s.log.Warn("cannot verify erase in 64K block mode")
				err = doErase()
			} else {
				err = doEraseVerify()
			}
		} else {
			err = doErase()
		}
		if err == nil {
			return nil
		}
		lastErr = err
		s.log.Warn("erase failed, retrying", "addr", start, "attempt", attempt, "err", err)
	}
	return lastErr
}
