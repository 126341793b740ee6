package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/tuya-cloudcutter/bk7231tools/internal/chip"
	"github.com/tuya-cloudcutter/bk7231tools/internal/codec"
	"github.com/tuya-cloudcutter/bk7231tools/internal/packet"
)

// Connect performs the full bring-up sequence: wait for the bootloader to
// answer LinkCheck, switch to the operating baud rate, then detect the
// chip/bootloader/flash.
func (s *Session) Connect() error {
	ok, err := s.WaitForLink(s.LinkTimeout)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLinkTimeout
	}
	if s.CurrentBaud != s.Baudrate {
		if err := s.SetBaudRate(s.Baudrate); err != nil {
			return err
		}
	}
	if err := s.DetectChip(); err != nil {
		return err
	}

	if _, err := s.FlashReadID(0x9F); err != nil && !errors.Is(err, ErrUnsupportedCommand) {
		return err
	}
	if s.FlashSize == 0 && s.flashIDKnown {
		s.FlashSize = 1 << s.FlashID[2]
	}
	if s.FlashSize == 0 && s.bootKnown && s.Bootloader.FlashSize != 0 {
		s.FlashSize = s.Bootloader.FlashSize
	}
	if s.FlashSize == 0 {
		size, err := s.FlashDetectSize()
		if err != nil {
			return err
		}
		s.FlashSize = size
	}
	return nil
}

// WaitForLink repeatedly sends LinkCheck (with a short per-attempt read
// timeout) until the chip answers with value 0, or timeout elapses.
func (s *Session) WaitForLink(timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	prev := s.CmndTimeout
	s.port.SetReadTimeout(5 * time.Millisecond)
	defer s.port.SetReadTimeout(prev)

	cmnd := packet.LinkCheckCmnd{}
	connected := false
	for time.Now().Before(deadline) {
		resp, err := s.Command(cmnd)
		if err != nil {
			continue
		}
		if r, ok := resp.(*packet.LinkCheckResp); ok && r.Value == 0 {
			connected = true
			break
		}
	}
	s.Drain()
	return connected, nil
}

// SetBaudRate asks the chip to switch to baudrate, then flips the local
// port to match once the command bytes (sent at the old rate) have had
// time to clear the chip's UART.
func (s *Session) SetBaudRate(baudrate int) error {
	cmnd := packet.SetBaudRateCmnd{BaudRate: uint32(baudrate), DelayMs: 20}
	_, err := s.commandAfterSend(cmnd, func() error {
		s.debugf("uart: changing port baudrate to %d", baudrate)
		time.Sleep(time.Duration(cmnd.DelayMs) * time.Millisecond / 2)
		if err := s.port.SetBaudRate(baudrate); err != nil {
			return err
		}
		s.CurrentBaud = baudrate
		return nil
	})
	return err
}

// DetectChip fingerprints the bootloader by CRC-32'ing its first 256 (or,
// for BK7231N's boot ROM, 257) bytes, falling back to reading those bytes
// outright and comparing locally when the fingerprint is unrecognized.
func (s *Session) DetectChip() error {
	crc, err := s.ReadFlashRangeCRC(0, 256)
	if err != nil {
		return err
	}

	if bl, ok := chip.BootloaderByCRC(crc); ok {
		s.Bootloader, s.bootKnown = bl, true
		s.ProtocolType, s.protocolKnown = bl.Protocol, true
		s.ChipType, s.chipKnown = bl.Chip, bl.Chip != 0
	} else {
		data, err := s.FlashReadBytes(0, 257, false)
		if err != nil {
			return err
		}
		switch {
		case crc == codec.CRC32(data[0:257], 0):
			// BK7231N boot ROM CRCs an end-inclusive range.
			s.ProtocolType, s.protocolKnown = chip.Full, true
			s.ChipType, s.chipKnown = chip.BK7231N, true
		case crc == codec.CRC32(data[0:256], 0):
			s.ProtocolType, s.protocolKnown = chip.BasicBeken, true
		default:
			return fmt.Errorf("%w: range 0:256 CRC 0x%08X", ErrCRCMismatch, crc)
		}
	}

	if s.CheckProtocol(0x11, chip.Short) {
		resp, err := s.Command(packet.BootVersionCmnd{})
		if err != nil {
			return err
		}
		if v, ok := resp.(*packet.BootVersionResp); ok && string(v.Version) != "\x07" {
			s.BootVersion = trimVersion(v.Version)
		}
	}
	if s.CheckProtocol(0x03, chip.Short) {
		id, err := s.RegisterRead(0x800000) // SCTRL_CHIP_ID
		if err != nil {
			return err
		}
		s.ChipID, s.chipIDKnown = id, true
	}
	return nil
}

func trimVersion(v []byte) string {
	start, end := 0, len(v)
	for start < end && (v[start] == 0 || v[start] == ' ') {
		start++
	}
	for end > start && (v[end-1] == 0 || v[end-1] == ' ') {
		end--
	}
	return string(v[start:end])
}
