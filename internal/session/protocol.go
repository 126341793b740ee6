package session

import (
	"fmt"
	"time"

	"github.com/tuya-cloudcutter/bk7231tools/internal/chip"
	"github.com/tuya-cloudcutter/bk7231tools/internal/packet"
)

// HWReset pulses RTS and DTR together for 100ms, the same reset sequence
// most BK72xx devboards wire RTS/DTR into: reset held + bootloader strap
// asserted, then released back to normal run mode.
func (s *Session) HWReset() error {
	if err := s.port.SetRTS(true); err != nil {
		return err
	}
	if err := s.port.SetDTR(true); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	if err := s.port.SetRTS(false); err != nil {
		return err
	}
	return s.port.SetDTR(false)
}

// Drain discards anything sitting unread in the input buffer, using a
// short deadline rather than blocking for CmndTimeout.
func (s *Session) Drain() {
	prev := s.CmndTimeout
	s.port.SetReadTimeout(time.Millisecond)
	buf := make([]byte, 1024)
	for {
		n, err := s.r.Read(buf)
		if n == 0 || err != nil {
			break
		}
	}
	s.port.SetReadTimeout(prev)
}

// CheckProtocol reports whether the detected protocol (if any) supports
// the given command code at the given framing length.
func (s *Session) CheckProtocol(code byte, long chip.Long) bool {
	return s.protocolKnown && s.ProtocolType.Supports(code, long)
}

// RequireProtocol returns ErrUnsupportedCommand if the detected protocol
// does not support the given command.
func (s *Session) RequireProtocol(code byte, long chip.Long) error {
	if !s.CheckProtocol(code, long) {
		return fmt.Errorf("%w: code=0x%02X long=%v protocol=%s", ErrUnsupportedCommand, code, long, s.ProtocolType)
	}
	return nil
}

// Command sends cmnd and waits for its matching response, if any.
func (s *Session) Command(cmnd packet.Cmnd) (packet.Resp, error) {
	return s.commandAfterSend(cmnd, nil)
}

// commandAfterSend sends cmnd, runs afterSend (if not nil) right after the
// write completes — used by SetBaudRate, which must flip the port's baud
// rate mid-command, after the bytes carrying the new rate have gone out
// at the old one — then waits for the response.
func (s *Session) commandAfterSend(cmnd packet.Cmnd, afterSend func() error) (packet.Resp, error) {
	data := packet.Encode(cmnd)
	s.debugf("tx: % X", data)
	if _, err := s.port.Write(data); err != nil {
		return nil, fmt.Errorf("session: writing command: %w", err)
	}
	if afterSend != nil {
		if err := afterSend(); err != nil {
			return nil, err
		}
	}
	resp, err := packet.DecodeResponse(s.r, cmnd)
	if err != nil {
		return nil, err
	}
	if resp != nil {
		s.debugf("rx: %+v", resp)
	}
	return resp, nil
}
