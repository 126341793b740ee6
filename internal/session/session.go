// Package session implements the host side of a BK72xx bootloader
// conversation: linking, chip/bootloader detection, and the low- and
// high-level flash commands built on top of the packet protocol. It plays
// the role the teacher's single BK7231Protocol/zmodem.Receiver struct
// plays — one stateful type, its behavior split across files by concern,
// rather than the original's chain of Python mixins.
package session

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/tuya-cloudcutter/bk7231tools/internal/chip"
)

// Port is the minimal transport a Session depends on: byte I/O plus the
// two control lines used to reset the chip into its bootloader, and live
// baud-rate/timeout changes. internal/serialport implements this over
// go.bug.st/serial; tests implement it over an in-memory pipe.
type Port interface {
	io.ReadWriteCloser
	SetRTS(on bool) error
	SetDTR(on bool) error
	SetBaudRate(baud int) error
	SetReadTimeout(d time.Duration) error
}

var (
	ErrLinkTimeout        = errors.New("session: timed out attempting to link with chip")
	ErrUnsupportedCommand = errors.New("session: command not supported by detected protocol")
	ErrCRCMismatch        = errors.New("session: chip CRC does not match calculated CRC")
	ErrFlashTooSmall      = errors.New("session: requested range exceeds detected flash size")
	ErrUnknownFlashID     = errors.New("session: flash ID not recognized")
)

// Session holds one bootloader link's state: the open transport, detected
// chip/protocol/bootloader, and the retry/timeout knobs that govern every
// command sent over it.
type Session struct {
	port Port
	r    *bufio.Reader
	log  *slog.Logger

	// Baudrate is the operating baud rate negotiated after linking;
	// CurrentBaud tracks what the port is actually set to right now, so
	// Connect only issues SetBaudRate when they differ.
	Baudrate    int
	CurrentBaud int

	LinkTimeout time.Duration
	CmndTimeout time.Duration

	ProtocolType  chip.ProtocolType
	protocolKnown bool
	ChipType      chip.Type
	chipKnown     bool
	Bootloader    chip.Bootloader
	bootKnown     bool
	BootVersion   string
	ChipID        uint32
	chipIDKnown   bool

	FlashID      [3]byte
	flashIDKnown bool
	FlashSize    uint32

	// CRCSpeedBps estimates how fast the chip computes a CheckCRC over a
	// range, so ReadFlashRangeCRC can raise the read deadline before
	// asking for a large range instead of just timing out.
	CRCSpeedBps uint32

	ReadRetries  int
	WriteRetries int

	// flashEraseChecked is set once a 4K sector erase has been verified
	// empty; subsequent erases skip the pre/post CRC bracket.
	flashEraseChecked bool

	// BootProtectionBypass makes FixAddr re-map addresses into the
	// 0x200000-0x3FFFFF window, which several bootloaders treat as
	// unprotected. Only the CheckCRC ranges built by ReadFlashRangeCRC are
	// re-mapped; read, write and erase commands carry their address
	// unchanged. FlashDetectSize disables it for the duration of its
	// wraparound probe.
	BootProtectionBypass bool
}

// New builds a Session over an already-open port, at initialBaud.
func New(port Port, initialBaud int, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		port:                  port,
		r:                     bufio.NewReader(port),
		log:                   log,
		Baudrate:              initialBaud,
		CurrentBaud:           initialBaud,
		LinkTimeout:           10 * time.Second,
		CmndTimeout:           time.Second,
		CRCSpeedBps:           400_000,
		ReadRetries:           20,
		WriteRetries:          3,
		BootProtectionBypass:  true,
	}
}

// Close releases the underlying port.
func (s *Session) Close() error {
	return s.port.Close()
}

// ChipInfo summarizes what's known about the connected chip, falling back
// through boot version, chip type, and raw chip ID register, the same
// priority order as the original tool's legacy chip_info property.
func (s *Session) ChipInfo() string {
	if s.BootVersion != "" {
		return s.BootVersion
	}
	if s.chipKnown {
		return s.ChipType.String()
	}
	if s.chipIDKnown {
		return fmt.Sprintf("0x%X", s.ChipID)
	}
	return "Unknown"
}

func (s *Session) debugf(format string, args ...any) {
	s.log.Debug(fmt.Sprintf(format, args...))
}
