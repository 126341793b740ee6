// Package serialport is the one package in this tree allowed to import a
// concrete transport. It adapts go.bug.st/serial to the small session.Port
// interface the rest of the toolkit depends on, so everything above it
// stays testable against an in-memory pipe instead of real hardware.
package serialport

import (
	"time"

	"go.bug.st/serial"
)

// Port wraps an open go.bug.st/serial.Port.
type Port struct {
	p serial.Port
}

// Open opens path at baud and returns a Port ready for linking.
func Open(path string, baud int) (*Port, error) {
	p, err := serial.Open(path, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, err
	}
	return &Port{p: p}, nil
}

func (p *Port) Read(b []byte) (int, error)  { return p.p.Read(b) }
func (p *Port) Write(b []byte) (int, error) { return p.p.Write(b) }
func (p *Port) Close() error                { return p.p.Close() }

func (p *Port) SetRTS(on bool) error { return p.p.SetRTS(on) }
func (p *Port) SetDTR(on bool) error { return p.p.SetDTR(on) }

func (p *Port) SetBaudRate(baud int) error {
	return p.p.SetMode(&serial.Mode{BaudRate: baud})
}

func (p *Port) SetReadTimeout(d time.Duration) error {
	return p.p.SetReadTimeout(d)
}
