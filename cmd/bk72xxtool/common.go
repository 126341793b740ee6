package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tuya-cloudcutter/bk7231tools/internal/logging"
	"github.com/tuya-cloudcutter/bk7231tools/internal/serialport"
	"github.com/tuya-cloudcutter/bk7231tools/internal/session"
)

// serialFlags are the connection options shared by every subcommand that
// talks to a chip, mirroring the original CLI's -d/-b/--timeout/-D group.
type serialFlags struct {
	device   string
	baudrate int
	timeout  float64
	debug    bool
}

func addSerialFlags(cmd *cobra.Command) *serialFlags {
	f := &serialFlags{}
	cmd.Flags().StringVarP(&f.device, "device", "d", "", "serial device path (required)")
	cmd.Flags().IntVarP(&f.baudrate, "baudrate", "b", 115200, "serial device baud rate")
	cmd.Flags().Float64Var(&f.timeout, "timeout", 10.0, "timeout for operations in seconds")
	cmd.Flags().BoolVarP(&f.debug, "debug", "D", false, "visualize serial protocol messages")
	cmd.MarkFlagRequired("device")
	return f
}

// connect opens the serial device and links with the chip, returning a
// ready-to-use Session.
func (f *serialFlags) connect() (*session.Session, error) {
	// The link handshake always runs at 115200; Connect then switches to
	// the requested rate.
	const linkBaudrate = 115200
	port, err := serialport.Open(f.device, linkBaudrate)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", f.device, err)
	}

	log := logging.New(os.Stderr, f.debug)
	s := session.New(port, linkBaudrate, log)
	s.Baudrate = f.baudrate
	s.LinkTimeout = time.Duration(f.timeout * float64(time.Second))
	s.CmndTimeout = s.LinkTimeout

	if err := s.Connect(); err != nil {
		port.Close()
		return nil, fmt.Errorf("linking with chip: %w", err)
	}
	return s, nil
}
