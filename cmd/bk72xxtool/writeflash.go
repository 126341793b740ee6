package main

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func newWriteFlashCmd() *cobra.Command {
	var (
		start       uint32
		input       string
		noVerify    bool
		reallyErase bool
		dryRun      bool
	)

	cmd := &cobra.Command{
		Use:   "write-flash",
		Short: "Program a local file to a range of flash",
	}
	f := addSerialFlags(cmd)
	cmd.Flags().Uint32VarP(&start, "start-address", "s", 0, "start address to write to")
	cmd.Flags().StringVarP(&input, "input-file", "i", "", "input file path (required)")
	cmd.Flags().BoolVar(&noVerify, "no-verify-checksum", false, "skip the chip-side CRC verification pass")
	cmd.Flags().BoolVar(&reallyErase, "really-erase", false, "allow a start address that is not 4K-aligned (erases the whole enclosing sector)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "resolve and log every write without sending it to the chip")
	cmd.MarkFlagRequired("input-file")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		in, err := os.Open(input)
		if err != nil {
			return fmt.Errorf("opening %s: %w", input, err)
		}
		defer in.Close()

		info, err := in.Stat()
		if err != nil {
			return err
		}

		s, err := f.connect()
		if err != nil {
			return err
		}
		defer s.Close()

		bar := progressbar.DefaultBytes(info.Size(), "writing flash")
		ioSize := int(info.Size())
		err = s.ProgramFlash(in, ioSize, start, !noVerify, reallyErase, dryRun, func(n int) {
			bar.Add(n)
		})
		if err != nil {
			return fmt.Errorf("write-flash: %w", err)
		}
		fmt.Printf("\nwrote %s to flash at 0x%06X\n", input, start)
		return nil
	}
	return cmd
}
