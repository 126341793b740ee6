package main

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func newReadFlashCmd() *cobra.Command {
	var (
		start    uint32
		length   uint32
		output   string
		noVerify bool
	)

	cmd := &cobra.Command{
		Use:   "read-flash",
		Short: "Read a range of flash into a local file",
	}
	f := addSerialFlags(cmd)
	cmd.Flags().Uint32VarP(&start, "start-address", "s", 0, "start address to read from")
	cmd.Flags().Uint32VarP(&length, "length", "l", 0, "number of bytes to read (default: detected flash size)")
	cmd.Flags().StringVarP(&output, "output-file", "o", "flash_dump.bin", "output file path")
	cmd.Flags().BoolVar(&noVerify, "no-verify-checksum", false, "skip the chip-side CRC verification pass")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		s, err := f.connect()
		if err != nil {
			return err
		}
		defer s.Close()

		readLength := length
		if readLength == 0 {
			readLength = s.FlashSize - start
		}

		out, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("creating %s: %w", output, err)
		}
		defer out.Close()

		bar := progressbar.DefaultBytes(int64(readLength), "reading flash")
		err = s.FlashRead(out, start, readLength, !noVerify, func(n int) {
			bar.Add(n)
		})
		if err != nil {
			return fmt.Errorf("read-flash: %w", err)
		}
		fmt.Printf("\nwrote %d bytes to %s\n", readLength, output)
		return nil
	}
	return cmd
}
