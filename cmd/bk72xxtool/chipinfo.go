package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newChipInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chip-info",
		Short: "Link with a chip and print what was detected about it",
	}
	f := addSerialFlags(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		s, err := f.connect()
		if err != nil {
			return err
		}
		defer s.Close()

		fmt.Printf("Protocol type: %s\n", s.ProtocolType)
		fmt.Printf("Chip info: %s\n", s.ChipInfo())
		if s.Bootloader.Name != "" {
			fmt.Printf("Bootloader: %s\n", s.Bootloader.Name)
		}
		if s.FlashID != [3]byte{} {
			fmt.Printf("Flash ID: %02X%02X%02X\n", s.FlashID[0], s.FlashID[1], s.FlashID[2])
		}
		fmt.Printf("Flash size: %d bytes\n", s.FlashSize)
		return nil
	}
	return cmd
}
