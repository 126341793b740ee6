// Command bk72xxtool provisions and inspects BK72xx wireless
// microcontrollers over a serial bootloader link, and dissects firmware
// dumps pulled from their flash.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "bk72xxtool",
		Short:         "Provision and inspect BK72xx chips over a serial link",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(
		newChipInfoCmd(),
		newReadFlashCmd(),
		newWriteFlashCmd(),
		newDissectDumpCmd(),
	)
	return root
}
