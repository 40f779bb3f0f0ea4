package main

import (
	"fmt"
	"os"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"github.com/xeonliu/pspdecrypt/internal/prx"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [image]",
	Short: "Prints header metadata of an encrypted PSP executable",
	Run:   InspectCommand,
	Args:  cobra.ExactArgs(1),
}

var DumpFlag bool

func InspectCommand(cmd *cobra.Command, args []string) {
	_, logger := setup()

	image, err := os.ReadFile(args[0])
	if err != nil {
		logger.Errorf("error reading %s: %v", args[0], err)
		os.Exit(1)
	}
	image, err = prx.StripSCE(image)
	if err != nil {
		logger.Errorf("error unwrapping %s: %v", args[0], err)
		os.Exit(1)
	}

	info, err := prx.Inspect(image)
	if err != nil {
		logger.Errorf("error inspecting %s: %v", args[0], err)
		os.Exit(1)
	}

	fmt.Printf("tag:         %#08x\n", info.Tag)
	fmt.Printf("elf size:    %#x (%d bytes)\n", info.ElfSize, info.ElfSize)
	fmt.Printf("psp size:    %#x (%d bytes)\n", info.PspSize, info.PspSize)
	fmt.Printf("data size:   %#x (%d bytes)\n", info.CompSize, info.CompSize)
	fmt.Printf("compressed:  %v\n", info.Compressed)

	if DumpFlag {
		hdr, err := prx.ParseHeader(image)
		if err != nil {
			logger.Errorf("error parsing header: %v", err)
			os.Exit(1)
		}
		fmt.Print(spew.Sdump(hdr))
	}
}
