package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/xeonliu/pspdecrypt/internal/decompress"
)

var decompressCmd = &cobra.Command{
	Use:   "decompress [file]",
	Short: "Decompresses a firmware payload (GZIP, KL4E, KL3E or 2RLZ)",
	Run:   DecompressCommand,
	Args:  cobra.ExactArgs(1),
}

var MaxSizeFlag int

func DecompressCommand(cmd *cobra.Command, args []string) {
	config, logger := setup()

	in, err := os.ReadFile(args[0])
	if err != nil {
		logger.Errorf("error reading %s: %v", args[0], err)
		os.Exit(1)
	}

	// Firmware payloads carry no decompressed-size field, so the capacity
	// comes from the flag or a configured multiple of the input size.
	capacity := MaxSizeFlag
	if capacity <= 0 {
		multiplier := config.Decompress.MaxSizeMultiplier
		if multiplier <= 0 {
			multiplier = 10
		}
		capacity = multiplier * len(in)
	}

	out, trace, err := decompress.Decompress(in, capacity)
	if trace != "" {
		logger.Debug(trace)
	}
	if err != nil {
		logger.Errorf("error decompressing %s: %v", args[0], err)
		os.Exit(1)
	}

	outPath := outputPath(config, args[0])
	logger.Infof("decompressed %d bytes to %s", len(out), outPath)
	writeOutput(logger, outPath, out)
}
