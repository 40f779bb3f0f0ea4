package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/xeonliu/pspdecrypt/internal/ipl"
)

var iplCmd = &cobra.Command{
	Use:   "ipl [image]",
	Short: "Decrypts a stage of the initial program loader",
	Run:   IPLCommand,
	Args:  cobra.ExactArgs(1),
}

var StageFlag int

func IPLCommand(cmd *cobra.Command, args []string) {
	config, logger := setup()

	image, err := os.ReadFile(args[0])
	if err != nil {
		logger.Errorf("error reading %s: %v", args[0], err)
		os.Exit(1)
	}

	var out []byte
	switch StageFlag {
	case 1:
		out, err = ipl.DecryptStage1(image)
	case 2:
		var entry uint32
		out, entry, err = ipl.LinearizeStage2(image)
		if err == nil {
			logger.Infof("stage 2 entry point: %#08x", entry)
		}
	case 3:
		out, err = ipl.DecryptStage3(image)
	default:
		logger.Errorf("unknown stage %d, expected 1, 2 or 3", StageFlag)
		os.Exit(1)
	}
	if err != nil {
		logger.Errorf("error processing %s: %v", args[0], err)
		os.Exit(1)
	}

	outPath := outputPath(config, args[0])
	logger.Infof("stage %d produced %d bytes, writing to %s", StageFlag, len(out), outPath)
	writeOutput(logger, outPath, out)
}
