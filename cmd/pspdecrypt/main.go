package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/xeonliu/pspdecrypt/internal/core"
)

var (
	ConfigFlag  string
	VerboseFlag bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pspdecrypt",
		Short: "PSP firmware decryption tools",
	}
	rootCmd.PersistentFlags().StringVarP(&ConfigFlag, "config", "c", ".", "Path to the config directory")
	rootCmd.PersistentFlags().BoolVarP(&VerboseFlag, "verbose", "v", false, "Log at debug level")

	decryptCmd.Flags().StringVarP(&SecureIDFlag, "secureid", "s", "", "Hex-encoded 16-byte per-console secure ID")
	decryptCmd.Flags().BoolVar(&NoDecompFlag, "no-decomp", false, "Leave the decrypted output compressed")
	decryptCmd.Flags().StringVarP(&OutFlag, "out", "o", "", "Output file (defaults to <input>.dec)")

	inspectCmd.Flags().BoolVar(&DumpFlag, "dump", false, "Dump the full parsed header")

	iplCmd.Flags().IntVar(&StageFlag, "stage", 1, "Loader stage to process (1, 2 or 3)")
	iplCmd.Flags().StringVarP(&OutFlag, "out", "o", "", "Output file (defaults to <input>.dec)")

	decompressCmd.Flags().IntVar(&MaxSizeFlag, "max-size", 0, "Output capacity in bytes (defaults to a multiple of the input size)")
	decompressCmd.Flags().StringVarP(&OutFlag, "out", "o", "", "Output file (defaults to <input>.dec)")

	rootCmd.AddCommand(decryptCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(iplCmd)
	rootCmd.AddCommand(decompressCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// setup loads the config and builds the shared logger. Called at the top of
// every command's Run.
func setup() (*core.Config, *logrus.Logger) {
	config, err := core.LoadConfig(ConfigFlag)
	if err != nil {
		fmt.Println("error loading config:", err)
		os.Exit(1)
	}
	if VerboseFlag {
		config.LogLevel = "debug"
	}
	logger, err := core.NewLogger(config)
	if err != nil {
		fmt.Println("error initializing logger:", err)
		os.Exit(1)
	}
	return config, logger
}

// outputPath picks the destination file for a command's output: the --out
// flag when given, otherwise the input name with a .dec suffix placed in the
// configured output directory.
func outputPath(config *core.Config, inputPath string) string {
	if OutFlag != "" {
		return OutFlag
	}
	if config.OutputDir != "" {
		return filepath.Join(config.OutputDir, filepath.Base(inputPath)+".dec")
	}
	return inputPath + ".dec"
}

var OutFlag string
