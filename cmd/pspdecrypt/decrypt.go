package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/xeonliu/pspdecrypt/internal/core"
	"github.com/xeonliu/pspdecrypt/internal/prx"
)

var decryptCmd = &cobra.Command{
	Use:   "decrypt [image]",
	Short: "Decrypts an encrypted PSP executable",
	Run:   DecryptCommand,
	Args:  cobra.ExactArgs(1),
}

var (
	SecureIDFlag string
	NoDecompFlag bool
)

var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

func DecryptCommand(cmd *cobra.Command, args []string) {
	config, logger := setup()

	image, err := os.ReadFile(args[0])
	if err != nil {
		logger.Errorf("error reading %s: %v", args[0], err)
		os.Exit(1)
	}

	secureID, err := secureIDBytes(config)
	if err != nil {
		logger.Error(err)
		os.Exit(1)
	}

	image, err = prx.StripSCE(image)
	if err != nil {
		logger.Errorf("error unwrapping %s: %v", args[0], err)
		os.Exit(1)
	}

	outPath := outputPath(config, args[0])
	if bytes.HasPrefix(image, elfMagic) {
		logger.Infof("%s is already decrypted, copying to %s", args[0], outPath)
		writeOutput(logger, outPath, image)
		return
	}

	if NoDecompFlag || config.Decrypt.SkipDecompression {
		res, err := prx.Decrypt(image, secureID)
		if err != nil {
			logger.Errorf("error decrypting %s: %v", args[0], err)
			os.Exit(1)
		}
		logger.Infof("decrypted %d bytes (tag %#08x, compressed: %v)", len(res.Data), res.Tag, res.Compressed)
		writeOutput(logger, outPath, res.Data)
		return
	}

	res, trace, err := prx.DecryptInflate(image, secureID)
	if err != nil {
		logger.Errorf("error decrypting %s: %v", args[0], err)
		os.Exit(1)
	}
	if trace != "" {
		logger.Debug(trace)
	}
	if res.Compressed {
		logger.Warnf("%s decrypted but could not be decompressed; writing compressed data", args[0])
	}
	logger.Infof("decrypted %d bytes (tag %#08x)", len(res.Data), res.Tag)
	writeOutput(logger, outPath, res.Data)
}

// secureIDBytes resolves the per-console secure ID, letting the command
// line flag override the config file.
func secureIDBytes(config *core.Config) ([]byte, error) {
	if SecureIDFlag == "" {
		return config.SecureIDBytes()
	}
	id, err := hex.DecodeString(SecureIDFlag)
	if err != nil {
		return nil, fmt.Errorf("secure ID is not valid hex: %w", err)
	}
	if len(id) != prx.SecureIDSize {
		return nil, fmt.Errorf("secure ID must be %d bytes, got %d", prx.SecureIDSize, len(id))
	}
	return id, nil
}

func writeOutput(logger *logrus.Logger, path string, data []byte) {
	if err := os.WriteFile(path, data, 0644); err != nil {
		logger.Errorf("error writing %s: %v", path, err)
		os.Exit(1)
	}
}
