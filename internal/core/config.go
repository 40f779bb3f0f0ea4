package core

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config contains all of the configuration options available to the
// decryption tools.
type Config struct {
	// Minimum level of a log required to be written. Options: debug, info, warn, error
	LogLevel string `mapstructure:"log_level"`
	// Full path to file to which logs will be written. Blank will write to stdout.
	LogFilePath string `mapstructure:"log_file_path"`
	// Directory into which decrypted output files are written. Blank writes
	// next to the input file.
	OutputDir string `mapstructure:"output_dir"`

	Decrypt struct {
		// Hex-encoded 16-byte per-console secure ID used by fuse-keyed images.
		SecureID string `mapstructure:"secure_id"`
		// Leave decrypted output compressed instead of inflating it.
		SkipDecompression bool `mapstructure:"skip_decompression"`
	} `mapstructure:"decrypt"`

	Decompress struct {
		// Output capacity as a multiple of the input size, used when the
		// container does not declare a decompressed size.
		MaxSizeMultiplier int `mapstructure:"max_size_multiplier"`
	} `mapstructure:"decompress"`
}

const envVarPrefix = "PSPDECRYPT"

// LoadConfig initializes Viper with the contents of the config file under
// configPath. A missing file is not an error; every option has a default
// and can be set through the environment.
func LoadConfig(configPath string) (*Config, error) {
	viper.AddConfigPath(configPath)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix(envVarPrefix)
	viper.AutomaticEnv()

	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_file_path", "")
	viper.SetDefault("output_dir", "")
	viper.SetDefault("decrypt.secure_id", "")
	viper.SetDefault("decrypt.skip_decompression", false)
	viper.SetDefault("decompress.max_size_multiplier", 10)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	// This allows us to set nested yaml config options through environment
	// variables. For example, decrypt.secure_id can be set using:
	// <envVarPrefix>_DECRYPT_SECURE_ID
	for _, k := range viper.AllKeys() {
		envVar := strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := viper.BindEnv(k, envVarPrefix+"_"+envVar); err != nil {
			return nil, fmt.Errorf("binding %s to %s: %w", k, envVarPrefix+"_"+envVar, err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unmarshaling config object: %w", err)
	}
	return config, nil
}

// SecureIDBytes decodes the configured secure ID. An empty value returns
// nil, which selects the key path that does not depend on per-console fuses.
func (c *Config) SecureIDBytes() ([]byte, error) {
	if c.Decrypt.SecureID == "" {
		return nil, nil
	}
	id, err := hex.DecodeString(c.Decrypt.SecureID)
	if err != nil {
		return nil, fmt.Errorf("secure ID is not valid hex: %w", err)
	}
	if len(id) != 16 {
		return nil, fmt.Errorf("secure ID must be 16 bytes, got %d", len(id))
	}
	return id, nil
}
