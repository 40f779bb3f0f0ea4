package core

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestConfig_SecureIDBytes(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		want    []byte
		wantErr bool
	}{
		{"empty selects the fuseless path", "", nil, false},
		{
			"valid 16 bytes",
			"000102030405060708090a0b0c0d0e0f",
			[]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15},
			false,
		},
		{"not hex", "zz0102030405060708090a0b0c0d0e0f", nil, true},
		{"wrong length", "0001020304", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.Decrypt.SecureID = tt.id

			got, err := cfg.SecureIDBytes()
			if (err != nil) != tt.wantErr {
				t.Fatalf("SecureIDBytes() error = %v, wantErr %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("SecureIDBytes() mismatch; diff:\n%s", diff)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	cfg := &Config{LogLevel: "debug"}
	logger, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.Debug("decrypting image")
	if !bytes.Contains(buf.Bytes(), []byte("decrypting image")) {
		t.Error("debug log was not written at debug level")
	}

	cfg.LogLevel = "not-a-level"
	if _, err := NewLogger(cfg); err == nil {
		t.Error("expected an error for an unparseable log level")
	}
}
