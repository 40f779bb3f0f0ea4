// Package decompress decodes the compression formats found inside
// decrypted PSP payloads: standard GZIP plus the proprietary KL4E, KL3E
// and 2RLZ token streams. Format selection is by magic-byte inspection of
// the payload, never by the outer image tag.
package decompress

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrNotCompressed indicates no recognized compression magic. A
	// meaningful, expected outcome when probing speculatively.
	ErrNotCompressed = errors.New("decompress: no recognized compression magic")
	// ErrOutputTooSmall indicates the decoded data would exceed the
	// caller-supplied capacity. Nothing is ever written past it.
	ErrOutputTooSmall = errors.New("decompress: output exceeds capacity")
	// ErrUnsupportedFormat indicates a recognized magic with an
	// undecodable stream behind it (corrupt or truncated input).
	ErrUnsupportedFormat = errors.New("decompress: unsupported or corrupt stream")
)

// Format identifies a compression scheme by its leading magic.
type Format int

const (
	FormatUnknown Format = iota
	FormatGZIP
	FormatKL4E
	FormatKL3E
	Format2RLZ
)

func (f Format) String() string {
	switch f {
	case FormatGZIP:
		return "GZIP"
	case FormatKL4E:
		return "KL4E"
	case FormatKL3E:
		return "KL3E"
	case Format2RLZ:
		return "2RLZ"
	default:
		return "unknown"
	}
}

// Detect classifies buf by its leading bytes.
func Detect(buf []byte) Format {
	if len(buf) < 4 {
		return FormatUnknown
	}
	switch {
	case buf[0] == 0x1f && buf[1] == 0x8b:
		return FormatGZIP
	case bytes.Equal(buf[:4], []byte("KL4E")):
		return FormatKL4E
	case bytes.Equal(buf[:4], []byte("KL3E")):
		return FormatKL3E
	case bytes.Equal(buf[:4], []byte("2RLZ")):
		return Format2RLZ
	}
	return FormatUnknown
}

// IsCompressed reports whether buf starts with any recognized magic.
func IsCompressed(buf []byte) bool {
	return Detect(buf) != FormatUnknown
}

// Decompress decodes buf into a fresh buffer of at most capacity bytes.
// The returned string is a human-readable trace of the decode for optional
// display; it is not part of the correctness contract. No partial output is
// returned on failure.
func Decompress(buf []byte, capacity int) ([]byte, string, error) {
	trace := &strings.Builder{}

	format := Detect(buf)
	if format == FormatUnknown {
		return nil, trace.String(), ErrNotCompressed
	}
	fmt.Fprintf(trace, "format: %s, input %d bytes, capacity %d\n", format, len(buf), capacity)
	if capacity <= 0 {
		return nil, trace.String(), fmt.Errorf("%w: capacity %d", ErrOutputTooSmall, capacity)
	}

	var out []byte
	var err error
	switch format {
	case FormatGZIP:
		out, err = gunzip(buf, capacity)
	case FormatKL4E:
		out, err = decompressKLE(buf[4:], capacity, 4)
	case FormatKL3E:
		out, err = decompressKLE(buf[4:], capacity, 3)
	case Format2RLZ:
		out, err = decompressLZR(buf[4:], capacity)
	}
	if err != nil {
		fmt.Fprintf(trace, "decode failed: %v\n", err)
		return nil, trace.String(), err
	}

	fmt.Fprintf(trace, "decoded %d bytes\n", len(out))
	return out, trace.String(), nil
}

// gunzip inflates a gzip stream, refusing to decode past capacity.
func gunzip(buf []byte, capacity int) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	defer zr.Close()

	// Read one byte past capacity so overflow is detectable without
	// letting a hostile stream drive allocation.
	out, err := io.ReadAll(io.LimitReader(zr, int64(capacity)+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if len(out) > capacity {
		return nil, ErrOutputTooSmall
	}
	return out, nil
}
