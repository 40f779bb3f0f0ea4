// Package prx decrypts ~PSP executable images. The header's tag selects
// the key material and KIRK command for the payload; an optional 16-byte
// per-device secure ID unlocks device-bound images.
package prx

import (
	"errors"
	"fmt"

	b "github.com/xeonliu/pspdecrypt/internal/core/bytes"
	"github.com/xeonliu/pspdecrypt/internal/decompress"
	"github.com/xeonliu/pspdecrypt/internal/kirk"
)

var (
	// ErrInvalidSecureID indicates a secure ID that is present but not
	// exactly 16 bytes. Reported before any cryptographic work.
	ErrInvalidSecureID = errors.New("prx: secure id must be exactly 16 bytes")
	// ErrDecryptionFailed wraps any command engine failure while
	// decrypting a payload.
	ErrDecryptionFailed = errors.New("prx: decryption failed")
)

// SecureIDSize is the exact length of a per-device secure ID.
const SecureIDSize = 16

// maxOutputSize caps output allocation derived from untrusted header size
// fields. Retail images are well below this.
const maxOutputSize = 1 << 26

// Info is the read-only header metadata returned by Inspect.
type Info struct {
	Tag        uint32
	ElfSize    uint32
	PspSize    uint32
	CompSize   uint32
	Compressed bool
}

// Result is the outcome of a decryption. Compressed reports whether the
// decrypted bytes still carry a compression magic, letting callers
// distinguish "fully decoded" from "decrypted but still compressed".
type Result struct {
	Data       []byte
	Tag        uint32
	Compressed bool
}

// Inspect returns the header metadata of an image without decrypting
// anything. Pure read; calling it twice on identical bytes yields identical
// results.
func Inspect(image []byte) (*Info, error) {
	hdr, err := ParseHeader(image)
	if err != nil {
		return nil, err
	}
	return &Info{
		Tag:        hdr.Tag,
		ElfSize:    hdr.ElfSize,
		PspSize:    hdr.PspSize,
		CompSize:   hdr.ResolvedCompSize(),
		Compressed: hdr.Compressed(),
	}, nil
}

// Decrypt decrypts a full ~PSP image. The input buffer is never mutated;
// the returned buffer is freshly allocated with capacity
// align16(max(psp_size, elf_size)), clamped against the input length so a
// hostile header cannot force an unbounded allocation.
func Decrypt(image []byte, secureID []byte) (*Result, error) {
	hdr, err := ParseHeader(image)
	if err != nil {
		return nil, err
	}
	if secureID != nil && len(secureID) != SecureIDSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidSecureID, len(secureID))
	}

	entry, err := lookupTag(hdr.Tag)
	if err != nil {
		return nil, fmt.Errorf("%w %#08x", ErrUnknownTag, hdr.Tag)
	}

	// The size fields are hints from untrusted input; the image itself
	// bounds how much payload can exist.
	bodyEnd := int(hdr.PspSize)
	if bodyEnd > len(image) || bodyEnd < HeaderSize {
		bodyEnd = len(image)
	}
	body := image[HeaderSize:bodyEnd]
	aligned := len(body) &^ 15
	if aligned == 0 {
		return nil, fmt.Errorf("%w: image has no payload", ErrDecryptionFailed)
	}
	dataSize := int(hdr.ResolvedCompSize())
	if dataSize == 0 || dataSize > aligned {
		dataSize = aligned
	}

	var plain []byte
	switch entry.cmd {
	case kirk.CmdDecryptPrivate:
		// The payload is a self-contained signed blob carrying its own
		// keys; tag key material is not consulted.
		plain, err = kirk.DecryptPrivate(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
		}
	default:
		plain, err = decryptWithTagKey(entry, secureID, body[:aligned], dataSize)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
		}
	}
	if len(plain) > dataSize {
		plain = plain[:dataSize]
	}

	out := make([]byte, outputCapacity(hdr))
	n := copy(out, plain)

	return &Result{
		Data:       out[:n],
		Tag:        hdr.Tag,
		Compressed: decompress.IsCompressed(out[:n]),
	}, nil
}

// DecryptInflate decrypts and then, when the decrypted payload carries a
// compression magic, decompresses it with capacity elf_size. Decompression
// is best effort: on failure the decrypted-but-compressed bytes are
// returned with Compressed still set, alongside the decompressor's
// diagnostic trace.
func DecryptInflate(image []byte, secureID []byte) (*Result, string, error) {
	hdr, err := ParseHeader(image)
	if err != nil {
		return nil, "", err
	}
	res, err := Decrypt(image, secureID)
	if err != nil {
		return nil, "", err
	}
	if !res.Compressed {
		return res, "", nil
	}

	capacity := int(hdr.ElfSize)
	if capacity <= 0 || capacity > maxOutputSize {
		capacity = maxOutputSize
	}
	inflated, trace, err := decompress.Decompress(res.Data, capacity)
	if err != nil {
		return res, trace, nil
	}
	res.Data = inflated
	res.Compressed = false
	return res, trace, nil
}

// decryptWithTagKey runs the fixed-key CBC path: the tag key (folded with
// the secure ID when one is supplied) masks the payload, then the engine
// decrypts under the vault key named by the tag's seed, or under the
// per-device key for secure-id images.
func decryptWithTagKey(entry tagKey, secureID []byte, body []byte, dataSize int) ([]byte, error) {
	mask := entry.key
	cmd := kirk.CmdDecryptIV0
	var fuse []byte
	if secureID != nil {
		for i := range mask {
			mask[i] ^= secureID[i]
		}
		fuse = secureID
		cmd = kirk.CmdDecryptFuse
	}

	masked := make([]byte, len(body))
	for i := range body {
		masked[i] = body[i] ^ mask[i%len(mask)]
	}

	blob, err := kirk.NewCBCBlob(cmd, entry.seed, masked)
	if err != nil {
		return nil, err
	}
	plain, err := kirk.Run(cmd, fuse, blob)
	if err != nil {
		return nil, err
	}
	if dataSize < len(plain) {
		plain = plain[:dataSize]
	}
	return plain, nil
}

// outputCapacity sizes the caller-facing buffer: align16(max(psp, elf)),
// clamped so hostile size fields cannot drive allocation.
func outputCapacity(hdr *Header) int {
	size := hdr.PspSize
	if hdr.ElfSize > size {
		size = hdr.ElfSize
	}
	if size > maxOutputSize {
		size = maxOutputSize
	}
	if size == 0 {
		size = HeaderSize
	}
	return int(b.Align16(size))
}
