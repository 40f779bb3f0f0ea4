package prx

import (
	"errors"
	"fmt"

	b "github.com/xeonliu/pspdecrypt/internal/core/bytes"
)

// HeaderSize is the fixed size of the ~PSP header that leads every
// encrypted executable image.
const HeaderSize = 0x150

// PSPMagic is the big-endian "~PSP" signature at offset 0.
const PSPMagic = 0x7E505350

// ErrInputTooSmall indicates a buffer below the fixed header size. It is
// reported before any header field is touched.
var ErrInputTooSmall = errors.New("prx: input below the 0x150-byte header size")

// Header is the 0x150-byte leading structure of a ~PSP image, in
// declaration (wire) order, little-endian. Field offsets follow the
// published layout: ElfSize at 0x28, PspSize at 0x2C, DecryptMode at 0x7C,
// CompSize at 0xB0, Tag at 0xD0. The header is read-only input and is
// parsed fresh on every call; all size fields are untrusted hints.
type Header struct {
	Magic         [4]byte    // 0x00
	Attribute     uint16     // 0x04
	CompAttribute uint16     // 0x06
	ModuleVerLo   uint8      // 0x08
	ModuleVerHi   uint8      // 0x09
	ModName       [28]byte   // 0x0A
	Version       uint8      // 0x26
	NSegments     uint8      // 0x27
	ElfSize       uint32     // 0x28
	PspSize       uint32     // 0x2C
	Entry         uint32     // 0x30
	ModInfoOffset uint32     // 0x34
	BssSize       uint32     // 0x38
	SegAlign      [4]uint16  // 0x3C
	SegAddress    [4]uint32  // 0x44
	SegSize       [4]uint32  // 0x54
	Reserved      [5]uint32  // 0x64
	DevkitVersion uint32     // 0x78
	DecryptMode   uint8      // 0x7C
	Padding       uint8      // 0x7D
	OverlapSize   uint16     // 0x7E
	KeyData0      [0x30]byte // 0x80
	CompSize      int32      // 0xB0
	Field0xB4     uint32     // 0xB4
	Reserved2     [2]uint32  // 0xB8
	KeyData1      [0x10]byte // 0xC0
	Tag           uint32     // 0xD0
	SCheck        [0x58]byte // 0xD4
	KeyData2      uint32     // 0x12C
	OETag         uint32     // 0x130
	KeyData3      [0x1C]byte // 0x134
}

// SCEMagic is the big-endian "~SCE" signature of the optional wrapper
// header some firmware files carry in front of the ~PSP image.
const SCEMagic = 0x7E534345

const minSCEHeaderSize = 0x40

// StripSCE removes the ~SCE wrapper header when one is present and returns
// the enclosed image. Images without the wrapper pass through unchanged.
// The wrapper's own size field, a little-endian word at offset 4, tells how
// many bytes to skip.
func StripSCE(image []byte) ([]byte, error) {
	if len(image) < 8 || beWord(image) != SCEMagic {
		return image, nil
	}
	size := uint32(image[4]) | uint32(image[5])<<8 | uint32(image[6])<<16 | uint32(image[7])<<24
	if size < minSCEHeaderSize {
		return nil, fmt.Errorf("%w: SCE wrapper declares a %#x-byte header", ErrInputTooSmall, size)
	}
	if uint64(size)+4 > uint64(len(image)) {
		return nil, fmt.Errorf("%w: no data after the %#x-byte SCE wrapper", ErrInputTooSmall, size)
	}
	return image[size:], nil
}

func beWord(buf []byte) uint32 {
	return uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
}

// ParseHeader reads the leading header of image without copying the
// payload. Fails with ErrInputTooSmall before touching any field when the
// buffer is short.
func ParseHeader(image []byte) (*Header, error) {
	if len(image) < HeaderSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInputTooSmall, len(image))
	}
	var hdr Header
	b.StructFromBytes(image[:HeaderSize], &hdr)
	return &hdr, nil
}

// HasMagic reports whether the header carries the ~PSP signature.
func (h *Header) HasMagic() bool {
	return beWord(h.Magic[:]) == PSPMagic
}

// Compressed reports the header's compression indicator. The authoritative
// check for the payload is still the magic sniff after decryption.
func (h *Header) Compressed() bool {
	return h.CompAttribute&1 != 0
}

// ResolvedCompSize returns the size of the decrypted (possibly still
// compressed) module data. A negative stored value means the field is
// unused and the payload spans the rest of the image.
func (h *Header) ResolvedCompSize() uint32 {
	if h.CompSize < 0 {
		if h.PspSize < HeaderSize {
			return 0
		}
		return h.PspSize - HeaderSize
	}
	return uint32(h.CompSize)
}
