// Software emulation of the PSP's KIRK cryptographic co-processor.
//
// The hardware exposes a fixed repertoire of numbered commands, each
// operating on a single caller-supplied buffer whose leading bytes form a
// small command header. This package reproduces the subset of that
// repertoire needed to decrypt retail executables and bootloaders. Every
// command is a deterministic, synchronous transform: no randomness, no
// retained state beyond the read-only key vault.
package kirk

import (
	"crypto/aes"
	"errors"
	"fmt"

	b "github.com/xeonliu/pspdecrypt/internal/core/bytes"
)

var (
	// ErrInvalidSeed indicates a command header referenced a key seed with
	// no vault entry. Expected for unsupported image variants.
	ErrInvalidSeed = errors.New("kirk: no key vault entry for seed")
	// ErrMalformedCommand indicates the input buffer is shorter than the
	// command's header demands, or the header fields are inconsistent.
	ErrMalformedCommand = errors.New("kirk: malformed command input")
	// ErrIntegrityCheckFailed indicates a CMAC over the command header or
	// payload did not match. Fails the command, never the process.
	ErrIntegrityCheckFailed = errors.New("kirk: integrity check failed")
	// ErrInvalidFuse indicates a per-console secret that is not exactly
	// 16 bytes.
	ErrInvalidFuse = errors.New("kirk: fuse id must be exactly 16 bytes")
)

// Command identifies a KIRK operation. The values are the hardware command
// numbers.
type Command uint32

const (
	CmdDecryptPrivate Command = 1  // signed blob decrypt with CMAC check
	CmdEncryptIV0     Command = 4  // CBC encrypt, vault key, zero IV
	CmdEncryptFuse    Command = 5  // CBC encrypt, per-console key
	CmdDecryptIV0     Command = 7  // CBC decrypt, vault key, zero IV
	CmdDecryptFuse    Command = 8  // CBC decrypt, per-console key
	CmdVerifyHeader   Command = 10 // CMD1 header CMAC check only
	CmdSHA1           Command = 11 // SHA-1 of a length-prefixed buffer
)

// Mode values carried in command headers.
const (
	modeCmd1       uint32 = 1
	modeEncryptCBC uint32 = 4
	modeDecryptCBC uint32 = 5
)

const (
	cmd1HeaderLen = 0x90
	cbcHeaderLen  = 0x14
	FuseSize      = 16
)

// cmd1Header is the 0x90-byte header of a CMD1/CMD10 blob. The AES and
// CMAC keys are stored encrypted under the CMD1 master key; everything from
// Mode onwards is plaintext and covered by the header CMAC.
type cmd1Header struct {
	AESKey     [16]byte
	CMACKey    [16]byte
	CMACHeader [16]byte
	CMACData   [16]byte
	Unused     [32]byte
	Mode       uint32
	ECDSAFlag  uint32
	Unk68      [8]byte
	DataSize   uint32
	DataOffset uint32
	Unk78      [24]byte
}

// cbcHeader is the 0x14-byte header of a CMD4/5/7/8 blob.
type cbcHeader struct {
	Mode     uint32
	Unk4     uint32
	Unk8     uint32
	KeySeed  uint32
	DataSize uint32
}

// Run dispatches a command by id over in. fuse carries the optional
// per-console secret and is only consulted by the fuse-keyed commands.
func Run(cmd Command, fuse []byte, in []byte) ([]byte, error) {
	switch cmd {
	case CmdDecryptPrivate:
		return DecryptPrivate(in)
	case CmdEncryptIV0:
		return EncryptIV0(in)
	case CmdEncryptFuse:
		return EncryptFuse(fuse, in)
	case CmdDecryptIV0:
		return DecryptIV0(in)
	case CmdDecryptFuse:
		return DecryptFuse(fuse, in)
	case CmdVerifyHeader:
		return nil, VerifyHeader(in)
	case CmdSHA1:
		return SHA1(in)
	default:
		return nil, fmt.Errorf("%w: unknown command %d", ErrMalformedCommand, cmd)
	}
}

// decryptKeyBlock recovers the per-blob AES and CMAC keys from the first
// 0x20 bytes of a CMD1 header.
func decryptKeyBlock(in []byte) (aesKey, cmacKey []byte, err error) {
	master, err := lookupKey(cmd1MasterSeed)
	if err != nil {
		return nil, nil, err
	}
	keys, err := cbcDecrypt(master[:], in[:32])
	if err != nil {
		return nil, nil, err
	}
	return keys[:16], keys[16:32], nil
}

// checkCmd1 parses and integrity-checks a CMD1-form blob, returning the
// header and the recovered payload AES key. Shared by CMD1 and CMD10.
func checkCmd1(in []byte) (*cmd1Header, []byte, error) {
	Init()
	if len(in) < cmd1HeaderLen {
		return nil, nil, fmt.Errorf("%w: %d bytes is below the 0x90-byte command header", ErrMalformedCommand, len(in))
	}

	var hdr cmd1Header
	b.StructFromBytes(in[:cmd1HeaderLen], &hdr)
	if hdr.Mode != modeCmd1 {
		return nil, nil, fmt.Errorf("%w: mode %d in a CMD1 blob", ErrMalformedCommand, hdr.Mode)
	}

	aesKey, cmacKey, err := decryptKeyBlock(in)
	if err != nil {
		return nil, nil, err
	}

	// The header CMAC covers the plaintext tail of the header (0x60..0x90),
	// the data CMAC additionally covers the padding and payload region.
	headerMAC, err := cmacSum(cmacKey, in[0x60:cmd1HeaderLen])
	if err != nil {
		return nil, nil, err
	}
	if !macEqual(headerMAC[:], hdr.CMACHeader[:]) {
		return nil, nil, fmt.Errorf("%w: header CMAC mismatch", ErrIntegrityCheckFailed)
	}

	// Aligned size in uint64: a DataSize near the uint32 ceiling must not
	// wrap to a small value and slip past the bounds check.
	aligned := (uint64(hdr.DataSize) + 15) &^ 15
	end := uint64(cmd1HeaderLen) + uint64(hdr.DataOffset) + aligned
	if end > uint64(len(in)) {
		return nil, nil, fmt.Errorf("%w: data region extends past the buffer", ErrMalformedCommand)
	}
	dataMAC, err := cmacSum(cmacKey, in[0x60:end])
	if err != nil {
		return nil, nil, err
	}
	if !macEqual(dataMAC[:], hdr.CMACData[:]) {
		return nil, nil, fmt.Errorf("%w: data CMAC mismatch", ErrIntegrityCheckFailed)
	}

	return &hdr, aesKey, nil
}

// DecryptPrivate implements CMD1: integrity-check a signed blob and decrypt
// its payload with the per-blob key recovered from the header.
func DecryptPrivate(in []byte) ([]byte, error) {
	hdr, aesKey, err := checkCmd1(in)
	if err != nil {
		return nil, err
	}

	// checkCmd1 verified header+offset+aligned size fit the buffer, so the
	// int conversions cannot wrap here.
	start := cmd1HeaderLen + int(hdr.DataOffset)
	aligned := int((uint64(hdr.DataSize) + 15) &^ 15)
	out, err := cbcDecrypt(aesKey, in[start:start+aligned])
	if err != nil {
		return nil, err
	}
	return out[:hdr.DataSize], nil
}

// VerifyHeader implements CMD10: the CMD1 integrity checks without the
// payload decryption.
func VerifyHeader(in []byte) error {
	_, _, err := checkCmd1(in)
	return err
}

// parseCBC validates the 0x14-byte CBC command header and returns it along
// with the block-aligned payload.
func parseCBC(in []byte, wantMode uint32) (*cbcHeader, []byte, error) {
	Init()
	if len(in) < cbcHeaderLen {
		return nil, nil, fmt.Errorf("%w: %d bytes is below the 0x14-byte command header", ErrMalformedCommand, len(in))
	}

	var hdr cbcHeader
	b.StructFromBytes(in[:cbcHeaderLen], &hdr)
	if hdr.Mode != wantMode {
		return nil, nil, fmt.Errorf("%w: mode %d, want %d", ErrMalformedCommand, hdr.Mode, wantMode)
	}
	if hdr.DataSize == 0 {
		return nil, nil, fmt.Errorf("%w: zero data size", ErrMalformedCommand)
	}
	if hdr.DataSize%aes.BlockSize != 0 {
		return nil, nil, fmt.Errorf("%w: data size %#x is not block aligned", ErrMalformedCommand, hdr.DataSize)
	}
	if uint64(cbcHeaderLen)+uint64(hdr.DataSize) > uint64(len(in)) {
		return nil, nil, fmt.Errorf("%w: data size %#x exceeds the buffer", ErrMalformedCommand, hdr.DataSize)
	}
	return &hdr, in[cbcHeaderLen : cbcHeaderLen+int(hdr.DataSize)], nil
}

// EncryptIV0 implements CMD4: CBC-encrypt the payload with the vault key
// named by the header's key seed.
func EncryptIV0(in []byte) ([]byte, error) {
	hdr, data, err := parseCBC(in, modeEncryptCBC)
	if err != nil {
		return nil, err
	}
	key, err := lookupKey(hdr.KeySeed)
	if err != nil {
		return nil, err
	}
	return cbcEncrypt(key[:], data)
}

// DecryptIV0 implements CMD7: CBC-decrypt the payload with the vault key
// named by the header's key seed.
func DecryptIV0(in []byte) ([]byte, error) {
	hdr, data, err := parseCBC(in, modeDecryptCBC)
	if err != nil {
		return nil, err
	}
	key, err := lookupKey(hdr.KeySeed)
	if err != nil {
		return nil, err
	}
	return cbcDecrypt(key[:], data)
}

// EncryptFuse implements CMD5: CBC-encrypt with the per-console secret. The
// header's key seed is ignored by the hardware for fuse-keyed commands.
func EncryptFuse(fuse []byte, in []byte) ([]byte, error) {
	if len(fuse) != FuseSize {
		return nil, ErrInvalidFuse
	}
	_, data, err := parseCBC(in, modeEncryptCBC)
	if err != nil {
		return nil, err
	}
	return cbcEncrypt(fuse, data)
}

// DecryptFuse implements CMD8: CBC-decrypt with the per-console secret.
func DecryptFuse(fuse []byte, in []byte) ([]byte, error) {
	if len(fuse) != FuseSize {
		return nil, ErrInvalidFuse
	}
	_, data, err := parseCBC(in, modeDecryptCBC)
	if err != nil {
		return nil, err
	}
	return cbcDecrypt(fuse, data)
}

// SHA1 implements CMD11: digest the region described by the leading 32-bit
// length of the buffer.
func SHA1(in []byte) ([]byte, error) {
	Init()
	if len(in) < 4 {
		return nil, fmt.Errorf("%w: missing length prefix", ErrMalformedCommand)
	}
	size := uint32(in[0]) | uint32(in[1])<<8 | uint32(in[2])<<16 | uint32(in[3])<<24
	if uint64(size)+4 > uint64(len(in)) {
		return nil, fmt.Errorf("%w: length prefix %#x exceeds the buffer", ErrMalformedCommand, size)
	}
	digest := sha1Sum(in[4 : 4+size])
	return digest[:], nil
}

// NewCBCBlob assembles a CMD4/5/7/8 input buffer around payload. Payload
// length must already be block aligned; callers pad beforehand.
func NewCBCBlob(cmd Command, seed uint32, payload []byte) ([]byte, error) {
	if len(payload) == 0 || len(payload)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: payload must be a positive multiple of the block size", ErrMalformedCommand)
	}
	mode := modeDecryptCBC
	if cmd == CmdEncryptIV0 || cmd == CmdEncryptFuse {
		mode = modeEncryptCBC
	}
	hdr, _ := b.BytesFromStruct(&cbcHeader{
		Mode:     mode,
		KeySeed:  seed,
		DataSize: uint32(len(payload)),
	})
	return append(hdr, payload...), nil
}
