package kirk

import (
	"fmt"

	b "github.com/xeonliu/pspdecrypt/internal/core/bytes"
)

// PackPrivateBlob assembles a valid CMD1-form signed blob around payload,
// the way the vendor packaging tools would: per-blob keys encrypted under
// the master key, CMACs over the plaintext header tail and payload region.
// The hardware never exposes this direction; it exists so tests can build
// decryptable fixtures. Keys must be 16 bytes each.
func PackPrivateBlob(aesKey, cmacKey, payload []byte) ([]byte, error) {
	Init()
	if len(aesKey) != 16 || len(cmacKey) != 16 {
		return nil, fmt.Errorf("%w: blob keys must be 16 bytes", ErrMalformedCommand)
	}

	padded := make([]byte, b.Align16(uint32(len(payload))))
	copy(padded, payload)
	encPayload, err := cbcEncrypt(aesKey, padded)
	if err != nil {
		return nil, err
	}

	master, err := lookupKey(cmd1MasterSeed)
	if err != nil {
		return nil, err
	}
	keyBlock, err := cbcEncrypt(master[:], append(append([]byte{}, aesKey...), cmacKey...))
	if err != nil {
		return nil, err
	}

	hdr := cmd1Header{Mode: modeCmd1, DataSize: uint32(len(payload))}
	copy(hdr.AESKey[:], keyBlock[:16])
	copy(hdr.CMACKey[:], keyBlock[16:32])

	hdrBytes, _ := b.BytesFromStruct(&hdr)
	blob := append(hdrBytes, encPayload...)

	headerMAC, err := cmacSum(cmacKey, blob[0x60:cmd1HeaderLen])
	if err != nil {
		return nil, err
	}
	dataMAC, err := cmacSum(cmacKey, blob[0x60:])
	if err != nil {
		return nil, err
	}
	copy(blob[0x20:0x30], headerMAC[:])
	copy(blob[0x30:0x40], dataMAC[:])
	return blob, nil
}
