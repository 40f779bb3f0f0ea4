package kirk

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"crypto/subtle"
)

// Low-level cipher and digest primitives. Everything here is a pure
// transform over buffers; block alignment is the command layer's problem
// and is enforced before these are called.

// zeroIV is the all-zero IV used by every fixed-key KIRK CBC operation.
var zeroIV [aes.BlockSize]byte

func cbcDecrypt(key []byte, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, zeroIV[:]).CryptBlocks(out, data)
	return out, nil
}

func cbcEncrypt(key []byte, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, zeroIV[:]).CryptBlocks(out, data)
	return out, nil
}

func sha1Sum(data []byte) [sha1.Size]byte {
	return sha1.Sum(data)
}

// macEqual compares two MACs in constant time.
func macEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
