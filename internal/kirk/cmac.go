package kirk

import "crypto/aes"

// AES-CMAC (RFC 4493), used by CMD1 and CMD10 for the header and data
// integrity checks. Neither the standard library nor x/crypto ships CMAC,
// so the subkey derivation and tail handling live here.

const cmacSize = aes.BlockSize

// dbl doubles a subkey in GF(2^128): left shift by one, conditionally
// folding in the field constant 0x87.
func dbl(in [cmacSize]byte) [cmacSize]byte {
	var out [cmacSize]byte
	var carry byte
	for i := cmacSize - 1; i >= 0; i-- {
		out[i] = in[i]<<1 | carry
		carry = in[i] >> 7
	}
	if carry != 0 {
		out[cmacSize-1] ^= 0x87
	}
	return out
}

// cmacSum computes the AES-CMAC of msg under key.
func cmacSum(key []byte, msg []byte) ([cmacSize]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return [cmacSize]byte{}, err
	}

	var l [cmacSize]byte
	block.Encrypt(l[:], l[:])
	k1 := dbl(l)
	k2 := dbl(k1)

	n := (len(msg) + cmacSize - 1) / cmacSize
	var last [cmacSize]byte
	complete := n > 0 && len(msg)%cmacSize == 0
	if n == 0 {
		n = 1
	}

	if complete {
		copy(last[:], msg[(n-1)*cmacSize:])
		for i := range last {
			last[i] ^= k1[i]
		}
	} else {
		tail := msg[(n-1)*cmacSize:]
		copy(last[:], tail)
		last[len(tail)] = 0x80
		for i := range last {
			last[i] ^= k2[i]
		}
	}

	var x [cmacSize]byte
	for i := 0; i < n-1; i++ {
		for j := 0; j < cmacSize; j++ {
			x[j] ^= msg[i*cmacSize+j]
		}
		block.Encrypt(x[:], x[:])
	}
	for j := 0; j < cmacSize; j++ {
		x[j] ^= last[j]
	}
	block.Encrypt(x[:], x[:])
	return x, nil
}
