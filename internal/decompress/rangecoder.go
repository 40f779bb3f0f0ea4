package decompress

import "fmt"

// Binary range decoder shared by the KLE and LZR token streams. Both
// formats use 8-bit adaptive probabilities initialized to 0x80 with the
// same move-to-front update step (shift-by-3 decay, +31 on a set bit).

const probInit = 0x80

type rangeDecoder struct {
	in   []byte
	pos  int
	rng  uint32
	code uint32
}

// newRangeDecoder primes the decoder with the 32-bit code word that leads
// the stream.
func newRangeDecoder(in []byte) (*rangeDecoder, error) {
	if len(in) < 4 {
		return nil, fmt.Errorf("%w: stream shorter than the code word", ErrUnsupportedFormat)
	}
	return &rangeDecoder{
		in:   in,
		pos:  4,
		rng:  0xffffffff,
		code: uint32(in[0])<<24 | uint32(in[1])<<16 | uint32(in[2])<<8 | uint32(in[3]),
	}, nil
}

func (rc *rangeDecoder) normalize() error {
	if rc.rng < 1<<24 {
		if rc.pos >= len(rc.in) {
			return fmt.Errorf("%w: truncated stream", ErrUnsupportedFormat)
		}
		rc.rng <<= 8
		rc.code = rc.code<<8 | uint32(rc.in[rc.pos])
		rc.pos++
	}
	return nil
}

// decodeBit decodes one bit against an adaptive probability.
func (rc *rangeDecoder) decodeBit(prob *byte) (int, error) {
	if err := rc.normalize(); err != nil {
		return 0, err
	}
	bound := (rc.rng >> 8) * uint32(*prob)
	*prob -= *prob >> 3
	if rc.code < bound {
		rc.rng = bound
		*prob += 31
		return 1, nil
	}
	rc.code -= bound
	rc.rng -= bound
	return 0, nil
}

// bitTree decodes a value through a probability tree of the given size.
// The returned value is in [size, 2*size); callers subtract size.
func (rc *rangeDecoder) bitTree(probs []byte, size int) (int, error) {
	node := 1
	for node < size {
		bit, err := rc.decodeBit(&probs[node])
		if err != nil {
			return 0, err
		}
		node = node<<1 | bit
	}
	return node, nil
}

// directBits decodes n equiprobable bits.
func (rc *rangeDecoder) directBits(n int) (uint32, error) {
	var v uint32
	for i := 0; i < n; i++ {
		if err := rc.normalize(); err != nil {
			return 0, err
		}
		rc.rng >>= 1
		rc.code -= rc.rng
		t := uint32(0) - (rc.code >> 31)
		rc.code += rc.rng & t
		v = v<<1 | (t + 1)
	}
	return v, nil
}

func fillProbs(p []byte) {
	for i := range p {
		p[i] = probInit
	}
}
