package decompress

import "fmt"

// LZR (2RLZ) decoder. The byte after the magic is the stream type: a
// negative value marks stored data, otherwise it is the literal-context
// shift for an adaptive range-coded stream in the same family as KLE but
// with a 3-bit literal context taken from a configurable position of the
// previous byte.

const lzrEndSlot = 63

type lzrDecoder struct {
	rc *rangeDecoder
	lc uint

	litProbs  [8][256]byte
	matchFlag [2]byte
	lenProbs  [32]byte
	distSlots [64]byte
}

func decompressLZR(in []byte, capacity int) ([]byte, error) {
	if len(in) < 1 {
		return nil, fmt.Errorf("%w: missing stream type", ErrUnsupportedFormat)
	}

	if int8(in[0]) < 0 {
		// Stored stream: the type byte and code word are skipped and the
		// remainder is raw data.
		if len(in) < 5 {
			return nil, fmt.Errorf("%w: stored stream shorter than its preamble", ErrUnsupportedFormat)
		}
		stored := in[5:]
		if len(stored) > capacity {
			return nil, ErrOutputTooSmall
		}
		out := make([]byte, len(stored))
		copy(out, stored)
		return out, nil
	}

	rc, err := newRangeDecoder(in[1:])
	if err != nil {
		return nil, err
	}

	d := &lzrDecoder{rc: rc, lc: uint(in[0]) & 7}
	for i := range d.litProbs {
		fillProbs(d.litProbs[i][:])
	}
	fillProbs(d.matchFlag[:])
	fillProbs(d.lenProbs[:])
	fillProbs(d.distSlots[:])

	return d.decode(capacity)
}

func (d *lzrDecoder) decode(capacity int) ([]byte, error) {
	out := make([]byte, 0, capacity)
	state := 0
	var lastByte byte

	for {
		bit, err := d.rc.decodeBit(&d.matchFlag[state])
		if err != nil {
			return nil, err
		}

		if bit == 0 {
			ctx := (lastByte >> d.lc) & 7
			node, err := d.rc.bitTree(d.litProbs[ctx][:], 0x100)
			if err != nil {
				return nil, err
			}
			if len(out) >= capacity {
				return nil, ErrOutputTooSmall
			}
			lastByte = byte(node - 0x100)
			out = append(out, lastByte)
			state = 0
			continue
		}

		node, err := d.rc.bitTree(d.lenProbs[:], 0x20)
		if err != nil {
			return nil, err
		}
		slot := node - 0x20
		length := slot + 2
		if slot == 0x1f {
			ext, err := d.rc.directBits(8)
			if err != nil {
				return nil, err
			}
			length += int(ext)
		}

		distNode, err := d.rc.bitTree(d.distSlots[:], 0x40)
		if err != nil {
			return nil, err
		}
		distSlot := distNode - 0x40
		if distSlot == lzrEndSlot {
			return out, nil
		}
		var dist int
		if distSlot < 4 {
			dist = distSlot + 1
		} else {
			nbits := distSlot/2 - 1
			extra, err := d.rc.directBits(nbits)
			if err != nil {
				return nil, err
			}
			dist = (2|distSlot&1)<<nbits + int(extra) + 1
		}

		if dist > len(out) {
			return nil, fmt.Errorf("%w: match distance %d past window", ErrUnsupportedFormat, dist)
		}
		if len(out)+length > capacity {
			return nil, ErrOutputTooSmall
		}
		for i := 0; i < length; i++ {
			lastByte = out[len(out)-dist]
			out = append(out, lastByte)
		}
		state = 1
	}
}
