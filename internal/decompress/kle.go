package decompress

import "fmt"

// KLE (KL4E/KL3E) decoder. The byte after the magic carries the stream
// flags: the top bit marks a stored (uncompressed) stream, otherwise an
// adaptive range-coded token stream follows. KL4E and KL3E share the token
// grammar and differ in how many high bits of the previous output byte
// form the literal context.

const (
	kleStoredFlag = 0x80
	kleEndSlot    = 63 // distance slot reserved as the end-of-stream marker
)

type kleDecoder struct {
	rc      *rangeDecoder
	ctxBits uint

	litProbs  [][256]byte
	matchFlag [2]byte // indexed by 0 = after literal, 1 = after match
	lenProbs  [16]byte
	distSlots [64]byte
}

// decompressKLE decodes the stream following a KL4E/KL3E magic. in starts
// at the flags byte; ctxBits is 4 for KL4E and 3 for KL3E.
func decompressKLE(in []byte, capacity int, ctxBits uint) ([]byte, error) {
	if len(in) < 1 {
		return nil, fmt.Errorf("%w: missing stream flags", ErrUnsupportedFormat)
	}
	flags := in[0]

	if flags&kleStoredFlag != 0 {
		stored := in[1:]
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

	d := &kleDecoder{
		rc:       rc,
		ctxBits:  ctxBits,
		litProbs: make([][256]byte, 1<<ctxBits),
	}
	for i := range d.litProbs {
		fillProbs(d.litProbs[i][:])
	}
	fillProbs(d.matchFlag[:])
	fillProbs(d.lenProbs[:])
	fillProbs(d.distSlots[:])

	return d.decode(capacity)
}

func (d *kleDecoder) decode(capacity int) ([]byte, error) {
	out := make([]byte, 0, capacity)
	state := 0
	var lastByte byte

	for {
		bit, err := d.rc.decodeBit(&d.matchFlag[state])
		if err != nil {
			return nil, err
		}

		if bit == 0 {
			// Literal, coded through the context tree selected by the
			// high bits of the previous byte.
			ctx := lastByte >> (8 - d.ctxBits)
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

		length, err := d.matchLength()
		if err != nil {
			return nil, err
		}
		dist, done, err := d.matchDistance()
		if err != nil {
			return nil, err
		}
		if done {
			return out, nil
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

func (d *kleDecoder) matchLength() (int, error) {
	node, err := d.rc.bitTree(d.lenProbs[:], 0x10)
	if err != nil {
		return 0, err
	}
	slot := node - 0x10
	length := slot + 2
	if slot == 0x0f {
		ext, err := d.rc.directBits(8)
		if err != nil {
			return 0, err
		}
		length += int(ext)
	}
	return length, nil
}

// matchDistance decodes a distance slot plus its direct bits; the reserved
// top slot signals end of stream.
func (d *kleDecoder) matchDistance() (dist int, done bool, err error) {
	node, err := d.rc.bitTree(d.distSlots[:], 0x40)
	if err != nil {
		return 0, false, err
	}
	slot := node - 0x40
	if slot == kleEndSlot {
		return 0, true, nil
	}
	if slot < 4 {
		return slot + 1, false, nil
	}
	nbits := slot/2 - 1
	base := (2 | slot&1) << nbits
	extra, err := d.rc.directBits(nbits)
	if err != nil {
		return 0, false, err
	}
	return base + int(extra) + 1, false, nil
}
