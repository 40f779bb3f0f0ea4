// Package ipl decrypts the three-stage initial program loader. Stage 1 and
// stage 3 are sequences of fixed-size signed blocks handed to the crypto
// engine one at a time; the stage 1 plaintext is a chain of load records
// that stage 2 linearizes into a flat memory image.
package ipl

import (
	"errors"
	"fmt"

	b "github.com/xeonliu/pspdecrypt/internal/core/bytes"
	"github.com/xeonliu/pspdecrypt/internal/kirk"
)

var (
	ErrStage1Failed = errors.New("ipl: stage 1 decryption failed")
	ErrStage2Failed = errors.New("ipl: stage 2 linearization failed")
	ErrStage3Failed = errors.New("ipl: stage 3 decryption failed")
)

// BlockSize is the granularity of the encrypted stage 1 and stage 3
// streams. Each block is a self-contained signed blob.
const BlockSize = 0x1000

// Sanity ceiling on the linear image a record chain may describe.
const maxLinearSize = 1 << 24

// loadRecord prefixes each fragment of the stage 1 plaintext. A zero Size
// terminates the chain; a nonzero Entry marks the final record.
type loadRecord struct {
	LoadAddr uint32
	Size     uint32
	Entry    uint32
	Checksum uint32
}

const loadRecordLen = 16

// DecryptStage1 decrypts the block stream of the first loader stage and
// returns the concatenated plaintext record chain.
func DecryptStage1(data []byte) ([]byte, error) {
	out, err := decryptBlocks(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStage1Failed, err)
	}
	return out, nil
}

// DecryptStage3 decrypts the block stream of the final loader stage, which
// uses the same framing as stage 1.
func DecryptStage3(data []byte) ([]byte, error) {
	out, err := decryptBlocks(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStage3Failed, err)
	}
	return out, nil
}

func decryptBlocks(data []byte) ([]byte, error) {
	if len(data) < BlockSize {
		return nil, fmt.Errorf("%d bytes is shorter than one %#x-byte block", len(data), BlockSize)
	}

	var out []byte
	for off := 0; off+BlockSize <= len(data); off += BlockSize {
		plain, err := kirk.DecryptPrivate(data[off : off+BlockSize])
		if err != nil {
			return nil, fmt.Errorf("block at %#x: %w", off, err)
		}
		out = append(out, plain...)
	}
	if len(out) == 0 {
		return nil, errors.New("no blocks produced output")
	}
	return out, nil
}

// LinearizeStage2 walks the decrypted record chain and scatters each
// fragment into a single linear image based at the lowest load address.
// Gaps between fragments are zero filled. The returned address is the
// image base, which is where execution enters the second stage.
func LinearizeStage2(data []byte) ([]byte, uint32, error) {
	type fragment struct {
		rec loadRecord
		off int
	}

	var frags []fragment
	pos := 0
	for pos+loadRecordLen <= len(data) {
		var rec loadRecord
		b.StructFromBytes(data[pos:pos+loadRecordLen], &rec)
		if rec.Size == 0 {
			break
		}
		end := pos + loadRecordLen + int(rec.Size)
		if rec.Size > maxLinearSize || end > len(data) {
			return nil, 0, fmt.Errorf("%w: record at %#x claims %d bytes past the buffer", ErrStage2Failed, pos, rec.Size)
		}
		frags = append(frags, fragment{rec: rec, off: pos + loadRecordLen})
		pos = end
		if rec.Entry != 0 {
			break
		}
	}
	if len(frags) == 0 {
		return nil, 0, fmt.Errorf("%w: no load records found", ErrStage2Failed)
	}

	// Address arithmetic in uint64: a record near the top of the 32-bit
	// address space must not wrap its end address below base.
	base := uint64(frags[0].rec.LoadAddr)
	top := base
	for _, f := range frags {
		addr := uint64(f.rec.LoadAddr)
		end := addr + uint64(f.rec.Size)
		if end > 1<<32 {
			return nil, 0, fmt.Errorf("%w: record at %#x extends past the address space", ErrStage2Failed, addr)
		}
		if addr < base {
			base = addr
		}
		if end > top {
			top = end
		}
	}
	if top-base > maxLinearSize {
		return nil, 0, fmt.Errorf("%w: records span %#x bytes", ErrStage2Failed, top-base)
	}

	out := make([]byte, top-base)
	for _, f := range frags {
		copy(out[uint64(f.rec.LoadAddr)-base:], data[f.off:f.off+int(f.rec.Size)])
	}
	return out, uint32(base), nil
}
