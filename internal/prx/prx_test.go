package prx

import (
	"bytes"
	"compress/gzip"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	b "github.com/xeonliu/pspdecrypt/internal/core/bytes"
	"github.com/xeonliu/pspdecrypt/internal/kirk"
)

// buildImage encrypts payload into a complete ~PSP image for tag, inverting
// the decryption path: signed-blob tags get a packed blob, fixed-key tags
// get the payload encrypted under the tag's vault seed and masked with the
// tag key (folded with secureID when given).
func buildImage(t *testing.T, tag uint32, payload []byte, secureID []byte) []byte {
	t.Helper()

	entry, err := lookupTag(tag)
	if err != nil {
		t.Fatalf("no key table entry for fixture tag %#08x", tag)
	}

	var body []byte
	if entry.cmd == kirk.CmdDecryptPrivate {
		body, err = kirk.PackPrivateBlob([]byte("image-cipher-key"), []byte("image-signer-key"), payload)
		if err != nil {
			t.Fatalf("packing blob: %v", err)
		}
	} else {
		padded := make([]byte, b.Align16(uint32(len(payload))))
		copy(padded, payload)

		encCmd, runCmd := kirk.CmdEncryptIV0, kirk.CmdEncryptIV0
		mask := entry.key
		if secureID != nil {
			encCmd, runCmd = kirk.CmdEncryptFuse, kirk.CmdEncryptFuse
			for i := range mask {
				mask[i] ^= secureID[i]
			}
		}
		blob, err := kirk.NewCBCBlob(encCmd, entry.seed, padded)
		if err != nil {
			t.Fatalf("building blob: %v", err)
		}
		enc, err := kirk.Run(runCmd, secureID, blob)
		if err != nil {
			t.Fatalf("encrypting payload: %v", err)
		}
		body = make([]byte, len(enc))
		for i := range enc {
			body[i] = enc[i] ^ mask[i%len(mask)]
		}
	}

	hdr := Header{
		Magic:    [4]byte{0x7e, 'P', 'S', 'P'},
		Tag:      tag,
		ElfSize:  uint32(len(payload)),
		PspSize:  uint32(HeaderSize + len(body)),
		CompSize: int32(len(payload)),
	}
	hdrBytes, _ := b.BytesFromStruct(&hdr)
	return append(hdrBytes, body...)
}

func TestInspect(t *testing.T) {
	image := buildImage(t, 0xD91605F0, bytes.Repeat([]byte{0xcd}, 64), nil)

	info, err := Inspect(image)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	want := &Info{Tag: 0xD91605F0, ElfSize: 64, PspSize: uint32(len(image)), CompSize: 64}
	if diff := cmp.Diff(want, info); diff != "" {
		t.Errorf("Inspect() mismatch; diff:\n%s", diff)
	}

	again, _ := Inspect(image)
	if diff := cmp.Diff(info, again); diff != "" {
		t.Errorf("Inspect() is not pure; diff:\n%s", diff)
	}
}

func TestInspectZeroHeader(t *testing.T) {
	info, err := Inspect(make([]byte, HeaderSize))
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if info.Tag != 0 || info.ElfSize != 0 || info.PspSize != 0 || info.Compressed {
		t.Errorf("all-zero header should inspect as zeros, got %+v", info)
	}
}

func TestDecryptInputValidation(t *testing.T) {
	if _, err := Decrypt(make([]byte, HeaderSize-1), nil); !errors.Is(err, ErrInputTooSmall) {
		t.Errorf("short input: error = %v, want ErrInputTooSmall", err)
	}

	image := buildImage(t, 0xD91605F0, make([]byte, 32), nil)
	for _, n := range []int{1, 15, 17} {
		if _, err := Decrypt(image, make([]byte, n)); !errors.Is(err, ErrInvalidSecureID) {
			t.Errorf("%d-byte secure id: error = %v, want ErrInvalidSecureID", n, err)
		}
	}
}

func TestDecryptUnknownTag(t *testing.T) {
	image := make([]byte, HeaderSize+32)
	hdr := Header{Magic: [4]byte{0x7e, 'P', 'S', 'P'}, Tag: 0xDEADBEEF}
	hdrBytes, _ := b.BytesFromStruct(&hdr)
	copy(image, hdrBytes)

	if _, err := Decrypt(image, nil); !errors.Is(err, ErrUnknownTag) {
		t.Errorf("error = %v, want ErrUnknownTag", err)
	}
}

func TestDecryptFixedKeyTag(t *testing.T) {
	payload := bytes.Repeat([]byte("module text section bytes "), 8)
	image := buildImage(t, 0xD91605F0, payload, nil)

	res, err := Decrypt(image, nil)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if res.Tag != 0xD91605F0 {
		t.Errorf("Tag = %#08x, want 0xD91605F0", res.Tag)
	}
	if res.Compressed {
		t.Error("plain payload misreported as compressed")
	}
	if diff := cmp.Diff(payload, res.Data); diff != "" {
		t.Errorf("payload mismatch; diff:\n%s", diff)
	}

	again, err := Decrypt(image, nil)
	if err != nil {
		t.Fatalf("second Decrypt() error = %v", err)
	}
	if !bytes.Equal(res.Data, again.Data) {
		t.Error("identical inputs produced different outputs")
	}
}

func TestDecryptSecureIDTag(t *testing.T) {
	secureID := bytes.Repeat([]byte{0x42}, SecureIDSize)
	payload := bytes.Repeat([]byte{0x77}, 96)
	image := buildImage(t, 0xD91608F0, payload, secureID)

	res, err := Decrypt(image, secureID)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(res.Data, payload) {
		t.Error("secure id round trip mismatch")
	}

	// A different console's id yields garbage, not an integrity error: the
	// CBC path has no MAC to notice.
	other := bytes.Repeat([]byte{0x43}, SecureIDSize)
	wrong, err := Decrypt(image, other)
	if err != nil {
		t.Fatalf("Decrypt() with wrong id: error = %v", err)
	}
	if bytes.Equal(wrong.Data, payload) {
		t.Error("wrong secure id still recovered the payload")
	}
}

func TestDecryptSignedBlobTag(t *testing.T) {
	payload := []byte("devkit module, signed not tag-keyed")
	image := buildImage(t, 0x00000000, payload, nil)

	res, err := Decrypt(image, nil)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(res.Data[:len(payload)], payload) {
		t.Errorf("payload = %q, want %q", res.Data[:len(payload)], payload)
	}

	tampered := append([]byte{}, image...)
	tampered[len(tampered)-1] ^= 0x01
	_, err = Decrypt(tampered, nil)
	if !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("tampered image: error = %v, want ErrDecryptionFailed", err)
	}
	if !errors.Is(err, kirk.ErrIntegrityCheckFailed) {
		t.Errorf("tampered image should surface the integrity failure, got %v", err)
	}
}

func TestDecryptInflate(t *testing.T) {
	elf := append([]byte{0x7f, 'E', 'L', 'F'}, bytes.Repeat([]byte("section data "), 32)...)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(elf); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}

	image := buildImage(t, 0xD91605F0, buf.Bytes(), nil)
	// elf_size describes the decompressed module, not the stored payload.
	hdr, _ := ParseHeader(image)
	hdr.ElfSize = uint32(len(elf))
	hdrBytes, _ := b.BytesFromStruct(hdr)
	copy(image, hdrBytes)

	res, trace, err := DecryptInflate(image, nil)
	if err != nil {
		t.Fatalf("DecryptInflate() error = %v", err)
	}
	if res.Compressed {
		t.Error("inflated result still flagged compressed")
	}
	if !strings.Contains(trace, "GZIP") {
		t.Errorf("trace should name the format, got %q", trace)
	}
	if diff := cmp.Diff(elf, res.Data); diff != "" {
		t.Errorf("inflated payload mismatch; diff:\n%s", diff)
	}
}

func TestDecryptInflatePassthrough(t *testing.T) {
	payload := bytes.Repeat([]byte{0x33}, 48)
	image := buildImage(t, 0xD91606F0, payload, nil)

	res, trace, err := DecryptInflate(image, nil)
	if err != nil {
		t.Fatalf("DecryptInflate() error = %v", err)
	}
	if trace != "" {
		t.Errorf("uncompressed payload should not produce a trace, got %q", trace)
	}
	if !bytes.Equal(res.Data, payload) {
		t.Error("payload mismatch")
	}
}
