package kirk

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/go-test/deep"
)

func TestEncryptDecryptIV0RoundTrip(t *testing.T) {
	plaintext := bytes.Repeat([]byte("sixteen byte msg"), 4)

	encBlob, err := NewCBCBlob(CmdEncryptIV0, 0x4B, plaintext)
	if err != nil {
		t.Fatalf("NewCBCBlob() error = %v", err)
	}
	ciphertext, err := EncryptIV0(encBlob)
	if err != nil {
		t.Fatalf("EncryptIV0() error = %v", err)
	}
	if bytes.Equal(ciphertext, plaintext) {
		t.Fatal("expected EncryptIV0() to have transformed the payload")
	}

	decBlob, err := NewCBCBlob(CmdDecryptIV0, 0x4B, ciphertext)
	if err != nil {
		t.Fatalf("NewCBCBlob() error = %v", err)
	}
	decrypted, err := DecryptIV0(decBlob)
	if err != nil {
		t.Fatalf("DecryptIV0() error = %v", err)
	}
	if diff := deep.Equal(decrypted, plaintext); diff != nil {
		t.Errorf("round trip mismatch: %v", diff)
	}
}

func TestDecryptIV0IsDeterministic(t *testing.T) {
	blob, _ := NewCBCBlob(CmdDecryptIV0, 0x53, bytes.Repeat([]byte{0xa5}, 32))

	first, err := DecryptIV0(blob)
	if err != nil {
		t.Fatalf("DecryptIV0() error = %v", err)
	}
	second, err := DecryptIV0(blob)
	if err != nil {
		t.Fatalf("DecryptIV0() error = %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("identical inputs produced different outputs")
	}
}

func TestFuseRoundTrip(t *testing.T) {
	fuse, _ := hex.DecodeString("000102030405060708090a0b0c0d0e0f")
	plaintext := bytes.Repeat([]byte{0x5a}, 48)

	encBlob, _ := NewCBCBlob(CmdEncryptFuse, 0, plaintext)
	ciphertext, err := EncryptFuse(fuse, encBlob)
	if err != nil {
		t.Fatalf("EncryptFuse() error = %v", err)
	}

	decBlob, _ := NewCBCBlob(CmdDecryptFuse, 0, ciphertext)
	decrypted, err := DecryptFuse(fuse, decBlob)
	if err != nil {
		t.Fatalf("DecryptFuse() error = %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Error("fuse round trip mismatch")
	}
}

func TestFuseLengthValidation(t *testing.T) {
	blob, _ := NewCBCBlob(CmdDecryptFuse, 0, make([]byte, 16))

	for _, n := range []int{0, 1, 15, 17, 32} {
		if _, err := DecryptFuse(make([]byte, n), blob); !errors.Is(err, ErrInvalidFuse) {
			t.Errorf("DecryptFuse() with %d-byte fuse: error = %v, want ErrInvalidFuse", n, err)
		}
	}
}

func TestCBCCommandValidation(t *testing.T) {
	tests := []struct {
		name string
		in   func() []byte
		want error
	}{
		{
			name: "buffer below header size",
			in:   func() []byte { return make([]byte, cbcHeaderLen-1) },
			want: ErrMalformedCommand,
		},
		{
			name: "wrong mode",
			in: func() []byte {
				blob, _ := NewCBCBlob(CmdEncryptIV0, 0x4B, make([]byte, 16))
				return blob
			},
			want: ErrMalformedCommand,
		},
		{
			name: "unaligned data size",
			in: func() []byte {
				blob, _ := NewCBCBlob(CmdDecryptIV0, 0x4B, make([]byte, 16))
				blob[0x10] = 0x0f
				return blob
			},
			want: ErrMalformedCommand,
		},
		{
			name: "data size past end of buffer",
			in: func() []byte {
				blob, _ := NewCBCBlob(CmdDecryptIV0, 0x4B, make([]byte, 16))
				blob[0x10] = 0x20
				return blob
			},
			want: ErrMalformedCommand,
		},
		{
			name: "unknown key seed",
			in: func() []byte {
				blob, _ := NewCBCBlob(CmdDecryptIV0, 0xdead, make([]byte, 16))
				return blob
			},
			want: ErrInvalidSeed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecryptIV0(tt.in()); !errors.Is(err, tt.want) {
				t.Errorf("DecryptIV0() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSHA1(t *testing.T) {
	in := append([]byte{3, 0, 0, 0}, []byte("abc....junk after the region")...)
	digest, err := SHA1(in)
	if err != nil {
		t.Fatalf("SHA1() error = %v", err)
	}
	want, _ := hex.DecodeString("a9993e364706816aba3e25717850c26c9cd0d89d")
	if !bytes.Equal(digest, want) {
		t.Errorf("SHA1() = %x, want %x", digest, want)
	}

	if _, err := SHA1([]byte{0xff, 0xff, 0xff, 0xff}); !errors.Is(err, ErrMalformedCommand) {
		t.Errorf("expected ErrMalformedCommand for an oversized length prefix, got %v", err)
	}
}

func buildCmd1Blob(t *testing.T, payload []byte) []byte {
	t.Helper()
	blob, err := PackPrivateBlob([]byte("blob-payload-key"), []byte("blob-signer-key!"), payload)
	if err != nil {
		t.Fatalf("packing blob: %v", err)
	}
	return blob
}

func TestDecryptPrivate(t *testing.T) {
	payload := []byte("bootloader stage payload, not block aligned")
	blob := buildCmd1Blob(t, payload)

	out, err := DecryptPrivate(blob)
	if err != nil {
		t.Fatalf("DecryptPrivate() error = %v", err)
	}
	if !bytes.Equal(out, payload) {
		t.Errorf("DecryptPrivate() = %q, want %q", out, payload)
	}

	if err := VerifyHeader(blob); err != nil {
		t.Errorf("VerifyHeader() on a valid blob: %v", err)
	}
}

func TestDecryptPrivateDetectsTampering(t *testing.T) {
	blob := buildCmd1Blob(t, []byte("payload under signature"))

	flipped := append([]byte{}, blob...)
	flipped[len(flipped)-1] ^= 0x01
	if _, err := DecryptPrivate(flipped); !errors.Is(err, ErrIntegrityCheckFailed) {
		t.Errorf("payload tamper: error = %v, want ErrIntegrityCheckFailed", err)
	}

	flipped = append([]byte{}, blob...)
	flipped[0x70] ^= 0x01 // data size, covered by the header CMAC
	if _, err := DecryptPrivate(flipped); !errors.Is(err, ErrIntegrityCheckFailed) {
		t.Errorf("header tamper: error = %v, want ErrIntegrityCheckFailed", err)
	}

	if _, err := DecryptPrivate(blob[:cmd1HeaderLen-1]); !errors.Is(err, ErrMalformedCommand) {
		t.Errorf("short blob: error = %v, want ErrMalformedCommand", err)
	}
}

// A DataSize near the uint32 ceiling must fail the bounds check instead of
// wrapping to a tiny aligned size and slicing past the decrypted region.
// The attacker controls the CMAC keys (they ride in the blob under the
// public master key), so the header CMAC is made to pass.
func TestDecryptPrivateRejectsHugeDataSize(t *testing.T) {
	blob := buildCmd1Blob(t, []byte("payload under signature"))
	for i := 0; i < 4; i++ {
		blob[0x70+i] = 0xff
	}

	_, cmacKey, err := decryptKeyBlock(blob)
	if err != nil {
		t.Fatalf("recovering blob keys: %v", err)
	}
	headerMAC, err := cmacSum(cmacKey, blob[0x60:cmd1HeaderLen])
	if err != nil {
		t.Fatalf("resigning header: %v", err)
	}
	copy(blob[0x20:0x30], headerMAC[:])

	if _, err := DecryptPrivate(blob); !errors.Is(err, ErrMalformedCommand) {
		t.Errorf("huge data size: error = %v, want ErrMalformedCommand", err)
	}
	if err := VerifyHeader(blob); !errors.Is(err, ErrMalformedCommand) {
		t.Errorf("VerifyHeader() huge data size: error = %v, want ErrMalformedCommand", err)
	}
}

func TestRunDispatch(t *testing.T) {
	if _, err := Run(Command(99), nil, nil); !errors.Is(err, ErrMalformedCommand) {
		t.Errorf("unknown command: error = %v, want ErrMalformedCommand", err)
	}

	blob, _ := NewCBCBlob(CmdDecryptIV0, 0x4B, make([]byte, 16))
	viaRun, err := Run(CmdDecryptIV0, nil, blob)
	if err != nil {
		t.Fatalf("Run(CmdDecryptIV0) error = %v", err)
	}
	direct, _ := DecryptIV0(blob)
	if !bytes.Equal(viaRun, direct) {
		t.Error("Run() and the direct command disagree")
	}
}
