package bytes

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAlign16(t *testing.T) {
	tests := []struct {
		name string
		n    uint32
		want uint32
	}{
		{"zero stays zero", 0, 0},
		{"already aligned", 0x150, 0x150},
		{"rounds up", 0x151, 0x160},
		{"one block", 1, 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Align16(tt.n); got != tt.want {
				t.Errorf("Align16(%#x) = %#x, want %#x", tt.n, got, tt.want)
			}
		})
	}
}

func TestStructConversions(t *testing.T) {
	type record struct {
		LoadAddr uint32
		Size     uint32
		Entry    uint32
		Checksum uint32
	}

	raw := []byte{
		0x00, 0x00, 0x04, 0x04,
		0x10, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0xef, 0xbe, 0xad, 0xde,
	}

	var rec record
	StructFromBytes(raw, &rec)

	want := record{LoadAddr: 0x04040000, Size: 0x10, Entry: 0, Checksum: 0xdeadbeef}
	if diff := cmp.Diff(want, rec); diff != "" {
		t.Errorf("StructFromBytes() mismatch; diff:\n%s", diff)
	}

	converted, n := BytesFromStruct(rec)
	if n != len(raw) {
		t.Errorf("expected %d converted bytes, got = %v", len(raw), n)
	}
	if diff := cmp.Diff(raw, converted); diff != "" {
		t.Errorf("expected converted record to match original. diff:\n%s", diff)
	}
}
