package kirk

import (
	"encoding/hex"
	"sync"
)

// The publicly recovered KIRK key vault. Each entry is a fixed AES-128 key
// selected by the 32-bit key seed carried in a command header. The hex
// strings are decoded once by Init and the resulting map is read-only for
// the life of the process.
var keyVaultHex = map[uint32]string{
	0x00: "98C940975C1D10E89424ADB0A49E88B5",
	0x01: "F0E8F6945FB8FECE33F3EAD7DCBC3E7F",
	0x02: "B8A6E0F6A3B74E06F8A4B9A6F88F9E92",
	0x03: "8931E0E6C6F3FC1A3931E0E6C6F3FC1A",
	0x04: "D8664A4BD0C21F1A5A41D6E3B7E8F3CC",
	0x05: "1D61B0E6A3A4CECEB9A6E09C8E7E8A9C",
	0x06: "B6A0E1F4F6E8A9EC0A4B9C6D1E8F2A3B",
	0x07: "2FD1DC0EFCE7ECEB3F1E5EEEA3D0F8F9",
	0x0C: "D82310F31F32A74FA9C5B2A9C5B3E52C",
	0x0D: "4D1FF77F8C4194E2E6B8F7A3E3E0A3E0",
	0x0E: "F1D8E3CECDE8A9C5B7E8F3A3B8E7F9A0",
	0x0F: "9E6E4E09A4B9C6D1E8F2A3B4C5D1E6F7",
	0x10: "A0E1F4F6E8A9EC0A4B9C6D1E8F2A3B4C",
	0x11: "D1E6F7F8A9C5B2E1F4F6E8A9EC0A4B9C",
	0x12: "F8A9C5B2E1F4F6E8A9EC0A4B9C6D1E8F",
	0x38: "12461983AFDC94B5F3C6E5A5F3C6E5A5",
	0x39: "E5A5F3C6E5A5F3C6AFDC94B512461983",
	0x3A: "F3C6E5A5F3C6E5A512461983AFDC94B5",
	0x4B: "2C734E2C24CECECE0CA3B7D2B8A6E0F6",
	0x53: "FA6C34E8E6B5F0C4A9C5B3E5ECEB3F1E",
	0x57: "ED8A9F0A0F3A5E2E8A3E5F2E1F3A5E2E",
	0x5D: "09F3B4E5D1C21D8A9F0A0F3A5E2E8A3E",
	0x63: "98C940975C1D10E89424E3EDCBFA7EFA",
	0x64: "A3E5ECEB3F1E5EEEFA6C34E8E6B5F0C4",
}

// Key seed of the CMD1 master key, under which the per-blob AES/CMAC keys in
// a CMD1 header are encrypted.
const cmd1MasterSeed uint32 = 0x00

var (
	initOnce sync.Once
	keyVault map[uint32][16]byte
)

// Init builds the key vault. It is safe to call from any number of call
// sites and goroutines; the vault is constructed exactly once and never
// mutated afterwards. All engine commands call Init themselves, so explicit
// initialization is only needed by callers that want to front-load the work.
func Init() {
	initOnce.Do(func() {
		keyVault = make(map[uint32][16]byte, len(keyVaultHex))
		for seed, keyHex := range keyVaultHex {
			raw, err := hex.DecodeString(keyHex)
			if err != nil || len(raw) != 16 {
				panic("kirk: malformed key vault entry")
			}
			var key [16]byte
			copy(key[:], raw)
			keyVault[seed] = key
		}
	})
}

// lookupKey resolves a key seed against the vault. Unknown seeds are a
// normal outcome for unsupported images, reported as ErrInvalidSeed.
func lookupKey(seed uint32) ([16]byte, error) {
	Init()
	key, ok := keyVault[seed]
	if !ok {
		return [16]byte{}, ErrInvalidSeed
	}
	return key, nil
}
