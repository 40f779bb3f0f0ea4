package prx

import (
	"encoding/hex"
	"errors"
	"sync"

	"github.com/xeonliu/pspdecrypt/internal/kirk"
)

// ErrUnknownTag indicates an image tag with no key table entry. This is the
// normal outcome for unsupported or unknown image variants, not a crash
// condition.
var ErrUnknownTag = errors.New("prx: no key table entry for tag")

// tagKey binds an image tag to its fixed key material and the KIRK command
// that decrypts the payload. cmd1-family tags carry their keys inside the
// signed blob itself, so only the command id matters for those.
type tagKey struct {
	cmd  kirk.Command
	seed uint32
	key  [16]byte
	name string
}

// tagKeyHex enumerates every supported tag exactly once, keyed by the
// 32-bit tag at header offset 0xD0. Keeping the dispatch in one table makes
// the unsupported-tag case a single lookup failure instead of branching
// scattered across the decrypter.
var tagKeyHex = map[uint32]struct {
	cmd  kirk.Command
	seed uint32
	key  string
	name string
}{
	0x00000000: {kirk.CmdDecryptPrivate, 0x00, "00000000000000000000000000000000", "devkit"},
	0xD91605F0: {kirk.CmdDecryptIV0, 0x53, "C32489D38087B24E4CD749E49D1D34D1", "keys260_0"},
	0xD91606F0: {kirk.CmdDecryptIV0, 0x57, "F3AC6E7C040A23E70D33D82473392B4A", "keys260_1"},
	0xD91608F0: {kirk.CmdDecryptIV0, 0x5D, "72B439FF349BAE8230344A1DA2D8B43C", "keys260_2"},
	0xD91609F0: {kirk.CmdDecryptIV0, 0x63, "CAFBBFC750EAB4408E445C6353CE80B1", "keys280_0"},
	0xD91611F0: {kirk.CmdDecryptIV0, 0x64, "409BC69BA9FB847F7221D23696550974", "keys280_1"},
	0xD91612F0: {kirk.CmdDecryptIV0, 0x38, "03A7CC4A5B91C207FFFC26251E424BB5", "keys280_2"},
}

var (
	tagOnce sync.Once
	tagKeys map[uint32]tagKey
)

func buildTagKeys() {
	tagOnce.Do(func() {
		tagKeys = make(map[uint32]tagKey, len(tagKeyHex))
		for tag, e := range tagKeyHex {
			raw, err := hex.DecodeString(e.key)
			if err != nil || len(raw) != 16 {
				panic("prx: malformed tag key entry")
			}
			entry := tagKey{cmd: e.cmd, seed: e.seed, name: e.name}
			copy(entry.key[:], raw)
			tagKeys[tag] = entry
		}
	})
}

// lookupTag resolves the key table entry for tag.
func lookupTag(tag uint32) (tagKey, error) {
	buildTagKeys()
	entry, ok := tagKeys[tag]
	if !ok {
		return tagKey{}, ErrUnknownTag
	}
	return entry, nil
}
