// Package hash derives stable identifiers from a canonical byte encoding.
//
// Encoding rules:
//   - fixed-width integers are big-endian
//   - strings and byte slices are u32(len) followed by the bytes
//   - hex strings are normalized (0x trimmed, lowercase, odd length left-padded)
//     and decoded before being length-prefixed
package hash

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

type Builder struct {
	b []byte
}

func NewBuilder() *Builder { return &Builder{b: make([]byte, 0, 128)} }

func (d *Builder) Reset()        { d.b = d.b[:0] }
func (d *Builder) Bytes() []byte { return append([]byte(nil), d.b...) }

func (d *Builder) PutU64(v uint64) *Builder {
	d.b = binary.BigEndian.AppendUint64(d.b, v)
	return d
}

func (d *Builder) PutI64(v int64) *Builder { return d.PutU64(uint64(v)) }

func (d *Builder) PutBytes(p []byte) *Builder {
	d.b = binary.BigEndian.AppendUint32(d.b, uint32(len(p)))
	d.b = append(d.b, p...)
	return d
}

func (d *Builder) PutString(s string) *Builder { return d.PutBytes([]byte(s)) }

// PutHex appends the decoded bytes of an address or hash.
func (d *Builder) PutHex(s string) (*Builder, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "0x")
	if len(s)%2 != 0 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("hash: decode hex: %w", err)
	}
	return d.PutBytes(b), nil
}

// Sum is the keccak256 of everything appended so far.
func (d *Builder) Sum() common.Hash { return crypto.Keccak256Hash(d.b) }

// SumU64 hashes a fixed list of integers.
func SumU64(vals ...uint64) common.Hash {
	b := NewBuilder()
	for _, v := range vals {
		b.PutU64(v)
	}
	return b.Sum()
}
