// Package rng hands out named random streams derived from one base seed, so a
// run can be replayed stream by stream.
package rng

import (
	"encoding/binary"
	"hash/fnv"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

type Mode int

const (
	Deterministic Mode = iota
	Real
)

type Factory struct {
	seed uint64

	mu      sync.Mutex
	streams map[string]*rand.Rand
	readers map[string]*rand.ChaCha8
}

// New seeds from the wall clock once in Real mode.
func New(mode Mode, seed int64) *Factory {
	if mode == Real {
		seed = time.Now().UnixNano()
	}
	return &Factory{
		seed:    uint64(seed),
		streams: make(map[string]*rand.Rand),
		readers: make(map[string]*rand.ChaCha8),
	}
}

func (f *Factory) Seed() int64 { return int64(f.seed) }

// R returns the named stream, creating it on first use. Streams are not safe
// for concurrent use.
func (f *Factory) R(name string) *rand.Rand {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.streams[name]; ok {
		return r
	}
	r := rand.New(rand.NewPCG(f.seed, streamSeed(name)))
	f.streams[name] = r
	return r
}

// Reader returns a named byte stream, for consumers that want an io.Reader.
func (f *Factory) Reader(name string) *rand.ChaCha8 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.readers[name]; ok {
		return r
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], f.seed)
	r := rand.NewChaCha8(crypto.Keccak256Hash(buf[:], []byte(name)))
	f.readers[name] = r
	return r
}

func streamSeed(name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return h.Sum64()
}
