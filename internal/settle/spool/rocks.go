//go:build rocksdb

package spool

import (
	"fmt"
	"sync"

	"github.com/tecbot/gorocksdb"
)

// RocksSpool keys records by arrival time so iteration replays them in
// order.
type RocksSpool struct {
	mu  sync.Mutex
	seq uint64
	db  *gorocksdb.DB
	ro  *gorocksdb.ReadOptions
	wo  *gorocksdb.WriteOptions
}

func NewRocksSpool(path string) (Spool, error) {
	opts := gorocksdb.NewDefaultOptions()
	opts.SetCreateIfMissing(true)

	db, err := gorocksdb.OpenDb(opts, path)
	if err != nil {
		return nil, err
	}
	wo := gorocksdb.NewDefaultWriteOptions()
	wo.SetSync(true)
	return &RocksSpool{
		db: db,
		ro: gorocksdb.NewDefaultReadOptions(),
		wo: wo,
	}, nil
}

func recordKey(tsMillis int64, seq uint64) []byte {
	return []byte(fmt.Sprintf("poison:%020d:%010d", tsMillis, seq))
}

func (s *RocksSpool) Append(r Record) error {
	s.mu.Lock()
	s.seq++
	key := recordKey(r.At.UnixMilli(), s.seq)
	s.mu.Unlock()
	return s.db.Put(s.wo, key, encode(r))
}

// Records iterates the spool in key order.
func (s *RocksSpool) Records(fn func(Record) error) error {
	it := s.db.NewIterator(s.ro)
	defer it.Close()
	for it.Seek([]byte("poison:")); it.ValidForPrefix([]byte("poison:")); it.Next() {
		v := it.Value()
		// Value memory is owned by rocksdb until Free.
		r, err := decodeBytes(append([]byte(nil), v.Data()...))
		v.Free()
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return it.Err()
}

func (s *RocksSpool) Close() error {
	if s.ro != nil {
		s.ro.Destroy()
	}
	if s.wo != nil {
		s.wo.Destroy()
	}
	if s.db != nil {
		s.db.Close()
	}
	return nil
}
