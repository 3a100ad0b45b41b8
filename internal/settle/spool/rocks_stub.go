//go:build !rocksdb

package spool

import "errors"

func NewRocksSpool(string) (Spool, error) {
	return nil, errors.New("spool: built without rocksdb support (use -tags rocksdb)")
}
