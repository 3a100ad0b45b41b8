// Package spool quarantines payloads the ingestion stage cannot decode so
// they can be inspected while the broker keeps redelivering them.
package spool

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

type Record struct {
	At           time.Time
	Key          string
	Redeliveries int
	Reason       string
	Body         []byte
}

type Spool interface {
	Append(r Record) error
	Close() error
}

const (
	DriverFile    = "file"
	DriverRocksDB = "rocksdb"
	DriverNone    = "none"
)

func Open(driver, path string) (Spool, error) {
	switch driver {
	case DriverFile, "":
		return NewFileSpool(path)
	case DriverRocksDB:
		return NewRocksSpool(path)
	case DriverNone:
		return Nop{}, nil
	}
	return nil, fmt.Errorf("spool: unknown driver %q", driver)
}

// Scan visits every record of a spool written by driver, oldest first.
func Scan(driver, path string, fn func(Record) error) error {
	switch driver {
	case DriverFile, "":
		recs, err := ReadFile(path)
		if err != nil {
			return err
		}
		for _, r := range recs {
			if err := fn(r); err != nil {
				return err
			}
		}
		return nil
	case DriverRocksDB:
		sp, err := NewRocksSpool(path)
		if err != nil {
			return err
		}
		defer sp.Close()
		it, ok := sp.(interface{ Records(func(Record) error) error })
		if !ok {
			return errors.New("spool: rocksdb spool cannot be iterated")
		}
		return it.Records(fn)
	case DriverNone:
		return nil
	}
	return fmt.Errorf("spool: unknown driver %q", driver)
}

// Nop discards records.
type Nop struct{}

func (Nop) Append(Record) error { return nil }
func (Nop) Close() error        { return nil }

// record = [ts_ms:int64][redeliveries:uint32][key:u32+bytes][reason:u32+bytes][body:u32+bytes]
func encode(r Record) []byte {
	out := make([]byte, 0, 8+4+12+len(r.Key)+len(r.Reason)+len(r.Body))
	out = binary.BigEndian.AppendUint64(out, uint64(r.At.UnixMilli()))
	out = binary.BigEndian.AppendUint32(out, uint32(r.Redeliveries))
	for _, part := range [][]byte{[]byte(r.Key), []byte(r.Reason), r.Body} {
		out = binary.BigEndian.AppendUint32(out, uint32(len(part)))
		out = append(out, part...)
	}
	return out
}

var errShort = errors.New("spool: truncated record")

func decode(rd io.Reader) (Record, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(rd, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Record{}, errShort
		}
		return Record{}, err
	}
	r := Record{
		At:           time.UnixMilli(int64(binary.BigEndian.Uint64(hdr[0:8]))),
		Redeliveries: int(binary.BigEndian.Uint32(hdr[8:12])),
	}
	var parts [3][]byte
	for i := range parts {
		var n [4]byte
		if _, err := io.ReadFull(rd, n[:]); err != nil {
			return Record{}, errShort
		}
		buf := make([]byte, binary.BigEndian.Uint32(n[:]))
		if _, err := io.ReadFull(rd, buf); err != nil {
			return Record{}, errShort
		}
		parts[i] = buf
	}
	r.Key, r.Reason, r.Body = string(parts[0]), string(parts[1]), parts[2]
	return r, nil
}

func decodeBytes(b []byte) (Record, error) {
	return decode(bytes.NewReader(b))
}
