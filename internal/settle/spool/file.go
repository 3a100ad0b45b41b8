package spool

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
)

type FileSpool struct {
	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

func NewFileSpool(path string) (*FileSpool, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileSpool{f: f, w: bufio.NewWriterSize(f, 64<<10)}, nil
}

// Append is durable on return: each record is flushed and fsynced.
func (s *FileSpool) Append(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.w.Write(encode(r)); err != nil {
		return err
	}
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.f.Sync()
}

func (s *FileSpool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.w.Flush()
	return s.f.Close()
}

// ReadFile returns every complete record in a spool file. A torn tail from a
// crash mid-append is ignored.
func ReadFile(path string) ([]Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rd := bytes.NewReader(raw)
	var out []Record
	for {
		r, err := decode(rd)
		if errors.Is(err, io.EOF) || errors.Is(err, errShort) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
}
