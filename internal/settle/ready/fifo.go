// Package ready tells a supervising process, through a named pipe, that the
// settler finished startup.
package ready

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
)

const (
	DefaultPayload = "READY\n"
	defaultTimeout = 8 * time.Second
	pollInterval   = 80 * time.Millisecond
)

// Signal writes payload to the FIFO at path, waiting up to timeout for a
// reader to open it. An empty path is a no-op.
func Signal(ctx context.Context, path, payload string, timeout time.Duration) error {
	if path == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if payload == "" {
		payload = DefaultPayload
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()

	for {
		// O_NONBLOCK fails with ENXIO instead of blocking while no reader exists.
		fd, err := syscall.Open(path, syscall.O_WRONLY|syscall.O_NONBLOCK, 0)
		if err == nil {
			f := os.NewFile(uintptr(fd), path)
			_, werr := f.WriteString(payload)
			return errors.Join(werr, f.Close())
		}
		if !errors.Is(err, syscall.ENXIO) {
			return fmt.Errorf("ready: open %s: %w", path, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("ready: no reader on %s after %s", path, timeout)
		case <-tick.C:
		}
	}
}
