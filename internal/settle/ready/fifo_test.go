package ready

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"
)

func mkfifo(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settler.ready")
	if err := syscall.Mkfifo(path, 0o600); err != nil {
		t.Skipf("mkfifo: %v", err)
	}
	return path
}

func TestSignalReachesReader(t *testing.T) {
	path := mkfifo(t)
	r, err := os.OpenFile(path, os.O_RDONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer r.Close()

	if err := Signal(context.Background(), path, "", time.Second); err != nil {
		t.Fatalf("signal: %v", err)
	}
	buf := make([]byte, 16)
	n, _ := r.Read(buf)
	if string(buf[:n]) != DefaultPayload {
		t.Fatalf("read %q", buf[:n])
	}
}

func TestSignalTimesOutWithoutReader(t *testing.T) {
	path := mkfifo(t)
	err := Signal(context.Background(), path, "x\n", 200*time.Millisecond)
	if err == nil || !strings.Contains(err.Error(), "no reader") {
		t.Fatalf("err=%v", err)
	}
}

func TestSignalEmptyPathIsNoop(t *testing.T) {
	if err := Signal(context.Background(), "", "", 0); err != nil {
		t.Fatalf("err=%v", err)
	}
}
