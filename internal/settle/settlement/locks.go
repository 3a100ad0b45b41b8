package settlement

import (
	"strings"
	"sync"
)

// senderLocks is a refcounted mutex per sender address.
type senderLocks struct {
	mu sync.Mutex
	m  map[string]*senderLock
}

type senderLock struct {
	mu   sync.Mutex
	refs int
}

func newSenderLocks() *senderLocks {
	return &senderLocks{m: make(map[string]*senderLock)}
}

func (l *senderLocks) lock(addr string) (unlock func()) {
	key := strings.ToLower(addr)

	l.mu.Lock()
	e, ok := l.m[key]
	if !ok {
		e = &senderLock{}
		l.m[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.m, key)
		}
		l.mu.Unlock()
	}
}

func (l *senderLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
