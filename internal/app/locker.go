package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/pscheid92/realtydesk/internal/domain"
)

// LocalLocker serializes assignments per work kind within one process.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[domain.WorkKind]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[domain.WorkKind]chan struct{})}
}

// Lock blocks until the kind is free or ctx ends. The unlock func may be
// called more than once.
func (l *LocalLocker) Lock(ctx context.Context, kind domain.WorkKind) (func(), error) {
	slot := l.slot(kind)

	select {
	case slot <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-slot }) }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrLockTimeout, kind, ctx.Err())
	}
}

func (l *LocalLocker) slot(kind domain.WorkKind) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot, ok := l.slots[kind]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[kind] = slot
	}
	return slot
}
