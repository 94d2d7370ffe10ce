package lock

import (
	"context"
	"sync"
)

// Local is an in-process Locker. It serializes runs inside one binary only.
type Local struct {
	mu   sync.Mutex
	held map[string]uint64
	seq  uint64
}

func NewLocal() *Local {
	return &Local{held: make(map[string]uint64)}
}

func (l *Local) TryLock(ctx context.Context, key string) (Handle, bool, error) {
	if err := validKey(key); err != nil {
		return nil, false, err
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.held[key]; taken {
		return nil, false, nil
	}
	l.seq++
	l.held[key] = l.seq
	return &localHandle{owner: l, key: key, token: l.seq}, true, nil
}

type localHandle struct {
	owner *Local
	key   string
	token uint64
}

// Unlock only releases the key if this handle still owns it.
func (h *localHandle) Unlock(context.Context) error {
	if h == nil || h.owner == nil {
		return ErrNilHandle
	}
	h.owner.mu.Lock()
	defer h.owner.mu.Unlock()
	if h.owner.held[h.key] != h.token {
		return ErrNotHeld
	}
	delete(h.owner.held, h.key)
	return nil
}
