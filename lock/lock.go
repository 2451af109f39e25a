/*
Package lock keeps two generation runs from working on the same student at
the same time.

IMPLEMENTATIONS:
  - Local: in-process, for a single server or tests
  - Redis: SET NX PX with a random token, released by compare-and-delete,
    for several workers sharing one Redis

Both return generic.ErrLockHeld when the key is taken. Locks expire after
their TTL so a crashed worker never blocks a student for good.
*/
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/fee-engine/generic"
)

// =============================================================================
// LOCAL LOCKER
// =============================================================================

type Local struct {
	mu    sync.Mutex
	held  map[string]entry
	clock func() time.Time
}

type entry struct {
	token   string
	expires time.Time
}

func NewLocal() *Local {
	return &Local{held: make(map[string]entry), clock: time.Now}
}

func (l *Local) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if e, ok := l.held[key]; ok && now.Before(e.expires) {
		return nil, generic.ErrLockHeld
	}
	token := uuid.NewString()
	l.held[key] = entry{token: token, expires: now.Add(ttl)}

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if e, ok := l.held[key]; ok && e.token == token {
			delete(l.held, key)
		}
	}, nil
}
