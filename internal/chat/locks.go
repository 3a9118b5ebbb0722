package chat

import (
	"context"
	"sync"
)

// convLocks hands out one mutual-exclusion slot per conversation id. Entries
// are reference counted and dropped once nobody holds or waits for them.
type convLocks struct {
	mu    sync.Mutex
	slots map[string]*convSlot
}

type convSlot struct {
	ch   chan struct{}
	refs int
}

func newConvLocks() *convLocks {
	return &convLocks{slots: make(map[string]*convSlot)}
}

// Lock blocks until the conversation's slot is free or ctx is done. On success
// the returned func releases the slot.
func (l *convLocks) Lock(ctx context.Context, convID string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[convID]
	if !ok {
		slot = &convSlot{ch: make(chan struct{}, 1)}
		l.slots[convID] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(convID, slot)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.ch
			l.release(convID, slot)
		})
	}, nil
}

func (l *convLocks) release(convID string, slot *convSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, convID)
	}
}

func (l *convLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
