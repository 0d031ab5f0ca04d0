// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package registry

import (
	"sync"

	"github.com/localtube/localtube/internal/log"
)

const broadcastBuffer = 16

// broadcaster is a process-wide fan-out of snapshots to any number of
// subscribers. A slow subscriber drops the update (logged, not fatal)
// rather than stalling the publisher; the next snapshot supersedes it.
type broadcaster[T any] struct {
	mu     sync.Mutex
	subs   map[int]chan T
	nextID int
	name   string
	dropN  int
}

func newBroadcaster[T any](name string) *broadcaster[T] {
	return &broadcaster[T]{subs: make(map[int]chan T), name: name}
}

// subscribe returns a receive-only channel of future snapshots and an
// unsubscribe function that the caller must invoke when done.
func (b *broadcaster[T]) subscribe() (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan T, broadcastBuffer)
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

func (b *broadcaster[T]) publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
			b.dropN++
			if b.dropN%100 == 0 {
				log.WithComponent("registry").Warn().
					Str("channel", b.name).
					Int("dropped_total", b.dropN).
					Msg("subscriber lagging, dropping snapshot")
			}
		}
	}
}
