// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package registry

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/localtube/localtube/internal/gate"
)

// QueuedHandle owns a Task in the Queued state. Calling Start blocks until
// a concurrency permit is available, then transitions the task to
// InProgress and returns an ActiveHandle that owns the permit. Abandon
// (which Start calls when ctx is cancelled) finalizes the task in its
// Queued state so the registry's age-out sweep later removes it; there is
// nothing to release because no permit was ever acquired. A handle that
// is dropped without Start or Abandon leaves its task in the registry.
type QueuedHandle struct {
	registry *Registry
	id       string

	finalize sync.Once
}

// ID returns the underlying task's id.
func (h *QueuedHandle) ID() string {
	return h.id
}

// Start acquires a permit from gate, marks the task InProgress, and
// returns an ActiveHandle. If ctx is cancelled before a permit is
// acquired, the queued task is abandoned (finalized in place, still
// Queued) and the context error is returned.
func (h *QueuedHandle) Start(ctx context.Context, g *gate.Gate) (*ActiveHandle, error) {
	permit, err := g.Acquire(ctx)
	if err != nil {
		h.Abandon()
		return nil, err
	}

	h.registry.mu.Lock()
	t, ok := h.registry.tasks[h.id]
	if ok {
		t.State = StateInProgress
	}
	h.registry.publishLocked()
	h.registry.mu.Unlock()

	if !ok {
		permit.Release()
		return nil, ErrTaskVanished
	}

	return &ActiveHandle{registry: h.registry, id: h.id, permit: permit}, nil
}

// Abandon finalizes the task in its current (Queued) state without
// transitioning it, per the scoped-release contract: no metric is
// recorded, and the task is swept up by the next cleanup pass.
func (h *QueuedHandle) Abandon() {
	h.finalize.Do(func() {
		h.registry.removeTask(h.id)
	})
}

// ActiveHandle owns a Task in the InProgress state plus the concurrency
// permit backing it. Exactly one of Complete, MarkFailed, or Abandon must
// be called to release the permit; if none is, the permit stays held and
// the task is never finalized, so the age-out sweep does not remove it.
type ActiveHandle struct {
	registry *Registry
	id       string
	permit   gate.Permit

	done sync.Once
	// released guards against double Release of the permit from a
	// concurrent Abandon + explicit finalize race.
	released int32
}

// ID returns the underlying task's id.
func (h *ActiveHandle) ID() string {
	return h.id
}

// UpdateStatus sets a human-readable progress string on the task and
// publishes a task-list update.
func (h *ActiveHandle) UpdateStatus(status string) {
	h.registry.mu.Lock()
	defer h.registry.mu.Unlock()

	if t, ok := h.registry.tasks[h.id]; ok {
		t.Status = status
		h.registry.publishLocked()
	}
}

func (h *ActiveHandle) releasePermit() {
	if atomic.CompareAndSwapInt32(&h.released, 0, 1) {
		h.permit.Release()
	}
}

// Complete transitions the task to Completed and releases the permit.
func (h *ActiveHandle) Complete() {
	h.done.Do(func() {
		h.registry.mu.Lock()
		if t, ok := h.registry.tasks[h.id]; ok {
			t.State = StateCompleted
		}
		h.registry.mu.Unlock()

		h.registry.removeTask(h.id)
		h.releasePermit()
	})
}

// MarkFailed transitions the task to Failed(message) and releases the
// permit. message is truncated to its first line to keep the UI compact;
// an empty message is replaced with a generic placeholder since a
// Failed task always carries a non-empty message.
func (h *ActiveHandle) MarkFailed(message string) {
	h.done.Do(func() {
		msg := firstLine(message)
		if msg == "" {
			msg = "unknown error"
		}

		h.registry.mu.Lock()
		if t, ok := h.registry.tasks[h.id]; ok {
			t.State = StateFailed
			t.FailMessage = msg
		}
		h.registry.mu.Unlock()

		h.registry.removeTask(h.id)
		h.releasePermit()
	})
}

// Abandon finalizes the task in its current (InProgress) state without
// forcing Completed/Failed, and releases the permit. This is the scoped-
// release path for cancellation or panic-unwind: the task is swept up by
// the next cleanup pass without affecting metrics.
func (h *ActiveHandle) Abandon() {
	h.done.Do(func() {
		h.registry.removeTask(h.id)
		h.releasePermit()
	})
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
