// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package gate

import (
	"context"
	"testing"
	"time"
)

func TestAcquireBlocksAtCapacity(t *testing.T) {
	g := New(2)

	p1, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	p2, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	acquired := make(chan Permit, 1)
	go func() {
		p, err := g.Acquire(context.Background())
		if err == nil {
			acquired <- p
		}
	}()

	select {
	case <-acquired:
		t.Fatal("third Acquire succeeded with capacity 2")
	case <-time.After(50 * time.Millisecond):
	}

	p1.Release()
	select {
	case p := <-acquired:
		p.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("Acquire did not proceed after Release")
	}
	p2.Release()
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	g := New(1)
	p, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.Acquire(ctx); err == nil {
		t.Fatal("Acquire() succeeded on cancelled context with no free permit")
	}
	p.Release()
}

func TestCapacityClampedToAtLeastOne(t *testing.T) {
	g := New(0)
	p, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	p.Release()
}
