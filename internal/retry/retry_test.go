// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func immediate() *Scheduler {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	close(ch)
	return &Scheduler{after: func(time.Duration) <-chan time.Time { return ch }}
}

func TestSchedule_RunsActionWhenStillNeeded(t *testing.T) {
	s := immediate()

	var ran int32
	done := make(chan struct{})
	s.Schedule(context.Background(), "test", time.Millisecond,
		func(context.Context) (bool, error) { return true, nil },
		func(context.Context) error {
			atomic.StoreInt32(&ran, 1)
			close(done)
			return nil
		})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("action did not run in time")
	}
	if atomic.LoadInt32(&ran) != 1 {
		t.Error("expected action to run")
	}
}

func TestSchedule_SkipsWhenCheckFalse(t *testing.T) {
	s := immediate()

	called := make(chan struct{})
	s.Schedule(context.Background(), "test", time.Millisecond,
		func(context.Context) (bool, error) {
			close(called)
			return false, nil
		},
		func(context.Context) error {
			t.Error("action should not run when check is false")
			return nil
		})

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("check was not evaluated")
	}
	// Give the goroutine a moment to have (not) called action.
	time.Sleep(10 * time.Millisecond)
}

func TestSchedule_CheckErrorDoesNotPropagate(t *testing.T) {
	s := immediate()

	called := make(chan struct{})
	s.Schedule(context.Background(), "test", time.Millisecond,
		func(context.Context) (bool, error) {
			defer close(called)
			return false, errors.New("boom")
		},
		func(context.Context) error {
			t.Error("action should not run when check errors")
			return nil
		})

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("check was not evaluated")
	}
}

func TestSchedule_CancelledContextSkipsCheck(t *testing.T) {
	ch := make(chan time.Time) // never fires
	s := &Scheduler{after: func(time.Duration) <-chan time.Time { return ch }}

	ctx, cancel := context.WithCancel(context.Background())
	checkCalled := make(chan struct{}, 1)
	cancel()

	done := make(chan struct{})
	s.Schedule(ctx, "test", time.Hour,
		func(context.Context) (bool, error) {
			checkCalled <- struct{}{}
			return true, nil
		},
		func(context.Context) error {
			close(done)
			return nil
		})

	select {
	case <-checkCalled:
		t.Error("check should not run once ctx is cancelled before delay elapses")
	case <-time.After(50 * time.Millisecond):
	}
}
