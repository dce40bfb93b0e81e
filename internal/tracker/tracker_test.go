package tracker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeJob struct {
	fn func(ctx context.Context) (bool, error)
}

func (f *fakeJob) Poll(ctx context.Context) (bool, error) {
	return f.fn(ctx)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestTrackerRemovesEntityOnTerminal(t *testing.T) {
	tr := New("test", 5*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var polls int32
	tr.Register(1, &fakeJob{fn: func(context.Context) (bool, error) {
		atomic.AddInt32(&polls, 1)
		return true, nil
	}})
	if !tr.Tracking(1) {
		t.Fatalf("entity should be tracked after Register")
	}

	go func() { _ = tr.Run(ctx) }()

	waitFor(t, 2*time.Second, func() bool { return !tr.Tracking(1) })
	if got := atomic.LoadInt32(&polls); got == 0 {
		t.Fatalf("job was never polled")
	}
}

func TestTrackerRunningGuardPreventsOverlap(t *testing.T) {
	tr := New("test", 5*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var inFlight, maxInFlight, polls int32
	tr.Register(7, &fakeJob{fn: func(context.Context) (bool, error) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			prev := atomic.LoadInt32(&maxInFlight)
			if cur <= prev || atomic.CompareAndSwapInt32(&maxInFlight, prev, cur) {
				break
			}
		}
		time.Sleep(40 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		atomic.AddInt32(&polls, 1)
		return false, nil
	}})

	go func() { _ = tr.Run(ctx) }()

	waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&polls) >= 3 })
	cancel()

	if got := atomic.LoadInt32(&maxInFlight); got != 1 {
		t.Fatalf("expected at most one poll in flight per entity, saw %d", got)
	}
	if !tr.Tracking(7) {
		t.Fatalf("non-terminal entity must stay tracked")
	}
}

func TestTrackerPollErrorDoesNotAffectSiblings(t *testing.T) {
	tr := New("test", 5*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var goodPolls int32
	tr.Register(1, &fakeJob{fn: func(context.Context) (bool, error) {
		return false, errors.New("remote unavailable")
	}})
	tr.Register(2, &fakeJob{fn: func(context.Context) (bool, error) {
		atomic.AddInt32(&goodPolls, 1)
		return false, nil
	}})

	go func() { _ = tr.Run(ctx) }()

	waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&goodPolls) >= 3 })
	if !tr.Tracking(1) {
		t.Fatalf("erroring entity must stay tracked for the next cycle")
	}
	if !tr.Tracking(2) {
		t.Fatalf("healthy sibling must stay tracked")
	}
}

func TestTrackerRecoversFromPollPanic(t *testing.T) {
	tr := New("test", 5*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sibling int32
	tr.Register(1, &fakeJob{fn: func(context.Context) (bool, error) {
		panic("bad state")
	}})
	tr.Register(2, &fakeJob{fn: func(context.Context) (bool, error) {
		atomic.AddInt32(&sibling, 1)
		return false, nil
	}})

	go func() { _ = tr.Run(ctx) }()

	waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&sibling) >= 2 })
	if !tr.Tracking(1) {
		t.Fatalf("panicking entity must stay tracked")
	}
}

func TestTrackerRegisterOverwritesJob(t *testing.T) {
	tr := New("test", time.Minute, nil)
	tr.Register(3, &fakeJob{fn: func(context.Context) (bool, error) { return false, nil }})
	tr.Register(3, &fakeJob{fn: func(context.Context) (bool, error) { return true, nil }})
	if tr.Len() != 1 {
		t.Fatalf("re-registering the same entity must not grow the set, len=%d", tr.Len())
	}
	tr.Deregister(3)
	if tr.Tracking(3) {
		t.Fatalf("entity still tracked after Deregister")
	}
}

func TestTrackerRunStopsOnContextCancel(t *testing.T) {
	tr := New("test", 5*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run should return nil on cancellation, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop after context cancellation")
	}
}
