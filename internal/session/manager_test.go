package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestManagerSerializesSameUser(t *testing.T) {
	m := NewManager()

	var (
		wg      sync.WaitGroup
		inside  atomic.Int32
		maxSeen atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Acquire(context.Background(), "u1", "turn")
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			n := inside.Add(1)
			for {
				prev := maxSeen.Load()
				if n <= prev || maxSeen.CompareAndSwap(prev, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()

	if got := maxSeen.Load(); got != 1 {
		t.Fatalf("max concurrent holders = %d, want 1", got)
	}
	if got := m.size(); got != 0 {
		t.Fatalf("entries left = %d, want 0", got)
	}
}

func TestManagerDifferentUsersDoNotBlock(t *testing.T) {
	m := NewManager()
	releaseA, err := m.Acquire(context.Background(), "a", "t1")
	if err != nil {
		t.Fatalf("Acquire(a) error = %v", err)
	}
	defer releaseA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	releaseB, err := m.Acquire(ctx, "b", "t2")
	if err != nil {
		t.Fatalf("Acquire(b) error = %v", err)
	}
	defer releaseB()

	if got := m.ActiveCount(); got != 2 {
		t.Fatalf("ActiveCount() = %d, want 2", got)
	}
}

func TestManagerAcquireHonoursContext(t *testing.T) {
	m := NewManager()
	release, err := m.Acquire(context.Background(), "u1", "t1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.Acquire(ctx, "u1", "t2"); err == nil {
		t.Fatalf("Acquire() with expired ctx should fail")
	}

	active := m.Active()
	if len(active) != 1 || active[0].TurnID != "t1" || active[0].Waiting != 0 {
		t.Fatalf("Active() = %+v", active)
	}

	release()
	release()
	if got := m.size(); got != 0 {
		t.Fatalf("entries left = %d, want 0", got)
	}
}
