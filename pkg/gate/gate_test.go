package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestGate(t *testing.T, capacity int) *Gate {
	t.Helper()
	g, err := New("test", capacity, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return g
}

func TestNew_RejectsZeroCapacity(t *testing.T) {
	if _, err := New("items", 0, zerolog.Nop()); err == nil {
		t.Error("expected error for zero capacity")
	}
	if _, err := NewGates(2, 0, zerolog.Nop()); err == nil {
		t.Error("expected error for zero call capacity")
	}
}

func TestGate_BoundsConcurrency(t *testing.T) {
	g := newTestGate(t, 3)

	var current, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Do(context.Background(), func(context.Context) error {
				n := current.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				current.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	if peak.Load() > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", peak.Load())
	}
	if g.InFlight() != 0 {
		t.Errorf("InFlight() = %d after all tasks, want 0", g.InFlight())
	}
}

func TestGate_ReleasedOnError(t *testing.T) {
	g := newTestGate(t, 2)
	boom := errors.New("boom")

	for i := 0; i < 10; i++ {
		err := g.Do(context.Background(), func(context.Context) error { return boom })
		if !errors.Is(err, boom) {
			t.Fatalf("Do() error = %v, want boom", err)
		}
	}

	if g.InFlight() != 0 {
		t.Errorf("InFlight() = %d, want 0", g.InFlight())
	}
	for i := 0; i < g.Capacity(); i++ {
		if !g.TryAcquire() {
			t.Fatalf("slot %d not available after failing tasks", i)
		}
	}
}

func TestGate_ReleasedOnPanic(t *testing.T) {
	g := newTestGate(t, 2)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { _ = recover() }()
			_ = g.Do(context.Background(), func(context.Context) error {
				panic("task exploded")
			})
		}()
	}
	wg.Wait()

	if g.InFlight() != 0 {
		t.Errorf("InFlight() = %d, want 0", g.InFlight())
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < g.Capacity(); i++ {
		if err := g.Acquire(ctx); err != nil {
			t.Fatalf("gate not at full capacity after panics: %v", err)
		}
	}
}

func TestGate_AcquireHonorsContext(t *testing.T) {
	g := newTestGate(t, 1)
	if !g.TryAcquire() {
		t.Fatal("TryAcquire on empty gate failed")
	}
	if g.TryAcquire() {
		t.Fatal("TryAcquire on full gate succeeded")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := g.Acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire() error = %v, want deadline exceeded", err)
	}
	if g.InFlight() != 1 {
		t.Errorf("InFlight() = %d, want 1", g.InFlight())
	}

	g.Release()
	if g.InFlight() != 0 {
		t.Errorf("InFlight() = %d after release, want 0", g.InFlight())
	}
}

func TestGates_Independent(t *testing.T) {
	gates, err := NewGates(1, 2, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewGates() error = %v", err)
	}
	ctx := context.Background()

	if err := gates.AcquireItem(ctx); err != nil {
		t.Fatal(err)
	}
	if err := gates.AcquireCall(ctx); err != nil {
		t.Fatal(err)
	}
	if err := gates.AcquireCall(ctx); err != nil {
		t.Fatal(err)
	}

	if gates.Items.InFlight() != 1 || gates.Calls.InFlight() != 2 {
		t.Errorf("in flight items=%d calls=%d, want 1 and 2", gates.Items.InFlight(), gates.Calls.InFlight())
	}
	if gates.Calls.TryAcquire() {
		t.Error("call gate should be full")
	}

	gates.ReleaseCall()
	gates.ReleaseCall()
	gates.ReleaseItem()

	if gates.Items.Name() != ItemsGate || gates.Calls.Name() != CallsGate {
		t.Errorf("names = %q/%q", gates.Items.Name(), gates.Calls.Name())
	}
	if gates.Items.Capacity() != 1 || gates.Calls.Capacity() != 2 {
		t.Errorf("capacities = %d/%d", gates.Items.Capacity(), gates.Calls.Capacity())
	}
}
