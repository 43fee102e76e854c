package syncx

import (
	"sync"
	"testing"
)

func TestGuardGetSet(t *testing.T) {
	g := NewGuard(42)

	if got := g.Get(); got != 42 {
		t.Errorf("Get() = %d, want 42", got)
	}

	g.Set(100)
	if got := g.Get(); got != 100 {
		t.Errorf("Get() after Set = %d, want 100", got)
	}
}

func TestGuardSwap(t *testing.T) {
	g := NewGuard("hello")

	old := g.Swap("world")
	if old != "hello" {
		t.Errorf("Swap returned %q, want %q", old, "hello")
	}
	if got := g.Get(); got != "world" {
		t.Errorf("Get() after Swap = %q, want %q", got, "world")
	}
}

func TestGuardRead(t *testing.T) {
	g := NewGuard([]int{1, 2, 3})

	result := g.Read(func(v []int) any {
		return len(v)
	})

	if result != 3 {
		t.Errorf("Read() = %v, want 3", result)
	}
}

func TestGuardUpdate(t *testing.T) {
	g := NewGuard(10)

	result := g.Update(func(v *int) any {
		old := *v
		*v = 20
		return old
	})

	if result != 10 {
		t.Errorf("Update returned %v, want 10", result)
	}
	if got := g.Get(); got != 20 {
		t.Errorf("Get() = %d, want 20", got)
	}
}

func TestGuardConcurrentSafety(t *testing.T) {
	g := NewGuard(0)
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Update(func(v *int) any {
				*v++
				return nil
			})
		}()
	}

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Get()
		}()
	}

	wg.Wait()

	if got := g.Get(); got != 100 {
		t.Errorf("Get() = %d, want 100", got)
	}
}

func TestFlightSingleAcquire(t *testing.T) {
	var f Flight

	if !f.TryAcquire() {
		t.Fatal("first TryAcquire should succeed")
	}
	if f.TryAcquire() {
		t.Error("second TryAcquire should fail while in flight")
	}
	if !f.InFlight() {
		t.Error("InFlight should be true")
	}

	f.Release()
	if !f.TryAcquire() {
		t.Error("TryAcquire after Release should succeed")
	}
}

func TestFlightConcurrentAcquire(t *testing.T) {
	var f Flight
	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.TryAcquire() {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if acquired != 1 {
		t.Errorf("acquired = %d, want exactly 1", acquired)
	}
}

func TestGenerationInvalidation(t *testing.T) {
	var g Generation

	token := g.Next()
	if !g.Valid(token) {
		t.Error("fresh token should be valid")
	}

	g.Next()
	if g.Valid(token) {
		t.Error("stale token should be invalid after bump")
	}
}

func TestGenerationMonotonic(t *testing.T) {
	var g Generation
	prev := g.Current()
	for i := 0; i < 10; i++ {
		next := g.Next()
		if next <= prev {
			t.Fatalf("Next() = %d, not greater than %d", next, prev)
		}
		prev = next
	}
}
