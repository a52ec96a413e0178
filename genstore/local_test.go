package genstore

import (
	"context"
	"sync"
	"testing"
)

func TestLocalMissingIsZero(t *testing.T) {
	s := NewLocal()
	g, err := s.Snapshot(context.Background(), "nope")
	if err != nil || g != 0 {
		t.Fatalf("got %d, %v", g, err)
	}
}

func TestLocalBumpPerNamespace(t *testing.T) {
	ctx := context.Background()
	s := NewLocal()
	t.Cleanup(func() { _ = s.Close(ctx) })

	for i := 0; i < 2; i++ {
		if _, err := s.Bump(ctx, "a"); err != nil {
			t.Fatal(err)
		}
	}
	a, _ := s.Snapshot(ctx, "a")
	b, _ := s.Snapshot(ctx, "b")
	if a != 2 || b != 0 {
		t.Fatalf("a=%d b=%d want 2, 0", a, b)
	}
}

func TestLocalConcurrentBumps(t *testing.T) {
	ctx := context.Background()
	s := NewLocal()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Bump(ctx, "ns")
		}()
	}
	wg.Wait()
	if g, _ := s.Snapshot(ctx, "ns"); g != 50 {
		t.Fatalf("epoch = %d want 50", g)
	}
}
