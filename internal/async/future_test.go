package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestResolveOnce(t *testing.T) {
	p := NewPromise[int]()

	if !p.Resolve(1) {
		t.Fatal("first resolve should win")
	}

	if p.Resolve(2) {
		t.Error("second resolve should lose")
	}

	if p.Reject(errors.New("late")) {
		t.Error("reject after resolve should lose")
	}

	v, err := p.Future().Get()
	if err != nil || v != 1 {
		t.Errorf("Get = (%d, %v), want (1, nil)", v, err)
	}
}

func TestConcurrentSettleSingleWinner(t *testing.T) {
	p := NewPromise[int]()

	var wins atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 32; i++ {
		wg.Add(1)

		go func(v int) {
			defer wg.Done()

			if p.Resolve(v) {
				wins.Add(1)
			}
		}(i)
	}

	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("winners = %d, want 1", wins.Load())
	}
}

func TestWaitContext(t *testing.T) {
	p := NewPromise[string]()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := p.Future().Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait err = %v, want deadline exceeded", err)
	}

	if p.Future().Ready() {
		t.Error("future should still be pending")
	}

	p.Resolve("ok")

	v, err := p.Future().Wait(context.Background())
	if err != nil || v != "ok" {
		t.Errorf("Wait = (%q, %v), want (ok, nil)", v, err)
	}
}

func TestThen(t *testing.T) {
	f := Then(Resolved(20), func(v int, err error) (int, error) {
		return v + 1, err
	})

	v, err := f.Get()
	if err != nil || v != 21 {
		t.Errorf("Then = (%d, %v), want (21, nil)", v, err)
	}

	boom := errors.New("boom")
	g := Then(Failed[int](boom), func(v int, err error) (string, error) {
		return "", err
	})

	if _, err := g.Get(); !errors.Is(err, boom) {
		t.Errorf("Then err = %v, want boom", err)
	}
}
