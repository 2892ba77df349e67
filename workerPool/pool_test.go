package workerpool

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSizeFor(t *testing.T) {
	tests := []struct{ hw, max, want int }{
		{1, 8, 2},
		{2, 8, 4},
		{4, 8, 8},
		{16, 8, 8},
		{0, 8, 8},
		{3, 0, 6},
	}
	for _, tt := range tests {
		if got := SizeFor(tt.hw, tt.max); got != tt.want {
			t.Errorf("SizeFor(%d, %d) = %d, want %d", tt.hw, tt.max, got, tt.want)
		}
	}
	if HardwareParallelism() <= 0 {
		t.Error("hardware parallelism must be positive")
	}
}

func TestMapCollectsPerIndexErrors(t *testing.T) {
	p := New(nil, 4, 2)
	defer p.Close()
	bad := errors.New("bad")
	var ran atomic.Int64
	errs := p.Map(50, func(i int) error {
		ran.Add(1)
		if i%7 == 3 {
			return bad
		}
		return nil
	})
	if ran.Load() != 50 {
		t.Fatalf("ran %d tasks, want 50", ran.Load())
	}
	for i, err := range errs {
		if (i%7 == 3) != errors.Is(err, bad) {
			t.Fatalf("task %d returned %v", i, err)
		}
	}
}

func TestRunsInParallel(t *testing.T) {
	p := New(nil, 4, 0)
	defer p.Close()
	var mu sync.Mutex
	cur, peak := 0, 0
	p.Map(8, func(int) error {
		mu.Lock()
		cur++
		peak = max(peak, cur)
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		cur--
		mu.Unlock()
		return nil
	})
	if peak < 2 {
		t.Fatalf("peak concurrency %d, tasks were serialized", peak)
	}
	if peak > 4 {
		t.Fatalf("peak concurrency %d exceeds pool size", peak)
	}
}

func TestRunAndClose(t *testing.T) {
	p := New(nil, 2, 4)
	v, err := Run(p, func() (int, error) { return 42, nil })
	if err != nil || v != 42 {
		t.Fatalf("Run = %d, %v", v, err)
	}
	p.Close()
	p.Close()
	if _, err := Run(p, func() (int, error) { return 1, nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("Run after close = %v, want ErrClosed", err)
	}
}

func TestLazyInitializesOnce(t *testing.T) {
	var made atomic.Int64
	l := NewLazy(func() *Pool {
		made.Add(1)
		return New(nil, 1, 1)
	})
	defer l.Close()
	var wg sync.WaitGroup
	pools := make([]*Pool, 16)
	for i := range pools {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pools[i] = l.Get()
		}(i)
	}
	wg.Wait()
	if made.Load() != 1 {
		t.Fatalf("pool constructed %d times", made.Load())
	}
	for _, p := range pools {
		if p != pools[0] {
			t.Fatal("Get returned different pools")
		}
	}
}
