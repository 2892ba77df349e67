package workerpool

import (
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"

	"github.com/shirou/gopsutil/cpu"
)

const (
	DefaultMaxWorkers   = int(8)
	DefaultQueueLen     = int(256)
	fallbackParallelism = int(4)
)

var ErrClosed = errors.New("worker pool is closed")

type Pool struct {
	logger      *log.Logger
	tasks       chan func()
	size        int
	wg          sync.WaitGroup
	closeLock   sync.RWMutex
	closed      bool
	statQueued  atomic.Int64
	statRunning atomic.Int64
	statDone    atomic.Int64
}

// HardwareParallelism returns logical CPU count, 4 if it can not be detected.
func HardwareParallelism() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		return fallbackParallelism
	}
	return n
}

// SizeFor is min(2*hw, max), at least 1.
func SizeFor(hw, max int) int {
	if hw <= 0 {
		hw = fallbackParallelism
	}
	if max <= 0 {
		max = DefaultMaxWorkers
	}
	return min(hw*2, max)
}

func New(logger *log.Logger, size, queueLen int) *Pool {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if size <= 0 {
		size = 1
	}
	if queueLen < 0 {
		queueLen = DefaultQueueLen
	}
	p := &Pool{
		logger: logger,
		tasks:  make(chan func(), queueLen),
		size:   size,
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go func() {
			p.processor()
			p.wg.Done()
		}()
	}
	logger.Printf("Worker pool started with %d workers", size)
	return p
}

func (p *Pool) processor() {
	for task := range p.tasks {
		p.statQueued.Add(-1)
		p.statRunning.Add(1)
		task()
		p.statRunning.Add(-1)
		p.statDone.Add(1)
	}
}

func (p *Pool) Size() int {
	return p.size
}

// Submit queues fn, blocking while the queue is full.
func (p *Pool) Submit(fn func()) error {
	p.closeLock.RLock()
	defer p.closeLock.RUnlock()
	if p.closed {
		return ErrClosed
	}
	p.statQueued.Add(1)
	p.tasks <- fn
	return nil
}

// Map runs fn(0..n-1) on the pool and waits for all of them.
// Result i is the error returned by fn(i).
func (p *Pool) Map(n int, fn func(i int) error) []error {
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		err := p.Submit(func() {
			defer wg.Done()
			errs[i] = fn(i)
		})
		if err != nil {
			errs[i] = err
			wg.Done()
		}
	}
	wg.Wait()
	return errs
}

// Run executes fn on the pool and waits for its result.
func Run[T any](p *Pool, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ret := make(chan result, 1)
	err := p.Submit(func() {
		v, err := fn()
		ret <- result{v: v, err: err}
	})
	if err != nil {
		var zero T
		return zero, err
	}
	r := <-ret
	return r.v, r.err
}

// Close stops accepting tasks, drains the queue and waits for workers.
func (p *Pool) Close() {
	p.closeLock.Lock()
	if p.closed {
		p.closeLock.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.closeLock.Unlock()
	p.wg.Wait()
}

func (p *Pool) GetStats() map[string]any {
	return map[string]any{
		"workers":         p.size,
		"queue capacity":  cap(p.tasks),
		"queued tasks":    p.statQueued.Load(),
		"running tasks":   p.statRunning.Load(),
		"completed tasks": p.statDone.Load(),
	}
}

// Lazy builds its pool on the first Get, later calls return the same pool.
type Lazy struct {
	once sync.Once
	pool *Pool
	mk   func() *Pool
}

func NewLazy(mk func() *Pool) *Lazy {
	return &Lazy{mk: mk}
}

// NewLazyDefault sizes the pool from hardware parallelism capped at maxWorkers.
func NewLazyDefault(logger *log.Logger, maxWorkers, queueLen int) *Lazy {
	return NewLazy(func() *Pool {
		hw := HardwareParallelism()
		size := SizeFor(hw, maxWorkers)
		if logger != nil {
			logger.Printf("System logical CPUs: %d, worker pool size: %d", hw, size)
		}
		return New(logger, size, queueLen)
	})
}

func (l *Lazy) Get() *Pool {
	l.once.Do(func() {
		l.pool = l.mk()
	})
	return l.pool
}

// Close closes the pool if it was ever created.
func (l *Lazy) Close() {
	l.once.Do(func() {})
	if l.pool != nil {
		l.pool.Close()
	}
}
