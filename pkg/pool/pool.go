package pool

import (
	"io"
	"runtime"
	"sync"
)

// Pool represents a pool of workers, used for parallelizing functions.
//
// Functions needing a *Pool will work with a nil receiver, doing the equivalent
// work on the current goroutine instead.
type Pool struct {
	// The common channel used to send tasks to the workers.
	tasks       chan func()
	workerCount int
	once        sync.Once
}

// NewPool creates a new pool, with a certain number of workers.
//
// If count <= 0, this will use the number of available CPUs instead.
func NewPool(count int) *Pool {
	if count <= 0 {
		count = runtime.NumCPU()
	}
	p := &Pool{
		tasks:       make(chan func()),
		workerCount: count,
	}
	for i := 0; i < count; i++ {
		go func() {
			for task := range p.tasks {
				task()
			}
		}()
	}
	return p
}

// TearDown stops the workers. It is safe to call more than once.
func (p *Pool) TearDown() {
	if p == nil {
		return
	}
	p.once.Do(func() { close(p.tasks) })
}

// Workers returns the number of workers, 1 for a nil pool.
func (p *Pool) Workers() int {
	if p == nil {
		return 1
	}
	return p.workerCount
}

// Parallelize calls f count times, passing in indices from 0..count-1, and
// returns [f(0), f(1), ..., f(count - 1)].
func Parallelize[T any](p *Pool, count int, f func(int) T) []T {
	results := make([]T, count)
	if p == nil {
		for i := range results {
			results[i] = f(i)
		}
		return results
	}

	var wg sync.WaitGroup
	wg.Add(count)
	for i := 0; i < count; i++ {
		i := i
		p.tasks <- func() {
			defer wg.Done()
			results[i] = f(i)
		}
	}
	wg.Wait()
	return results
}

// SearchFirst queries f with increasing attempt numbers until one reports
// success, and returns the result of the smallest successful attempt. Workers
// test attempts in batches of Workers(); every attempt below the smallest
// success is evaluated.
func SearchFirst[T any](p *Pool, f func(attempt int) (T, bool)) T {
	batch := p.Workers()
	for base := 0; ; base += batch {
		type result struct {
			v  T
			ok bool
		}
		results := Parallelize(p, batch, func(i int) result {
			v, ok := f(base + i)
			return result{v, ok}
		})
		for _, r := range results {
			if r.ok {
				return r.v
			}
		}
	}
}

// LockedReader wraps an io.Reader to be safe for concurrent reads.
type LockedReader struct {
	reader io.Reader
	m      sync.Mutex
}

// NewLockedReader creates a LockedReader by wrapping an underlying value.
func NewLockedReader(r io.Reader) *LockedReader {
	return &LockedReader{reader: r}
}

// Read implements io.Reader for LockedReader.
func (r *LockedReader) Read(p []byte) (int, error) {
	r.m.Lock()
	defer r.m.Unlock()
	return r.reader.Read(p)
}
