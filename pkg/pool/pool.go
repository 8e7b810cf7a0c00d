// Package pool provides typed object pools for the buffers reused on the hot
// path: record pages handed from the extraction loop to the sink and the byte
// buffers that hold encoded batches before upload.
//
// Example usage:
//
//	page := pool.GetPage(batchSize)
//	defer pool.PutPage(page)
package pool

import (
	"bytes"
	"sync"
	"sync/atomic"

	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
)

// Pool is a typed wrapper around sync.Pool that resets objects on Put and
// counts allocations.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
	stats struct {
		allocated int64
		inUse     int64
		gets      int64
	}
}

// New creates a pool. reset may be nil.
func New[T any](newFn func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() interface{} {
		atomic.AddInt64(&p.stats.allocated, 1)
		return newFn()
	}
	return p
}

// Get takes an object from the pool, allocating one when it is empty.
func (p *Pool[T]) Get() T {
	atomic.AddInt64(&p.stats.gets, 1)
	atomic.AddInt64(&p.stats.inUse, 1)
	return p.pool.Get().(T)
}

// Put resets obj and returns it to the pool.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	atomic.AddInt64(&p.stats.inUse, -1)
	p.pool.Put(obj)
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Allocated int64 `json:"allocated"`
	InUse     int64 `json:"in_use"`
	Gets      int64 `json:"gets"`
}

// Stats returns the current counters.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Allocated: atomic.LoadInt64(&p.stats.allocated),
		InUse:     atomic.LoadInt64(&p.stats.inUse),
		Gets:      atomic.LoadInt64(&p.stats.gets),
	}
}

// Page is a reusable slice of records.
type Page struct {
	Rows []core.Row
}

// Reset empties the page and drops its record references.
func (p *Page) Reset() {
	clear(p.Rows)
	p.Rows = p.Rows[:0]
}

// maxPooledRows keeps oversized pages out of the pool.
const maxPooledRows = 1 << 16

var (
	// Pages holds record pages of the extraction loop
	Pages = New(func() *Page { return &Page{} }, (*Page).Reset)

	// Buffers holds byte buffers for encoded batches
	Buffers = New(
		func() *bytes.Buffer { return new(bytes.Buffer) },
		func(b *bytes.Buffer) { b.Reset() },
	)
)

// GetPage returns an empty page with room for at least capacity rows.
func GetPage(capacity int) *Page {
	p := Pages.Get()
	if cap(p.Rows) < capacity {
		p.Rows = make([]core.Row, 0, capacity)
	}
	return p
}

// PutPage returns p to the pool. The caller must not use it afterwards.
func PutPage(p *Page) {
	if p == nil {
		return
	}
	if cap(p.Rows) > maxPooledRows {
		p.Rows = nil
	}
	Pages.Put(p)
}

// GetBuffer returns an empty buffer.
func GetBuffer() *bytes.Buffer {
	return Buffers.Get()
}

// PutBuffer resets b and returns it to the pool.
func PutBuffer(b *bytes.Buffer) {
	if b == nil {
		return
	}
	Buffers.Put(b)
}
