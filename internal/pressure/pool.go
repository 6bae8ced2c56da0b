package pressure

import "sync"

// Caps holds the four pressure-indexed capacities named in §3's Object
// Pools table (low/medium/high/critical).
type Caps struct {
	Low, Medium, High, Critical int
}

func (c Caps) forLevel(level Level) int {
	switch level {
	case Medium:
		return c.Medium
	case High:
		return c.High
	case Critical:
		return c.Critical
	default:
		return c.Low
	}
}

// LineBufferCaps, ToolCallCaps and ChunkCaps are the concrete per-pool
// capacities enumerated in data model §3.
var (
	LineBufferCaps = Caps{Low: 30, Medium: 20, High: 10, Critical: 5}
	ToolCallCaps   = Caps{Low: 15, Medium: 10, High: 5, Critical: 3}
	ChunkCaps      = Caps{Low: 5, Medium: 3, High: 2, Critical: 1}
)

// Pool is a bounded stack of reusable objects whose capacity shrinks under
// pressure (§4.7). Push/pop are mutex-serialized, which on a single
// process gives the same "exceeding the bound drops the object" semantics
// the spec asks for without needing lock-free atomics.
type Pool[T any] struct {
	caps Caps
	make func() T

	mu    sync.Mutex
	items []T
	cap   int
}

// NewPool builds a Pool with the given capacity table, subscribing to src
// so its bound tracks pressure transitions for the rest of the process
// lifetime.
func NewPool[T any](src *Source, caps Caps, makeItem func() T) *Pool[T] {
	p := &Pool[T]{caps: caps, make: makeItem}
	src.Subscribe(SubscriberFunc(func(level Level) {
		p.Resize(caps.forLevel(level))
	}))
	return p
}

// Get pops a pooled item, or constructs a fresh one if the pool is empty.
func (p *Pool[T]) Get() T {
	p.mu.Lock()
	n := len(p.items)
	if n == 0 {
		p.mu.Unlock()
		return p.make()
	}
	item := p.items[n-1]
	p.items = p.items[:n-1]
	p.mu.Unlock()
	return item
}

// Put returns an item to the pool, dropping it silently if the pool is at
// or above its current pressure-indexed capacity.
func (p *Pool[T]) Put(item T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.items) >= p.cap {
		return
	}
	p.items = append(p.items, item)
}

// Resize sets a new capacity and trims any excess items immediately so the
// pool never exceeds its bound between now and the next Put (§8).
func (p *Pool[T]) Resize(newCap int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cap = newCap
	if newCap < 0 {
		newCap = 0
	}
	if len(p.items) > newCap {
		p.items = p.items[:newCap]
	}
}

// Len reports the number of currently pooled (idle) items, for tests.
func (p *Pool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}
