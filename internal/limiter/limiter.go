// Package limiter bounds in-flight requests per provider across every
// document in the process. Per-document fan-out is capped by the
// enrichment pool; this is the global cap that keeps many concurrent
// documents from over-subscribing one backend.
package limiter

import (
	"context"
	"strings"
	"sync"
)

// Pool hands out slots keyed by provider name. Providers missing from
// the capacity map get the fallback capacity on first use.
type Pool struct {
	mu       sync.Mutex
	capacity map[string]int
	fallback int
	sem      map[string]chan struct{}
}

func New(capacity map[string]int, fallback int) *Pool {
	if fallback <= 0 {
		fallback = 2
	}
	caps := make(map[string]int, len(capacity))
	for name, n := range capacity {
		caps[strings.ToLower(name)] = n
	}
	return &Pool{capacity: caps, fallback: fallback, sem: map[string]chan struct{}{}}
}

func (p *Pool) slots(provider string) chan struct{} {
	name := strings.ToLower(provider)
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.sem[name]
	if !ok {
		n := p.capacity[name]
		if n <= 0 {
			n = p.fallback
		}
		ch = make(chan struct{}, n)
		p.sem[name] = ch
	}
	return ch
}

// Acquire blocks until a slot for the provider frees up or the context
// dies. The returned release function must be called exactly once.
func (p *Pool) Acquire(ctx context.Context, provider string) (func(), error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	ch := p.slots(provider)
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
