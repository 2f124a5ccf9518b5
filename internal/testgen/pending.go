package testgen

import (
	"context"
	"sync"
	"time"

	"github.com/pavelanni/labquiz/internal/model"
)

// Pending keeps generated tests, answer keys included, until they are submitted or expire.
type Pending struct {
	mu        sync.RWMutex
	tests     map[string]model.Test
	expiresAt map[string]time.Time
	ttl       time.Duration
	now       func() time.Time
}

// NewPending creates a cache. A zero ttl keeps tests until they are taken.
func NewPending(ttl time.Duration) *Pending {
	return &Pending{
		tests:     make(map[string]model.Test),
		expiresAt: make(map[string]time.Time),
		ttl:       ttl,
		now:       time.Now,
	}
}

func (p *Pending) Put(t model.Test) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tests[t.ID] = t
	if p.ttl > 0 {
		p.expiresAt[t.ID] = p.now().Add(p.ttl)
	}
}

func (p *Pending) Get(id string) (model.Test, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lookup(id)
}

// Take returns the test and removes it, so a test can be submitted only once.
func (p *Pending) Take(id string) (model.Test, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.lookup(id)
	delete(p.tests, id)
	delete(p.expiresAt, id)
	return t, ok
}

func (p *Pending) lookup(id string) (model.Test, bool) {
	t, ok := p.tests[id]
	if !ok {
		return model.Test{}, false
	}
	if exp, ok := p.expiresAt[id]; ok && p.now().After(exp) {
		return model.Test{}, false
	}
	return t, true
}

// Len reports how many tests are held, expired ones included.
func (p *Pending) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.tests)
}

// CleanupExpired drops every expired test.
func (p *Pending) CleanupExpired() {
	if p.ttl == 0 {
		return
	}
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, exp := range p.expiresAt {
		if now.After(exp) {
			delete(p.tests, id)
			delete(p.expiresAt, id)
		}
	}
}

// Clear drops all pending tests.
func (p *Pending) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.tests)
	clear(p.expiresAt)
}

// RunCleanup calls CleanupExpired every interval until ctx is done.
func (p *Pending) RunCleanup(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.CleanupExpired()
		}
	}
}
