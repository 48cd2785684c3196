package watcher

import "time"

type candidate struct {
	path    string
	name    string
	kind    Kind
	size    int64
	modTime time.Time
	since   time.Time
	retryAt time.Time
	backoff backoff
}

// pendingSet keeps candidates in the order they were first seen.
type pendingSet struct {
	order  []*candidate
	byPath map[string]*candidate
}

func newPendingSet() *pendingSet {
	return &pendingSet{byPath: make(map[string]*candidate)}
}

func (p *pendingSet) get(path string) *candidate { return p.byPath[path] }

func (p *pendingSet) add(c *candidate) {
	p.byPath[c.path] = c
	p.order = append(p.order, c)
}

func (p *pendingSet) remove(path string) {
	c, ok := p.byPath[path]
	if !ok {
		return
	}
	delete(p.byPath, path)
	for i, existing := range p.order {
		if existing == c {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// list returns a copy so callers may remove while iterating.
func (p *pendingSet) list() []*candidate {
	out := make([]*candidate, len(p.order))
	copy(out, p.order)
	return out
}

type backoff struct {
	initial time.Duration
	maximum time.Duration
	current time.Duration
}

func newBackoff(initial, maximum time.Duration) backoff {
	return backoff{initial: initial, maximum: maximum}
}

// next returns the delay to wait and doubles the following one.
func (b *backoff) next() time.Duration {
	if b.current <= 0 {
		b.current = b.initial
	}
	delay := b.current
	b.current = min(b.current*2, max(b.maximum, b.initial))
	return delay
}

func (b *backoff) reset() { b.current = 0 }
