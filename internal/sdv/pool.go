package sdv

import (
	"sync"
)

const (
	// compactEvery is the number of settlements between compaction checks.
	compactEvery = 64

	// minPoolCapacity is the capacity below which the token slice is never shrunk.
	minPoolCapacity = 64
)

// token is one in-flight backend operation.
type token struct {
	ready    <-chan struct{} // ready is closed when the backend result is available
	complete func()          // complete hands the result to the caller
	settled  bool            // settled is set by the worker once complete ran
}

// waitPool completes backend operations on a dedicated worker goroutine.
// The worker owns every registered token: a token's result is handed to the
// caller only by the worker, either when its waiter reports it ready or
// while the worker drains the registry on stop.
type waitPool struct {
	mu     sync.Mutex // mu guards closed and orders registration against stop
	closed bool       // closed rejects new tokens

	add      chan *token   // add registers a token with the worker
	settled  chan *token   // settled hands a ready token to the worker
	stop     chan struct{} // stop asks the worker to drain and exit
	finished chan struct{} // finished is closed once the worker exited

	tokens      []*token // tokens is the registry of the worker
	sinceCheck  int      // sinceCheck counts settlements since the last compaction check
	compactions int      // compactions counts shrinks of tokens
}

// newWaitPool starts a pool.
func newWaitPool() *waitPool {
	p := &waitPool{
		add:      make(chan *token),
		settled:  make(chan *token),
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
	}

	go p.run()

	return p
}

// submit registers an operation. complete runs on the worker once ready is
// closed. Returns false if the pool is closed.
func (p *waitPool) submit(ready <-chan struct{}, complete func()) bool {
	tk := &token{ready: ready, complete: complete}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}

	// stop cannot be closed while mu is held, so the worker receives tk.
	p.add <- tk
	p.mu.Unlock()

	go p.await(tk)

	return true
}

// close stops accepting tokens and returns once the worker settled every
// registered token and exited.
func (p *waitPool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.finished
		return
	}

	p.closed = true
	p.mu.Unlock()

	close(p.stop)
	<-p.finished
}

// live returns the number of registered tokens not yet settled.
// Only meaningful once the worker exited.
func (p *waitPool) live() int {
	n := 0
	for _, tk := range p.tokens {
		if !tk.settled {
			n++
		}
	}

	return n
}

// await reports tk to the worker once its result is available.
func (p *waitPool) await(tk *token) {
	select {
	case <-tk.ready:
	case <-p.finished:
		return
	}

	select {
	case p.settled <- tk:
	case <-p.finished:
	}
}

// run is the worker loop.
func (p *waitPool) run() {
	defer close(p.finished)

	for {
		select {
		case tk := <-p.add:
			p.tokens = append(p.tokens, tk)

		case tk := <-p.settled:
			p.settle(tk)

		case <-p.stop:
			p.drain()
			return
		}
	}
}

// drain settles every registered token, waiting for each result in turn.
func (p *waitPool) drain() {
	pending := append([]*token(nil), p.tokens...)

	for _, tk := range pending {
		if tk.settled {
			continue
		}

		<-tk.ready
		p.settle(tk)
	}
}

// settle runs tk's completion once.
func (p *waitPool) settle(tk *token) {
	if tk.settled {
		return
	}

	tk.complete()
	tk.settled = true
	p.afterSettle()
}

// afterSettle drops settled tokens every compactEvery settlements and
// shrinks the backing array when it is more than twice the live count.
func (p *waitPool) afterSettle() {
	p.sinceCheck++
	if p.sinceCheck < compactEvery {
		return
	}

	p.sinceCheck = 0

	live := p.tokens[:0]
	for _, tk := range p.tokens {
		if !tk.settled {
			live = append(live, tk)
		}
	}

	for i := len(live); i < len(p.tokens); i++ {
		p.tokens[i] = nil
	}

	p.tokens = live

	if cap(p.tokens) > minPoolCapacity && cap(p.tokens) > 2*len(p.tokens) {
		shrunk := make([]*token, len(p.tokens), max(2*len(p.tokens), minPoolCapacity))
		copy(shrunk, p.tokens)

		p.tokens = shrunk
		p.compactions++
	}
}
