package dht

import "sync"

// Wait is the counted-rendezvous primitive the lookup and publish engines
// use to fan out bounded-parallelism queries without forcibly cancelling
// stragglers (spec.md §5). A caller reserves a slot with RequestImmediate
// before starting a goroutine, the goroutine reports its outcome with
// Respond whenever it finishes (even after the caller has stopped
// waiting), and Wait blocks only until enough results have arrived or
// every reserved slot has reported in.
type Wait[T any] struct {
	mu          sync.Mutex
	cond        *sync.Cond
	outstanding int
	results     []T
}

// NewWait constructs an empty Wait.
func NewWait[T any]() *Wait[T] {
	w := &Wait[T]{}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// RequestImmediate reserves one outstanding slot. Call this synchronously,
// before launching the goroutine that will eventually call Respond, so a
// concurrent Wait can never observe outstanding == 0 too early.
func (w *Wait[T]) RequestImmediate() {
	w.mu.Lock()
	w.outstanding++
	w.mu.Unlock()
}

// Respond reports one reserved slot's outcome. Safe to call from any
// goroutine, at any time, including after the Wait call that was counting
// on it has already returned — the value is simply buffered for the next
// Wait.
func (w *Wait[T]) Respond(v T) {
	w.mu.Lock()
	w.outstanding--
	w.results = append(w.results, v)
	w.mu.Unlock()
	w.cond.Broadcast()
}

// Wait blocks until at least count results are buffered or every reserved
// slot has responded, whichever comes first, then drains and returns
// whatever is buffered (which may be fewer than count, if the slots ran
// dry).
func (w *Wait[T]) Wait(count int) []T {
	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.results) < count && w.outstanding > 0 {
		w.cond.Wait()
	}
	out := w.results
	w.results = nil
	return out
}

// Outstanding reports the number of reserved slots that have not yet
// responded.
func (w *Wait[T]) Outstanding() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.outstanding
}
