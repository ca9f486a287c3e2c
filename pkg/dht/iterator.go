package dht

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// frontierEntry is one candidate tracked by an Iterator, already carrying
// the effective affinity it had at the time it was admitted.
type frontierEntry struct {
	id       NodeID
	rec      NodeRecord
	affinity int // effective affinity: affinity(id, target) - score(id)
	seq      uint64
}

// Iterator is the resumable, effective-affinity-ordered lookup frontier of
// spec.md §4.6 (C6). Rather than being fed by the caller pushing every
// discovered peer in by hand, it is backed directly by the routing
// table's own resumable known-peer cursor: a lookup/find-value engine
// calls Update() whenever it wants the frontier to catch up with
// whatever the table has learned since the last call — including peers
// discovered mid-search, since every query response is folded into the
// routing table (via Node.table.Add) before the next Update(). It is
// safe for concurrent use by the bounded-parallelism workers in
// lookup.go.
type Iterator struct {
	target NodeID
	table  *RoutingTable
	scorer *Scorer

	mu      sync.Mutex
	cursor  *KnownPeerCursor
	order   []frontierEntry // ascending effective affinity; tail = highest priority
	seen    map[NodeID]struct{}
	nextSeq uint64
	drained bool
}

// NewIterator constructs a frontier over target, backed by table's
// known-peer cursor and scorer's health judgements.
func NewIterator(target NodeID, table *RoutingTable, scorer *Scorer) *Iterator {
	return &Iterator{
		target: target,
		table:  table,
		scorer: scorer,
		cursor: table.Cursor(),
		seen:   make(map[NodeID]struct{}),
	}
}

// effectiveAffinity is affinity(id, target) - score(id), saturating at
// zero (spec.md §4.6).
func effectiveAffinity(id, target NodeID, scorer *Scorer) int {
	eff := Affinity(id, target) - int(scorer.FailCount(id))
	if eff < 0 {
		eff = 0
	}
	return eff
}

// Update pulls every routing-table peer discovered since the last call,
// drops any the scorer now considers unhealthy (spec.md §8 S5: a peer at
// MAX_FAIL_COUNT is excluded from the frontier entirely, not merely
// deprioritized), and re-applies the retention rule: entries are kept
// sorted ascending by effective affinity, and the front is trimmed only
// while the frontier holds more than MaxTasks entries AND the front's
// affinity is strictly less than the back's — ties at the boundary are
// always kept, so the frontier can legitimately exceed MaxTasks when
// candidates tie for last place (spec.md §4.6).
func (it *Iterator) Update() {
	it.mu.Lock()
	defer it.mu.Unlock()

	it.drained = false
	for {
		id, ok := it.table.Next(it.cursor)
		if !ok {
			it.drained = true
			break
		}
		if _, dup := it.seen[id]; dup {
			continue
		}
		it.seen[id] = struct{}{}
		if !it.scorer.Healthy(id) {
			continue
		}
		rec, ok := it.table.Get(id)
		if !ok {
			continue
		}
		it.order = append(it.order, frontierEntry{
			id:       id,
			rec:      rec,
			affinity: effectiveAffinity(id, it.target, it.scorer),
			seq:      it.nextSeq,
		})
		it.nextSeq++
	}

	sort.SliceStable(it.order, func(i, j int) bool {
		return it.order[i].affinity < it.order[j].affinity
	})

	for len(it.order) > MaxTasks && it.order[0].affinity < it.order[len(it.order)-1].affinity {
		it.order = it.order[1:]
	}
}

// PopHighest removes and returns the frontier's current highest-priority
// candidate — the tail, i.e. the highest effective affinity — for the
// fill-window step of spec.md §4.7. Returns false once the frontier is
// empty.
func (it *Iterator) PopHighest() (NodeID, NodeRecord, bool) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if len(it.order) == 0 {
		return NodeID{}, NodeRecord{}, false
	}
	last := len(it.order) - 1
	e := it.order[last]
	it.order = it.order[:last]
	return e.id, e.rec, true
}

// IsExhausted reports whether the frontier has nothing left to offer: no
// retained candidates, and the routing-table cursor has caught up with
// every peer known as of the last Update() call (spec.md §4.7's exit
// condition, "the window and the frontier are both empty").
func (it *Iterator) IsExhausted() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return len(it.order) == 0 && it.drained
}

// Len returns the number of candidates currently retained.
func (it *Iterator) Len() int {
	it.mu.Lock()
	defer it.mu.Unlock()
	return len(it.order)
}

// String dumps the frontier's current state for debugging, highest
// priority (tail) first.
func (it *Iterator) String() string {
	it.mu.Lock()
	defer it.mu.Unlock()
	var b strings.Builder
	fmt.Fprintf(&b, "Iterator{target=%s}\n", it.target)
	for i := len(it.order) - 1; i >= 0; i-- {
		e := it.order[i]
		fmt.Fprintf(&b, "  %s affinity=%d\n", e.id, e.affinity)
	}
	return b.String()
}
