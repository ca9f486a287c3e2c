package dht

import (
	"bytes"
	"context"
	"fmt"
)

// Verifier judges whether a publish is durable, given the values a
// find_value readback collected after a STORE sweep (spec.md §4.8).
type Verifier func([]Value) bool

// ExactValueVerifier returns a Verifier satisfied once any readback
// value's Payload matches want byte-for-byte — the common "did my own
// publish round-trip" case.
func ExactValueVerifier(want []byte) Verifier {
	return func(values []Value) bool {
		for _, v := range values {
			if bytes.Equal(v.Payload, want) {
				return true
			}
		}
		return false
	}
}

// Publish applies value locally, then sweeps every known peer — not an
// affinity-sorted frontier; spec.md §4.8 is explicit this is a different
// peer-selection strategy than C7's targeted lookup — sending STORE via
// the routing table's resumable known-peer cursor, MaxTasks at a time.
// After each sweep window drains, it reads the key back with find_value
// and asks verifier whether the publish is durable. If not, the peer
// sweep resumes from where it left off; Publish gives up, and returns
// false, only once every known peer has been swept without a positive
// verdict.
func (n *Node) Publish(ctx context.Context, value Value, accept AcceptFunc, all bool, verifier Verifier) (bool, error) {
	hash := n.hasher.Hash(value.Key.Key.Canonical())
	if _, err := n.store.Put(hash, n.keyring, value, nowSeconds()); err != nil {
		return false, fmt.Errorf("dht: local publish: %w", err)
	}

	cursor := n.table.Cursor()
	for {
		swept := n.sweepStoreWindow(ctx, cursor, value)
		if swept == 0 {
			return false, nil
		}

		results, err := n.FindValue(ctx, nil, hash, accept, SearchPolicy{Kind: FullSearch, Limit: MaxTasks}, all)
		if err != nil {
			return false, fmt.Errorf("dht: publish readback: %w", err)
		}
		if verifier(results) {
			return true, nil
		}
	}
}

type storeTarget struct {
	id  NodeID
	rec NodeRecord
}

// sweepStoreWindow sends STORE to up to MaxTasks peers pulled from the
// resumable known-peer cursor and returns how many peers were contacted
// this call (0 means the sweep is exhausted). Per-peer errors are
// swallowed (spec.md §7): the scorer already records them, and one bad
// peer must never abort the whole sweep.
func (n *Node) sweepStoreWindow(ctx context.Context, cursor *KnownPeerCursor, value Value) int {
	var batch []storeTarget
	for len(batch) < MaxTasks {
		id, ok := n.table.Next(cursor)
		if !ok {
			break
		}
		rec, ok := n.table.Get(id)
		if !ok {
			continue
		}
		batch = append(batch, storeTarget{id, rec})
	}
	if len(batch) == 0 {
		return 0
	}

	w := NewWait[bool]()
	for _, t := range batch {
		w.RequestImmediate()
		go n.queryStore(ctx, w, t.id, t.rec, value)
	}
	w.Wait(len(batch))
	return len(batch)
}

func (n *Node) queryStore(ctx context.Context, w *Wait[bool], peer NodeID, rec NodeRecord, value Value) {
	resp, err := n.link.Query(ctx, peer, Query{
		Kind:  QueryKindStore,
		Store: &StoreQuery{Value: value},
	}, TimeoutValue)
	if err != nil || resp == nil {
		n.scorer.SetBad(peer)
		w.Respond(false)
		return
	}
	n.scorer.SetGood(peer)
	n.table.Add(peer, rec)
	w.Respond(resp.Kind == ResponseKindStored)
}
