package dht

import "context"

// idOf derives the NodeID a record is stored and looked up under: the hash
// of its public key (spec.md §3: "a node ID is the hash of its public
// key"). Kept as a single conversion point so routing table buckets never
// need to store NodeID and NodeRecord redundantly.
func (n *Node) idOf(rec NodeRecord) NodeID {
	return NodeID(n.hasher.Hash(rec.ID))
}

// AcceptFunc filters which Values a FindValue search collects, so one
// caller can ask only for Signature-rule address records while another
// asks only for OverlayNodes rosters, without find_value itself knowing
// about either domain (spec.md §4.7's "accept" predicate).
type AcceptFunc func(Value) bool

// AcceptSignatureValue accepts Signature-rule values: published node
// address records.
func AcceptSignatureValue(v Value) bool {
	return v.Key.UpdateRule == UpdateRuleSignature
}

// AcceptOverlayNodesValue accepts OverlayNodes-rule values: published
// overlay member rosters.
func AcceptOverlayNodesValue(v Value) bool {
	return v.Key.UpdateRule == UpdateRuleOverlayNodes
}

// Lookup runs the iterative FIND_NODE engine of spec.md §4.6-4.7 (C6/C7):
// bounded-parallelism rounds against the frontier's current
// highest-priority candidates, reseeding the frontier from the routing
// table (which each round's responses have already grown) between
// rounds, until the frontier is exhausted. It returns the k closest node
// records the routing table now holds.
func (n *Node) Lookup(ctx context.Context, target NodeID, k int) ([]NodeRecord, error) {
	it := NewIterator(target, n.table, n.scorer)
	it.Update()

	for !it.IsExhausted() {
		w := NewWait[lookupOutcome]()
		launched := 0
		for launched < MaxTasks {
			id, rec, ok := it.PopHighest()
			if !ok {
				break
			}
			launched++
			w.RequestImmediate()
			go n.queryFindNode(ctx, w, id, rec, target, k)
		}
		if launched == 0 {
			it.Update()
			if it.IsExhausted() {
				break
			}
			continue
		}
		for _, out := range w.Wait(launched) {
			if out.err != nil {
				continue
			}
			for _, rec := range out.nodes {
				n.table.Add(n.idOf(rec), rec)
			}
		}
		it.Update()
	}
	return n.closestKnown(target, k), nil
}

type lookupOutcome struct {
	nodes []NodeRecord
	err   error
}

func (n *Node) queryFindNode(ctx context.Context, w *Wait[lookupOutcome], peer NodeID, rec NodeRecord, target NodeID, k int) {
	resp, err := n.link.Query(ctx, peer, Query{
		Kind:     QueryKindFindNode,
		FindNode: &FindNodeQuery{Target: target, K: k},
	}, TimeoutValue)
	if err != nil || resp == nil {
		n.scorer.SetBad(peer)
		w.Respond(lookupOutcome{err: ErrTransportFailure})
		return
	}
	n.scorer.SetGood(peer)
	n.table.Add(peer, rec)

	if resp.Kind != ResponseKindNodes || resp.Nodes == nil {
		w.Respond(lookupOutcome{err: ErrWrongTypeInResult})
		return
	}
	w.Respond(lookupOutcome{nodes: resp.Nodes.Nodes})
}

// FindValue runs the iterative FIND_VALUE engine of spec.md §4.7 (C7): a
// fill/harvest/reseed loop over a frontier (it, or a fresh one over hash's
// target if the caller has no resumable search in progress), gated by
// policy's stopping discipline and, when all is set, continuing to
// collect every accepted value rather than stopping at the first:
//
//   - fill: pop up to policy.Limit (or MaxTasks, if unset) candidates off
//     the frontier's tail and launch one FIND_VALUE query each;
//   - harvest: fold each completion's outcome into results (if accept
//     admits it) or the routing table (if it instead offered closer
//     nodes), checking the stopping condition after each one;
//   - policy-gated stopping: FastSearch returns the instant the stopping
//     condition is satisfied, discarding whatever else is still in
//     flight; FullSearch always drains the entire window first;
//   - reseed: Update() the frontier, since the harvest above may have
//     just grown the routing table;
//   - exit: once (all && len(results) >= limit), or (!all &&
//     len(results) >= 1), or the frontier is exhausted.
func (n *Node) FindValue(ctx context.Context, it *Iterator, hash DHTKeyHash, accept AcceptFunc, policy SearchPolicy, all bool) ([]Value, error) {
	target := NodeIDFromBytes(hash[:])
	if it == nil {
		it = NewIterator(target, n.table, n.scorer)
	} else if !it.target.Equals(target) {
		return nil, ErrInternalInvariant
	}

	limit := policy.Limit
	if limit <= 0 {
		limit = MaxTasks
	}

	var results []Value
	it.Update()
	for {
		launched, done := n.fillAndHarvestFindValue(ctx, it, hash, accept, policy, all, limit, &results)
		if launched == 0 {
			it.Update()
			if it.IsExhausted() {
				break
			}
			continue
		}
		it.Update()
		if done || it.IsExhausted() {
			break
		}
	}
	return results, nil
}

// fillAndHarvestFindValue runs one fill-window of up to limit concurrent
// FIND_VALUE queries and harvests their outcomes into results, returning
// how many queries it launched and whether the stopping condition of
// spec.md §4.7 step (e) was reached during this window (respecting
// policy's FastSearch/FullSearch discipline from step (d)).
func (n *Node) fillAndHarvestFindValue(ctx context.Context, it *Iterator, hash DHTKeyHash, accept AcceptFunc, policy SearchPolicy, all bool, limit int, results *[]Value) (launched int, done bool) {
	w := NewWait[findValueOutcome]()
	for launched < limit {
		id, rec, ok := it.PopHighest()
		if !ok {
			break
		}
		launched++
		w.RequestImmediate()
		go n.queryFindValue(ctx, w, id, rec, hash)
	}
	if launched == 0 {
		return 0, false
	}

	harvested := 0
	for harvested < launched {
		batch := w.Wait(1)
		harvested += len(batch)
		for _, out := range batch {
			if out.err != nil {
				continue
			}
			if out.value != nil {
				if accept == nil || accept(*out.value) {
					*results = append(*results, *out.value)
				}
				continue
			}
			for _, rec := range out.nodes {
				n.table.Add(n.idOf(rec), rec)
			}
		}
		if satisfiesFindValueExit(*results, all, limit) && policy.Kind == FastSearch {
			return launched, true
		}
	}
	return launched, satisfiesFindValueExit(*results, all, limit)
}

func satisfiesFindValueExit(results []Value, all bool, limit int) bool {
	if all {
		return len(results) >= limit
	}
	return len(results) >= 1
}

type findValueOutcome struct {
	value *Value
	nodes []NodeRecord
	err   error
}

func (n *Node) queryFindValue(ctx context.Context, w *Wait[findValueOutcome], peer NodeID, rec NodeRecord, hash DHTKeyHash) {
	resp, err := n.link.Query(ctx, peer, Query{
		Kind:      QueryKindFindValue,
		FindValue: &FindValueQuery{KeyHash: hash, K: FindValueK},
	}, TimeoutValue)
	if err != nil || resp == nil {
		n.scorer.SetBad(peer)
		w.Respond(findValueOutcome{err: ErrTransportFailure})
		return
	}
	n.scorer.SetGood(peer)
	n.table.Add(peer, rec)

	switch resp.Kind {
	case ResponseKindValueFound:
		if resp.ValueFound == nil {
			w.Respond(findValueOutcome{err: ErrWrongTypeInResult})
			return
		}
		v := resp.ValueFound.Value
		w.Respond(findValueOutcome{value: &v})
	case ResponseKindValueNotFound:
		if resp.ValueNotFound == nil {
			w.Respond(findValueOutcome{err: ErrWrongTypeInResult})
			return
		}
		w.Respond(findValueOutcome{nodes: resp.ValueNotFound.Nodes})
	default:
		w.Respond(findValueOutcome{err: ErrWrongTypeInResult})
	}
}
