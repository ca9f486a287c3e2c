package dht

import (
	"context"
	"encoding/json"
)

// SearchPolicyKind selects how both the find-value engine (C7) and the
// overlay resolver (C9) behave when something doesn't resolve on the
// first attempt (spec.md §4.7, §4.9).
type SearchPolicyKind int

const (
	// FastSearch returns as soon as its stopping condition is satisfied,
	// discarding anything still in flight; an overlay member that fails
	// to resolve is dropped for good, with no retry.
	FastSearch SearchPolicyKind = iota
	// FullSearch drains every in-flight round before deciding, and keeps
	// retrying unresolved overlay members (and re-querying the DHT for
	// new roster values) across subsequent rounds until a round makes no
	// further progress.
	FullSearch
)

// SearchPolicy parameterizes a find-value search: which stopping
// discipline to use (Kind), and the fill-window size L (Limit). A
// zero Limit defaults to MaxTasks (spec.md §4.7).
type SearchPolicy struct {
	Kind  SearchPolicyKind
	Limit int
}

// overlayOutcome is one member resolution attempt's result.
type overlayOutcome struct {
	member OverlayNode
	rec    NodeRecord
	ok     bool
}

// Resolve fetches overlayOwner's published member roster(s) and resolves
// each member's address, at most MaxTasks concurrently per round (spec.md
// §4.9, C9). The roster is split across three sets as it's processed:
// queue (not yet attempted this pass), postponed (failed this pass,
// eligible for another pass under FullSearch), and stored (successfully
// resolved, keyed by member ID so a member reached two different ways
// only counts once). Between sweeps, postponed is folded back into queue
// and the overlay's find_value search — the same resumable search
// context opened at the start of this call, not a fresh one — is
// re-run, so roster values published by other nodes after Resolve
// started can still grow the queue (spec.md §4.9 step 3).
//
// Under FastSearch a member that fails to resolve is discarded for good —
// this genuinely loses coverage by design, it is not a bug to be
// papered over with a hidden retry. Under FullSearch, rounds keep
// re-attempting the postponed set, and re-querying the DHT for new
// roster values, until a round resolves nothing new and the find-value
// search has nothing further to offer.
func (n *Node) Resolve(ctx context.Context, overlayOwner NodeID, policy SearchPolicy) ([]NodeRecord, error) {
	sctx := n.NewOverlaySearchContext(overlayOwner)

	values, err := n.FindOverlayNodes(ctx, sctx, overlayOwner, policy)
	if err != nil {
		return nil, err
	}
	queue, err := rostersToQueue(values)
	if err != nil {
		return nil, err
	}
	if len(queue) == 0 {
		return nil, ErrNoNodesAvailable
	}

	var postponed []OverlayNode
	stored := make(map[string]NodeRecord)

	for len(queue) > 0 {
		batch, remainder := takeBatch(queue, MaxTasks)

		w := NewWait[overlayOutcome]()
		for _, member := range batch {
			w.RequestImmediate()
			go n.resolveOverlayMember(ctx, w, member)
		}
		progressed := false
		for _, out := range w.Wait(len(batch)) {
			if out.ok {
				stored[string(out.member.ID)] = out.rec
				progressed = true
				continue
			}
			if policy.Kind == FullSearch {
				postponed = append(postponed, out.member)
			}
		}
		queue = remainder

		if len(queue) == 0 && policy.Kind == FullSearch {
			more, err := n.FindOverlayNodes(ctx, sctx, overlayOwner, policy)
			if err != nil {
				return nil, err
			}
			fresh, err := rostersToQueue(more)
			if err != nil {
				return nil, err
			}
			queue = append(queue, fresh...)

			if len(postponed) > 0 {
				if !progressed && len(fresh) == 0 {
					break // nothing new from the DHT, and the postponed set is dry
				}
				queue = append(queue, postponed...)
				postponed = nil
			}
		}
	}

	out := make([]NodeRecord, 0, len(stored))
	for _, rec := range stored {
		out = append(out, rec)
	}
	return out, nil
}

// rostersToQueue flattens find_value's collected OverlayNodes values into
// one member queue, decoding each payload as the JSON member-list wire
// format store.go's OverlayNodes rule writes.
func rostersToQueue(values []Value) ([]OverlayNode, error) {
	var queue []OverlayNode
	for _, v := range values {
		var roster overlayNodeList
		if err := json.Unmarshal(v.Payload, &roster); err != nil {
			return nil, ErrMalformedWire
		}
		queue = append(queue, roster.Nodes...)
	}
	return queue, nil
}

func takeBatch(items []OverlayNode, n int) (batch, remainder []OverlayNode) {
	if n > len(items) {
		n = len(items)
	}
	return items[:n], items[n:]
}

// resolveOverlayMember resolves member's current address, preferring a
// DHT find_address lookup (spec.md §4.9's find_address_with_context, so a
// member that has republished a newer signed address is picked up) and
// falling back to the roster's own embedded address list — itself signed
// by the member, so a valid NodeRecord on its own — if the DHT has
// nothing or the member can't be reached directly.
func (n *Node) resolveOverlayMember(ctx context.Context, w *Wait[overlayOutcome], member OverlayNode) {
	id := NodeID(n.hasher.Hash(member.ID))

	sctx := n.NewAddressSearchContext(id)
	if rec, err := n.FindAddress(ctx, sctx, id, SearchPolicy{Kind: FastSearch}); err == nil && rec != nil {
		n.table.Add(id, *rec)
		w.Respond(overlayOutcome{member: member, rec: *rec, ok: true})
		return
	}

	linkID, err := n.link.AddPeer(n.self, member.Addresses, member.ID)
	if err != nil || linkID == nil {
		w.Respond(overlayOutcome{member: member, ok: false})
		return
	}

	resp, err := n.link.Query(ctx, *linkID, Query{Kind: QueryKindGetSignedAddressList}, TimeoutValue)
	if err != nil || resp == nil || resp.Kind != ResponseKindSignedNode || resp.SignedNode == nil {
		n.scorer.SetBad(*linkID)
		rec := NodeRecord{ID: member.ID, Addresses: member.Addresses, Signature: member.Signature, Version: member.Version}
		n.table.Add(id, rec)
		w.Respond(overlayOutcome{member: member, rec: rec, ok: true})
		return
	}

	n.scorer.SetGood(*linkID)
	n.table.Add(id, *resp.SignedNode)
	w.Respond(overlayOutcome{member: member, rec: *resp.SignedNode, ok: true})
}
