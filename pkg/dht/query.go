package dht

import "context"

// TryConsumeQuery answers one inbound query (spec.md §4.5, C5). It never
// returns a transport-level error for a well-formed-but-unanswerable
// query (e.g. FIND_VALUE for an unknown key) — those produce a
// "not found, here are closer nodes" response instead.
func (n *Node) TryConsumeQuery(ctx context.Context, peer NodeID, q Query) (Response, error) {
	switch q.Kind {
	case QueryKindPing:
		if q.Ping == nil {
			return Response{}, ErrMalformedWire
		}
		return Response{Kind: ResponseKindPong, Pong: &PongResponse{Nonce: q.Ping.Nonce}}, nil

	case QueryKindFindNode:
		if q.FindNode == nil {
			return Response{}, ErrMalformedWire
		}
		return Response{Kind: ResponseKindNodes, Nodes: &NodesResponse{
			Nodes: n.closestKnown(q.FindNode.Target, q.FindNode.K),
		}}, nil

	case QueryKindFindValue:
		if q.FindValue == nil {
			return Response{}, ErrMalformedWire
		}
		if v, ok := n.store.Get(q.FindValue.KeyHash, nowSeconds()); ok {
			return Response{Kind: ResponseKindValueFound, ValueFound: &ValueFoundResponse{Value: v}}, nil
		}
		target := NodeIDFromBytes(q.FindValue.KeyHash[:])
		return Response{Kind: ResponseKindValueNotFound, ValueNotFound: &ValueNotFoundResponse{
			Nodes: n.closestKnown(target, q.FindValue.K),
		}}, nil

	case QueryKindStore:
		if q.Store == nil {
			return Response{}, ErrMalformedWire
		}
		hash := n.hasher.Hash(q.Store.Value.Key.Key.Canonical())
		if _, err := n.store.Put(hash, n.keyring, q.Store.Value, nowSeconds()); err != nil {
			return Response{}, err
		}
		return Response{Kind: ResponseKindStored, Stored: &StoredResponse{}}, nil

	case QueryKindGetSignedAddressList:
		rec, err := n.selfRecord(nil)
		if err != nil {
			return Response{}, err
		}
		return Response{Kind: ResponseKindSignedNode, SignedNode: &rec}, nil

	default:
		return Response{}, ErrMalformedWire
	}
}

// closestKnown answers a FIND_NODE/FIND_VALUE fallback: the routing
// table's closest records to target, or — only when that closest-first
// bucket walk finds none at all — up to k records in bucket order, so a
// node that knows any peer never answers with nothing (spec.md §4.2).
func (n *Node) closestKnown(target NodeID, k int) []NodeRecord {
	if closest := n.table.ClosestTo(target, k); len(closest) > 0 {
		return closest
	}
	return n.table.IterAll(k)
}

// TryConsumeQueryBundle answers a [AnnounceQuery, actual-query] bundle: the
// announced node is registered before the inner query is dispatched
// (spec.md §4.5). A malformed bundle shape is rejected outright.
func (n *Node) TryConsumeQueryBundle(ctx context.Context, peer NodeID, bundle []Query) (Response, error) {
	if len(bundle) != 2 {
		return Response{}, ErrMalformedWire
	}
	announce := bundle[0]
	if announce.Kind != QueryKindAnnounce || announce.Announce == nil {
		return Response{}, ErrMalformedWire
	}
	n.addKnownNode(announce.Announce.Node)
	return n.TryConsumeQuery(ctx, peer, bundle[1])
}
