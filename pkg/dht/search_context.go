package dht

import "context"

// AddressSearchContext is a caller-held, resumable handle over one node's
// address-record search (spec.md §5: "of starting over"). Repeated
// FindAddress calls against the same context keep advancing the same
// underlying frontier instead of restarting from the routing table's
// closest peers every time.
type AddressSearchContext struct {
	iter *Iterator
}

// NewAddressSearchContext opens a search context for id's published
// Signature-rule address record.
func (n *Node) NewAddressSearchContext(id NodeID) *AddressSearchContext {
	hash := n.hasher.Hash(AddressKey(id).Canonical())
	target := NodeIDFromBytes(hash[:])
	return &AddressSearchContext{iter: NewIterator(target, n.table, n.scorer)}
}

// FindAddress runs (or resumes) a find_value search for id's published
// address record under sctx, returning the first matching record found,
// or nil if none was found this call.
func (n *Node) FindAddress(ctx context.Context, sctx *AddressSearchContext, id NodeID, policy SearchPolicy) (*NodeRecord, error) {
	hash := n.hasher.Hash(AddressKey(id).Canonical())
	values, err := n.FindValue(ctx, sctx.iter, hash, AcceptSignatureValue, policy, false)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, nil
	}
	rec := valueToNodeRecord(values[0])
	return &rec, nil
}

// OverlaySearchContext is the OverlayNodes-roster equivalent of
// AddressSearchContext: it resumes the same find_value frontier across
// the repeated sweeps Node.Resolve runs as it grows its
// member queue (spec.md §4.9).
type OverlaySearchContext struct {
	iter *Iterator
}

// NewOverlaySearchContext opens a search context for overlayOwner's
// published member roster.
func (n *Node) NewOverlaySearchContext(overlayOwner NodeID) *OverlaySearchContext {
	hash := n.hasher.Hash(NodesKey(overlayOwner).Canonical())
	target := NodeIDFromBytes(hash[:])
	return &OverlaySearchContext{iter: NewIterator(target, n.table, n.scorer)}
}

// FindOverlayNodes runs (or resumes) a find_value search for
// overlayOwner's roster values under sctx, collecting every matching
// value this call rather than stopping at the first (spec.md §4.9 step
// 1: "each matching value contributes its member list").
func (n *Node) FindOverlayNodes(ctx context.Context, sctx *OverlaySearchContext, overlayOwner NodeID, policy SearchPolicy) ([]Value, error) {
	hash := n.hasher.Hash(NodesKey(overlayOwner).Canonical())
	return n.FindValue(ctx, sctx.iter, hash, AcceptOverlayNodesValue, policy, true)
}

// valueToNodeRecord reconstructs the NodeRecord a Signature-rule address
// Value represents: owner public key, signed address payload, and the
// value's TTL standing in for the record's version (both are monotone
// per-owner seconds-since-epoch clocks; a Value carries no separate
// version field of its own).
func valueToNodeRecord(v Value) NodeRecord {
	return NodeRecord{
		ID:        v.Key.ID,
		Addresses: AddressList(v.Payload),
		Signature: v.Signature,
		Version:   v.TTL,
	}
}
