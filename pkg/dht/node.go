package dht

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Tunable constants from spec.md §6.
const (
	// MaxTasks bounds how many outbound queries a single lookup or publish
	// round keeps in flight at once.
	MaxTasks = 5
	// TimeoutValue is the default per-query deadline.
	TimeoutValue = 3600 * time.Second
	// FindNodeK is the replication factor used for FIND_NODE lookups.
	FindNodeK = 10
	// FindValueK is the replication factor used for FIND_VALUE lookups,
	// deliberately smaller than FindNodeK (spec.md §4.6).
	FindValueK = 6
)

// Node wires the routing table, value store, and peer scorer from C2-C4
// into the query handler (C5), lookup engine (C7), publish engine (C8),
// and overlay resolver (C9). It depends only on the KeyRing, Hasher, and
// Link interfaces from link.go — never on a concrete crypto or transport
// package (spec.md §1).
type Node struct {
	self    NodeID
	keyring KeyRing
	hasher  Hasher
	link    Link
	table   *RoutingTable
	store   *Store
	scorer  *Scorer
}

// NewNode constructs a Node and registers it as the link layer's query
// subscriber.
func NewNode(keyring KeyRing, hasher Hasher, link Link) *Node {
	self := keyring.ID()
	n := &Node{
		self:    self,
		keyring: keyring,
		hasher:  hasher,
		link:    link,
		table:   NewRoutingTable(self),
		store:   NewStore(),
		scorer:  NewScorer(),
	}
	link.RegisterSubscriber(n)
	log.Printf("dht: node %s ready", self)
	return n
}

// ID returns this node's own identity.
func (n *Node) ID() NodeID {
	return n.self
}

// KnownPeerCount returns the number of peers currently in the routing
// table, for status/diagnostic surfaces.
func (n *Node) KnownPeerCount() int {
	return n.table.Count()
}

// selfRecord builds this node's own NodeRecord, as published under
// AddressKey and attached to bundle announcements.
func (n *Node) selfRecord(expiry *time.Time) (NodeRecord, error) {
	addrs, err := n.link.BuildAddressList(expiry)
	if err != nil {
		return NodeRecord{}, fmt.Errorf("dht: building own address list: %w", err)
	}
	version := nowSeconds()
	sig, err := n.keyring.Sign(addrs)
	if err != nil {
		return NodeRecord{}, fmt.Errorf("dht: signing own address list: %w", err)
	}
	return NodeRecord{
		ID:        n.keyring.PublicKey(),
		Addresses: addrs,
		Signature: sig,
		Version:   version,
	}, nil
}

// nowSeconds is the monotone version/TTL clock, seconds since epoch.
func nowSeconds() uint32 {
	return uint32(time.Now().Unix())
}

// addKnownNode verifies and registers a peer's node record in the routing
// table. A record that fails address-list verification is ignored rather
// than rejected with an error, matching the tolerant "best-effort
// registration" posture of the original core's add_peer.
func (n *Node) addKnownNode(rec NodeRecord) {
	if err := n.keyring.Verify(rec.ID, rec.Addresses, rec.Signature); err != nil {
		return
	}
	id, err := n.link.AddPeer(n.self, rec.Addresses, rec.ID)
	if err != nil || id == nil {
		return
	}
	n.table.Add(*id, rec)
}

// RestorePeer admits a peer record into the routing table without
// re-verifying its signature, for host-side snapshot restore at startup
// (spec.md §6: persistence is the host's responsibility; a snapshot the
// host itself wrote is already trusted).
func (n *Node) RestorePeer(id NodeID, rec NodeRecord) {
	n.table.Add(id, rec)
}

// Bootstrap registers a seed peer and runs a self-targeted FIND_NODE
// lookup to populate the routing table from it (spec.md §4.2: folding
// find_dht_nodes into this call rather than a separate RPC).
func (n *Node) Bootstrap(ctx context.Context, addr AddressList, peerKey []byte) error {
	id, err := n.link.AddPeer(n.self, addr, peerKey)
	if err != nil {
		return fmt.Errorf("dht: bootstrap add peer: %w", err)
	}
	if id == nil {
		return ErrMalformedWire
	}
	rec := NodeRecord{ID: peerKey, Addresses: addr, Version: nowSeconds()}
	n.table.Add(*id, rec)

	_, err = n.Lookup(ctx, n.self, FindNodeK)
	if err != nil {
		return fmt.Errorf("dht: bootstrap lookup: %w", err)
	}
	log.Printf("dht: bootstrap via %s complete, %d known peers", id, n.table.Count())
	return nil
}
