package dht

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
)

// IDSize is the width, in bytes, of a node ID or a DHT-key-hash (256 bits).
const IDSize = 32

// NodeID identifies a participant: the hash of its public key.
type NodeID [IDSize]byte

// DHTKeyHash is the addressing primitive: the hash of a structured DHTKey.
type DHTKeyHash [IDSize]byte

// ZeroNodeID returns the all-zero node ID.
func ZeroNodeID() NodeID {
	return NodeID{}
}

// RandomNodeID generates a random node ID, for tests and bootstrap seeds.
func RandomNodeID() NodeID {
	var id NodeID
	_, _ = rand.Read(id[:])
	return id
}

// NodeIDFromBytes copies raw bytes into a NodeID, left-padding is not
// performed: callers must supply exactly IDSize bytes of already-hashed data.
func NodeIDFromBytes(b []byte) NodeID {
	var id NodeID
	copy(id[:], b)
	return id
}

func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// ParseNodeIDHex parses a hex-encoded node ID, as accepted by the status
// API's lookup endpoint.
func ParseNodeIDHex(s string) (NodeID, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != IDSize {
		return NodeID{}, ErrMalformedWire
	}
	return NodeIDFromBytes(raw), nil
}

// Equals reports whether two node IDs are identical.
func (id NodeID) Equals(other NodeID) bool {
	return id == other
}

// Xor returns the bitwise XOR distance between two node IDs.
func (id NodeID) Xor(other NodeID) NodeID {
	var out NodeID
	for i := range id {
		out[i] = id[i] ^ other[i]
	}
	return out
}

func (h DHTKeyHash) String() string {
	return hex.EncodeToString(h[:])
}

// Equals reports whether two DHT-key-hashes are identical.
func (h DHTKeyHash) Equals(other DHTKeyHash) bool {
	return h == other
}

// leadingZeroBits is a 16-entry lookup table giving the leading-zero-bit
// count of a 4-bit nibble (matches the teacher's BITS table, extended to a
// full byte below via two lookups).
var leadingZeroBits = [16]int{4, 3, 2, 2, 1, 1, 1, 1, 0, 0, 0, 0, 0, 0, 0, 0}

// Affinity returns the number of leading identical bits between a and b, in
// [0, 256]. Identical IDs (a == b) affinity to the full 256 bits (spec.md
// §8 invariant 1: "affinity(x,x) = 256"); this is never reachable through
// routing-table bucket indexing because a node is never added to its own
// table (see RoutingTable.Add), so the separate 0..255 bucket-index clamp
// mentioned in spec.md §4.1 lives in bucketIndex, not here.
//
// Implemented byte-by-byte: equal bytes add 8 and continue; the first
// differing byte contributes the leading-zero-nibble count of its XOR and
// stops the walk.
func Affinity(a, b NodeID) int {
	ret := 0
	for i := 0; i < IDSize; i++ {
		x := a[i] ^ b[i]
		if x == 0 {
			ret += 8
			continue
		}
		if x&0xF0 == 0 {
			ret += leadingZeroBits[x&0x0F] + 4
		} else {
			ret += leadingZeroBits[x>>4]
		}
		return ret
	}
	return ret
}

// bucketIndex clamps an affinity value to the [0, 255] range of routing
// table bucket indices.
func bucketIndex(affinity int) int {
	if affinity > 255 {
		return 255
	}
	return affinity
}

// CloserTo reports whether id is closer to target than other is, under the
// XOR metric — used only where a total order over raw distance (rather than
// the coarser affinity bucket) is needed.
func (id NodeID) CloserTo(target, other NodeID) bool {
	for i := 0; i < IDSize; i++ {
		d1 := id[i] ^ target[i]
		d2 := other[i] ^ target[i]
		if d1 != d2 {
			return d1 < d2
		}
	}
	return false
}

// DHTKey is the structured addressing record described in spec.md §3:
// {owner-id, index, name-tag}.
type DHTKey struct {
	Owner NodeID
	Index uint32
	Name  string
}

// Canonical returns the deterministic byte encoding hashed to produce the
// DHT-key-hash: owner || big-endian index || name. Kept as a free function
// (not a Hasher method) since it is pure encoding, not a cryptographic
// primitive.
func (k DHTKey) Canonical() []byte {
	buf := make([]byte, 0, IDSize+4+len(k.Name))
	buf = append(buf, k.Owner[:]...)
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], k.Index)
	buf = append(buf, idx[:]...)
	buf = append(buf, []byte(k.Name)...)
	return buf
}

// NodesKey is the canonical DHT key under which an overlay's member roster
// is published: DHTKey{owner=hash(overlayID), idx=0, name="nodes"}.
func NodesKey(overlayOwner NodeID) DHTKey {
	return DHTKey{Owner: overlayOwner, Index: 0, Name: "nodes"}
}

// AddressKey is the canonical DHT key under which a node's signed address
// list is published: DHTKey{owner=id, idx=0, name="address"}.
func AddressKey(id NodeID) DHTKey {
	return DHTKey{Owner: id, Index: 0, Name: "address"}
}
