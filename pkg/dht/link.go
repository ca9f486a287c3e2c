package dht

import (
	"context"
	"time"
)

// This file sketches the external-collaborator interfaces of spec.md §6.
// pkg/dht never imports a concrete transport or crypto package: pkg/link
// and pkg/identity implement these interfaces, and a Node is constructed
// by wiring concrete implementations in from the host binary (cmd/dhtnode).

// KeyRing is the cryptographic key primitives collaborator
// (sign/verify/derive-id), out of scope per spec.md §1.
type KeyRing interface {
	// ID returns the node ID derived from this key's public half.
	ID() NodeID
	// PublicKey returns the raw public key bytes.
	PublicKey() []byte
	// Sign signs data under the private half of this key.
	Sign(data []byte) ([]byte, error)
	// Verify checks a signature produced by the holder of pub over data.
	Verify(pub []byte, data, signature []byte) error
}

// Hasher computes the content hash used to derive DHT-key-hashes. Kept
// separate from KeyRing because hashing a structured record is not a
// key-bound operation (spec.md §3's "DHT-key-hash is the hash of that
// record").
type Hasher interface {
	Hash(data []byte) DHTKeyHash
}

// IPAddress is a minimal parsed network address, the result of parsing an
// AddressList (spec.md §6: "parse_address_list(list) -> Option<IpAddress>").
type IPAddress struct {
	IP   string
	Port uint16
}

// AddressList is an opaque, link-layer-defined address list blob (spec.md
// §1: "the address-list format" is an external collaborator). The DHT core
// only ever round-trips it through the Link interface; it never parses the
// bytes itself.
type AddressList []byte

// Link is the link-layer contract consumed by the core (spec.md §6):
// peer registry, datagram send/receive, query/response correlation, and
// TL-like wire framing all live on the other side of this interface.
type Link interface {
	// AddPeer registers a peer's address under the given public key and
	// returns the canonical node ID the link layer assigned it, or nil if
	// the address/key pair was malformed.
	AddPeer(selfID NodeID, addr AddressList, peerKey []byte) (*NodeID, error)

	// BuildAddressList builds this node's own address list, optionally
	// with an expiry.
	BuildAddressList(expiry *time.Time) (AddressList, error)

	// ParseAddressList extracts the first usable IP address from a list.
	ParseAddressList(list AddressList) (*IPAddress, error)

	// Query sends req to peer and waits up to timeout for a response (zero
	// timeout means the link layer's default). A nil response with a nil
	// error means "no answer" (spec.md §7: outbound transport failures
	// degrade score and are otherwise swallowed).
	Query(ctx context.Context, peer NodeID, req Query, timeout time.Duration) (*Response, error)

	// QueryWithPrefix is Query, but the request is prefixed with a signed
	// envelope carrying the caller's own node record, so DHT-aware peers
	// auto-register the caller before answering (spec.md §6).
	QueryWithPrefix(ctx context.Context, peer NodeID, req Query, timeout time.Duration) (*Response, error)

	// RegisterSubscriber installs the core as the handler for inbound
	// single queries and [DhtQuery{node}, actual-query] bundles.
	RegisterSubscriber(sub Subscriber)
}

// Subscriber is implemented by the core and registered with the Link.
type Subscriber interface {
	// TryConsumeQuery answers a single inbound query from peer.
	TryConsumeQuery(ctx context.Context, peer NodeID, q Query) (Response, error)

	// TryConsumeQueryBundle answers a [DhtQuery{node}, actual-query] bundle:
	// the node is added to the routing table before the inner query is
	// dispatched. A bundle that isn't exactly length 2, or whose first
	// element isn't a DhtQuery node envelope, must be rejected unmodified
	// (spec.md §4.5).
	TryConsumeQueryBundle(ctx context.Context, peer NodeID, bundle []Query) (Response, error)
}
