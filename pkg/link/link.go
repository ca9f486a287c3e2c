package link

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p"
	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"golang.org/x/crypto/blake2b"

	"github.com/zentalk-labs/zentalk-dht/pkg/dht"
)

// ProtocolID is the libp2p stream protocol used for DHT query/response
// exchanges, named after the teacher's own /zentalk/meshstorage/1.0.0
// convention in pkg/meshstorage/rpc.go.
const ProtocolID = protocol.ID("/zentalk-dht/query/1.0.0")

// DefaultQueryTimeout is used whenever a caller passes a zero timeout to
// Query/QueryWithPrefix.
const DefaultQueryTimeout = 10 * time.Second

// Link implements dht.Link on top of a libp2p host (spec.md §6). It keeps
// its own dht.NodeID <-> peer.ID index since the core's addressing space
// (hash of public key) and libp2p's (derived from the same public key,
// but through libp2p's own encoding) are related but not identical.
type Link struct {
	host host.Host
	ctx  context.Context

	mu      sync.RWMutex
	sub     dht.Subscriber
	nodeIDs map[peer.ID]dht.NodeID
	peerIDs map[dht.NodeID]peer.ID
}

// New constructs a Link, bringing up a libp2p host bound to listenAddr
// under the given Ed25519 private key (grounded on
// pkg/meshstorage/node.go's NewDHTNode host construction).
func New(ctx context.Context, priv p2pcrypto.PrivKey, listenAddr string) (*Link, error) {
	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(listenAddr),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
		libp2p.NATPortMap(),
		libp2p.EnableNATService(),
	)
	if err != nil {
		return nil, fmt.Errorf("link: creating libp2p host: %w", err)
	}

	l := &Link{
		host:    h,
		ctx:     ctx,
		nodeIDs: make(map[peer.ID]dht.NodeID),
		peerIDs: make(map[dht.NodeID]peer.ID),
	}
	h.SetStreamHandler(ProtocolID, l.handleStream)
	return l, nil
}

// nodeIDFromKey derives the dht.NodeID a raw public key maps to: the
// blake2b-256 hash of the key bytes, matching pkg/identity's derivation
// (spec.md §3: "a node ID is the hash of its public key"). Computed
// locally rather than through pkg/identity to keep pkg/link independent
// of the concrete KeyRing implementation.
func nodeIDFromKey(pub []byte) dht.NodeID {
	sum := blake2b.Sum256(pub)
	return dht.NodeID(sum)
}

func (l *Link) peerNodeID(p peer.ID) (dht.NodeID, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.nodeIDs[p]
	return id, ok
}

// AddPeer implements dht.Link.
func (l *Link) AddPeer(selfID dht.NodeID, addr dht.AddressList, peerKey []byte) (*dht.NodeID, error) {
	pub, err := p2pcrypto.UnmarshalEd25519PublicKey(peerKey)
	if err != nil {
		return nil, fmt.Errorf("link: unmarshalling peer key: %w", err)
	}
	pid, err := peer.IDFromPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("link: deriving peer id: %w", err)
	}

	addrs, _, err := decodeAddressList(addr)
	if err != nil {
		return nil, err
	}
	l.host.Peerstore().AddAddrs(pid, addrs, time.Hour)
	if err := l.host.Peerstore().AddPubKey(pid, pub); err != nil {
		return nil, fmt.Errorf("link: storing peer pubkey: %w", err)
	}

	nodeID := nodeIDFromKey(peerKey)
	l.mu.Lock()
	l.nodeIDs[pid] = nodeID
	l.peerIDs[nodeID] = pid
	l.mu.Unlock()

	return &nodeID, nil
}

// BuildAddressList implements dht.Link.
func (l *Link) BuildAddressList(expiry *time.Time) (dht.AddressList, error) {
	return encodeAddressList(l.host.Addrs(), expiry)
}

// ParseAddressList implements dht.Link.
func (l *Link) ParseAddressList(list dht.AddressList) (*dht.IPAddress, error) {
	addrs, _, err := decodeAddressList(list)
	if err != nil {
		return nil, err
	}
	return firstIPAddress(addrs)
}

// RegisterSubscriber implements dht.Link.
func (l *Link) RegisterSubscriber(sub dht.Subscriber) {
	l.mu.Lock()
	l.sub = sub
	l.mu.Unlock()
}

// Query implements dht.Link.
func (l *Link) Query(ctx context.Context, peerID dht.NodeID, req dht.Query, timeout time.Duration) (*dht.Response, error) {
	return l.query(ctx, peerID, envelope{ID: uuid.NewString(), Single: &req}, timeout)
}

// QueryWithPrefix implements dht.Link: it bundles an Announce query ahead
// of req so the responder registers the caller before answering.
func (l *Link) QueryWithPrefix(ctx context.Context, peerID dht.NodeID, req dht.Query, timeout time.Duration) (*dht.Response, error) {
	rec, err := l.selfAnnounce()
	if err != nil {
		return nil, err
	}
	bundle := []dht.Query{
		{Kind: dht.QueryKindAnnounce, Announce: &dht.AnnounceQuery{Node: rec}},
		req,
	}
	return l.query(ctx, peerID, envelope{ID: uuid.NewString(), Bundle: bundle}, timeout)
}

func (l *Link) selfAnnounce() (dht.NodeRecord, error) {
	addrs, err := l.BuildAddressList(nil)
	if err != nil {
		return dht.NodeRecord{}, err
	}
	pub, err := l.host.Peerstore().PubKey(l.host.ID()).Raw()
	if err != nil {
		return dht.NodeRecord{}, fmt.Errorf("link: reading own public key: %w", err)
	}
	sig, err := l.host.Peerstore().PrivKey(l.host.ID()).Sign(addrs)
	if err != nil {
		return dht.NodeRecord{}, fmt.Errorf("link: signing own address list: %w", err)
	}
	return dht.NodeRecord{ID: pub, Addresses: addrs, Signature: sig}, nil
}

func (l *Link) query(ctx context.Context, peerID dht.NodeID, env envelope, timeout time.Duration) (*dht.Response, error) {
	l.mu.RLock()
	pid, ok := l.peerIDs[peerID]
	l.mu.RUnlock()
	if !ok {
		return nil, dht.ErrNoNodesAvailable
	}

	if timeout == 0 {
		timeout = DefaultQueryTimeout
	}
	streamCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stream, err := l.host.NewStream(streamCtx, pid, ProtocolID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dht.ErrTransportFailure, err)
	}
	defer stream.Close()

	if err := writeEnvelope(stream, env); err != nil {
		return nil, fmt.Errorf("%w: %v", dht.ErrTransportFailure, err)
	}

	respEnv, err := readResponseEnvelope(stream)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dht.ErrTransportFailure, err)
	}
	if respEnv.Error != "" {
		return nil, fmt.Errorf("dht: remote error: %s", respEnv.Error)
	}
	return respEnv.Response, nil
}

// Host returns the underlying libp2p host, for callers that need to
// Connect() or inspect addresses directly.
func (l *Link) Host() host.Host {
	return l.host
}

// Close shuts the host down.
func (l *Link) Close() error {
	return l.host.Close()
}
