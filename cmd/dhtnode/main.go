// Command dhtnode runs a standalone Kademlia-style DHT node: a libp2p
// transport and an Ed25519/BLAKE2b identity wired into pkg/dht's Node,
// whose routing table is seeded at start-up from the known peers in a
// SQLite snapshot. The command only reads the snapshot: it writes no
// peers or values to it and does not restore stored values.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"

	"github.com/zentalk-labs/zentalk-dht/pkg/dht"
	"github.com/zentalk-labs/zentalk-dht/pkg/identity"
	"github.com/zentalk-labs/zentalk-dht/pkg/link"
	"github.com/zentalk-labs/zentalk-dht/pkg/storage"
)

const (
	defaultPort       = 4001
	defaultStatusPort = 8090
	defaultKeyPath    = "./keys/dhtnode.seed"
	defaultSnapshot   = "./data/dhtnode.db"
)

var (
	port         = flag.Int("port", defaultPort, "libp2p listen port")
	statusPort   = flag.Int("status-port", defaultStatusPort, "read-only status HTTP port")
	keyPath      = flag.String("key", defaultKeyPath, "path to the node's identity seed file")
	snapshotPath = flag.String("snapshot", defaultSnapshot, "path to the SQLite peer/value snapshot")
	bootstrap    = flag.String("bootstrap", "", "bootstrap peer multiaddr (optional)")
)

func main() {
	flag.Parse()
	printBanner()

	keyring, err := loadOrGenerateIdentity(*keyPath)
	if err != nil {
		log.Fatalf("failed to load/generate identity: %v", err)
	}
	log.Printf("✓ identity loaded, node id %s", keyring.ID())

	snap, err := storage.Open(*snapshotPath)
	if err != nil {
		log.Fatalf("failed to open snapshot store: %v", err)
	}
	defer snap.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p2pPriv, err := p2pcrypto.UnmarshalEd25519PrivateKey(append(keyring.Seed(), keyring.PublicKey()...))
	if err != nil {
		log.Fatalf("failed to derive libp2p identity: %v", err)
	}

	listenAddr := fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", *port)
	lnk, err := link.New(ctx, p2pPriv, listenAddr)
	if err != nil {
		log.Fatalf("failed to start libp2p link: %v", err)
	}
	defer lnk.Close()
	log.Printf("✓ link listening on %s", listenAddr)

	node := dht.NewNode(keyring, identity.Hasher{}, lnk)
	restoreSnapshot(node, snap)

	if *bootstrap != "" {
		log.Printf("⏳ bootstrapping via %s", *bootstrap)
		// TODO: extract the embedded Ed25519 public key from the /p2p/
		// peer-id component of *bootstrap and call node.Bootstrap with it;
		// needs a libp2p peer.ID -> raw-pubkey helper for identity-hash IDs.
		log.Println("⚠️  bootstrap-by-multiaddr is not wired up yet, starting isolated")
	}

	status := newStatusServer(node, *statusPort)
	go func() {
		if err := status.start(); err != nil {
			log.Printf("status server stopped: %v", err)
		}
	}()
	log.Printf("✓ status API listening on :%d", *statusPort)

	waitForShutdown(cancel)
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════════╗")
	fmt.Println("║              zentalk-dht node v1.0                ║")
	fmt.Println("║        standalone Kademlia DHT participant        ║")
	fmt.Println("╚═══════════════════════════════════════════════════╝")
	fmt.Println()
}

func loadOrGenerateIdentity(path string) (*identity.KeyRing, error) {
	if raw, err := os.ReadFile(path); err == nil {
		seed, decodeErr := hex.DecodeString(string(raw))
		if decodeErr != nil {
			return nil, decodeErr
		}
		return identity.FromSeed(seed)
	}

	keyring, err := identity.Generate()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll("./keys", 0700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(keyring.Seed())), 0600); err != nil {
		return nil, err
	}
	log.Printf("✓ new identity generated, seed saved to %s", path)
	return keyring, nil
}

func restoreSnapshot(node *dht.Node, snap *storage.Snapshot) {
	peers, err := snap.LoadPeers()
	if err != nil {
		log.Printf("⚠️  failed to load peer snapshot: %v", err)
		return
	}
	restored := 0
	for _, p := range peers {
		id, err := dht.ParseNodeIDHex(p.NodeID)
		if err != nil {
			continue
		}
		node.RestorePeer(id, dht.NodeRecord{
			ID:        p.PublicKey,
			Addresses: dht.AddressList(p.Addresses),
			Signature: p.Signature,
			Version:   p.Version,
		})
		restored++
	}
	log.Printf("restored %d known peers from snapshot", restored)
}

func waitForShutdown(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println()
	log.Println("shutting down gracefully...")
	cancel()
	log.Println("✓ node stopped")
}
