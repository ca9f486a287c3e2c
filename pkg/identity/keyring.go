// Package identity implements dht.KeyRing and dht.Hasher on top of
// Ed25519 signatures and BLAKE2b-256 hashing (spec.md §6's external
// collaborator interfaces).
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/zentalk-labs/zentalk-dht/pkg/dht"
)

// ErrInvalidKey is returned when a key of the wrong length is supplied.
var ErrInvalidKey = errors.New("identity: invalid key")

// KeyRing is the node's own Ed25519 identity, implementing dht.KeyRing.
type KeyRing struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
	id   dht.NodeID
}

// Generate creates a fresh random identity.
func Generate() (*KeyRing, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generating key pair: %w", err)
	}
	return fromKeys(pub, priv), nil
}

// FromSeed deterministically derives an identity from a 32-byte seed, for
// nodes that persist their identity across restarts.
func FromSeed(seed []byte) (*KeyRing, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, ErrInvalidKey
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return fromKeys(pub, priv), nil
}

func fromKeys(pub ed25519.PublicKey, priv ed25519.PrivateKey) *KeyRing {
	return &KeyRing{
		priv: priv,
		pub:  pub,
		id:   idFromPublicKey(pub),
	}
}

// idFromPublicKey hashes a raw Ed25519 public key into a dht.NodeID
// (spec.md §3: "a node ID is the hash of its public key"). Grounded on
// pkg/crypto/hash.go's blake2b.New256 primitive.
func idFromPublicKey(pub []byte) dht.NodeID {
	sum := blake2b.Sum256(pub)
	return dht.NodeID(sum)
}

// ID implements dht.KeyRing.
func (k *KeyRing) ID() dht.NodeID {
	return k.id
}

// PublicKey implements dht.KeyRing.
func (k *KeyRing) PublicKey() []byte {
	return append([]byte(nil), k.pub...)
}

// Sign implements dht.KeyRing.
func (k *KeyRing) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(k.priv, data), nil
}

// Verify implements dht.KeyRing. It is independent of k's own identity:
// any KeyRing can verify a signature produced by any other public key.
func (k *KeyRing) Verify(pub []byte, data, signature []byte) error {
	if len(pub) != ed25519.PublicKeySize {
		return ErrInvalidKey
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), data, signature) {
		return dht.ErrSignatureInvalid
	}
	return nil
}

// Seed returns the raw 32-byte seed this identity was derived from, for
// callers that need to persist it (e.g. cmd/dhtnode's on-disk identity
// file). Only available for identities created via FromSeed or Generate,
// never for one reconstructed from a public key alone.
func (k *KeyRing) Seed() []byte {
	return append([]byte(nil), k.priv.Seed()...)
}
