package identity

import (
	"golang.org/x/crypto/blake2b"

	"github.com/zentalk-labs/zentalk-dht/pkg/dht"
)

// Hasher implements dht.Hasher with BLAKE2b-256, the same primitive the
// teacher uses in pkg/crypto/hash.go.
type Hasher struct{}

// Hash implements dht.Hasher.
func (Hasher) Hash(data []byte) dht.DHTKeyHash {
	return dht.DHTKeyHash(blake2b.Sum256(data))
}
