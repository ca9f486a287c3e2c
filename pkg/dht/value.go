package dht

// UpdateRule selects how a STORE reconciles with an existing value entry
// (spec.md §3, GLOSSARY).
type UpdateRule uint8

const (
	// UpdateRuleSignature requires both the value and key-description
	// signatures to verify under the owning identity; the larger-TTL entry
	// always wins.
	UpdateRuleSignature UpdateRule = iota
	// UpdateRuleOverlayNodes carries an unsigned list of self-verifying
	// overlay-member records merged by per-node version.
	UpdateRuleOverlayNodes
)

// NodeRecord is the signed tuple of identity + addresses + version
// (spec.md §3 "Node record").
type NodeRecord struct {
	ID        []byte      // public key
	Addresses AddressList // signed address list
	Signature []byte
	Version   uint32 // seconds since epoch, monotone per owner
}

// KeyDescription binds a DHT key to the identity allowed to update it
// (spec.md §3 "DHT value").
type KeyDescription struct {
	ID         []byte // public key of the value's owner
	Key        DHTKey
	Signature  []byte
	UpdateRule UpdateRule
}

// Value is a DHT value: a signed or overlay-merged payload under a
// key-description, with an absolute TTL (spec.md §3 "DHT value").
type Value struct {
	Key       KeyDescription
	TTL       uint32 // absolute expiry, seconds since epoch
	Signature []byte
	Payload   []byte
}

// Expired reports whether the value's TTL has passed now (spec.md §3:
// "a value with ttl <= now is expired and must be ignored").
func (v *Value) Expired(now uint32) bool {
	return v.TTL <= now
}

// OverlayNode is a signed member record inside an OverlayNodes payload,
// self-verifying under its own key (spec.md §3).
type OverlayNode struct {
	ID        []byte // overlay-member public key
	Addresses AddressList
	Version   uint32
	Signature []byte
}
