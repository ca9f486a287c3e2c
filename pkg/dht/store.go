package dht

import (
	"encoding/json"
	"sync"
)

// Store is the local value table (spec.md §3 "DHT value", C4). It holds at
// most one Value per DHTKeyHash and applies the update rule named in the
// incoming KeyDescription to decide whether a STORE replaces what's there.
type Store struct {
	mu     sync.RWMutex
	values map[DHTKeyHash]Value
}

// NewStore constructs an empty value store.
func NewStore() *Store {
	return &Store{values: make(map[DHTKeyHash]Value)}
}

// Get returns the value under hash if present and not expired as of now.
// An expired entry is treated as absent but is not evicted here — eviction
// is the caller's business (spec.md §3: "expired values are ignored, not
// necessarily removed").
func (s *Store) Get(hash DHTKeyHash, now uint32) (Value, bool) {
	s.mu.RLock()
	v, ok := s.values[hash]
	s.mu.RUnlock()
	if !ok || v.Expired(now) {
		return Value{}, false
	}
	return v, true
}

// Put admits candidate under hash, verifying it against keyring and
// reconciling it with whatever is already stored per the value's
// UpdateRule (spec.md §4.4). It returns whether the stored value changed.
func (s *Store) Put(hash DHTKeyHash, keyring KeyRing, candidate Value, now uint32) (bool, error) {
	if candidate.Expired(now) {
		return false, ErrExpired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, hasExisting := s.values[hash]
	if hasExisting && existing.Expired(now) {
		hasExisting = false
	}

	switch candidate.Key.UpdateRule {
	case UpdateRuleSignature:
		if err := verifySignatureValue(keyring, candidate); err != nil {
			return false, err
		}
		if hasExisting && existing.TTL >= candidate.TTL {
			return false, nil
		}
		s.values[hash] = candidate
		return true, nil

	case UpdateRuleOverlayNodes:
		merged, changed, err := mergeOverlayNodes(keyring, existing, hasExisting, candidate)
		if err != nil {
			return false, err
		}
		if changed {
			s.values[hash] = merged
		}
		return changed, nil

	default:
		return false, ErrUnsupportedUpdateRule
	}
}

// verifySignatureValue checks both signatures required by the Signature
// update rule (spec.md §4.4): the key-description signature over the key
// itself, and the value signature over the payload, both under the
// key-description's owning identity.
func verifySignatureValue(keyring KeyRing, v Value) error {
	kd := v.Key
	if err := keyring.Verify(kd.ID, kd.Key.Canonical(), kd.Signature); err != nil {
		return ErrSignatureInvalid
	}
	if err := keyring.Verify(kd.ID, v.Payload, v.Signature); err != nil {
		return ErrSignatureInvalid
	}
	return nil
}

// overlayNodeList is the wire shape of an OverlayNodes payload: a plain
// JSON array of member records. This is an internal DHT-protocol format,
// not a pluggable external collaborator, so it is encoded with the
// standard library rather than through the Link interface (see DESIGN.md).
type overlayNodeList struct {
	Nodes []OverlayNode `json:"nodes"`
}

// mergeOverlayNodes implements spec.md §4.4's OverlayNodes rule: every
// member record must verify under its own embedded key, and the merged
// roster keeps, for each member ID, whichever record has the higher
// Version. A malformed or unverifiable individual member is dropped
// rather than rejecting the whole update (this matches the original
// core's per-entry try_consume_query_bundle style tolerance for partial
// validity) — but the rule as a whole requires at least one surviving,
// verified member: an incoming roster that verifies zero members is
// rejected with ErrEmptyOverlayList regardless of whether a prior value
// already exists for this key, exactly like an incoming roster that was
// empty before filtering.
func mergeOverlayNodes(keyring KeyRing, existing Value, hasExisting bool, candidate Value) (Value, bool, error) {
	var incoming overlayNodeList
	if err := json.Unmarshal(candidate.Payload, &incoming); err != nil {
		return Value{}, false, ErrMalformedWire
	}
	if len(incoming.Nodes) == 0 {
		return Value{}, false, ErrEmptyOverlayList
	}

	verified := make([]OverlayNode, 0, len(incoming.Nodes))
	for _, n := range incoming.Nodes {
		if err := keyring.Verify(n.ID, overlayNodeSignedBytes(n), n.Signature); err == nil {
			verified = append(verified, n)
		}
	}
	if len(verified) == 0 {
		return Value{}, false, ErrEmptyOverlayList
	}

	merged := make(map[string]OverlayNode)
	if hasExisting {
		var current overlayNodeList
		if err := json.Unmarshal(existing.Payload, &current); err == nil {
			for _, n := range current.Nodes {
				merged[string(n.ID)] = n
			}
		}
	}

	changed := false
	for _, n := range verified {
		key := string(n.ID)
		if old, ok := merged[key]; !ok || n.Version > old.Version {
			merged[key] = n
			changed = true
		}
	}
	if !changed && hasExisting {
		return Value{}, false, nil
	}

	out := make([]OverlayNode, 0, len(merged))
	for _, n := range merged {
		out = append(out, n)
	}
	payload, err := json.Marshal(overlayNodeList{Nodes: out})
	if err != nil {
		return Value{}, false, err
	}

	result := candidate
	result.Payload = payload
	return result, changed, nil
}

// overlayNodeSignedBytes is the canonical byte form an OverlayNode's own
// signature covers: its address list plus its version, in that order.
func overlayNodeSignedBytes(n OverlayNode) []byte {
	buf := make([]byte, 0, len(n.Addresses)+4)
	buf = append(buf, n.Addresses...)
	buf = append(buf, byte(n.Version>>24), byte(n.Version>>16), byte(n.Version>>8), byte(n.Version))
	return buf
}
