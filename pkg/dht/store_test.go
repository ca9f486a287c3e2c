package dht

import (
	"crypto/ed25519"
	"encoding/json"
	"testing"
)

// fakeKeyRing is a minimal stdlib-only KeyRing stand-in for pkg/dht's own
// tests. pkg/identity cannot be imported here: it imports pkg/dht, and a
// test-only import back would be a cycle.
type fakeKeyRing struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

func newFakeKeyRing() fakeKeyRing {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		panic(err)
	}
	return fakeKeyRing{priv: priv, pub: pub}
}

func (k fakeKeyRing) ID() NodeID          { return NodeID{} }
func (k fakeKeyRing) PublicKey() []byte   { return k.pub }
func (k fakeKeyRing) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(k.priv, data), nil
}
func (k fakeKeyRing) Verify(pub []byte, data, signature []byte) error {
	if !ed25519.Verify(ed25519.PublicKey(pub), data, signature) {
		return ErrSignatureInvalid
	}
	return nil
}

func makeSignatureValue(t *testing.T, owner fakeKeyRing, payload []byte, ttl uint32) Value {
	t.Helper()
	key := DHTKey{Owner: RandomNodeID(), Index: 0, Name: "address"}
	keySig, err := owner.Sign(key.Canonical())
	if err != nil {
		t.Fatal(err)
	}
	valSig, err := owner.Sign(payload)
	if err != nil {
		t.Fatal(err)
	}
	return Value{
		Key: KeyDescription{
			ID:         owner.PublicKey(),
			Key:        key,
			Signature:  keySig,
			UpdateRule: UpdateRuleSignature,
		},
		TTL:       ttl,
		Signature: valSig,
		Payload:   payload,
	}
}

func TestStorePutSignatureAcceptsValid(t *testing.T) {
	s := NewStore()
	owner := newFakeKeyRing()
	hash := DHTKeyHash{1}

	v := makeSignatureValue(t, owner, []byte("payload-1"), 1000)
	changed, err := s.Put(hash, owner, v, 0)
	if err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	if !changed {
		t.Error("first Put should report changed=true")
	}

	got, ok := s.Get(hash, 0)
	if !ok || string(got.Payload) != "payload-1" {
		t.Fatalf("Get = %+v, %v", got, ok)
	}
}

func TestStorePutSignatureRejectsBadSignature(t *testing.T) {
	s := NewStore()
	owner := newFakeKeyRing()
	hash := DHTKeyHash{1}

	v := makeSignatureValue(t, owner, []byte("payload-1"), 1000)
	v.Signature = []byte("garbage")

	_, err := s.Put(hash, owner, v, 0)
	if err != ErrSignatureInvalid {
		t.Errorf("Put error = %v, want ErrSignatureInvalid", err)
	}
}

func TestStorePutSignatureLargerTTLWins(t *testing.T) {
	s := NewStore()
	owner := newFakeKeyRing()
	hash := DHTKeyHash{1}

	first := makeSignatureValue(t, owner, []byte("first"), 1000)
	if _, err := s.Put(hash, owner, first, 0); err != nil {
		t.Fatal(err)
	}

	smaller := makeSignatureValue(t, owner, []byte("second"), 500)
	changed, err := s.Put(hash, owner, smaller, 0)
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("a smaller TTL must not replace the existing value")
	}
	got, _ := s.Get(hash, 0)
	if string(got.Payload) != "first" {
		t.Error("smaller-TTL candidate overwrote the existing value")
	}

	larger := makeSignatureValue(t, owner, []byte("third"), 2000)
	changed, err = s.Put(hash, owner, larger, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Error("a larger TTL candidate should replace the existing value")
	}
	got, _ = s.Get(hash, 0)
	if string(got.Payload) != "third" {
		t.Error("larger-TTL candidate did not replace the existing value")
	}
}

func TestStorePutRejectsExpiredCandidate(t *testing.T) {
	s := NewStore()
	owner := newFakeKeyRing()
	hash := DHTKeyHash{1}

	v := makeSignatureValue(t, owner, []byte("payload"), 100)
	_, err := s.Put(hash, owner, v, 200) // now=200 > ttl=100
	if err != ErrExpired {
		t.Errorf("Put error = %v, want ErrExpired", err)
	}
}

func makeOverlayMember(t *testing.T, k fakeKeyRing, version uint32) OverlayNode {
	t.Helper()
	n := OverlayNode{ID: k.PublicKey(), Addresses: AddressList("addr"), Version: version}
	sig, err := k.Sign(overlayNodeSignedBytes(n))
	if err != nil {
		t.Fatal(err)
	}
	n.Signature = sig
	return n
}

func makeOverlayValue(t *testing.T, members ...OverlayNode) Value {
	t.Helper()
	payload, err := json.Marshal(overlayNodeList{Nodes: members})
	if err != nil {
		t.Fatal(err)
	}
	return Value{
		Key:     KeyDescription{UpdateRule: UpdateRuleOverlayNodes},
		TTL:     1000,
		Payload: payload,
	}
}

func TestStorePutOverlayNodesMergesByVersion(t *testing.T) {
	s := NewStore()
	hash := DHTKeyHash{2}
	memberA := newFakeKeyRing()
	memberB := newFakeKeyRing()

	first := makeOverlayValue(t, makeOverlayMember(t, memberA, 1))
	changed, err := s.Put(hash, newFakeKeyRing(), first, 0)
	if err != nil || !changed {
		t.Fatalf("initial overlay Put failed: changed=%v err=%v", changed, err)
	}

	second := makeOverlayValue(t, makeOverlayMember(t, memberB, 1))
	changed, err = s.Put(hash, newFakeKeyRing(), second, 0)
	if err != nil || !changed {
		t.Fatalf("merging a new member should change the roster: changed=%v err=%v", changed, err)
	}

	got, _ := s.Get(hash, 0)
	var list overlayNodeList
	if err := json.Unmarshal(got.Payload, &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Nodes) != 2 {
		t.Fatalf("merged roster has %d members, want 2", len(list.Nodes))
	}
}

func TestStorePutOverlayNodesStaleVersionIgnored(t *testing.T) {
	s := NewStore()
	hash := DHTKeyHash{2}
	member := newFakeKeyRing()

	first := makeOverlayValue(t, makeOverlayMember(t, member, 5))
	if _, err := s.Put(hash, newFakeKeyRing(), first, 0); err != nil {
		t.Fatal(err)
	}

	stale := makeOverlayValue(t, makeOverlayMember(t, member, 2))
	changed, err := s.Put(hash, newFakeKeyRing(), stale, 0)
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("a stale version must not be treated as a change")
	}
}

func TestStorePutOverlayNodesDropsUnverifiableMember(t *testing.T) {
	s := NewStore()
	hash := DHTKeyHash{2}
	member := newFakeKeyRing()
	other := newFakeKeyRing()

	bad := makeOverlayMember(t, member, 1)
	bad.Signature = []byte("not-a-signature")
	good := makeOverlayMember(t, other, 1)

	v := makeOverlayValue(t, bad, good)
	changed, err := s.Put(hash, newFakeKeyRing(), v, 0)
	if err != nil {
		t.Fatalf("Put should not error when at least one member verifies, got %v", err)
	}
	if !changed {
		t.Error("the surviving verified member should still produce a change")
	}

	got, _ := s.Get(hash, 0)
	var list overlayNodeList
	if err := json.Unmarshal(got.Payload, &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Nodes) != 1 || string(list.Nodes[0].ID) != string(good.ID) {
		t.Fatalf("merged roster = %+v, want only the verified member", list.Nodes)
	}
}

func TestStorePutOverlayNodesAllUnverifiableRejected(t *testing.T) {
	s := NewStore()
	hash := DHTKeyHash{2}
	member := newFakeKeyRing()

	bad := makeOverlayMember(t, member, 1)
	bad.Signature = []byte("not-a-signature")

	v := makeOverlayValue(t, bad)
	_, err := s.Put(hash, newFakeKeyRing(), v, 0)
	if err != ErrEmptyOverlayList {
		t.Errorf("Put error = %v, want ErrEmptyOverlayList when no member verifies", err)
	}
}

func TestStorePutOverlayNodesAllUnverifiableRejectedEvenWithExisting(t *testing.T) {
	s := NewStore()
	hash := DHTKeyHash{2}
	memberA := newFakeKeyRing()
	memberB := newFakeKeyRing()

	first := makeOverlayValue(t, makeOverlayMember(t, memberA, 1))
	if _, err := s.Put(hash, newFakeKeyRing(), first, 0); err != nil {
		t.Fatal(err)
	}

	bad := makeOverlayMember(t, memberB, 1)
	bad.Signature = []byte("not-a-signature")
	second := makeOverlayValue(t, bad)

	_, err := s.Put(hash, newFakeKeyRing(), second, 0)
	if err != ErrEmptyOverlayList {
		t.Errorf("Put error = %v, want ErrEmptyOverlayList even when a prior value exists", err)
	}

	got, _ := s.Get(hash, 0)
	var list overlayNodeList
	if err := json.Unmarshal(got.Payload, &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Nodes) != 1 {
		t.Fatalf("the existing roster should be untouched by a rejected update, got %d members", len(list.Nodes))
	}
}

func TestStorePutOverlayNodesEmptyListRejected(t *testing.T) {
	s := NewStore()
	hash := DHTKeyHash{2}
	v := makeOverlayValue(t)

	_, err := s.Put(hash, newFakeKeyRing(), v, 0)
	if err != ErrEmptyOverlayList {
		t.Errorf("Put error = %v, want ErrEmptyOverlayList", err)
	}
}
