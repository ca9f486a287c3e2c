package dht

import "testing"

func TestRoutingTableAddAndGet(t *testing.T) {
	self := RandomNodeID()
	rt := NewRoutingTable(self)
	peer := RandomNodeID()
	rec := NodeRecord{ID: []byte("pub"), Version: 1}

	if !rt.Add(peer, rec) {
		t.Fatal("Add on a new peer should report true")
	}
	got, ok := rt.Get(peer)
	if !ok || got.Version != 1 {
		t.Fatalf("Get(peer) = %+v, %v, want version 1", got, ok)
	}
}

func TestRoutingTableNeverAddsSelf(t *testing.T) {
	self := RandomNodeID()
	rt := NewRoutingTable(self)
	if rt.Add(self, NodeRecord{}) {
		t.Error("Add(self, ...) should report false")
	}
	if rt.Count() != 0 {
		t.Error("self must never be registered as a known peer")
	}
}

func TestRoutingTableVersionPolicy(t *testing.T) {
	self := RandomNodeID()
	rt := NewRoutingTable(self)
	peer := RandomNodeID()

	rt.Add(peer, NodeRecord{Version: 5})
	rt.Add(peer, NodeRecord{Version: 3}) // stale, should be ignored

	got, _ := rt.Get(peer)
	if got.Version != 5 {
		t.Errorf("stale version overwrote newer record: got version %d", got.Version)
	}

	rt.Add(peer, NodeRecord{Version: 9})
	got, _ = rt.Get(peer)
	if got.Version != 9 {
		t.Errorf("newer version did not replace older record: got version %d", got.Version)
	}
}

func TestRoutingTableKnownPeerCountAndContains(t *testing.T) {
	self := RandomNodeID()
	rt := NewRoutingTable(self)

	// Checks the known-peer FIFO bookkeeping below the MaxPeers cap: every
	// added peer is counted and reported by Contains. Eviction past the
	// cap is not exercised here.
	ids := make([]NodeID, 0, 8)
	for i := 0; i < 8; i++ {
		id := RandomNodeID()
		ids = append(ids, id)
		rt.Add(id, NodeRecord{Version: 1})
	}
	if rt.Count() != 8 {
		t.Fatalf("Count() = %d, want 8", rt.Count())
	}
	for _, id := range ids {
		if !rt.Contains(id) {
			t.Errorf("Contains(%s) = false, want true", id)
		}
	}
}

func TestRoutingTableClosestToReturnsKnownPeers(t *testing.T) {
	self := RandomNodeID()
	rt := NewRoutingTable(self)

	target := RandomNodeID()
	var ids []NodeID
	for i := 0; i < 5; i++ {
		id := RandomNodeID()
		ids = append(ids, id)
		rt.Add(id, NodeRecord{ID: id[:], Version: 1})
	}

	closest := rt.ClosestTo(target, 3)
	if len(closest) > 3 {
		t.Fatalf("ClosestTo returned %d records, want at most 3", len(closest))
	}
	for _, rec := range closest {
		found := false
		for _, id := range ids {
			if string(rec.ID) == string(id[:]) {
				found = true
				break
			}
		}
		if !found {
			t.Error("ClosestTo returned a record that was never added")
		}
	}
}

func TestRoutingTableIterAll(t *testing.T) {
	self := RandomNodeID()
	rt := NewRoutingTable(self)
	for i := 0; i < 4; i++ {
		id := RandomNodeID()
		rt.Add(id, NodeRecord{Version: 1})
	}
	all := rt.IterAll(100)
	if len(all) != 4 {
		t.Errorf("IterAll(100) returned %d records, want 4", len(all))
	}
	limited := rt.IterAll(2)
	if len(limited) != 2 {
		t.Errorf("IterAll(2) returned %d records, want 2", len(limited))
	}
}

func TestRoutingTableCursorWalksAll(t *testing.T) {
	self := RandomNodeID()
	rt := NewRoutingTable(self)
	want := map[NodeID]bool{}
	for i := 0; i < 4; i++ {
		id := RandomNodeID()
		want[id] = true
		rt.Add(id, NodeRecord{Version: 1})
	}

	cur := rt.Cursor()
	got := map[NodeID]bool{}
	for {
		id, ok := rt.Next(cur)
		if !ok {
			break
		}
		got[id] = true
	}
	if len(got) != len(want) {
		t.Fatalf("cursor visited %d peers, want %d", len(got), len(want))
	}
}

func TestRoutingTableCursorResumesAfterGrowth(t *testing.T) {
	self := RandomNodeID()
	rt := NewRoutingTable(self)

	first := RandomNodeID()
	rt.Add(first, NodeRecord{Version: 1})

	cur := rt.Cursor()
	id, ok := rt.Next(cur)
	if !ok || id != first {
		t.Fatalf("first Next = %s, %v, want %s, true", id, ok, first)
	}
	if _, ok := rt.Next(cur); ok {
		t.Fatal("cursor should have drained after visiting the only known peer")
	}

	second := RandomNodeID()
	rt.Add(second, NodeRecord{Version: 1})

	id, ok = rt.Next(cur)
	if !ok || id != second {
		t.Fatalf("Next after growth = %s, %v, want %s, true (a drained cursor must resume)", id, ok, second)
	}
}
