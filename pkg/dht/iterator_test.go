package dht

import "testing"

// idWithAffinity returns a NodeID whose Affinity to the all-zero target is
// exactly a, with tag folded into a trailing byte that never affects the
// affinity computation (only the first differing byte matters).
func idWithAffinity(a int, tag byte) NodeID {
	var id NodeID
	byteIdx := a / 8
	bitIdx := a % 8
	if byteIdx < IDSize {
		id[byteIdx] = 0x80 >> uint(bitIdx)
	}
	if byteIdx+1 < IDSize {
		id[byteIdx+1] = tag
	}
	return id
}

func TestIteratorUpdateSeedsFromRoutingTableByEffectiveAffinity(t *testing.T) {
	target := ZeroNodeID()
	self := idWithAffinity(0, 0xFF)
	table := NewRoutingTable(self)
	scorer := NewScorer()

	near := idWithAffinity(20, 1)
	mid := idWithAffinity(10, 2)
	far := idWithAffinity(2, 3)
	table.Add(mid, NodeRecord{ID: mid[:]})
	table.Add(far, NodeRecord{ID: far[:]})
	table.Add(near, NodeRecord{ID: near[:]})

	it := NewIterator(target, table, scorer)
	it.Update()

	if it.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", it.Len())
	}

	id, _, ok := it.PopHighest()
	if !ok || id != near {
		t.Fatalf("first PopHighest = %s, want the highest-affinity candidate %s", id, near)
	}
	id, _, ok = it.PopHighest()
	if !ok || id != mid {
		t.Fatalf("second PopHighest = %s, want %s", id, mid)
	}
	id, _, ok = it.PopHighest()
	if !ok || id != far {
		t.Fatalf("third PopHighest = %s, want the lowest-affinity candidate %s", id, far)
	}
	if _, _, ok := it.PopHighest(); ok {
		t.Error("PopHighest should report false once the frontier is empty")
	}
}

func TestIteratorUpdateExcludesUnhealthyPeer(t *testing.T) {
	target := ZeroNodeID()
	self := idWithAffinity(0, 0xFF)
	table := NewRoutingTable(self)
	scorer := NewScorer()

	healthy := idWithAffinity(10, 1)
	sick := idWithAffinity(20, 2) // higher raw affinity, but will be unhealthy
	table.Add(healthy, NodeRecord{ID: healthy[:]})
	table.Add(sick, NodeRecord{ID: sick[:]})

	for scorer.Healthy(sick) {
		scorer.SetBad(sick)
	}

	it := NewIterator(target, table, scorer)
	it.Update()

	if it.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (the unhealthy peer must be excluded)", it.Len())
	}
	id, _, ok := it.PopHighest()
	if !ok || id != healthy {
		t.Fatalf("PopHighest = %s, want the only healthy candidate %s", id, healthy)
	}
}

func TestIteratorEffectiveAffinityAccountsForScore(t *testing.T) {
	target := ZeroNodeID()
	self := idWithAffinity(0, 0xFF)
	table := NewRoutingTable(self)
	scorer := NewScorer()

	// raw affinity favors highRaw, but two failures (score 4) drop its
	// effective affinity (16-4=12) below lowRaw's untouched 14.
	highRaw := idWithAffinity(16, 1)
	lowRaw := idWithAffinity(14, 2)
	table.Add(highRaw, NodeRecord{ID: highRaw[:]})
	table.Add(lowRaw, NodeRecord{ID: lowRaw[:]})

	scorer.SetBad(highRaw)
	scorer.SetBad(highRaw)

	it := NewIterator(target, table, scorer)
	it.Update()

	id, _, ok := it.PopHighest()
	if !ok || id != lowRaw {
		t.Fatalf("PopHighest = %s, want %s (score-adjusted affinity should win)", id, lowRaw)
	}
	id, _, ok = it.PopHighest()
	if !ok || id != highRaw {
		t.Fatalf("second PopHighest = %s, want %s", id, highRaw)
	}
}

func TestIteratorEvictsOnlyStrictlyLowerKeepsTiesPastCap(t *testing.T) {
	target := ZeroNodeID()
	self := idWithAffinity(0, 0xFF)
	table := NewRoutingTable(self)
	scorer := NewScorer()

	low := idWithAffinity(5, 0)
	table.Add(low, NodeRecord{ID: low[:]})

	const tiedCount = MaxTasks + 1 // 6 > MaxTasks(5), all tied at the max
	tied := make([]NodeID, tiedCount)
	for i := 0; i < tiedCount; i++ {
		tied[i] = idWithAffinity(10, byte(i+1))
		table.Add(tied[i], NodeRecord{ID: tied[i][:]})
	}

	it := NewIterator(target, table, scorer)
	it.Update()

	if it.Len() != tiedCount {
		t.Fatalf("Len() = %d, want %d: the strictly-lower entry must be evicted but every tie at the new boundary kept, even past MaxTasks", it.Len(), tiedCount)
	}
	for i := 0; i < tiedCount; i++ {
		id, _, ok := it.PopHighest()
		if !ok {
			t.Fatalf("PopHighest #%d failed", i)
		}
		if id == low {
			t.Error("the strictly-lower-affinity candidate should have been evicted")
		}
	}
}

func TestIteratorAllTiedKeepsEveryEntryPastCap(t *testing.T) {
	target := ZeroNodeID()
	self := idWithAffinity(0, 0xFF)
	table := NewRoutingTable(self)
	scorer := NewScorer()

	const n = MaxTasks + 2
	for i := 0; i < n; i++ {
		id := idWithAffinity(10, byte(i+1))
		table.Add(id, NodeRecord{ID: id[:]})
	}

	it := NewIterator(target, table, scorer)
	it.Update()

	if it.Len() != n {
		t.Fatalf("Len() = %d, want %d: a fully-tied frontier must never be trimmed", it.Len(), n)
	}
}

func TestIteratorIsExhaustedOnceFrontierEmptiesAndCursorDrains(t *testing.T) {
	target := ZeroNodeID()
	self := idWithAffinity(0, 0xFF)
	table := NewRoutingTable(self)
	scorer := NewScorer()

	id := idWithAffinity(10, 1)
	table.Add(id, NodeRecord{ID: id[:]})

	it := NewIterator(target, table, scorer)
	if it.IsExhausted() {
		t.Error("a freshly constructed iterator should not report exhausted before its cursor has ever been walked")
	}
	it.Update()
	if it.IsExhausted() {
		t.Fatal("IsExhausted should be false while a candidate is still retained")
	}
	if _, _, ok := it.PopHighest(); !ok {
		t.Fatal("PopHighest should have returned the one known peer")
	}
	if !it.IsExhausted() {
		t.Error("IsExhausted should be true once the frontier empties and the cursor has drained")
	}
}

func TestIteratorUpdateReseedsAfterRoutingTableGrows(t *testing.T) {
	target := ZeroNodeID()
	self := idWithAffinity(0, 0xFF)
	table := NewRoutingTable(self)
	scorer := NewScorer()

	first := idWithAffinity(10, 1)
	table.Add(first, NodeRecord{ID: first[:]})

	it := NewIterator(target, table, scorer)
	it.Update()
	if _, _, ok := it.PopHighest(); !ok {
		t.Fatal("expected to pop the initially known peer")
	}
	if !it.IsExhausted() {
		t.Fatal("iterator should be exhausted before the table grows further")
	}

	second := idWithAffinity(20, 2)
	table.Add(second, NodeRecord{ID: second[:]})

	it.Update() // reseed: the table grew after the cursor last drained
	if it.IsExhausted() {
		t.Fatal("Update should have picked up the peer added after the cursor drained")
	}
	id, _, ok := it.PopHighest()
	if !ok || id != second {
		t.Fatalf("PopHighest after reseed = %s, want the newly added peer %s", id, second)
	}
}
