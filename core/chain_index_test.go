package core

import "testing"

// hashFor deterministically derives a Hash from a sequence number and a
// variant tag, so tests can build blocks whose short hashes are
// predictable without needing real signing.
func hashFor(seq uint64, variant byte) Hash {
	var h Hash
	h[0] = variant
	h[1] = byte(seq)
	h[2] = byte(seq >> 8)
	h[3] = byte(seq >> 16)
	return h
}

// buildLinearChain ingests a single-branch chain covering every seq in
// seqs, in order, each linking back to the previously ingested dot (or
// GenesisDot for the first). Returns the dot ingested for each seq.
func buildLinearChain(t *testing.T, idx *ChainIndex, seqs []uint64, variant byte) map[uint64]Dot {
	t.Helper()
	dots := map[uint64]Dot{}
	prev := GenesisDot
	for _, s := range seqs {
		h := hashFor(s, variant)
		d := Dot{Seq: SeqNum(s), Short: h.Short()}
		idx.Ingest(NewLinks(prev), SeqNum(s), h)
		dots[s] = d
		prev = d
	}
	return dots
}

func TestIngestIdempotent(t *testing.T) {
	idx := NewChainIndex(ChainId("c"))
	h := hashFor(1, 0x01)
	first := idx.Ingest(NewLinks(GenesisDot), 1, h)
	if len(first) == 0 {
		t.Fatalf("expected the first ingestion of a genesis-linked block to become consistent")
	}
	before := idx.Frontier()
	idx.Ingest(NewLinks(GenesisDot), 1, h)
	after := idx.Frontier()
	if !before.Equal(after) {
		t.Fatalf("re-ingesting the same block must leave the frontier unchanged")
	}
}

// Fill a hole: a chain holds {1..5,7..10}; ingesting block 6
// clears holes and inconsistencies and produces a unique consistent
// terminal at seq 10.
func TestChainIndexFillHole(t *testing.T) {
	idx := NewChainIndex(ChainId("c"))
	dots := buildLinearChain(t, idx, []uint64{1, 2, 3, 4, 5}, 0x01)

	// Seq 6 deliberately skipped; 7 links to the (not yet known) dot at 6.
	missingDot := Dot{Seq: 6, Short: hashFor(6, 0x01).Short()}
	prev := missingDot
	for _, s := range []uint64{7, 8, 9, 10} {
		h := hashFor(s, 0x01)
		idx.Ingest(NewLinks(prev), SeqNum(s), h)
		prev = Dot{Seq: SeqNum(s), Short: h.Short()}
	}

	f := idx.Frontier()
	if f.Holes.Cardinality() != 1 || !f.Holes.Contains(6) {
		t.Fatalf("expected a single hole at seq 6, got %v", f.Holes.ToSlice())
	}
	if len(f.Inconsistencies) != 1 || f.Inconsistencies[0] != missingDot {
		t.Fatalf("expected the missing dot at seq 6 flagged inconsistent, got %v", f.Inconsistencies)
	}
	if len(idx.ConsistentTerminal()) != 1 || idx.ConsistentTerminal()[0] != dots[5] {
		t.Fatalf("expected consistent terminal stuck at seq 5 before the hole is filled")
	}

	// Now the hole is filled.
	h6 := hashFor(6, 0x01)
	newlyConsistent := idx.Ingest(NewLinks(dots[5]), 6, h6)
	if len(newlyConsistent) != 5 {
		t.Fatalf("expected 5 dots (6,7,8,9,10) to become consistent, got %d: %v", len(newlyConsistent), newlyConsistent)
	}

	f = idx.Frontier()
	if !f.Holes.IsEmpty() {
		t.Fatalf("expected holes to be empty after filling seq 6, got %v", f.Holes.ToSlice())
	}
	if len(f.Inconsistencies) != 0 {
		t.Fatalf("expected inconsistencies to be empty, got %v", f.Inconsistencies)
	}
	ct := idx.ConsistentTerminal()
	if len(ct) != 1 || ct[0].Seq != 10 {
		t.Fatalf("expected a unique consistent terminal at seq 10, got %v", ct)
	}
}

// Resolve a conflict: A and B share history to seq 9
// and diverge at seq 10; reconciling surfaces both heads as a conflict.
func TestChainIndexConflict(t *testing.T) {
	a := NewChainIndex(ChainId("c"))
	b := NewChainIndex(ChainId("c"))
	sharedSeqs := []uint64{1, 2, 3, 4, 5, 6, 7, 8, 9}
	aDots := buildLinearChain(t, a, sharedSeqs, 0x01)
	bDots := buildLinearChain(t, b, sharedSeqs, 0x01)

	hx := hashFor(10, 0xAA)
	hy := hashFor(10, 0xBB)
	a.Ingest(NewLinks(aDots[9]), 10, hx)
	b.Ingest(NewLinks(bDots[9]), 10, hy)

	bFrontier := b.Frontier()
	diff := a.Reconcile(bFrontier, 0)

	wantConflict := Dot{Seq: 10, Short: hy.Short()}
	if _, ok := diff.Conflicts[wantConflict]; !ok {
		t.Fatalf("expected a's peer's head (10,hy) to be flagged a conflict, got %+v", diff.Conflicts)
	}
	if !diff.Missing.IsEmpty() {
		t.Fatalf("expected no missing ranges when histories are otherwise identical, got %v", diff.Missing.ToSlice())
	}

	aTerm := a.Terminal()
	if len(aTerm) != 1 || aTerm[0].Seq != 10 {
		t.Fatalf("expected a's own terminal still just its own head before ingesting b's block")
	}
}

// Inconsistency repair cascade: blocks 3,5,4,2,1
// arrive out of order, each linking to its predecessor; only the final
// ingestion (of 1) clears the whole chain at once, in order.
func TestChainIndexInconsistencyRepairCascade(t *testing.T) {
	idx := NewChainIndex(ChainId("c"))

	h := map[uint64]Hash{}
	for s := uint64(1); s <= 5; s++ {
		h[s] = hashFor(s, 0x01)
	}
	d := func(s uint64) Dot { return Dot{Seq: SeqNum(s), Short: h[s].Short()} }

	links := func(s uint64) Links {
		if s == 1 {
			return NewLinks(GenesisDot)
		}
		return NewLinks(d(s - 1))
	}

	order := []uint64{3, 5, 4, 2}
	for _, s := range order {
		got := idx.Ingest(links(s), SeqNum(s), h[s])
		if len(got) != 0 {
			t.Fatalf("ingesting seq %d out of order should not yet clear anything, got %v", s, got)
		}
	}

	got := idx.Ingest(links(1), 1, h[1])
	want := []Dot{d(1), d(2), d(3), d(4), d(5)}
	if len(got) != len(want) {
		t.Fatalf("expected final ingestion to clear all 5 dots in order, got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: got %v want %v (full: %v)", i, got[i], want[i], got)
		}
	}

	f := idx.Frontier()
	if len(f.Inconsistencies) != 0 {
		t.Fatalf("expected no remaining inconsistencies, got %v", f.Inconsistencies)
	}
	ct := idx.ConsistentTerminal()
	if len(ct) != 1 || ct[0] != d(5) {
		t.Fatalf("expected consistent terminal at seq 5, got %v", ct)
	}
}

// Frontier monotonicity under repeated legal
// extension of a single chain.
func TestChainIndexFrontierMonotonic(t *testing.T) {
	idx := NewChainIndex(ChainId("c"))
	prev := GenesisDot
	old := idx.Frontier()
	for s := uint64(1); s <= 20; s++ {
		h := hashFor(s, 0x01)
		idx.Ingest(NewLinks(prev), SeqNum(s), h)
		prev = Dot{Seq: SeqNum(s), Short: h.Short()}

		cur := idx.Frontier()
		if !cur.Greater(old) && !cur.Equal(old) {
			t.Fatalf("frontier regressed at seq %d: old=%+v new=%+v", s, old, cur)
		}
		old = cur
	}
}

func TestChainIndexGetNextPrevLinks(t *testing.T) {
	idx := NewChainIndex(ChainId("c"))
	dots := buildLinearChain(t, idx, []uint64{1, 2, 3}, 0x01)

	prev, ok := idx.GetPrevLinks(dots[2])
	if !ok || len(prev) != 1 || prev[0] != dots[1] {
		t.Fatalf("expected seq 2's back-link to be seq 1's dot, got %v ok=%v", prev, ok)
	}
	next, ok := idx.GetNextLinks(dots[1])
	if !ok || len(next) != 1 || next[0] != dots[2] {
		t.Fatalf("expected seq 1's forward pointer to be seq 2's dot, got %v ok=%v", next, ok)
	}
	if _, ok := idx.GetNextLinks(dots[3]); ok {
		t.Fatalf("expected the head dot to have no forward pointer")
	}
}

func TestChainIndexInvariantForwardBackConsistency(t *testing.T) {
	// For every dot d with back-links L, every b in L must list d among its
	// forward pointers.
	idx := NewChainIndex(ChainId("c"))
	dots := buildLinearChain(t, idx, []uint64{1, 2, 3, 4}, 0x01)
	for s := uint64(2); s <= 4; s++ {
		next, ok := idx.GetNextLinks(dots[s-1])
		if !ok || !next.Contains(dots[s]) {
			t.Fatalf("seq %d: expected forward pointer from predecessor to include it", s)
		}
	}
}
