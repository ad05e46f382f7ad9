package core

import "testing"

func TestRangesAddRemoveContains(t *testing.T) {
	r := NewRanges()
	if !r.IsEmpty() {
		t.Fatalf("new Ranges should be empty")
	}
	r.Add(1)
	r.Add(2)
	r.Add(5)
	if r.Cardinality() != 3 {
		t.Fatalf("expected cardinality 3, got %d", r.Cardinality())
	}
	if !r.Contains(2) || r.Contains(3) {
		t.Fatalf("unexpected membership")
	}
	r.Remove(2)
	if r.Contains(2) {
		t.Fatalf("expected 2 removed")
	}
}

func TestRangesIntervals(t *testing.T) {
	r := RangesFromSeqNums([]SeqNum{1, 2, 3, 7, 8, 10})
	ivs := r.Intervals()
	want := []Interval{{1, 3}, {7, 8}, {10, 10}}
	if len(ivs) != len(want) {
		t.Fatalf("got %d intervals, want %d: %v", len(ivs), len(want), ivs)
	}
	for i := range want {
		if ivs[i] != want[i] {
			t.Fatalf("interval %d: got %v want %v", i, ivs[i], want[i])
		}
	}
}

func TestRangesFromIntervalsRoundTrip(t *testing.T) {
	orig := RangesFromSeqNums([]SeqNum{1, 2, 3, 7, 8, 10})
	ivs := orig.Intervals()
	reconstructed := RangesFromIntervals(ivs)
	if !orig.Equal(reconstructed) {
		t.Fatalf("round trip through intervals changed the set")
	}
}

func TestRangesEncodeDecodeRoundTrip(t *testing.T) {
	orig := RangesFromSeqNums([]SeqNum{1, 4, 9, 16, 25})
	data, err := orig.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := DecodeRanges(data)
	if err != nil {
		t.Fatalf("DecodeRanges: %v", err)
	}
	if !orig.Equal(got) {
		t.Fatalf("decoded Ranges does not match original")
	}
}

func TestRangesDifferenceAndUnion(t *testing.T) {
	a := RangesFromSeqNums([]SeqNum{1, 2, 3, 4})
	b := RangesFromSeqNums([]SeqNum{3, 4, 5})
	diff := a.Difference(b)
	if !diff.Equal(RangesFromSeqNums([]SeqNum{1, 2})) {
		t.Fatalf("unexpected difference: %v", diff.ToSlice())
	}
	union := a.Union(b)
	if !union.Equal(RangesFromSeqNums([]SeqNum{1, 2, 3, 4, 5})) {
		t.Fatalf("unexpected union: %v", union.ToSlice())
	}
}

func TestRangesMax(t *testing.T) {
	if NewRanges().Max() != 0 {
		t.Fatalf("empty Ranges Max should be 0")
	}
	r := RangesFromSeqNums([]SeqNum{5, 1, 9})
	if r.Max() != 9 {
		t.Fatalf("expected max 9, got %d", r.Max())
	}
}

func TestSeqRangeSlice(t *testing.T) {
	holes := RangesFromSeqNums([]SeqNum{2, 4})
	got := seqRangeSlice(5, holes)
	want := []SeqNum{1, 3, 5}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
	if seqRangeSlice(0, nil) != nil {
		t.Fatalf("expected nil slice for max=0")
	}
}
