package core

import (
	"bytes"

	"github.com/RoaringBitmap/roaring/v2"
)

// Ranges is a canonical run-length encoding of a set of SeqNums, backed by
// a compressed roaring bitmap. It is used for both the holes set and the
// "missing" field of a FrontierDiff.
type Ranges struct {
	bm *roaring.Bitmap
}

// NewRanges returns an empty Ranges.
func NewRanges() *Ranges {
	return &Ranges{bm: roaring.New()}
}

// RangesFromSeqNums builds a Ranges containing exactly the given sequence
// numbers.
func RangesFromSeqNums(seqs []SeqNum) *Ranges {
	r := NewRanges()
	for _, s := range seqs {
		r.Add(s)
	}
	return r
}

// Add inserts s into the set.
func (r *Ranges) Add(s SeqNum) { r.bm.Add(uint32(s)) }

// Remove deletes s from the set.
func (r *Ranges) Remove(s SeqNum) { r.bm.Remove(uint32(s)) }

// Contains reports whether s is a member of the set.
func (r *Ranges) Contains(s SeqNum) bool { return r.bm.Contains(uint32(s)) }

// IsEmpty reports whether the set has no members.
func (r *Ranges) IsEmpty() bool { return r.bm.IsEmpty() }

// Cardinality returns the number of members.
func (r *Ranges) Cardinality() uint64 { return r.bm.GetCardinality() }

// Max returns the largest member, or 0 if the set is empty.
func (r *Ranges) Max() SeqNum {
	if r.bm.IsEmpty() {
		return 0
	}
	return SeqNum(r.bm.Maximum())
}

// Clone returns an independent copy of r.
func (r *Ranges) Clone() *Ranges {
	return &Ranges{bm: r.bm.Clone()}
}

// Union returns a new Ranges containing the members of both r and o.
func (r *Ranges) Union(o *Ranges) *Ranges {
	out := r.Clone()
	out.bm.Or(o.bm)
	return out
}

// Difference returns a new Ranges containing members of r not in o.
func (r *Ranges) Difference(o *Ranges) *Ranges {
	out := r.Clone()
	out.bm.AndNot(o.bm)
	return out
}

// ToSlice returns the sorted member sequence numbers.
func (r *Ranges) ToSlice() []SeqNum {
	arr := r.bm.ToArray()
	out := make([]SeqNum, len(arr))
	for i, v := range arr {
		out[i] = SeqNum(v)
	}
	return out
}

// Interval is a closed, inclusive [Start, End] run of sequence numbers.
type Interval struct {
	Start SeqNum
	End   SeqNum
}

// Intervals returns the canonical run-length encoding of the set as sorted,
// non-overlapping closed intervals.
func (r *Ranges) Intervals() []Interval {
	vals := r.ToSlice()
	if len(vals) == 0 {
		return nil
	}
	var out []Interval
	start := vals[0]
	prev := vals[0]
	for _, v := range vals[1:] {
		if v == prev+1 {
			prev = v
			continue
		}
		out = append(out, Interval{Start: start, End: prev})
		start = v
		prev = v
	}
	out = append(out, Interval{Start: start, End: prev})
	return out
}

// RangesFromIntervals reconstructs a Ranges from its canonical interval
// encoding (as round-tripped over the wire).
func RangesFromIntervals(ivs []Interval) *Ranges {
	r := NewRanges()
	for _, iv := range ivs {
		for s := iv.Start; s <= iv.End; s++ {
			r.Add(s)
			if s == iv.End {
				break // guard against SeqNum overflow when End == max value
			}
		}
	}
	return r
}

// Equal reports whether r and o contain exactly the same members.
func (r *Ranges) Equal(o *Ranges) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.bm.Equals(o.bm)
}

// Encode returns the canonical serialized form of r.
func (r *Ranges) Encode() ([]byte, error) {
	return r.bm.ToBytes()
}

// DecodeRanges parses the output of Encode.
func DecodeRanges(data []byte) (*Ranges, error) {
	bm := roaring.New()
	if _, err := bm.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return &Ranges{bm: bm}, nil
}

// seqRangeSlice expands [1..max] \ holes into a sorted slice, used by
// ChainIndex.Reconcile to compute front/peer known sequence sets.
func seqRangeSlice(max SeqNum, holes *Ranges) []SeqNum {
	if max == 0 {
		return nil
	}
	out := make([]SeqNum, 0, max)
	for s := SeqNum(1); s <= max; s++ {
		if holes == nil || !holes.Contains(s) {
			out = append(out, s)
		}
	}
	return out
}
