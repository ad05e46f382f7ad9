package core

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// Frontier is the compact, comparable summary of a peer's view of one
// chain: its terminal dots, its holes (as ranges), and its inconsistency
// set.
type Frontier struct {
	Terminal        []Dot
	Holes           *Ranges
	Inconsistencies []Dot
}

// maxTerminalSeq returns the largest sequence number among f's terminal
// dots, or 0 if Terminal is empty.
func (f *Frontier) maxTerminalSeq() SeqNum {
	var max SeqNum
	for _, d := range f.Terminal {
		if d.Seq > max {
			max = d.Seq
		}
	}
	return max
}

// Greater reports whether f is strictly newer than o under the frontier
// partial order: true when the maximum terminal sequence grows,
// OR the holes set shrinks, OR (holes non-increasing AND inconsistencies
// shrink), OR (holes non-increasing AND inconsistencies non-increasing AND
// terminal heads grow). A strictly larger max-terminal-seq alone is
// sufficient even if holes/inconsistencies regressed (see DESIGN.md).
func (f *Frontier) Greater(o *Frontier) bool {
	newerMaxTerminal := f.maxTerminalSeq() > o.maxTerminalSeq()

	fHoles, oHoles := f.Holes.Cardinality(), o.Holes.Cardinality()
	lessHoles := fHoles < oHoles
	notMoreHoles := fHoles <= oHoles

	fIncons, oIncons := len(f.Inconsistencies), len(o.Inconsistencies)
	lessInconsistent := fIncons < oIncons
	notMoreInconsistent := fIncons <= oIncons

	moreTerminalHeads := len(f.Terminal) > len(o.Terminal)

	return newerMaxTerminal ||
		lessHoles ||
		(notMoreHoles && lessInconsistent) ||
		(notMoreHoles && notMoreInconsistent && moreTerminalHeads)
}

// Equal reports whether f and o carry the same terminal/holes/
// inconsistency sets.
func (f *Frontier) Equal(o *Frontier) bool {
	if len(f.Terminal) != len(o.Terminal) || len(f.Inconsistencies) != len(o.Inconsistencies) {
		return false
	}
	for i := range f.Terminal {
		if f.Terminal[i] != o.Terminal[i] {
			return false
		}
	}
	for i := range f.Inconsistencies {
		if f.Inconsistencies[i] != o.Inconsistencies[i] {
			return false
		}
	}
	return f.Holes.Equal(o.Holes)
}

//---------------------------------------------------------------------
// Wire encoding
//---------------------------------------------------------------------

type rangeRLP struct {
	Start uint64
	End   uint64
}

type frontierRLP struct {
	Terminal        []dotRLP
	Holes           []rangeRLP
	Inconsistencies []dotRLP
}

func rangesToRLP(r *Ranges) []rangeRLP {
	ivs := r.Intervals()
	out := make([]rangeRLP, len(ivs))
	for i, iv := range ivs {
		out[i] = rangeRLP{Start: uint64(iv.Start), End: uint64(iv.End)}
	}
	return out
}

func rangesFromRLP(in []rangeRLP) *Ranges {
	ivs := make([]Interval, len(in))
	for i, r := range in {
		ivs[i] = Interval{Start: SeqNum(r.Start), End: SeqNum(r.End)}
	}
	return RangesFromIntervals(ivs)
}

// Bytes returns the canonical RLP encoding of f: terminal, then hole
// ranges, then inconsistencies.
func (f *Frontier) Bytes() ([]byte, error) {
	w := frontierRLP{
		Terminal:        dotsToRLP(Links(f.Terminal)),
		Holes:           rangesToRLP(f.Holes),
		Inconsistencies: dotsToRLP(Links(f.Inconsistencies)),
	}
	return rlp.EncodeToBytes(w)
}

// FrontierFromBytes decodes the output of Frontier.Bytes.
func FrontierFromBytes(data []byte) (*Frontier, error) {
	var w frontierRLP
	if err := rlp.DecodeBytes(data, &w); err != nil {
		return nil, fmt.Errorf("decode frontier: %w", err)
	}
	return &Frontier{
		Terminal:        []Dot(dotsFromRLP(w.Terminal)),
		Holes:           rangesFromRLP(w.Holes),
		Inconsistencies: []Dot(dotsFromRLP(w.Inconsistencies)),
	}, nil
}

//---------------------------------------------------------------------
// FrontierDiff
//---------------------------------------------------------------------

// FrontierDiff is the instructions-to-converge computed by
// ChainIndex.Reconcile: sequence ranges the peer has that we don't, plus
// per-conflict extra-dot probes.
type FrontierDiff struct {
	Missing   *Ranges
	Conflicts map[Dot]map[SeqNum][]ShortHash
}

// IsEmpty reports whether both Missing and Conflicts carry no information;
// two consecutive empty diffs between a peer pair signal convergence.
func (d *FrontierDiff) IsEmpty() bool {
	return (d.Missing == nil || d.Missing.IsEmpty()) && len(d.Conflicts) == 0
}

type extraRLP struct {
	Seq    uint64
	Shorts [][]byte
}

type conflictRLP struct {
	C     dotRLP
	Extra []extraRLP
}

type frontierDiffRLP struct {
	Missing   []rangeRLP
	Conflicts []conflictRLP
}

// Bytes returns the canonical RLP encoding of d: the missing ranges, then
// the conflicts keyed by dot.
func (d *FrontierDiff) Bytes() ([]byte, error) {
	w := frontierDiffRLP{Missing: rangesToRLP(d.missingOrEmpty())}
	// Deterministic ordering: conflicts sorted by dot.
	keys := make([]Dot, 0, len(d.Conflicts))
	for c := range d.Conflicts {
		keys = append(keys, c)
	}
	SortDots(keys)
	for _, c := range keys {
		extraMap := d.Conflicts[c]
		seqs := make([]SeqNum, 0, len(extraMap))
		for s := range extraMap {
			seqs = append(seqs, s)
		}
		sortSeqNums(seqs)
		var extras []extraRLP
		for _, s := range seqs {
			shorts := extraMap[s]
			buf := make([][]byte, len(shorts))
			for i, sh := range shorts {
				cp := make([]byte, ShortHashLen)
				copy(cp, sh[:])
				buf[i] = cp
			}
			extras = append(extras, extraRLP{Seq: uint64(s), Shorts: buf})
		}
		w.Conflicts = append(w.Conflicts, conflictRLP{C: dotsToRLP(Links{c})[0], Extra: extras})
	}
	return rlp.EncodeToBytes(w)
}

func (d *FrontierDiff) missingOrEmpty() *Ranges {
	if d.Missing == nil {
		return NewRanges()
	}
	return d.Missing
}

// FrontierDiffFromBytes decodes the output of FrontierDiff.Bytes.
func FrontierDiffFromBytes(data []byte) (*FrontierDiff, error) {
	var w frontierDiffRLP
	if err := rlp.DecodeBytes(data, &w); err != nil {
		return nil, fmt.Errorf("decode frontier diff: %w", err)
	}
	out := &FrontierDiff{
		Missing:   rangesFromRLP(w.Missing),
		Conflicts: make(map[Dot]map[SeqNum][]ShortHash, len(w.Conflicts)),
	}
	for _, c := range w.Conflicts {
		dot := dotsFromRLP([]dotRLP{c.C})[0]
		extra := make(map[SeqNum][]ShortHash, len(c.Extra))
		for _, e := range c.Extra {
			shorts := make([]ShortHash, len(e.Shorts))
			for i, sh := range e.Shorts {
				copy(shorts[i][:], sh)
			}
			extra[SeqNum(e.Seq)] = shorts
		}
		out.Conflicts[dot] = extra
	}
	return out, nil
}

func sortSeqNums(s []SeqNum) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
