package core

import (
	"strconv"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultClosureCacheSize is the default capacity of a ChainIndex's
// forward-closure LRU cache.
const DefaultClosureCacheSize = 10_000

// DefaultMaxExtraDots bounds the number of intermediate dots attached per
// conflict in a reconcile response.
const DefaultMaxExtraDots = 5

// ChainIndex maintains the in-memory DAG structures for one chain:
// versions, forward/back pointers, holes, inconsistencies, terminal and
// consistent terminal. All mutating operations run under a per-chain
// mutex.
type ChainIndex struct {
	id           ChainId
	maxExtraDots int

	mu sync.Mutex

	versions           map[SeqNum]map[ShortHash]struct{}
	forward            map[Dot]dotSet
	back               map[Dot]Links
	holes              *Ranges
	maxKnownSeq        SeqNum
	inconsistencies    dotSet
	inconsistentBlocks dotSet
	terminal           dotSet
	consistentTerminal dotSet

	closureCache *lru.Cache[string, dotSet]
}

// NewChainIndex creates an empty chain index whose only known dot is the
// genesis sentinel, which is consistent and terminal by definition.
func NewChainIndex(id ChainId) *ChainIndex {
	return NewChainIndexWithOptions(id, DefaultClosureCacheSize, DefaultMaxExtraDots)
}

// NewChainIndexWithOptions is NewChainIndex with an explicit cache size and
// max-extra-dots bound (see DefaultClosureCacheSize and DefaultMaxExtraDots,
// which ChainIndexOptionsFromAppConfig in core/config.go substitutes for
// zero config values).
func NewChainIndexWithOptions(id ChainId, cacheSize, maxExtraDots int) *ChainIndex {
	cache, _ := lru.New[string, dotSet](cacheSize)
	return &ChainIndex{
		id:                 id,
		maxExtraDots:       maxExtraDots,
		versions:           map[SeqNum]map[ShortHash]struct{}{0: {GenesisShortHash: struct{}{}}},
		forward:            map[Dot]dotSet{},
		back:               map[Dot]Links{},
		holes:              NewRanges(),
		inconsistencies:    dotSet{},
		inconsistentBlocks: dotSet{},
		terminal:           dotSet{GenesisDot: {}},
		consistentTerminal: dotSet{GenesisDot: {}},
		closureCache:       cache,
	}
}

// ID returns the chain identifier this index tracks.
func (c *ChainIndex) ID() ChainId { return c.id }

//---------------------------------------------------------------------
// Ingesting a block
//---------------------------------------------------------------------

// Ingest records a block's arrival (its back-links, sequence number and
// hash) and returns the dots that became newly consistent as a result, in
// canonical delivery order. All steps run under the chain's mutex.
func (c *ChainIndex) Ingest(links Links, seq SeqNum, hash Hash) []Dot {
	c.mu.Lock()
	defer c.mu.Unlock()

	short := hash.Short()
	dot := Dot{Seq: seq, Short: short}

	c.addVersion(seq, short)
	c.back[dot] = links
	c.addForward(links, dot)
	c.updateHoles(seq)

	consistent := c.addInconsistencies(links, dot)
	missing := c.removeInconsistencies(dot, consistent)

	oldConsistentTerminal := c.consistentTerminal
	c.closureCache.Purge()
	c.updateTerminal(dot, consistent)

	diff := setDifference(c.consistentTerminal, oldConsistentTerminal)

	if len(missing) > 0 {
		return missing
	}
	if len(diff) > 0 {
		return []Dot{maxDot(diff)}
	}
	return nil
}

func (c *ChainIndex) addVersion(seq SeqNum, short ShortHash) {
	set, ok := c.versions[seq]
	if !ok {
		set = map[ShortHash]struct{}{}
		c.versions[seq] = set
	}
	set[short] = struct{}{}
}

func (c *ChainIndex) addForward(links Links, dot Dot) {
	for _, b := range links {
		set, ok := c.forward[b]
		if !ok {
			set = dotSet{}
			c.forward[b] = set
		}
		set[dot] = struct{}{}
	}
}

func (c *ChainIndex) updateHoles(seq SeqNum) {
	if c.holes.Contains(seq) {
		c.holes.Remove(seq)
	}
	if seq > c.maxKnownSeq {
		for s := c.maxKnownSeq + 1; s < seq; s++ {
			c.holes.Add(s)
		}
		c.maxKnownSeq = seq
	}
}

// addInconsistencies records any back-links that
// are themselves unknown or already inconsistent, and marks dot itself
// inconsistent if any such back-link exists. Returns whether dot is
// immediately consistent.
func (c *ChainIndex) addInconsistencies(links Links, dot Dot) bool {
	consistent := true
	for _, b := range links {
		if b != GenesisDot {
			if _, known := c.back[b]; !known {
				c.inconsistencies[b] = struct{}{}
				consistent = false
			}
		}
		if _, bad := c.inconsistentBlocks[b]; bad {
			consistent = false
		}
	}
	if !consistent {
		c.inconsistentBlocks[dot] = struct{}{}
	}
	return consistent
}

// isBlockLinksConsistent reports whether every dot in links is either
// genesis or known and not itself inconsistent.
func (c *ChainIndex) isBlockLinksConsistent(links Links) bool {
	for _, d := range links {
		if d == GenesisDot {
			continue
		}
		if _, known := c.back[d]; !known {
			return false
		}
		if _, bad := c.inconsistentBlocks[d]; bad {
			return false
		}
	}
	return true
}

// isBlockDotConsistent reports whether dot's own back-links are all known
// and consistent.
func (c *ChainIndex) isBlockDotConsistent(dot Dot) bool {
	links, known := c.back[dot]
	return known && c.isBlockLinksConsistent(links)
}

// consistencyFix unconditionally clears dot from inconsistentBlocks (the
// caller must already have verified it is now consistent) and cascades
// forward: every forward-reachable dot whose own back-links are now all
// known and consistent is cleared in turn. Returns the cleared dots in
// the order they were cleared.
func (c *ChainIndex) consistencyFix(dot Dot) []Dot {
	var cleared []Dot
	if _, bad := c.inconsistentBlocks[dot]; bad {
		delete(c.inconsistentBlocks, dot)
		cleared = append(cleared, dot)
	}
	frontier := c.forward[dot]
	for len(frontier) > 0 {
		next := dotSet{}
		for nd := range frontier {
			if !c.isBlockDotConsistent(nd) {
				continue
			}
			for fwd := range c.forward[nd] {
				next[fwd] = struct{}{}
			}
			if _, bad := c.inconsistentBlocks[nd]; bad {
				delete(c.inconsistentBlocks, nd)
				cleared = append(cleared, nd)
			}
		}
		frontier = next
	}
	return cleared
}

// removeInconsistencies repairs the record: if dot was referenced as
// a missing back-link, clear that record and, if dot is itself consistent,
// cascade the repair forward through the DAG.
func (c *ChainIndex) removeInconsistencies(dot Dot, consistent bool) []Dot {
	if _, flagged := c.inconsistencies[dot]; !flagged {
		return nil
	}
	delete(c.inconsistencies, dot)
	if !consistent {
		return nil
	}
	out := []Dot{dot}
	for nd := range c.forward[dot] {
		if c.isBlockDotConsistent(nd) {
			out = append(out, c.consistencyFix(nd)...)
		}
	}
	return out
}

// closure returns the forward-reachable set from seeds (seeds included).
// When consistentOnly is true, traversal only advances across an edge
// whose target is not in inconsistentBlocks. Results are cached by the
// seed set; the cache is purged on every Ingest, since any arrival can
// change the closure.
func (c *ChainIndex) closure(seeds dotSet, consistentOnly bool) dotSet {
	key := closureCacheKey(seeds, consistentOnly)
	if cached, ok := c.closureCache.Get(key); ok {
		return cached
	}
	visited := make(dotSet, len(seeds))
	queue := make([]Dot, 0, len(seeds))
	for d := range seeds {
		visited[d] = struct{}{}
		queue = append(queue, d)
	}
	for len(queue) > 0 {
		d := queue[0]
		queue = queue[1:]
		for fwd := range c.forward[d] {
			if consistentOnly {
				if _, bad := c.inconsistentBlocks[fwd]; bad {
					continue
				}
			}
			if _, seen := visited[fwd]; seen {
				continue
			}
			visited[fwd] = struct{}{}
			queue = append(queue, fwd)
		}
	}
	c.closureCache.Add(key, visited)
	return visited
}

func closureCacheKey(seeds dotSet, consistentOnly bool) string {
	dots := sortedDots(seeds)
	var b strings.Builder
	if consistentOnly {
		b.WriteByte('c')
	} else {
		b.WriteByte('a')
	}
	for _, d := range dots {
		b.WriteByte('|')
		b.WriteString(strconv.FormatUint(uint64(d.Seq), 10))
		b.WriteByte(':')
		b.WriteString(d.Short.String())
	}
	return b.String()
}

// updateTerminal recomputes terminal as the
// forward closure of terminal∪{dot} restricted to dots with no forward
// pointer, and consistent_terminal by the same closure advancing only
// across consistent edges.
func (c *ChainIndex) updateTerminal(dot Dot, consistent bool) {
	seeds := cloneDotSet(c.terminal)
	seeds[dot] = struct{}{}
	reach := c.closure(seeds, false)
	newTerminal := dotSet{}
	for d := range reach {
		if len(c.forward[d]) == 0 {
			newTerminal[d] = struct{}{}
		}
	}
	c.terminal = newTerminal

	constSeeds := cloneDotSet(c.consistentTerminal)
	constSeeds[dot] = struct{}{}
	constReach := c.closure(constSeeds, true)
	newConsistentTerminal := dotSet{}
	for d := range constReach {
		if len(c.forward[d]) != 0 {
			continue
		}
		if _, bad := c.inconsistentBlocks[d]; bad {
			continue
		}
		newConsistentTerminal[d] = struct{}{}
	}
	c.consistentTerminal = newConsistentTerminal
	_ = consistent // consistency of dot itself is already reflected in inconsistentBlocks
}

func setDifference(a, b dotSet) dotSet {
	out := dotSet{}
	for d := range a {
		if _, in := b[d]; !in {
			out[d] = struct{}{}
		}
	}
	return out
}

func maxDot(s dotSet) Dot {
	var best Dot
	first := true
	for d := range s {
		if first || best.Less(d) {
			best = d
			first = false
		}
	}
	return best
}

//---------------------------------------------------------------------
// Frontier
//---------------------------------------------------------------------

// Frontier returns the current compact summary of this chain.
func (c *ChainIndex) Frontier() *Frontier {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &Frontier{
		Terminal:        sortedDots(c.terminal),
		Holes:           c.holes.Clone(),
		Inconsistencies: sortedDots(c.inconsistencies),
	}
}

//---------------------------------------------------------------------
// Reconciliation
//---------------------------------------------------------------------

// Reconcile computes the FrontierDiff that would drive convergence with a
// peer advertising other, given the last sequence number at which this
// pair is known to have converged.
func (c *ChainIndex) Reconcile(other *Frontier, lastPoint SeqNum) *FrontierDiff {
	c.mu.Lock()
	defer c.mu.Unlock()

	maxTermSeq := other.maxTerminalSeq()
	frontKnown := seqRangeSlice(maxTermSeq, other.Holes)
	peerKnown := seqRangeSlice(c.maxKnownSeq, c.holes)

	peerKnownSet := make(map[SeqNum]struct{}, len(peerKnown))
	for _, s := range peerKnown {
		peerKnownSet[s] = struct{}{}
	}
	missing := NewRanges()
	for _, s := range frontKnown {
		if _, ok := peerKnownSet[s]; !ok {
			missing.Add(s)
		}
	}

	conflicts := dotSet{}
	for _, d := range other.Terminal {
		if versions, ok := c.versions[d.Seq]; ok {
			if _, has := versions[d.Short]; !has {
				conflicts[d] = struct{}{}
			}
		}
	}

	otherTerminalSet := make(dotSet, len(other.Terminal))
	for _, d := range other.Terminal {
		otherTerminalSet[d] = struct{}{}
	}
	otherInconsistentSet := make(dotSet, len(other.Inconsistencies))
	for _, d := range other.Inconsistencies {
		otherInconsistentSet[d] = struct{}{}
	}
	for i := range c.inconsistencies {
		reach := c.closure(dotSet{i: {}}, false)
		for t := range reach {
			if _, inTerm := otherTerminalSet[t]; !inTerm {
				continue
			}
			if _, inIncons := otherInconsistentSet[t]; inIncons {
				continue
			}
			if other.Holes.Contains(t.Seq) {
				continue
			}
			conflicts[i] = struct{}{}
		}
	}

	diff := &FrontierDiff{Missing: missing}
	if len(conflicts) == 0 {
		return diff
	}

	maxExtraDots := c.maxExtraDots
	if maxExtraDots <= 0 {
		maxExtraDots = DefaultMaxExtraDots
	}
	diff.Conflicts = make(map[Dot]map[SeqNum][]ShortHash, len(conflicts))
	for conflict := range conflicts {
		diff.Conflicts[conflict] = c.extraDotsFor(conflict, lastPoint, maxExtraDots)
	}
	return diff
}

// extraDotsFor samples intermediate sequence numbers around a conflict at
// spacing (c.Seq-last_point)/max_extra_dots rounded to the nearest integer
// (at least 1), attaching the known short-hashes at each sampled level.
func (c *ChainIndex) extraDotsFor(conflict Dot, lastPoint SeqNum, maxExtraDots int) map[SeqNum][]ShortHash {
	startPoint := SeqNum(0)
	if conflict.Seq > lastPoint {
		startPoint = lastPoint
	}
	estDiff := int64(conflict.Seq) - int64(startPoint)
	step := roundDiv(estDiff, int64(maxExtraDots))
	if step == 0 {
		step = 1
	}

	out := map[SeqNum][]ShortHash{}
	for k := int64(startPoint) + step; k <= int64(conflict.Seq); k += step {
		seq := SeqNum(k)
		if versions, ok := c.versions[seq]; ok && len(versions) > 0 {
			shorts := make([]ShortHash, 0, len(versions))
			for sh := range versions {
				shorts = append(shorts, sh)
			}
			sortShortHashes(shorts)
			out[seq] = shorts
		}
	}
	return out
}

// roundDiv rounds a/b to the nearest integer, rounding halves away from zero.
func roundDiv(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	q := a / b
	r := a % b
	if r*2 >= b || r*2 <= -b {
		if (a < 0) != (b < 0) {
			q--
		} else {
			q++
		}
	}
	return q
}

func sortShortHashes(s []ShortHash) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && lessShortHash(s[j], s[j-1]); j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func lessShortHash(a, b ShortHash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

//---------------------------------------------------------------------
// Queries
//---------------------------------------------------------------------

// GetNextLinks returns the forward pointers of dot, or ok=false if dot has
// none known.
func (c *ChainIndex) GetNextLinks(dot Dot) (Links, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.forward[dot]
	if !ok || len(set) == 0 {
		return nil, false
	}
	return sortedDots(set), true
}

// GetPrevLinks returns dot's back-links, or ok=false if dot is unknown.
func (c *ChainIndex) GetPrevLinks(dot Dot) (Links, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	links, ok := c.back[dot]
	return links, ok
}

// GetDotsBySeqNum returns every dot known at the given sequence number.
func (c *ChainIndex) GetDotsBySeqNum(seq SeqNum) []Dot {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.versions[seq]
	if !ok {
		return nil
	}
	out := make([]Dot, 0, len(set))
	for sh := range set {
		out = append(out, Dot{Seq: seq, Short: sh})
	}
	SortDots(out)
	return out
}

// GetAllShortHashBySeqNum returns the short-hashes known at seq, or
// ok=false if none are known.
func (c *ChainIndex) GetAllShortHashBySeqNum(seq SeqNum) (map[ShortHash]struct{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.versions[seq]
	if !ok {
		return nil, false
	}
	out := make(map[ShortHash]struct{}, len(set))
	for k := range set {
		out[k] = struct{}{}
	}
	return out, true
}

// Terminal returns the current terminal dots, sorted canonically.
func (c *ChainIndex) Terminal() []Dot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedDots(c.terminal)
}

// ConsistentTerminal returns the current consistent terminal dots, sorted
// canonically.
func (c *ChainIndex) ConsistentTerminal() []Dot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedDots(c.consistentTerminal)
}

// Holes returns a snapshot of the chain's hole set.
func (c *ChainIndex) Holes() *Ranges {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.holes.Clone()
}

// MaxKnownSeq returns the highest sequence number observed so far.
func (c *ChainIndex) MaxKnownSeq() SeqNum {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxKnownSeq
}
