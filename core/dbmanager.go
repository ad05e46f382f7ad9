package core

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Manager is the single ingestion and fetch entry point: it owns the
// block store and the
// map of chain indices, ingests blocks into both, serves anti-entropy
// fetches, and fans newly-consistent dots out to observers.
type Manager struct {
	log   *logrus.Entry
	store *BlockStore

	chainsMu sync.Mutex
	chains   map[ChainId]*ChainIndex

	observers *ObserverTable
	outOrder  *ObserverTable

	cacheSize    int
	maxExtraDots int

	reconcileMu        sync.Mutex
	lastReconcilePoint map[ChainId]map[NodeID]SeqNum
}

// NewManager constructs a Manager over an already-open block store.
func NewManager(store *BlockStore, log *logrus.Entry, cacheSize, maxExtraDots int) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if cacheSize <= 0 {
		cacheSize = DefaultClosureCacheSize
	}
	if maxExtraDots <= 0 {
		maxExtraDots = DefaultMaxExtraDots
	}
	return &Manager{
		log:                log.WithField("component", "dbmanager"),
		store:              store,
		chains:             map[ChainId]*ChainIndex{},
		observers:          NewObserverTable(),
		outOrder:           NewObserverTable(),
		cacheSize:          cacheSize,
		maxExtraDots:       maxExtraDots,
		lastReconcilePoint: map[ChainId]map[NodeID]SeqNum{},
	}
}

// GetChain returns the chain index for id, creating an empty one if this is
// the first time id has been seen. The chain map itself is guarded by its
// own mutex, independent of any individual chain's lock.
func (m *Manager) GetChain(id ChainId) *ChainIndex {
	m.chainsMu.Lock()
	defer m.chainsMu.Unlock()
	c, ok := m.chains[id]
	if !ok {
		c = NewChainIndexWithOptions(id, m.cacheSize, m.maxExtraDots)
		m.chains[id] = c
	}
	return c
}

// HasChain reports whether a chain index already exists for id, without
// creating one.
func (m *Manager) HasChain(id ChainId) bool {
	m.chainsMu.Lock()
	defer m.chainsMu.Unlock()
	_, ok := m.chains[id]
	return ok
}

// AddObserver registers fn against topic; see ObserverTable.Subscribe.
// Observers registered here receive newly-consistent dots in topological
// order, never a dot before all its ancestors within the same chain.
func (m *Manager) AddObserver(topic Topic, fn ObserverFunc) any {
	return m.observers.Subscribe(topic, fn)
}

// SubscribeInOrderBlock is AddObserver under the name applications use:
// ordered delivery of newly-consistent dots.
func (m *Manager) SubscribeInOrderBlock(topic Topic, fn ObserverFunc) any {
	return m.observers.Subscribe(topic, fn)
}

// SubscribeOutOrderBlock registers fn to receive every ingested dot the
// moment it lands, regardless of whether its ancestry is known yet. Useful
// for applications that index raw arrivals and do their own ordering.
func (m *Manager) SubscribeOutOrderBlock(topic Topic, fn ObserverFunc) any {
	return m.outOrder.Subscribe(topic, fn)
}

// RemoveObserver cancels a registration returned by AddObserver or
// SubscribeInOrderBlock.
func (m *Manager) RemoveObserver(handle any) {
	m.observers.Unsubscribe(handle)
}

// RemoveOutOrderObserver cancels a registration returned by
// SubscribeOutOrderBlock.
func (m *Manager) RemoveOutOrderObserver(handle any) {
	m.outOrder.Unsubscribe(handle)
}

// HasBlock reports whether hash is already persisted.
func (m *Manager) HasBlock(hash Hash) bool {
	return m.store.Has(hash)
}

// AddBlock persists blockBlob/parsed and indexes it into its personal chain
// and, if it carries a community membership, its community chain. A block
// already known by hash is a silent no-op.
func (m *Manager) AddBlock(blockBlob []byte, parsed *Block, typeTag []byte) error {
	h := parsed.Hash()
	if m.store.Has(h) {
		return nil
	}

	personalChain := parsed.PersonalChainID()
	personalDot := parsed.PersonalDot(h)
	hasCommunity := parsed.HasCommunity()
	var communityChain ChainId
	var communityDot Dot
	if hasCommunity {
		communityChain = parsed.CommunityChainID()
		communityDot = parsed.CommunityDot(h)
	}

	txBlob := parsed.Transaction
	if err := m.store.PutBlockAtomic(h, blockBlob, txBlob, typeTag, personalChain, personalDot, communityChain, communityDot, hasCommunity); err != nil {
		return fmt.Errorf("add block: %w", err)
	}

	personalNew := m.GetChain(personalChain).Ingest(parsed.Previous, SeqNum(parsed.SeqNum), h)
	m.outOrder.Notify(personalChain, false, []Dot{personalDot})
	if len(personalNew) > 0 {
		m.observers.Notify(personalChain, false, personalNew)
	}

	if hasCommunity {
		communityNew := m.GetChain(communityChain).Ingest(parsed.Links, SeqNum(parsed.ComSeqNum), h)
		m.outOrder.Notify(communityChain, true, []Dot{communityDot})
		if len(communityNew) > 0 {
			m.observers.Notify(communityChain, true, communityNew)
		}
	}

	m.log.WithFields(logrus.Fields{"chain": string(personalChain), "seq": parsed.SeqNum, "hash": h.Hex()}).Debug("block added")
	return nil
}

// Reconcile runs chain.Reconcile against a peer's advertised frontier,
// creating the chain index if this is the first time chainID is seen.
// On an empty diff, the per-peer last-reconcile-point advances to the
// peer's maximum terminal sequence.
func (m *Manager) Reconcile(chainID ChainId, frontier *Frontier, peerID NodeID) *FrontierDiff {
	chain := m.GetChain(chainID)

	m.reconcileMu.Lock()
	perChain, ok := m.lastReconcilePoint[chainID]
	if !ok {
		perChain = map[NodeID]SeqNum{}
		m.lastReconcilePoint[chainID] = perChain
	}
	lastPoint := perChain[peerID]
	m.reconcileMu.Unlock()

	diff := chain.Reconcile(frontier, lastPoint)

	if diff.IsEmpty() {
		m.reconcileMu.Lock()
		perChain[peerID] = frontier.maxTerminalSeq()
		m.reconcileMu.Unlock()
	}
	return diff
}

// GetBlockBlobByDot resolves (chainID, dot) to its stored block blob.
func (m *Manager) GetBlockBlobByDot(chainID ChainId, dot Dot) ([]byte, bool) {
	hash, ok := m.store.GetHashByDot(chainID, dot)
	if !ok {
		return nil, false
	}
	return m.store.GetBlock(hash)
}

// GetTxBlobByDot resolves (chainID, dot) to its stored transaction payload.
func (m *Manager) GetTxBlobByDot(chainID ChainId, dot Dot) ([]byte, bool) {
	hash, ok := m.store.GetHashByDot(chainID, dot)
	if !ok {
		return nil, false
	}
	return m.store.GetTx(hash)
}

// GetBlockBlobsByFrontierDiff resolves a FrontierDiff into the set of block
// blobs that satisfy it: every short-hash named by diff.Missing, plus
// for each conflict either its own blob (no extra dots) or the blobs
// spanning from the first point of divergence up to the conflict. Any
// short-hash the peer holds but we lack is appended to outToRequest.
func (m *Manager) GetBlockBlobsByFrontierDiff(chainID ChainId, diff *FrontierDiff, outToRequest *[]Dot) ([][]byte, error) {
	chain := m.GetChain(chainID)
	var blobs [][]byte

	if diff.Missing != nil {
		for _, seq := range diff.Missing.ToSlice() {
			shorts, ok := chain.GetAllShortHashBySeqNum(seq)
			if !ok {
				continue
			}
			for sh := range shorts {
				blob, ok := m.GetBlockBlobByDot(chainID, Dot{Seq: seq, Short: sh})
				if !ok {
					return nil, fmt.Errorf("%w: chain %q seq %d short %s indexed but blob absent", ErrDesynchronized, chainID, seq, sh)
				}
				blobs = append(blobs, blob)
			}
		}
	}

	for conflict, extra := range diff.Conflicts {
		if len(extra) == 0 {
			blob, ok := m.GetBlockBlobByDot(chainID, conflict)
			if !ok {
				return nil, fmt.Errorf("%w: conflict dot %s has no blob", ErrDesynchronized, conflict)
			}
			blobs = append(blobs, blob)
			continue
		}

		startDots := m.firstDivergence(chainID, extra, outToRequest)
		if len(startDots) == 0 {
			continue
		}

		seen := map[Dot]struct{}{}
		frontier := startDots
		reachedConflict := false
		for len(frontier) > 0 && !reachedConflict {
			var next []Dot
			for _, d := range frontier {
				if _, done := seen[d]; done {
					continue
				}
				seen[d] = struct{}{}
				blob, ok := m.GetBlockBlobByDot(chainID, d)
				if !ok {
					return nil, fmt.Errorf("%w: dot %s indexed but blob absent", ErrDesynchronized, d)
				}
				blobs = append(blobs, blob)
				if d == conflict {
					reachedConflict = true
					continue
				}
				if links, ok := chain.GetNextLinks(d); ok {
					next = append(next, links...)
				}
			}
			frontier = next
		}
	}

	return blobs, nil
}

// firstDivergence finds the earliest sequence number in extra whose
// advertised short-hash set differs from our own, returns the dots at that
// level to walk forward from, and appends to outToRequest any short-hash
// the peer advertised at a divergent level that we don't hold ourselves.
func (m *Manager) firstDivergence(chainID ChainId, extra map[SeqNum][]ShortHash, outToRequest *[]Dot) []Dot {
	chain := m.GetChain(chainID)
	seqs := make([]SeqNum, 0, len(extra))
	for s := range extra {
		seqs = append(seqs, s)
	}
	sortSeqNums(seqs)
	for _, seq := range seqs {
		peerShorts := extra[seq]
		ours, _ := chain.GetAllShortHashBySeqNum(seq)
		if sameShortHashSet(peerShorts, ours) {
			continue
		}
		if outToRequest != nil {
			for _, sh := range peerShorts {
				if _, have := ours[sh]; !have {
					*outToRequest = append(*outToRequest, Dot{Seq: seq, Short: sh})
				}
			}
		}
		dots := chain.GetDotsBySeqNum(seq)
		if len(dots) == 0 {
			continue
		}
		return dots
	}
	return nil
}

func sameShortHashSet(peer []ShortHash, ours map[ShortHash]struct{}) bool {
	if len(peer) != len(ours) {
		return false
	}
	for _, sh := range peer {
		if _, ok := ours[sh]; !ok {
			return false
		}
	}
	return true
}

// CreateSignedBlock assembles, signs and returns a new block authored by
// s. Unless UseConsistentLinks is false, Previous (and, if the block
// joins a community, Links) are taken from the author's
// current consistent-terminal dots on the relevant chain, so the new block
// extends every head the author is aware of; UseConsistentLinks=false lets
// a caller fork explicitly by supplying PersonalLinks/CommunityLinks.
func (m *Manager) CreateSignedBlock(p CreateBlockParams, s Signer) (*Block, error) {
	personalChain := m.GetChain(PersonalChainId(s.PublicKey()))

	previous := p.PersonalLinks
	personalSeq := personalChain.MaxKnownSeq() + 1
	if p.UseConsistentLinks {
		previous = personalChain.ConsistentTerminal()
		if len(previous) > 0 {
			var max SeqNum
			for _, d := range previous {
				if d.Seq > max {
					max = d.Seq
				}
			}
			personalSeq = max + 1
		} else {
			personalSeq = 1
		}
	}

	var links Links
	var comSeq uint64
	if len(p.ComID) > 0 {
		communityChain := m.GetChain(CommunityChainId(p.ComPrefix, p.ComID))
		links = p.CommunityLinks
		next := communityChain.MaxKnownSeq() + 1
		if p.UseConsistentLinks {
			links = communityChain.ConsistentTerminal()
			if len(links) > 0 {
				var max SeqNum
				for _, d := range links {
					if d.Seq > max {
						max = d.Seq
					}
				}
				next = max + 1
			} else {
				next = 1
			}
		}
		comSeq = uint64(next)
	}

	b := newUnsignedBlock(p, uint64(personalSeq), comSeq, previous, links)
	if err := b.Sign(s); err != nil {
		return nil, fmt.Errorf("create signed block: %w", err)
	}
	return b, nil
}

// Close releases the underlying block store.
func (m *Manager) Close() error {
	return m.store.Close()
}
