package core

import (
	"path/filepath"
	"testing"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store, err := OpenBlockStore(filepath.Join(t.TempDir(), "blocks.db"))
	if err != nil {
		t.Fatalf("OpenBlockStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewManager(store, nil, 0, 0)
}

func signAndAdd(t *testing.T, m *Manager, signer *ed25519Signer, seq uint64, previous Links) *Block {
	t.Helper()
	b, err := m.CreateSignedBlock(CreateBlockParams{
		BlockType:          []byte("payment"),
		Transaction:        []byte("tx"),
		PersonalLinks:      previous,
		UseConsistentLinks: true,
	}, signer)
	if err != nil {
		t.Fatalf("CreateSignedBlock: %v", err)
	}
	if SeqNum(b.SeqNum) != SeqNum(seq) {
		t.Fatalf("expected seq %d, got %d", seq, b.SeqNum)
	}
	blob, err := b.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := m.AddBlock(blob, b, b.BlockType); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}
	return b
}

func TestManagerAddBlockIdempotent(t *testing.T) {
	m := newTestManager(t)
	signer := newEd25519Signer(t)
	b := signAndAdd(t, m, signer, 1, nil)
	blob, _ := b.Encode()

	var notifications int
	m.AddObserver(AllTopic, func(ChainId, []Dot) { notifications++ })

	if err := m.AddBlock(blob, b, b.BlockType); err != nil {
		t.Fatalf("re-adding the same block should be a silent no-op, got error: %v", err)
	}
	if notifications != 0 {
		t.Fatalf("expected no observer notification for a duplicate AddBlock, got %d", notifications)
	}
}

func TestManagerAddBlockNotifiesObservers(t *testing.T) {
	m := newTestManager(t)
	signer := newEd25519Signer(t)

	var gotChain ChainId
	var gotDots []Dot
	m.AddObserver(AllTopic, func(chain ChainId, dots []Dot) {
		gotChain = chain
		gotDots = dots
	})

	b := signAndAdd(t, m, signer, 1, nil)
	if gotChain != b.PersonalChainID() {
		t.Fatalf("expected observer notified on the personal chain")
	}
	if len(gotDots) != 1 {
		t.Fatalf("expected exactly one newly-consistent dot, got %v", gotDots)
	}
}

func TestManagerOutOrderObserverSeesRawArrivals(t *testing.T) {
	a := newTestManager(t)
	b := newTestManager(t)
	signer := newEd25519Signer(t)

	// Build 1..3 on a, then feed b block 3 alone: its ancestry is unknown,
	// so the in-order observer stays silent while the out-of-order one
	// fires immediately.
	var prev Links
	var blocks []*Block
	for s := uint64(1); s <= 3; s++ {
		blk := signAndAdd(t, a, signer, s, prev)
		blocks = append(blocks, blk)
		prev = NewLinks(Dot{Seq: SeqNum(s), Short: blk.Hash().Short()})
	}

	var inOrder, outOrder []Dot
	b.SubscribeInOrderBlock(AllTopic, func(_ ChainId, dots []Dot) { inOrder = append(inOrder, dots...) })
	b.SubscribeOutOrderBlock(AllTopic, func(_ ChainId, dots []Dot) { outOrder = append(outOrder, dots...) })

	third := blocks[2]
	blob, _ := third.Encode()
	if err := b.AddBlock(blob, third, third.BlockType); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}

	if len(inOrder) != 0 {
		t.Fatalf("expected no in-order delivery for a block with unknown ancestry, got %v", inOrder)
	}
	if len(outOrder) != 1 || outOrder[0] != third.PersonalDot(third.Hash()) {
		t.Fatalf("expected the out-of-order observer to see the raw arrival, got %v", outOrder)
	}
}

func TestManagerRemoveOutOrderObserver(t *testing.T) {
	m := newTestManager(t)
	signer := newEd25519Signer(t)

	var calls int
	handle := m.SubscribeOutOrderBlock(AllTopic, func(ChainId, []Dot) { calls++ })
	signAndAdd(t, m, signer, 1, nil)
	m.RemoveOutOrderObserver(handle)
	signAndAdd(t, m, signer, 2, nil)

	if calls != 1 {
		t.Fatalf("expected exactly one notification before removal, got %d", calls)
	}
}

func TestManagerReconcileAdvancesLastPoint(t *testing.T) {
	a := newTestManager(t)
	b := newTestManager(t)
	signer := newEd25519Signer(t)

	chainID := PersonalChainId(signer.PublicKey())
	var prev Links
	for s := uint64(1); s <= 3; s++ {
		blk := signAndAdd(t, a, signer, s, prev)
		blob, _ := blk.Encode()
		if err := b.AddBlock(blob, blk, blk.BlockType); err != nil {
			t.Fatalf("seeding b: %v", err)
		}
		prev = NewLinks(Dot{Seq: SeqNum(s), Short: blk.Hash().Short()})
	}

	aFrontier := a.GetChain(chainID).Frontier()
	diff := b.Reconcile(chainID, aFrontier, NodeID("peer-a"))
	if !diff.IsEmpty() {
		t.Fatalf("expected an empty diff since b already has everything a has, got %+v", diff)
	}

	// A second reconcile against the same frontier should reuse the
	// advanced last-reconcile-point without error.
	diff2 := b.Reconcile(chainID, aFrontier, NodeID("peer-a"))
	if !diff2.IsEmpty() {
		t.Fatalf("expected the second reconcile to also be empty, got %+v", diff2)
	}
}

func TestManagerGetBlockBlobsByFrontierDiffMissing(t *testing.T) {
	a := newTestManager(t)
	b := newTestManager(t)
	signer := newEd25519Signer(t)

	chainID := PersonalChainId(signer.PublicKey())
	var prev Links
	var blocks []*Block
	for s := uint64(1); s <= 3; s++ {
		blk := signAndAdd(t, a, signer, s, prev)
		blocks = append(blocks, blk)
		prev = NewLinks(Dot{Seq: SeqNum(s), Short: blk.Hash().Short()})
	}
	// b only has the first block.
	firstBlob, _ := blocks[0].Encode()
	if err := b.AddBlock(firstBlob, blocks[0], blocks[0].BlockType); err != nil {
		t.Fatalf("seeding b: %v", err)
	}

	aFrontier := a.GetChain(chainID).Frontier()
	diff := b.Reconcile(chainID, aFrontier, NodeID("peer-a"))
	if diff.IsEmpty() {
		t.Fatalf("expected b to be missing seq 2 and 3")
	}

	var toRequest []Dot
	blobs, err := a.GetBlockBlobsByFrontierDiff(chainID, diff, &toRequest)
	if err != nil {
		t.Fatalf("GetBlockBlobsByFrontierDiff: %v", err)
	}
	if len(blobs) == 0 {
		t.Fatalf("expected a to return the blobs b is missing")
	}
}

func TestManagerHasChainAndGetChain(t *testing.T) {
	m := newTestManager(t)
	chainID := ChainId("fresh-chain")
	if m.HasChain(chainID) {
		t.Fatalf("expected no chain index before first GetChain")
	}
	m.GetChain(chainID)
	if !m.HasChain(chainID) {
		t.Fatalf("expected a chain index to exist after GetChain")
	}
}
