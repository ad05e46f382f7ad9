package core

import (
	"testing"

	"synnergy-network/internal/testutil"
)

func openTestStore(t *testing.T) *BlockStore {
	t.Helper()
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	t.Cleanup(func() { sb.Cleanup() })
	s, err := OpenBlockStore(sb.Path("blocks.db"))
	if err != nil {
		t.Fatalf("OpenBlockStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBlockStorePutGetBlock(t *testing.T) {
	s := openTestStore(t)
	h := hashFor(1, 0x01)

	if _, ok := s.GetBlock(h); ok {
		t.Fatalf("expected block absent before Put")
	}
	if err := s.PutBlock(h, []byte("block-blob")); err != nil {
		t.Fatalf("PutBlock: %v", err)
	}
	got, ok := s.GetBlock(h)
	if !ok || string(got) != "block-blob" {
		t.Fatalf("got %q ok=%v", got, ok)
	}
	if !s.Has(h) {
		t.Fatalf("expected Has to report true after Put")
	}
}

func TestBlockStoreTxAndExtra(t *testing.T) {
	s := openTestStore(t)
	h := hashFor(2, 0x01)

	if err := s.PutTx(h, []byte("tx-blob")); err != nil {
		t.Fatalf("PutTx: %v", err)
	}
	if got, ok := s.GetTx(h); !ok || string(got) != "tx-blob" {
		t.Fatalf("got %q ok=%v", got, ok)
	}

	if err := s.PutExtra(h, []byte("extra-meta")); err != nil {
		t.Fatalf("PutExtra: %v", err)
	}
	if got, ok := s.GetExtra(h); !ok || string(got) != "extra-meta" {
		t.Fatalf("got %q ok=%v", got, ok)
	}
}

func TestBlockStoreDotIndex(t *testing.T) {
	s := openTestStore(t)
	h := hashFor(3, 0x01)
	chain := ChainId("personal-chain")
	d := Dot{Seq: 3, Short: h.Short()}

	if _, ok := s.GetHashByDot(chain, d); ok {
		t.Fatalf("expected no hash recorded for dot before PutDot")
	}
	if err := s.PutDot(chain, d, h); err != nil {
		t.Fatalf("PutDot: %v", err)
	}
	got, ok := s.GetHashByDot(chain, d)
	if !ok || got != h {
		t.Fatalf("got %v ok=%v want %v", got, ok, h)
	}
}

func TestBlockStorePutBlockAtomic(t *testing.T) {
	s := openTestStore(t)
	h := hashFor(4, 0x01)
	personalChain := ChainId("personal")
	personalDot := Dot{Seq: 4, Short: h.Short()}
	communityChain := ChainId("community")
	communityDot := Dot{Seq: 7, Short: h.Short()}

	err := s.PutBlockAtomic(h, []byte("blob"), []byte("tx"), []byte("extra"),
		personalChain, personalDot, communityChain, communityDot, true)
	if err != nil {
		t.Fatalf("PutBlockAtomic: %v", err)
	}

	if got, ok := s.GetBlock(h); !ok || string(got) != "blob" {
		t.Fatalf("block blob mismatch: got %q ok=%v", got, ok)
	}
	if got, ok := s.GetTx(h); !ok || string(got) != "tx" {
		t.Fatalf("tx blob mismatch: got %q ok=%v", got, ok)
	}
	if got, ok := s.GetExtra(h); !ok || string(got) != "extra" {
		t.Fatalf("extra mismatch: got %q ok=%v", got, ok)
	}
	if got, ok := s.GetHashByDot(personalChain, personalDot); !ok || got != h {
		t.Fatalf("personal dot index mismatch: got %v ok=%v", got, ok)
	}
	if got, ok := s.GetHashByDot(communityChain, communityDot); !ok || got != h {
		t.Fatalf("community dot index mismatch: got %v ok=%v", got, ok)
	}
}

func TestBlockStorePutBlockAtomicWithoutCommunity(t *testing.T) {
	s := openTestStore(t)
	h := hashFor(5, 0x01)
	personalChain := ChainId("personal")
	personalDot := Dot{Seq: 5, Short: h.Short()}

	err := s.PutBlockAtomic(h, []byte("blob"), nil, nil, personalChain, personalDot, "", Dot{}, false)
	if err != nil {
		t.Fatalf("PutBlockAtomic: %v", err)
	}
	if _, ok := s.GetTx(h); ok {
		t.Fatalf("expected no tx blob stored when nil was passed")
	}
	if _, ok := s.GetHashByDot("", Dot{}); ok {
		t.Fatalf("expected no community dot index entry when hasCommunity is false")
	}
}
