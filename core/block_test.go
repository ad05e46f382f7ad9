package core

import (
	"crypto/ed25519"
	"testing"
)

// ed25519Signer is a minimal Signer/Verifier test double. Production code
// supplies its own key management; this just exercises the Sign/Verify
// seam.
type ed25519Signer struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func newEd25519Signer(t *testing.T) *ed25519Signer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return &ed25519Signer{pub: pub, priv: priv}
}

func (s *ed25519Signer) PublicKey() []byte { return s.pub }

func (s *ed25519Signer) Sign(msg []byte) ([64]byte, error) {
	var out [64]byte
	copy(out[:], ed25519.Sign(s.priv, msg))
	return out, nil
}

func (s *ed25519Signer) Verify(publicKey []byte, msg []byte, sig [64]byte) bool {
	return ed25519.Verify(ed25519.PublicKey(publicKey), msg, sig[:])
}

func testBlock() *Block {
	return &Block{
		BlockType:   []byte("payment"),
		Transaction: []byte("transfer 10 units"),
		SeqNum:      1,
		Previous:    NewLinks(GenesisDot),
		Links:       nil,
		ComPrefix:   []byte{0x01},
		ComID:       []byte("community-a"),
		ComSeqNum:   1,
		Timestamp:   1234567890,
	}
}

func TestBlockSignAndVerify(t *testing.T) {
	signer := newEd25519Signer(t)
	b := testBlock()
	if err := b.Sign(signer); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(b.PublicKey) == 0 {
		t.Fatalf("expected PublicKey to be populated by Sign")
	}
	if !b.VerifySignature(signer) {
		t.Fatalf("expected signature to verify")
	}

	// Tamper with the payload; the signature must no longer verify.
	b.Transaction = []byte("transfer 999999 units")
	if b.VerifySignature(signer) {
		t.Fatalf("expected tampered block to fail verification")
	}
}

func TestBlockEncodeDecodeRoundTrip(t *testing.T) {
	signer := newEd25519Signer(t)
	b := testBlock()
	if err := b.Sign(signer); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	enc, err := b.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := DecodeBlock(enc)
	if err != nil {
		t.Fatalf("DecodeBlock: %v", err)
	}

	if got.Hash() != b.Hash() {
		t.Fatalf("round-tripped block hash mismatch")
	}
	if string(got.Transaction) != string(b.Transaction) {
		t.Fatalf("transaction payload mismatch after round trip")
	}
	if !got.Previous.Equal(b.Previous) {
		t.Fatalf("previous links mismatch after round trip")
	}
}

func TestBlockHashExcludesSignature(t *testing.T) {
	signer := newEd25519Signer(t)
	b := testBlock()
	b.PublicKey = signer.PublicKey()
	unsignedHash := b.Hash()
	if err := b.Sign(signer); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if b.Hash() != unsignedHash {
		t.Fatalf("hash must not change when only the signature field is populated")
	}
	if b.Signature == ([64]byte{}) {
		t.Fatalf("expected Sign to populate a non-zero signature")
	}
}

func TestHasCommunityAndChainIDs(t *testing.T) {
	b := testBlock()
	if !b.HasCommunity() {
		t.Fatalf("expected test block to carry a community membership")
	}
	if b.CommunityChainID() != CommunityChainId(b.ComPrefix, b.ComID) {
		t.Fatalf("unexpected community chain id")
	}

	personalOnly := testBlock()
	personalOnly.ComID = nil
	if personalOnly.HasCommunity() {
		t.Fatalf("expected no community membership when ComID is empty")
	}
	if personalOnly.CommunityChainID() != EmptyComID {
		t.Fatalf("expected empty sentinel chain id for a personal-only block")
	}
}
