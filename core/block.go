package core

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
)

// Block is the immutable, self-signed unit of data in the chain DAG. It
// carries a dual position: its author's personal chain (keyed by
// PublicKey, addressed by (SequenceNumber, short hash)) and, optionally, a
// community chain (keyed by ComPrefix‖ComID, addressed by (ComSeqNum,
// short hash)).
//
// Field order is the canonical wire order; Hash is computed over the
// RLP encoding of this struct with Signature zeroed.
type Block struct {
	BlockType   []byte
	Transaction []byte
	PublicKey   []byte
	SeqNum      uint64
	Previous    Links
	Links       Links
	ComPrefix   []byte
	ComID       []byte
	ComSeqNum   uint64
	Signature   [64]byte
	Timestamp   uint64
}

// Signer produces a signature over an arbitrary message and exposes the
// signer's public key. Key/signature primitives are an external
// collaborator; the core only needs this narrow seam to build and
// verify blocks.
type Signer interface {
	PublicKey() []byte
	Sign(msg []byte) ([64]byte, error)
}

// Verifier checks a signature against a message and a public key.
type Verifier interface {
	Verify(publicKey []byte, msg []byte, sig [64]byte) bool
}

// HasCommunity reports whether the block carries a non-empty community
// chain membership.
func (b *Block) HasCommunity() bool { return len(b.ComID) > 0 }

// PersonalChainID returns the ChainId of the block's personal chain.
func (b *Block) PersonalChainID() ChainId { return PersonalChainId(b.PublicKey) }

// CommunityChainID returns the ChainId of the block's community chain, or
// EmptyComID if the block has no community membership.
func (b *Block) CommunityChainID() ChainId {
	if !b.HasCommunity() {
		return EmptyComID
	}
	return CommunityChainId(b.ComPrefix, b.ComID)
}

// PersonalDot returns the block's address within its personal chain.
func (b *Block) PersonalDot(h Hash) Dot {
	return Dot{Seq: SeqNum(b.SeqNum), Short: h.Short()}
}

// CommunityDot returns the block's address within its community chain. It
// is only meaningful when HasCommunity is true.
func (b *Block) CommunityDot(h Hash) Dot {
	return Dot{Seq: SeqNum(b.ComSeqNum), Short: h.Short()}
}

// blockRLP is the RLP shape of Block; rlp cannot encode the Links/ChainId
// named types directly against a canonical byte layout, so it is mirrored
// here field-for-field.
type blockRLP struct {
	BlockType   []byte
	Transaction []byte
	PublicKey   []byte
	SeqNum      uint64
	Previous    []dotRLP
	Links       []dotRLP
	ComPrefix   []byte
	ComID       []byte
	ComSeqNum   uint64
	Signature   [64]byte
	Timestamp   uint64
}

type dotRLP struct {
	Seq   uint64
	Short []byte
}

func dotsToRLP(links Links) []dotRLP {
	out := make([]dotRLP, len(links))
	for i, d := range links {
		short := make([]byte, ShortHashLen)
		copy(short, d.Short[:])
		out[i] = dotRLP{Seq: uint64(d.Seq), Short: short}
	}
	return out
}

func dotsFromRLP(in []dotRLP) Links {
	out := make(Links, len(in))
	for i, d := range in {
		var sh ShortHash
		copy(sh[:], d.Short)
		out[i] = Dot{Seq: SeqNum(d.Seq), Short: sh}
	}
	return out
}

func (b *Block) toRLP(zeroSig bool) blockRLP {
	r := blockRLP{
		BlockType:   b.BlockType,
		Transaction: b.Transaction,
		PublicKey:   b.PublicKey,
		SeqNum:      b.SeqNum,
		Previous:    dotsToRLP(b.Previous),
		Links:       dotsToRLP(b.Links),
		ComPrefix:   b.ComPrefix,
		ComID:       b.ComID,
		ComSeqNum:   b.ComSeqNum,
		Timestamp:   b.Timestamp,
	}
	if !zeroSig {
		r.Signature = b.Signature
	}
	return r
}

// Encode returns the canonical RLP encoding of b, signature included.
func (b *Block) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(b.toRLP(false))
}

// DecodeBlock parses the canonical encoding produced by Encode.
func DecodeBlock(data []byte) (*Block, error) {
	var r blockRLP
	if err := rlp.DecodeBytes(data, &r); err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}
	b := &Block{
		BlockType:   r.BlockType,
		Transaction: r.Transaction,
		PublicKey:   r.PublicKey,
		SeqNum:      r.SeqNum,
		Previous:    dotsFromRLP(r.Previous),
		Links:       dotsFromRLP(r.Links),
		ComPrefix:   r.ComPrefix,
		ComID:       r.ComID,
		ComSeqNum:   r.ComSeqNum,
		Signature:   r.Signature,
		Timestamp:   r.Timestamp,
	}
	return b, nil
}

// signingBytes returns the canonical encoding with the signature zeroed,
// used both for Hash and for producing the message a Signer signs.
func (b *Block) signingBytes() ([]byte, error) {
	return rlp.EncodeToBytes(b.toRLP(true))
}

// Hash returns the block's content-address: SHA-256 over the canonical
// encoding with the signature field zeroed.
func (b *Block) Hash() Hash {
	enc, err := b.signingBytes()
	if err != nil {
		// Encoding a well-formed Block never fails; a failure here means a
		// field holds a value RLP cannot represent, which is a
		// malformed-block condition the caller should have rejected
		// earlier. Returning the zero hash keeps Hash infallible.
		return Hash{}
	}
	return sha256.Sum256(enc)
}

// Sign populates PublicKey and Signature from s, over the block's
// signature-zeroed canonical encoding.
func (b *Block) Sign(s Signer) error {
	b.PublicKey = s.PublicKey()
	msg, err := b.signingBytes()
	if err != nil {
		return fmt.Errorf("sign block: %w", err)
	}
	sig, err := s.Sign(msg)
	if err != nil {
		return fmt.Errorf("sign block: %w", err)
	}
	b.Signature = sig
	return nil
}

// VerifySignature checks b's signature against v.
func (b *Block) VerifySignature(v Verifier) bool {
	msg, err := b.signingBytes()
	if err != nil {
		return false
	}
	return v.Verify(b.PublicKey, msg, b.Signature)
}

// CreateBlockParams carries the arguments to Manager.CreateSignedBlock,
// which fills Previous and Links from the author's current consistent
// terminals unless UseConsistentLinks is false, in which case
// PersonalLinks/CommunityLinks are used verbatim (an explicit fork).
type CreateBlockParams struct {
	BlockType          []byte
	Transaction        []byte
	ComPrefix          []byte
	ComID              []byte
	PersonalLinks      Links
	CommunityLinks     Links
	UseConsistentLinks bool
}

// newUnsignedBlock assembles a Block from params and the chosen link sets;
// SeqNum/ComSeqNum are the next sequence numbers in the respective chains.
func newUnsignedBlock(p CreateBlockParams, personalSeq, comSeq uint64, previous, links Links) *Block {
	return &Block{
		BlockType:   p.BlockType,
		Transaction: p.Transaction,
		SeqNum:      personalSeq,
		Previous:    previous,
		Links:       links,
		ComPrefix:   p.ComPrefix,
		ComID:       p.ComID,
		ComSeqNum:   comSeq,
		Timestamp:   uint64(time.Now().UnixMilli()),
	}
}
