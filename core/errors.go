package core

import "errors"

// Sentinel errors for the taxonomy of malformed/desynchronized/unknown
// conditions a chain-DAG node can encounter. Callers that need to branch on
// the specific condition should use errors.Is against these.
var (
	// ErrMalformedBlock is returned when a block fails structural validation
	// (bad signature, negative sequence number, invalid public key, encoding
	// failure). The block is dropped; the sender is not trusted further for
	// this particular block, but no other action is taken by the core.
	ErrMalformedBlock = errors.New("core: malformed block")

	// ErrDesynchronized indicates a dot indexes into the block store but the
	// corresponding blob is missing. This is fatal for the affected chain;
	// the caller should rebuild the chain index by re-feeding blocks.
	ErrDesynchronized = errors.New("core: block store desynchronized from chain index")

	// ErrUnknownChain names an unknown chain or peer. Manager does not
	// return it (GetChain creates a missing chain index on first use);
	// InMemoryTransport's Connect and SendAsync return it for a peer that is
	// not registered on the bus.
	ErrUnknownChain = errors.New("core: unknown chain")

	// ErrQueueOverrun indicates a bounded inbox queue would have had to
	// drop an item; callers should block (backpressure), never drop.
	ErrQueueOverrun = errors.New("core: queue overrun")

	// ErrNotFound names an absent key. The store and index lookups in this
	// package report absence with an ok=false result and do not return it.
	ErrNotFound = errors.New("core: not found")

	// ErrClosed names an operation attempted after Close. No operation in
	// this package returns it.
	ErrClosed = errors.New("core: store closed")
)
