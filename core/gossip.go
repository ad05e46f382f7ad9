package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// msgType tags the frontier-exchange wire payloads, plus the push-gossip
// broadcast variant.
type msgType byte

const (
	msgFrontier msgType = iota
	msgFrontierResponse
	msgBlocksRequest
	msgBlock
	msgBlockBroadcast
)

// gossipEnvelope wraps a chain identifier around every wire payload, since
// PeerManager.SendAsync/Subscribe carry only a protocol name, a one-byte
// message code and an opaque byte payload, not per-message routing metadata.
type gossipEnvelope struct {
	ChainID []byte
	Body    []byte
}

type broadcastBody struct {
	TTL   uint8
	Block []byte
}

// GossipConfig carries the engine's timing and fanout knobs.
type GossipConfig struct {
	GossipInterval     time.Duration
	GossipSyncMaxDelay time.Duration
	GossipFanout       int
	GossipCollectTime  time.Duration
	PushGossipFanout   int
	PushGossipTTL      uint8
	RelayedCacheSize   int
	InboxQueueSize     int
}

// DefaultGossipConfig returns reasonable defaults for every knob in
// GossipConfig.
func DefaultGossipConfig() GossipConfig {
	return GossipConfig{
		GossipInterval:     5 * time.Second,
		GossipSyncMaxDelay: time.Second,
		GossipFanout:       3,
		GossipCollectTime:  200 * time.Millisecond,
		PushGossipFanout:   4,
		PushGossipTTL:      4,
		RelayedCacheSize:   4096,
		InboxQueueSize:     64,
	}
}

type inboxItem struct {
	peer          NodeID
	frontier      *Frontier
	shouldRespond bool
}

// chainGossipState is the per-chain loop state: a
// last-observed-frontier table (for smart peer selection and overwrite-
// on-newer-receipt) and a bounded inbox queue feeding the chain's single
// inbox-loop consumer.
type chainGossipState struct {
	mu           sync.Mutex
	lastFrontier map[NodeID]*Frontier

	inbox  chan inboxItem
	cancel context.CancelFunc
}

// GossipEngine drives per-chain anti-entropy to convergence using only
// one-hop exchanges: a tick loop per chain broadcasts frontiers, an
// inbox loop per chain reconciles and requests blocks, and a single serve
// loop answers BlocksRequest/Block/broadcast traffic arriving over the
// shared transport.
type GossipEngine struct {
	log    *logrus.Entry
	mgr    *Manager
	pm     PeerManager
	rng    RNG
	cfg    GossipConfig
	selfID NodeID
	proto  string

	chainsMu sync.Mutex
	chains   map[ChainId]*chainGossipState

	relayed *lru.Cache[Hash, struct{}]

	closing chan struct{}
	wg      sync.WaitGroup
}

// NewGossipEngine constructs an engine bound to mgr's chains and pm's
// transport. The caller must call Start to begin the global serve loop
// and StartChain for each chain it wants actively gossiped.
func NewGossipEngine(mgr *Manager, pm PeerManager, selfID NodeID, proto string, cfg GossipConfig, rng RNG, log *logrus.Entry) *GossipEngine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if rng == nil {
		rng = NewSystemRNG()
	}
	cacheSize := cfg.RelayedCacheSize
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	relayed, _ := lru.New[Hash, struct{}](cacheSize)
	return &GossipEngine{
		log:     log.WithField("component", "gossip"),
		mgr:     mgr,
		pm:      pm,
		rng:     rng,
		cfg:     cfg,
		selfID:  selfID,
		proto:   proto,
		chains:  map[ChainId]*chainGossipState{},
		relayed: relayed,
		closing: make(chan struct{}),
	}
}

// Start begins the single serve loop consuming pm.Subscribe(proto) and
// dispatching every inbound message by type.
func (e *GossipEngine) Start() {
	inbound := e.pm.Subscribe(e.proto)
	e.wg.Add(1)
	go e.serveLoop(inbound)
}

// StartChain begins the tick loop and inbox loop for chainID. Calling it
// twice for the same chain is a no-op.
func (e *GossipEngine) StartChain(chainID ChainId) {
	e.chainsMu.Lock()
	if _, ok := e.chains[chainID]; ok {
		e.chainsMu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	state := &chainGossipState{
		lastFrontier: map[NodeID]*Frontier{},
		inbox:        make(chan inboxItem, e.inboxQueueSize()),
		cancel:       cancel,
	}
	e.chains[chainID] = state
	e.chainsMu.Unlock()

	e.wg.Add(2)
	go e.tickLoop(ctx, chainID, state)
	go e.inboxLoop(ctx, chainID, state)
}

func (e *GossipEngine) inboxQueueSize() int {
	if e.cfg.InboxQueueSize <= 0 {
		return 64
	}
	return e.cfg.InboxQueueSize
}

// Shutdown cancels every per-chain loop, drains nothing further (queues
// are simply abandoned with the context), and waits for all loops
// including the serve loop to exit. The block store itself is closed by
// the caller, once Shutdown returns, so no loop can touch it afterward.
func (e *GossipEngine) Shutdown() {
	close(e.closing)
	e.chainsMu.Lock()
	for _, state := range e.chains {
		state.cancel()
	}
	e.chainsMu.Unlock()
	e.wg.Wait()
}

//---------------------------------------------------------------------
// Tick loop
//---------------------------------------------------------------------

func (e *GossipEngine) tickLoop(ctx context.Context, chainID ChainId, state *chainGossipState) {
	defer e.wg.Done()

	if e.cfg.GossipSyncMaxDelay > 0 {
		delay := time.Duration(e.rng.Intn(int(e.cfg.GossipSyncMaxDelay)))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}

	ticker := time.NewTicker(e.cfg.GossipInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(chainID, state)
		}
	}
}

func (e *GossipEngine) tick(chainID ChainId, state *chainGossipState) {
	chain := e.mgr.GetChain(chainID)
	frontier := chain.Frontier()

	peers := e.selectGossipPeers(chainID, state, frontier, e.cfg.GossipFanout)
	body, err := frontier.Bytes()
	if err != nil {
		e.log.WithError(err).Warn("encode frontier")
		return
	}
	payload, err := e.envelope(chainID, body)
	if err != nil {
		e.log.WithError(err).Warn("encode envelope")
		return
	}
	for _, p := range peers {
		if err := e.pm.SendAsync(p, e.proto, byte(msgFrontier), payload); err != nil {
			e.log.WithError(err).WithField("peer", p).Debug("send frontier")
		}
	}
}

// selectGossipPeers implements the smart selection strategy: peers whose
// last-observed frontier is strictly older than ours are preferred; the
// remainder of the fanout is filled with random picks from the rest.
func (e *GossipEngine) selectGossipPeers(chainID ChainId, state *chainGossipState, my *Frontier, fanout int) []NodeID {
	infos := e.pm.Peers()
	if fanout <= 0 || len(infos) == 0 {
		return nil
	}

	state.mu.Lock()
	var preferred, rest []NodeID
	for _, info := range infos {
		known, ok := state.lastFrontier[info.ID]
		if ok && my.Greater(known) {
			preferred = append(preferred, info.ID)
		} else {
			rest = append(rest, info.ID)
		}
	}
	state.mu.Unlock()

	e.rng.Shuffle(len(preferred), func(i, j int) { preferred[i], preferred[j] = preferred[j], preferred[i] })
	e.rng.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })

	out := preferred
	if len(out) > fanout {
		return out[:fanout]
	}
	for _, id := range rest {
		if len(out) >= fanout {
			break
		}
		out = append(out, id)
	}
	return out
}

//---------------------------------------------------------------------
// Inbox loop
//---------------------------------------------------------------------

func (e *GossipEngine) inboxLoop(ctx context.Context, chainID ChainId, state *chainGossipState) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-state.inbox:
			e.processInboxItem(ctx, chainID, state, item)
		}
	}
}

func (e *GossipEngine) processInboxItem(ctx context.Context, chainID ChainId, state *chainGossipState, item inboxItem) {
	state.mu.Lock()
	state.lastFrontier[item.peer] = item.frontier
	state.mu.Unlock()

	diff := e.mgr.Reconcile(chainID, item.frontier, item.peer)
	if !diff.IsEmpty() {
		body, err := diff.Bytes()
		if err == nil {
			if payload, err := e.envelope(chainID, body); err == nil {
				if err := e.pm.SendAsync(item.peer, e.proto, byte(msgBlocksRequest), payload); err != nil {
					e.log.WithError(err).WithField("peer", item.peer).Debug("send blocks request")
				}
			}
		}
		select {
		case <-time.After(e.cfg.GossipCollectTime):
		case <-ctx.Done():
			return
		}
	}

	if item.shouldRespond && e.mgr.HasChain(chainID) {
		frontier := e.mgr.GetChain(chainID).Frontier()
		body, err := frontier.Bytes()
		if err != nil {
			return
		}
		payload, err := e.envelope(chainID, body)
		if err != nil {
			return
		}
		if err := e.pm.SendAsync(item.peer, e.proto, byte(msgFrontierResponse), payload); err != nil {
			e.log.WithError(err).WithField("peer", item.peer).Debug("send frontier response")
		}
	}
}

//---------------------------------------------------------------------
// Serve loop (BlocksRequest / Block / broadcast)
//---------------------------------------------------------------------

func (e *GossipEngine) serveLoop(inbound <-chan InboundMsg) {
	defer e.wg.Done()
	for {
		select {
		case <-e.closing:
			return
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			e.handleInbound(msg)
		}
	}
}

func (e *GossipEngine) handleInbound(msg InboundMsg) {
	var env gossipEnvelope
	if err := rlp.DecodeBytes(msg.Payload, &env); err != nil {
		e.log.WithError(err).Debug("decode envelope")
		return
	}
	chainID := ChainId(env.ChainID)
	peer := NodeID(msg.PeerID)

	switch msgType(msg.Code) {
	case msgFrontier, msgFrontierResponse:
		frontier, err := FrontierFromBytes(env.Body)
		if err != nil {
			e.log.WithError(err).Debug("decode frontier")
			return
		}
		e.enqueueFrontier(chainID, peer, frontier, msgType(msg.Code) == msgFrontier)
	case msgBlocksRequest:
		e.serveBlocksRequest(chainID, peer, env.Body)
	case msgBlock:
		e.ingestBlockBlob(env.Body)
	case msgBlockBroadcast:
		e.handleBroadcast(chainID, env.Body)
	default:
		e.log.WithField("code", msg.Code).Debug("unknown gossip message type")
	}
}

func (e *GossipEngine) enqueueFrontier(chainID ChainId, peer NodeID, frontier *Frontier, shouldRespond bool) {
	e.chainsMu.Lock()
	state, ok := e.chains[chainID]
	e.chainsMu.Unlock()
	if !ok {
		e.log.WithField("chain", string(chainID)).Debug("frontier for unsubscribed chain")
		return
	}
	// A full inbox stalls the serve loop rather than dropping: backpressure
	// propagates to senders instead of silently losing frontiers.
	select {
	case state.inbox <- inboxItem{peer: peer, frontier: frontier, shouldRespond: shouldRespond}:
	case <-e.closing:
	}
}

func (e *GossipEngine) serveBlocksRequest(chainID ChainId, peer NodeID, body []byte) {
	diff, err := FrontierDiffFromBytes(body)
	if err != nil {
		e.log.WithError(err).Debug("decode frontier diff")
		return
	}
	var toRequest []Dot
	blobs, err := e.mgr.GetBlockBlobsByFrontierDiff(chainID, diff, &toRequest)
	if err != nil {
		e.log.WithError(err).Error("resolve frontier diff")
		return
	}
	for _, blob := range blobs {
		payload, err := e.envelope(chainID, blob)
		if err != nil {
			continue
		}
		if err := e.pm.SendAsync(peer, e.proto, byte(msgBlock), payload); err != nil {
			e.log.WithError(err).WithField("peer", peer).Debug("send block")
		}
	}
}

func (e *GossipEngine) ingestBlockBlob(blob []byte) error {
	parsed, err := DecodeBlock(blob)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedBlock, err)
	}
	return e.mgr.AddBlock(blob, parsed, parsed.BlockType)
}

//---------------------------------------------------------------------
// Push-gossip (bounded-TTL block broadcast)
//---------------------------------------------------------------------

// PushBlock originates a push-gossip broadcast of blob: it is sent to
// PushGossipFanout random peers with the configured TTL.
func (e *GossipEngine) PushBlock(chainID ChainId, hash Hash, blob []byte) {
	e.relayed.Add(hash, struct{}{})
	e.broadcast(chainID, blob, e.cfg.PushGossipTTL, e.cfg.PushGossipFanout)
}

// SendBlock pushes a block blob directly to the named peers with the given
// TTL. A ttl of 0 delivers without inviting any further relay; recipients
// with ttl > 0 relay onward like any other broadcast.
func (e *GossipEngine) SendBlock(chainID ChainId, hash Hash, blob []byte, peers []NodeID, ttl uint8) {
	e.relayed.Add(hash, struct{}{})
	e.sendBroadcastTo(chainID, blob, ttl, peers)
}

// ShareInCommunity broadcasts blob within the named sub-community chain,
// with explicit ttl/fanout overrides; zero values fall back to the
// configured push-gossip defaults.
func (e *GossipEngine) ShareInCommunity(subcomID ChainId, hash Hash, blob []byte, ttl uint8, fanout int) {
	if ttl == 0 {
		ttl = e.cfg.PushGossipTTL
	}
	if fanout <= 0 {
		fanout = e.cfg.PushGossipFanout
	}
	e.relayed.Add(hash, struct{}{})
	e.broadcast(subcomID, blob, ttl, fanout)
}

func (e *GossipEngine) handleBroadcast(chainID ChainId, body []byte) {
	var bb broadcastBody
	if err := rlp.DecodeBytes(body, &bb); err != nil {
		e.log.WithError(err).Debug("decode broadcast body")
		return
	}
	parsed, err := DecodeBlock(bb.Block)
	if err != nil {
		e.log.WithError(err).Debug("decode broadcast block")
		return
	}
	hash := parsed.Hash()
	if _, seen := e.relayed.Get(hash); seen {
		return
	}
	e.relayed.Add(hash, struct{}{})

	if err := e.mgr.AddBlock(bb.Block, parsed, parsed.BlockType); err != nil {
		e.log.WithError(err).Debug("ingest broadcast block")
		return
	}

	if bb.TTL == 0 {
		return
	}
	e.broadcast(chainID, bb.Block, bb.TTL-1, e.cfg.PushGossipFanout)
}

func (e *GossipEngine) broadcast(chainID ChainId, blob []byte, ttl uint8, fanout int) {
	e.sendBroadcastTo(chainID, blob, ttl, e.pm.Sample(fanout))
}

func (e *GossipEngine) sendBroadcastTo(chainID ChainId, blob []byte, ttl uint8, peers []NodeID) {
	if len(peers) == 0 {
		return
	}
	body, err := rlp.EncodeToBytes(broadcastBody{TTL: ttl, Block: blob})
	if err != nil {
		e.log.WithError(err).Warn("encode broadcast body")
		return
	}
	payload, err := e.envelope(chainID, body)
	if err != nil {
		return
	}
	for _, p := range peers {
		if err := e.pm.SendAsync(p, e.proto, byte(msgBlockBroadcast), payload); err != nil {
			e.log.WithError(err).WithField("peer", p).Debug("relay broadcast")
		}
	}
}

func (e *GossipEngine) envelope(chainID ChainId, body []byte) ([]byte, error) {
	return rlp.EncodeToBytes(gossipEnvelope{ChainID: []byte(chainID), Body: body})
}
