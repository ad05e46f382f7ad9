package core

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"
)

// Node is a libp2p host wired for gossipsub pub/sub and direct streams.
// It implements PeerManager directly so the gossip engine can depend on
// the narrow interface while production code wires a *Node.
//
// Node does not attempt NAT traversal: the chain DAG and its
// reconciliation protocol have no opinion on reachability, so that
// concern is left to deployment (a relay, or a manually configured
// public address).
type Node struct {
	host   host.Host
	pubsub *pubsub.PubSub
	ctx    context.Context
	cancel context.CancelFunc
	log    *logrus.Entry

	peerMu sync.RWMutex
	peers  map[NodeID]*Peer

	topicMu sync.Mutex
	topics  map[string]*pubsub.Topic
	subs    map[string]*pubsub.Subscription
	out     map[string]chan InboundMsg
}

// NewNode creates and bootstraps a libp2p node: a gossipsub-capable host
// listening on cfg.ListenAddr, dialed to cfg.BootstrapPeers, and
// discoverable via mDNS under cfg.DiscoveryTag.
func NewNode(cfg NetworkConfig, log *logrus.Entry) (*Node, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings(cfg.ListenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("create pubsub: %w", err)
	}

	n := &Node{
		host:   h,
		pubsub: ps,
		ctx:    ctx,
		cancel: cancel,
		log:    log.WithField("component", "transport"),
		peers:  map[NodeID]*Peer{},
		topics: map[string]*pubsub.Topic{},
		subs:   map[string]*pubsub.Subscription{},
		out:    map[string]chan InboundMsg{},
	}

	if err := n.Connect2(cfg.BootstrapPeers); err != nil {
		n.log.Warnf("bootstrap dial: %v", err)
	}

	if cfg.DiscoveryTag != "" {
		mdns.NewMdnsService(h, cfg.DiscoveryTag, n)
	}

	return n, nil
}

// Connect2 dials every address in addrs, collecting (not failing fast on)
// individual errors.
func (n *Node) Connect2(addrs []string) error {
	var firstErr error
	for _, addr := range addrs {
		if err := n.Connect(addr); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// HandlePeerFound implements mdns.Notifee: connect to a peer discovered on
// the local network.
func (n *Node) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.host.ID() {
		return
	}
	id := NodeID(info.ID.String())
	n.peerMu.RLock()
	_, known := n.peers[id]
	n.peerMu.RUnlock()
	if known {
		return
	}
	if err := n.host.Connect(n.ctx, info); err != nil {
		n.log.Warnf("mdns connect %s: %v", id, err)
		return
	}
	n.peerMu.Lock()
	n.peers[id] = &Peer{ID: id, Addr: info.String()}
	n.peerMu.Unlock()
}

// Connect establishes a connection to a peer given as a libp2p multiaddr
// string (implements PeerManager.Connect).
func (n *Node) Connect(addr string) error {
	pi, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	if err := n.host.Connect(n.ctx, *pi); err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	id := NodeID(pi.ID.String())
	n.peerMu.Lock()
	n.peers[id] = &Peer{ID: id, Addr: addr}
	n.peerMu.Unlock()
	return nil
}

// Disconnect closes the connection to id (implements PeerManager.Disconnect).
func (n *Node) Disconnect(id NodeID) error {
	pid, err := peer.Decode(string(id))
	if err != nil {
		return fmt.Errorf("decode peer id %q: %w", id, err)
	}
	if err := n.host.Network().ClosePeer(pid); err != nil {
		return fmt.Errorf("close peer %s: %w", id, err)
	}
	n.peerMu.Lock()
	delete(n.peers, id)
	n.peerMu.Unlock()
	return nil
}

// ID returns this node's own peer identity, for use as a GossipEngine's
// selfID.
func (n *Node) ID() NodeID { return NodeID(n.host.ID().String()) }

// Peers implements PeerManager.Peers.
func (n *Node) Peers() []PeerInfo {
	n.peerMu.RLock()
	defer n.peerMu.RUnlock()
	out := make([]PeerInfo, 0, len(n.peers))
	for id, p := range n.peers {
		out = append(out, PeerInfo{ID: id, RTT: float64(p.Latency.Milliseconds()), Updated: time.Now().Unix()})
	}
	return out
}

// Sample implements PeerManager.Sample: up to n peer IDs chosen uniformly
// at random without replacement.
func (n *Node) Sample(count int) []NodeID {
	infos := n.Peers()
	ids := make([]NodeID, len(infos))
	for i, p := range infos {
		ids[i] = p.ID
	}
	rng := NewSystemRNG()
	return sampleNodeIDs(rng, ids, count)
}

// SendAsync opens a fresh libp2p stream to peerID over proto and writes a
// single framed message: one code byte followed by payload (implements
// PeerManager.SendAsync).
func (n *Node) SendAsync(peerID NodeID, proto string, code byte, payload []byte) error {
	pid, err := peer.Decode(string(peerID))
	if err != nil {
		return fmt.Errorf("decode peer id %q: %w", peerID, err)
	}
	ctx, cancel := context.WithTimeout(n.ctx, 5*time.Second)
	defer cancel()
	s, err := n.host.NewStream(ctx, pid, protocol.ID(proto))
	if err != nil {
		return fmt.Errorf("open stream to %s/%s: %w", peerID, proto, err)
	}
	defer s.Close()
	msg := append([]byte{code}, payload...)
	if _, err := s.Write(msg); err != nil {
		return fmt.Errorf("write stream to %s/%s: %w", peerID, proto, err)
	}
	return nil
}

// Subscribe joins proto as a gossipsub topic, registers a direct-stream
// handler for the framed messages SendAsync writes, and returns a channel
// carrying both (implements PeerManager.Subscribe). Calling Subscribe again
// for an already-subscribed proto returns the existing channel.
func (n *Node) Subscribe(proto string) <-chan InboundMsg {
	n.topicMu.Lock()
	defer n.topicMu.Unlock()
	if ch, ok := n.out[proto]; ok {
		return ch
	}
	topic, err := n.pubsub.Join(proto)
	if err != nil {
		n.log.Warnf("join %s: %v", proto, err)
		ch := make(chan InboundMsg)
		close(ch)
		return ch
	}
	sub, err := topic.Subscribe()
	if err != nil {
		n.log.Warnf("subscribe %s: %v", proto, err)
		ch := make(chan InboundMsg)
		close(ch)
		return ch
	}
	n.topics[proto] = topic
	n.subs[proto] = sub
	out := make(chan InboundMsg)
	n.out[proto] = out

	n.host.SetStreamHandler(protocol.ID(proto), func(s network.Stream) {
		defer s.Close()
		data, err := io.ReadAll(s)
		if err != nil || len(data) < 1 {
			return
		}
		msg := InboundMsg{
			PeerID:  s.Conn().RemotePeer().String(),
			Code:    data[0],
			Payload: data[1:],
			Ts:      time.Now().UnixMilli(),
		}
		select {
		case out <- msg:
		case <-n.ctx.Done():
		}
	})

	go func() {
		for {
			msg, err := sub.Next(n.ctx)
			if err != nil {
				close(out)
				return
			}
			if len(msg.Data) < 1 {
				continue
			}
			out <- InboundMsg{PeerID: msg.GetFrom().String(), Code: msg.Data[0], Payload: msg.Data[1:], Ts: time.Now().UnixMilli()}
		}
	}()
	return out
}

// Unsubscribe cancels a subscription created via Subscribe.
func (n *Node) Unsubscribe(proto string) {
	n.topicMu.Lock()
	defer n.topicMu.Unlock()
	n.host.RemoveStreamHandler(protocol.ID(proto))
	if sub, ok := n.subs[proto]; ok {
		sub.Cancel()
		delete(n.subs, proto)
	}
	if ch, ok := n.out[proto]; ok {
		close(ch)
		delete(n.out, proto)
	}
	delete(n.topics, proto)
}

// Publish broadcasts a framed message (the same one-code-byte framing
// SendAsync uses) to every subscriber of proto via gossipsub, for callers
// that want a message to reach everyone rather than one peer.
func (n *Node) Publish(proto string, code byte, payload []byte) error {
	n.topicMu.Lock()
	topic, ok := n.topics[proto]
	n.topicMu.Unlock()
	if !ok {
		var err error
		topic, err = n.pubsub.Join(proto)
		if err != nil {
			return fmt.Errorf("join %s: %w", proto, err)
		}
		n.topicMu.Lock()
		n.topics[proto] = topic
		n.topicMu.Unlock()
	}
	if err := topic.Publish(n.ctx, append([]byte{code}, payload...)); err != nil {
		return fmt.Errorf("publish %s: %w", proto, err)
	}
	return nil
}

// Close tears down the host and cancels every subscription loop.
func (n *Node) Close() error {
	n.cancel()
	return n.host.Close()
}

var _ PeerManager = (*Node)(nil)

//---------------------------------------------------------------------
// In-memory PeerManager, for tests and the simulation harness
//---------------------------------------------------------------------

// memBus is the shared fabric an InMemoryTransport registers against so
// peers constructed from the same bus can reach each other.
type memBus struct {
	mu      sync.Mutex
	routers map[NodeID]*InMemoryTransport
}

func newMemBus() *memBus {
	return &memBus{routers: map[NodeID]*InMemoryTransport{}}
}

// InMemoryTransport is a PeerManager backed by Go channels instead of a
// real network, used by tests that need many "nodes" in one process
// without a libp2p host each.
type InMemoryTransport struct {
	id  NodeID
	bus *memBus

	mu    sync.RWMutex
	peers map[NodeID]*Peer

	subMu sync.Mutex
	subs  map[string]chan InboundMsg
}

// NewInMemoryBus returns a constructor for InMemoryTransports that share one
// routing fabric.
func NewInMemoryBus() func(id NodeID) *InMemoryTransport {
	bus := newMemBus()
	return func(id NodeID) *InMemoryTransport {
		t := &InMemoryTransport{
			id:    id,
			bus:   bus,
			peers: map[NodeID]*Peer{},
			subs:  map[string]chan InboundMsg{},
		}
		bus.mu.Lock()
		bus.routers[id] = t
		bus.mu.Unlock()
		return t
	}
}

// Connect implements PeerManager.Connect: addr is interpreted directly as
// the peer's NodeID in the in-memory fabric.
func (t *InMemoryTransport) Connect(addr string) error {
	id := NodeID(addr)
	t.bus.mu.Lock()
	_, ok := t.bus.routers[id]
	t.bus.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: peer %q not registered on bus", ErrUnknownChain, addr)
	}
	t.mu.Lock()
	t.peers[id] = &Peer{ID: id, Addr: addr}
	t.mu.Unlock()
	return nil
}

// Disconnect implements PeerManager.Disconnect.
func (t *InMemoryTransport) Disconnect(id NodeID) error {
	t.mu.Lock()
	delete(t.peers, id)
	t.mu.Unlock()
	return nil
}

// Peers implements PeerManager.Peers.
func (t *InMemoryTransport) Peers() []PeerInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]PeerInfo, 0, len(t.peers))
	for id := range t.peers {
		out = append(out, PeerInfo{ID: id, Updated: time.Now().Unix()})
	}
	return out
}

// Sample implements PeerManager.Sample.
func (t *InMemoryTransport) Sample(n int) []NodeID {
	infos := t.Peers()
	ids := make([]NodeID, len(infos))
	for i, p := range infos {
		ids[i] = p.ID
	}
	rng := NewSystemRNG()
	return sampleNodeIDs(rng, ids, n)
}

// SendAsync delivers directly to the target's subscriber channel for proto,
// if one is registered; otherwise the send is silently dropped (mirroring
// an unreachable peer over a real transport).
func (t *InMemoryTransport) SendAsync(peerID NodeID, proto string, code byte, payload []byte) error {
	t.bus.mu.Lock()
	target, ok := t.bus.routers[peerID]
	t.bus.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: peer %q not registered on bus", ErrUnknownChain, peerID)
	}
	target.subMu.Lock()
	ch, ok := target.subs[proto]
	target.subMu.Unlock()
	if !ok {
		return nil
	}
	msg := InboundMsg{PeerID: string(t.id), Code: code, Payload: payload, Ts: time.Now().UnixMilli()}
	select {
	case ch <- msg:
	default:
		return fmt.Errorf("%w: inbox for %s/%s", ErrQueueOverrun, peerID, proto)
	}
	return nil
}

// Subscribe implements PeerManager.Subscribe.
func (t *InMemoryTransport) Subscribe(proto string) <-chan InboundMsg {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	ch, ok := t.subs[proto]
	if !ok {
		ch = make(chan InboundMsg, 64)
		t.subs[proto] = ch
	}
	return ch
}

// Unsubscribe implements PeerManager.Unsubscribe.
func (t *InMemoryTransport) Unsubscribe(proto string) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	if ch, ok := t.subs[proto]; ok {
		close(ch)
		delete(t.subs, proto)
	}
}

var _ PeerManager = (*InMemoryTransport)(nil)
