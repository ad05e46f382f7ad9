package core

import "sync"

// TopicKind tags the scope of an observer registration: every chain, every
// personal chain, every community ("group") chain, or one specific chain.
type TopicKind int

const (
	// TopicAll matches every chain, personal or community.
	TopicAll TopicKind = iota
	// TopicPersonal matches every personal chain.
	TopicPersonal
	// TopicGroup matches every community chain.
	TopicGroup
	// TopicChain matches exactly one ChainId (see Topic.Chain).
	TopicChain
)

// Topic identifies an observer's subscription scope.
type Topic struct {
	Kind  TopicKind
	Chain ChainId // only meaningful when Kind == TopicChain
}

// AllTopic, PersonalTopic and GroupTopic are the three wildcard scopes.
var (
	AllTopic      = Topic{Kind: TopicAll}
	PersonalTopic = Topic{Kind: TopicPersonal}
	GroupTopic    = Topic{Kind: TopicGroup}
)

// ChainTopic returns the scope matching exactly one chain.
func ChainTopic(id ChainId) Topic { return Topic{Kind: TopicChain, Chain: id} }

// ObserverFunc receives the chain a block landed in and the ordered list of
// dots that became newly consistent as a result. Observers never receive
// block structures directly; they re-read from the manager by dot.
type ObserverFunc func(chain ChainId, dots []Dot)

// ObserverTable is a topic-keyed fan-out table: callbacks register against
// a Topic and are notified whenever a matching chain reports
// newly-consistent dots.
type ObserverTable struct {
	mu        sync.RWMutex
	observers map[TopicKind]map[int]ObserverFunc
	byChain   map[ChainId]map[int]ObserverFunc
	nextID    int
}

// NewObserverTable returns an empty fan-out table.
func NewObserverTable() *ObserverTable {
	return &ObserverTable{
		observers: map[TopicKind]map[int]ObserverFunc{
			TopicAll:      {},
			TopicPersonal: {},
			TopicGroup:    {},
		},
		byChain: map[ChainId]map[int]ObserverFunc{},
	}
}

// subscription identifies one registration, used to cancel it.
type subscription struct {
	topic Topic
	id    int
}

// Subscribe registers fn against topic and returns a handle that Unsubscribe
// accepts to cancel it.
func (t *ObserverTable) Subscribe(topic Topic, fn ObserverFunc) any {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	if topic.Kind == TopicChain {
		set, ok := t.byChain[topic.Chain]
		if !ok {
			set = map[int]ObserverFunc{}
			t.byChain[topic.Chain] = set
		}
		set[id] = fn
	} else {
		t.observers[topic.Kind][id] = fn
	}
	return subscription{topic: topic, id: id}
}

// Unsubscribe cancels a registration previously returned by Subscribe.
func (t *ObserverTable) Unsubscribe(handle any) {
	sub, ok := handle.(subscription)
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if sub.topic.Kind == TopicChain {
		if set, ok := t.byChain[sub.topic.Chain]; ok {
			delete(set, sub.id)
			if len(set) == 0 {
				delete(t.byChain, sub.topic.Chain)
			}
		}
		return
	}
	delete(t.observers[sub.topic.Kind], sub.id)
}

// Notify delivers dots (already in canonical ordered-delivery order) to
// every observer whose topic matches chain: TopicAll always; TopicPersonal
// or TopicGroup depending on isCommunity; and any observer registered
// directly for chain. The caller (Manager.AddBlock) already knows whether
// chain is the block's personal or community chain, so that distinction is
// passed in rather than re-derived from the opaque ChainId bytes.
func (t *ObserverTable) Notify(chain ChainId, isCommunity bool, dots []Dot) {
	if len(dots) == 0 {
		return
	}
	t.mu.RLock()
	fns := make([]ObserverFunc, 0, 4)
	for _, fn := range t.observers[TopicAll] {
		fns = append(fns, fn)
	}
	if isCommunity {
		for _, fn := range t.observers[TopicGroup] {
			fns = append(fns, fn)
		}
	} else {
		for _, fn := range t.observers[TopicPersonal] {
			fns = append(fns, fn)
		}
	}
	for _, fn := range t.byChain[chain] {
		fns = append(fns, fn)
	}
	t.mu.RUnlock()

	for _, fn := range fns {
		fn(chain, dots)
	}
}
