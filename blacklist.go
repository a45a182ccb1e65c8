package pubsub

import (
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	lru "github.com/whyrusleeping/timecache"
)

// Blacklist is checked before a message from or claiming to be from a peer
// is pushed into the validation pipeline; see PubSub.pushMsg.
type Blacklist interface {
	Add(peer.ID) bool
	Contains(peer.ID) bool
}

// MapBlacklist is a permanent, unbounded blacklist: once a peer is added it
// stays blacklisted for the process lifetime. This is the default.
type MapBlacklist struct {
	mu sync.RWMutex
	m  map[peer.ID]struct{}
}

// NewMapBlacklist creates a new MapBlacklist.
func NewMapBlacklist() Blacklist {
	return &MapBlacklist{m: make(map[peer.ID]struct{})}
}

func (b *MapBlacklist) Add(p peer.ID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.m[p] = struct{}{}
	return true
}

func (b *MapBlacklist) Contains(p peer.ID) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.m[p]
	return ok
}

// TimeCacheBlacklist is a temporary blacklist: peers fall off after the
// configured TTL, useful for punishing misbehaviour without keeping an
// unbounded ban list in memory forever.
type TimeCacheBlacklist struct {
	tc *lru.TimeCache
}

// NewTimeCacheBlacklist creates a blacklist that forgets entries after ttl.
func NewTimeCacheBlacklist(ttl time.Duration) (Blacklist, error) {
	return &TimeCacheBlacklist{tc: lru.NewTimeCache(ttl)}, nil
}

func (b *TimeCacheBlacklist) Add(p peer.ID) bool {
	if b.tc.Has(p.String()) {
		return false
	}
	b.tc.Add(p.String())
	return true
}

func (b *TimeCacheBlacklist) Contains(p peer.ID) bool {
	return b.tc.Has(p.String())
}
