package pubsub

import (
	"github.com/libp2p/go-libp2p/core/peer"

	pb "github.com/waku-org/go-gossipsub/pb"
)

// CacheEntry is one message's bookkeeping inside the message cache: the
// message itself, which peers have tried to hand it to us before we
// validated it, whether it is validated yet, and how many IWANT requests
// for it we have received (including ones we refused).
type CacheEntry struct {
	Mid         string
	Message     *pb.Message
	Validated   bool
	Originating map[peer.ID]struct{}
	IWantCount  int
}

// MessageCache is C6c, the gossip window backing IHAVE/IWANT: a ring of
// History slots, shifted once per heartbeat, with only the first Gossip
// slots eligible for IHAVE advertisement. Grounded on
// original_source/waku-relay/src/gossipsub/mcache.rs: entries only become
// gossip-eligible once Validate has been called, and ObserveDuplicate
// skips recording the peer once the entry is already validated (there is
// nothing left to deliver).
type MessageCache struct {
	msgs    map[string]*CacheEntry
	history [][]string // history[i] = message ids first seen i heartbeats ago
	gossip  int
	msgID   MsgIdFunction
}

// NewMessageCache creates a MessageCache that keeps `history` heartbeats of
// message ids and makes the most recent `gossip` of them eligible for IHAVE.
func NewMessageCache(gossip, history int) *MessageCache {
	return &MessageCache{
		msgs:    make(map[string]*CacheEntry),
		history: make([][]string, history),
		gossip:  gossip,
		msgID:   DefaultMsgIdFn,
	}
}

// SetMsgIdFn overrides the function used to compute message ids; it must be
// called, if at all, before the cache receives any messages.
func (mc *MessageCache) SetMsgIdFn(fn MsgIdFunction) {
	mc.msgID = fn
}

// Put inserts an unvalidated message into the newest history slot.
func (mc *MessageCache) Put(msg *pb.Message) {
	mid := mc.msgID(msg)
	if _, ok := mc.msgs[mid]; ok {
		return
	}
	mc.msgs[mid] = &CacheEntry{
		Mid:         mid,
		Message:     msg,
		Originating: make(map[peer.ID]struct{}),
	}
	mc.history[0] = append(mc.history[0], mid)
}

// ObserveDuplicate records that `from` also has a copy of an already-seen
// message, unless that message is already validated (in which case we have
// nothing further to deliver it for).
func (mc *MessageCache) ObserveDuplicate(mid string, from peer.ID) {
	entry, ok := mc.msgs[mid]
	if !ok || entry.Validated {
		return
	}
	entry.Originating[from] = struct{}{}
}

// Validate marks a message as validated and returns the set of peers that
// handed it to us before validation completed, so the caller can exclude
// them from the forwarding set.
func (mc *MessageCache) Validate(mid string) []peer.ID {
	entry, ok := mc.msgs[mid]
	if !ok {
		return nil
	}
	entry.Validated = true
	origins := make([]peer.ID, 0, len(entry.Originating))
	for p := range entry.Originating {
		origins = append(origins, p)
	}
	entry.Originating = nil
	return origins
}

// Get returns the cached message by id, if still present.
func (mc *MessageCache) Get(mid string) (*pb.Message, bool) {
	entry, ok := mc.msgs[mid]
	if !ok {
		return nil, false
	}
	return entry.Message, true
}

// GetForPeer returns the cached message for an IWANT response, along with
// how many times it has already been requested (including this time), but
// only if the message has been validated -- an unvalidated message has no
// business leaving the cache via IWANT.
func (mc *MessageCache) GetForPeer(mid string, p peer.ID) (*pb.Message, int, bool) {
	entry, ok := mc.msgs[mid]
	if !ok || !entry.Validated {
		return nil, 0, false
	}
	entry.IWantCount++
	return entry.Message, entry.IWantCount, true
}

// GetGossipIDs returns the ids of validated messages for `topic` within the
// gossip-eligible window of the history.
func (mc *MessageCache) GetGossipIDs(topic string) []string {
	var ids []string
	for i := 0; i < mc.gossip && i < len(mc.history); i++ {
		for _, mid := range mc.history[i] {
			entry, ok := mc.msgs[mid]
			if !ok || !entry.Validated {
				continue
			}
			for _, t := range entry.Message.GetTopicIDs() {
				if t == topic {
					ids = append(ids, mid)
					break
				}
			}
		}
	}
	return ids
}

// Shift ages the history by one heartbeat: the oldest slot is evicted
// (its messages dropped from the cache entirely) and a fresh empty slot is
// pushed to the front.
func (mc *MessageCache) Shift() {
	last := mc.history[len(mc.history)-1]
	for _, mid := range last {
		delete(mc.msgs, mid)
	}
	for i := len(mc.history) - 1; i > 0; i-- {
		mc.history[i] = mc.history[i-1]
	}
	mc.history[0] = nil
}

// Remove drops a single message from the cache, e.g. after we learn it was
// invalid.
func (mc *MessageCache) Remove(mid string) {
	delete(mc.msgs, mid)
}
