package pubsub

import (
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// gossipPromises tracks the "you IHAVE'd it, so IWANT it, now deliver it"
// contract (C13): when we IWANT a message id from a peer we record a
// deadline, and if the id is never delivered before the deadline the peer
// owes a broken-promise penalty the next time the score decay loop runs.
type gossipPromises struct {
	mu       sync.Mutex
	promises map[string]map[peer.ID]time.Time
}

func newGossipPromises() *gossipPromises {
	return &gossipPromises{
		promises: make(map[string]map[peer.ID]time.Time),
	}
}

// Add records that p owes us msgID by deadline, unless a promise for the
// same (msgID, p) pair is already outstanding.
func (gp *gossipPromises) Add(p peer.ID, msgIDs []string, deadline time.Time) {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	for _, id := range msgIDs {
		peers, ok := gp.promises[id]
		if !ok {
			peers = make(map[peer.ID]time.Time)
			gp.promises[id] = peers
		}
		if _, exists := peers[p]; !exists {
			peers[p] = deadline
		}
	}
}

// MessageDelivered clears every outstanding promise for msgID: once a
// message arrives by any route, nobody owes us a promise for it anymore.
func (gp *gossipPromises) MessageDelivered(msgID string) {
	gp.mu.Lock()
	defer gp.mu.Unlock()
	delete(gp.promises, msgID)
}

// Expired returns, for each peer with at least one promise past deadline,
// the number of broken promises, and removes them from the ledger.
func (gp *gossipPromises) Expired(now time.Time) map[peer.ID]int {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	broken := make(map[peer.ID]int)
	for id, peers := range gp.promises {
		for p, deadline := range peers {
			if now.After(deadline) {
				broken[p]++
				delete(peers, p)
			}
		}
		if len(peers) == 0 {
			delete(gp.promises, id)
		}
	}
	return broken
}
