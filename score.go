package pubsub

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	logging "github.com/ipfs/go-log/v2"
)

var scoreLog = logging.Logger("pubsub/score")

// PeerScoreParams groups the per-topic weights and the peer-wide terms that
// make up C8's score function (spec §4.4): topic scores, application score,
// IP-colocation penalty and behavioural penalty, decayed on every
// DecayInterval tick.
type PeerScoreParams struct {
	Topics map[string]*TopicScoreParams

	TopicScoreCap float64

	AppSpecificScore  func(p peer.ID) float64
	AppSpecificWeight float64

	IPColocationFactorWeight    float64
	IPColocationFactorThreshold int

	BehaviourPenaltyWeight float64
	BehaviourPenaltyDecay  float64

	DecayInterval time.Duration
	DecayToZero   float64

	RetainScore time.Duration
}

func (p *PeerScoreParams) validate() error {
	for topic, params := range p.Topics {
		if err := params.validate(); err != nil {
			return fmt.Errorf("invalid score parameters for topic %s: %w", topic, err)
		}
	}
	if p.DecayInterval < time.Second {
		return fmt.Errorf("invalid decay interval: %s", p.DecayInterval)
	}
	if p.DecayToZero <= 0 || p.DecayToZero >= 1 {
		return fmt.Errorf("invalid decay to zero: %f", p.DecayToZero)
	}
	return nil
}

// TopicScoreParams configures the per-topic terms of C8: time-in-mesh,
// first/mesh message deliveries and mesh failure and invalid-message
// penalties, each with its own decay.
type TopicScoreParams struct {
	TopicWeight float64

	TimeInMeshWeight  float64
	TimeInMeshQuantum time.Duration
	TimeInMeshCap     float64

	FirstMessageDeliveriesWeight float64
	FirstMessageDeliveriesDecay  float64
	FirstMessageDeliveriesCap    float64

	MeshMessageDeliveriesWeight     float64
	MeshMessageDeliveriesDecay      float64
	MeshMessageDeliveriesCap        float64
	MeshMessageDeliveriesThreshold  float64
	MeshMessageDeliveriesWindow     time.Duration
	MeshMessageDeliveriesActivation time.Duration

	MeshFailurePenaltyWeight float64
	MeshFailurePenaltyDecay  float64

	InvalidMessageDeliveriesWeight float64
	InvalidMessageDeliveriesDecay  float64
}

func (p *TopicScoreParams) validate() error {
	if p.TopicWeight < 0 {
		return fmt.Errorf("invalid topic weight: %f", p.TopicWeight)
	}
	if p.TimeInMeshQuantum == 0 && p.TimeInMeshWeight != 0 {
		return fmt.Errorf("invalid time in mesh quantum: 0")
	}
	if p.MeshMessageDeliveriesWeight > 0 {
		return fmt.Errorf("invalid mesh message deliveries weight: %f; must be negative", p.MeshMessageDeliveriesWeight)
	}
	if p.MeshFailurePenaltyWeight > 0 {
		return fmt.Errorf("invalid mesh failure penalty weight: %f; must be negative", p.MeshFailurePenaltyWeight)
	}
	if p.InvalidMessageDeliveriesWeight > 0 {
		return fmt.Errorf("invalid invalid message deliveries weight: %f; must be negative", p.InvalidMessageDeliveriesWeight)
	}
	return nil
}

// PeerScoreThresholds gates what a peer's score allows per spec §4.4: below
// GossipThreshold we neither emit nor accept gossip, below PublishThreshold
// we exclude the peer from flood publishing, below GraylistThreshold we
// drop its RPCs outright, and at or above AcceptPXThreshold we trust its
// Peer eXchange records.
type PeerScoreThresholds struct {
	GossipThreshold             float64
	PublishThreshold            float64
	GraylistThreshold           float64
	AcceptPXThreshold           float64
	OpportunisticGraftThreshold float64
}

func (t *PeerScoreThresholds) validate() error {
	if t.GossipThreshold > 0 {
		return fmt.Errorf("invalid gossip threshold: %f; must be <= 0", t.GossipThreshold)
	}
	if t.PublishThreshold > 0 || t.PublishThreshold > t.GossipThreshold {
		return fmt.Errorf("invalid publish threshold: %f; must be <= 0 and <= gossip threshold", t.PublishThreshold)
	}
	if t.GraylistThreshold > 0 || t.GraylistThreshold > t.PublishThreshold {
		return fmt.Errorf("invalid graylist threshold: %f; must be <= 0 and <= publish threshold", t.GraylistThreshold)
	}
	if t.AcceptPXThreshold < 0 {
		return fmt.Errorf("invalid accept PX threshold: %f; must be >= 0", t.AcceptPXThreshold)
	}
	return nil
}

type topicScoreState struct {
	params *TopicScoreParams

	inMesh   bool
	graftAt  time.Time
	meshTime time.Duration

	firstMessageDeliveries float64
	meshMessageDeliveries  float64
	meshMessageDeliveriesActive bool
	meshFailurePenalty     float64
	invalidMessageDeliveries float64
}

type peerScoreSnapshot struct {
	connected bool
	connectedAt time.Time

	topics map[string]*topicScoreState

	ips []string

	behaviourPenalty float64

	appScore       float64
	appScoreUpdate time.Time
}

// peerScore is the running score tracker behind C8. It doubles as the
// score sink that pubsubTracer feeds: every protocol event feeds a
// bookkeeping update, and Score(p) folds the bookkeeping into a single
// float consulted by the router's publish/gossip/graylist gates.
type peerScore struct {
	sync.Mutex

	params *PeerScoreParams
	peers  map[peer.ID]*peerScoreSnapshot

	peerIPs map[peer.ID][]string

	promises *gossipPromises

	gs *GossipSubRouter

	clock clock.Clock

	msgID MsgIdFunction

	deliveries map[string]*deliveryRecord
}

type deliveryRecord struct {
	firstSeen  time.Time
	peers      map[peer.ID]struct{}
	validated  bool
}

func newPeerScore(params *PeerScoreParams) *peerScore {
	return &peerScore{
		params:     params,
		peers:      make(map[peer.ID]*peerScoreSnapshot),
		peerIPs:    make(map[peer.ID][]string),
		promises:   newGossipPromises(),
		clock:      clock.New(),
		deliveries: make(map[string]*deliveryRecord),
	}
}

// Start attaches the score tracker to a live router and launches the decay
// loop. It mirrors the Attach lifecycle every other router sub-component
// follows (mcache, backoff).
func (ps *peerScore) Start(gs *GossipSubRouter) {
	ps.Lock()
	ps.gs = gs
	ps.msgID = gs.p.msgID
	ps.Unlock()

	go ps.decayLoop()
}

func (ps *peerScore) decayLoop() {
	ticker := ps.clock.Ticker(ps.params.DecayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ps.refreshScores()
		case <-ps.gs.p.ctx.Done():
			return
		}
	}
}

func (ps *peerScore) refreshScores() {
	ps.Lock()
	defer ps.Unlock()

	now := ps.clock.Now()
	for p, snap := range ps.peers {
		if !snap.connected {
			if now.Sub(snap.connectedAt) > ps.params.RetainScore {
				delete(ps.peers, p)
			}
			continue
		}

		for topic, st := range snap.topics {
			tp := st.params
			if tp == nil {
				continue
			}
			if st.inMesh {
				st.meshTime = now.Sub(st.graftAt)
			}
			st.firstMessageDeliveries *= tp.FirstMessageDeliveriesDecay
			if st.firstMessageDeliveries < ps.params.DecayToZero {
				st.firstMessageDeliveries = 0
			}
			st.meshMessageDeliveries *= tp.MeshMessageDeliveriesDecay
			if st.meshMessageDeliveries < ps.params.DecayToZero {
				st.meshMessageDeliveries = 0
			}
			st.meshFailurePenalty *= tp.MeshFailurePenaltyDecay
			if st.meshFailurePenalty < ps.params.DecayToZero {
				st.meshFailurePenalty = 0
			}
			st.invalidMessageDeliveries *= tp.InvalidMessageDeliveriesDecay
			if st.invalidMessageDeliveries < ps.params.DecayToZero {
				st.invalidMessageDeliveries = 0
			}
			_ = topic
		}

		snap.behaviourPenalty *= ps.params.BehaviourPenaltyDecay
		if snap.behaviourPenalty < ps.params.DecayToZero {
			snap.behaviourPenalty = 0
		}
	}

	for p, expired := range ps.promises.Expired(now) {
		ps.addPenaltyLocked(p, expired)
	}
}

func (ps *peerScore) peerStats(p peer.ID) *peerScoreSnapshot {
	snap, ok := ps.peers[p]
	if !ok {
		snap = &peerScoreSnapshot{
			topics:      make(map[string]*topicScoreState),
			connectedAt: ps.clock.Now(),
		}
		ps.peers[p] = snap
	}
	return snap
}

func (ps *peerScore) topicState(snap *peerScoreSnapshot, topic string) *topicScoreState {
	st, ok := snap.topics[topic]
	if !ok {
		st = &topicScoreState{params: ps.params.Topics[topic]}
		snap.topics[topic] = st
	}
	return st
}

// Score computes the aggregate score for a peer per spec §4.4: the
// topic-weighted sum of per-topic terms, plus application score, IP
// colocation penalty and behavioural penalty.
func (ps *peerScore) Score(p peer.ID) float64 {
	ps.Lock()
	defer ps.Unlock()

	snap, ok := ps.peers[p]
	if !ok {
		return 0
	}

	var score float64
	for topic, st := range snap.topics {
		tp := st.params
		if tp == nil {
			continue
		}

		var topicScore float64

		if tp.TimeInMeshWeight != 0 && st.inMesh {
			quanta := float64(st.meshTime / tp.TimeInMeshQuantum)
			if quanta > tp.TimeInMeshCap {
				quanta = tp.TimeInMeshCap
			}
			topicScore += quanta * tp.TimeInMeshWeight
		}

		fmd := st.firstMessageDeliveries
		if fmd > tp.FirstMessageDeliveriesCap {
			fmd = tp.FirstMessageDeliveriesCap
		}
		topicScore += fmd * tp.FirstMessageDeliveriesWeight

		if st.meshMessageDeliveriesActive && st.meshMessageDeliveries < tp.MeshMessageDeliveriesThreshold {
			deficit := tp.MeshMessageDeliveriesThreshold - st.meshMessageDeliveries
			topicScore += deficit * deficit * tp.MeshMessageDeliveriesWeight
		}

		topicScore += st.meshFailurePenalty * tp.MeshFailurePenaltyWeight
		topicScore += st.invalidMessageDeliveries * st.invalidMessageDeliveries * tp.InvalidMessageDeliveriesWeight

		topicWeighted := topicScore * tp.TopicWeight
		if ps.params.TopicScoreCap > 0 && topicWeighted > ps.params.TopicScoreCap {
			topicWeighted = ps.params.TopicScoreCap
		}
		score += topicWeighted
		_ = topic
	}

	if ps.params.AppSpecificScore != nil {
		score += snap.appScore * ps.params.AppSpecificWeight
	}

	if ps.params.IPColocationFactorWeight != 0 {
		score += ps.ipColocationPenaltyLocked(p, snap) * ps.params.IPColocationFactorWeight
	}

	score += snap.behaviourPenalty * snap.behaviourPenalty * ps.params.BehaviourPenaltyWeight

	return score
}

func (ps *peerScore) ipColocationPenaltyLocked(self peer.ID, snap *peerScoreSnapshot) float64 {
	var penalty float64
	for _, ip := range snap.ips {
		peersOnIP := 0
		for p, ips := range ps.peerIPs {
			if p == self {
				continue
			}
			for _, other := range ips {
				if other == ip {
					peersOnIP++
					break
				}
			}
		}
		if peersOnIP+1 > ps.params.IPColocationFactorThreshold {
			surplus := float64(peersOnIP + 1 - ps.params.IPColocationFactorThreshold)
			penalty += surplus * surplus
		}
	}
	return penalty
}

func (ps *peerScore) addPenaltyLocked(p peer.ID, count int) {
	snap := ps.peerStats(p)
	snap.behaviourPenalty += float64(count)
}

// AddPenalty adds count behavioural-penalty units to p, e.g. on a broken
// gossip promise or a GRAFT received during backoff.
func (ps *peerScore) AddPenalty(p peer.ID, count int) {
	ps.Lock()
	defer ps.Unlock()
	ps.addPenaltyLocked(p, count)
}

func (ps *peerScore) AddPeer(p peer.ID, _ protocol.ID) {
	ps.Lock()
	defer ps.Unlock()
	snap := ps.peerStats(p)
	snap.connected = true
	snap.connectedAt = ps.clock.Now()

	if ps.gs != nil {
		if conns := ps.gs.p.host.Network().ConnsToPeer(p); len(conns) > 0 {
			var ips []string
			for _, c := range conns {
				ips = append(ips, c.RemoteMultiaddr().String())
			}
			snap.ips = ips
			ps.peerIPs[p] = ips
		}
	}
}

func (ps *peerScore) RemovePeer(p peer.ID) {
	ps.Lock()
	defer ps.Unlock()
	if snap, ok := ps.peers[p]; ok {
		snap.connected = false
		snap.connectedAt = ps.clock.Now()
	}
	delete(ps.peerIPs, p)
}

func (ps *peerScore) Graft(p peer.ID, topic string) {
	ps.Lock()
	defer ps.Unlock()
	snap := ps.peerStats(p)
	st := ps.topicState(snap, topic)
	st.inMesh = true
	st.graftAt = ps.clock.Now()
	st.meshTime = 0
	st.meshMessageDeliveriesActive = false
	if st.params != nil && st.params.MeshMessageDeliveriesActivation == 0 {
		st.meshMessageDeliveriesActive = true
	}
}

func (ps *peerScore) Prune(p peer.ID, topic string) {
	ps.Lock()
	defer ps.Unlock()
	snap := ps.peerStats(p)
	st := ps.topicState(snap, topic)
	if st.meshMessageDeliveriesActive && st.params != nil && st.meshMessageDeliveries < st.params.MeshMessageDeliveriesThreshold {
		st.meshFailurePenalty += (st.params.MeshMessageDeliveriesThreshold - st.meshMessageDeliveries) * (st.params.MeshMessageDeliveriesThreshold - st.meshMessageDeliveries)
	}
	st.inMesh = false
	st.meshMessageDeliveriesActive = false
}

func (ps *peerScore) Join(topic string) {}

func (ps *peerScore) Leave(topic string) {}

func (ps *peerScore) ValidateMessage(msg *Message) {
	ps.Lock()
	defer ps.Unlock()
	id := ps.msgID(msg.Message)
	rec, ok := ps.deliveries[id]
	if !ok {
		return
	}
	rec.validated = true
	for p := range rec.peers {
		ps.markFirstMessageDeliveryLocked(p, msg)
	}
	rec.peers = nil
	ps.promises.MessageDelivered(id)
}

func (ps *peerScore) markFirstMessageDeliveryLocked(p peer.ID, msg *Message) {
	snap := ps.peerStats(p)
	for _, topic := range msg.GetTopicIDs() {
		st := ps.topicState(snap, topic)
		if st.params == nil {
			continue
		}
		st.firstMessageDeliveries++
		if st.firstMessageDeliveries > st.params.FirstMessageDeliveriesCap {
			st.firstMessageDeliveries = st.params.FirstMessageDeliveriesCap
		}
		if st.inMesh {
			st.meshMessageDeliveries++
			if st.meshMessageDeliveries > st.params.MeshMessageDeliveriesCap {
				st.meshMessageDeliveries = st.params.MeshMessageDeliveriesCap
			}
		}
	}
}

func (ps *peerScore) DeliverMessage(msg *Message) {
	ps.Lock()
	defer ps.Unlock()
	id := ps.msgID(msg.Message)
	rec, ok := ps.deliveries[id]
	if !ok {
		rec = &deliveryRecord{firstSeen: ps.clock.Now(), peers: make(map[peer.ID]struct{})}
		ps.deliveries[id] = rec
	}
	if !rec.validated {
		ps.markFirstMessageDeliveryLocked(msg.ReceivedFrom, msg)
		rec.validated = true
	}
}

func (ps *peerScore) DuplicateMessage(msg *Message) {
	ps.Lock()
	defer ps.Unlock()
	id := ps.msgID(msg.Message)
	rec, ok := ps.deliveries[id]
	if !ok {
		rec = &deliveryRecord{firstSeen: ps.clock.Now(), peers: make(map[peer.ID]struct{})}
		ps.deliveries[id] = rec
	}
	if rec.validated {
		ps.markFirstMessageDeliveryLocked(msg.ReceivedFrom, msg)
		return
	}
	rec.peers[msg.ReceivedFrom] = struct{}{}
}

func (ps *peerScore) RejectMessage(msg *Message, reason string) {
	ps.Lock()
	defer ps.Unlock()
	snap := ps.peerStats(msg.ReceivedFrom)
	for _, topic := range msg.GetTopicIDs() {
		st := ps.topicState(snap, topic)
		if st.params == nil {
			continue
		}
		st.invalidMessageDeliveries++
	}
}
