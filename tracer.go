package pubsub

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	pb "github.com/waku-org/go-gossipsub/pb"
)

// EventTracer is a hook consumers can register with WithEventTracer to
// observe every protocol event the router produces. Implementations must
// not block: pubsubTracer calls Trace synchronously from the event loop.
type EventTracer interface {
	Trace(evt *pb.TraceEvent)
}

// pubsubTracer fans protocol events out to an optional EventTracer and, when
// peer scoring is enabled, feeds the same events to the score tracker. A
// PubSub's tracer is nil unless WithEventTracer or WithPeerScore set one;
// every method tolerates a nil receiver, so call sites never need a nil check.
type pubsubTracer struct {
	tracer EventTracer
	score  *peerScore
	pid    peer.ID
	msgID  MsgIdFunction
}

func (t *pubsubTracer) traceMessage(evtType pb.TraceEvent_Type, topic string, id string, from peer.ID, extra func(*pb.TraceEvent)) {
	if t == nil {
		return
	}
	now := time.Now().UnixNano()
	evt := &pb.TraceEvent{
		Type:      &evtType,
		PeerID:    []byte(t.pid),
		Timestamp: &now,
	}
	if extra != nil {
		extra(evt)
	}
	if t.tracer != nil {
		t.tracer.Trace(evt)
	}
}

func (t *pubsubTracer) PublishMessage(msg *Message) {
	if t == nil {
		return
	}
	id := t.msgID(msg.Message)
	for _, topic := range msg.GetTopicIDs() {
		tp := topic
		t.traceMessage(pb.TraceEvent_PUBLISH_MESSAGE, topic, id, t.pid, func(evt *pb.TraceEvent) {
			evt.PublishMessage = &pb.TraceEvent_PublishMessage{MessageID: []byte(id), Topic: &tp}
		})
	}
}

func (t *pubsubTracer) RejectMessage(msg *Message, reason string) {
	if t == nil {
		return
	}
	if t.score != nil {
		t.score.RejectMessage(msg, reason)
	}
	if t.tracer == nil {
		return
	}
	id := t.msgID(msg.Message)
	from := []byte(msg.ReceivedFrom)
	r := reason
	t.traceMessage(pb.TraceEvent_REJECT_MESSAGE, "", id, msg.ReceivedFrom, func(evt *pb.TraceEvent) {
		evt.RejectMessage = &pb.TraceEvent_RejectMessage{MessageID: []byte(id), ReceivedFrom: from, Reason: &r}
	})
}

func (t *pubsubTracer) DuplicateMessage(msg *Message) {
	if t == nil {
		return
	}
	if t.score != nil {
		t.score.DuplicateMessage(msg)
	}
	if t.tracer == nil {
		return
	}
	id := t.msgID(msg.Message)
	from := []byte(msg.ReceivedFrom)
	t.traceMessage(pb.TraceEvent_DUPLICATE_MESSAGE, "", id, msg.ReceivedFrom, func(evt *pb.TraceEvent) {
		evt.DuplicateMessage = &pb.TraceEvent_DuplicateMessage{MessageID: []byte(id), ReceivedFrom: from}
	})
}

func (t *pubsubTracer) DeliverMessage(msg *Message) {
	if t == nil {
		return
	}
	if t.score != nil {
		t.score.DeliverMessage(msg)
	}
	if t.tracer == nil {
		return
	}
	id := t.msgID(msg.Message)
	t.traceMessage(pb.TraceEvent_DELIVER_MESSAGE, "", id, msg.ReceivedFrom, func(evt *pb.TraceEvent) {
		evt.DeliverMessage = &pb.TraceEvent_DeliverMessage{MessageID: []byte(id)}
	})
}

func (t *pubsubTracer) AddPeer(p peer.ID, proto protocol.ID) {
	if t == nil {
		return
	}
	if t.score != nil {
		t.score.AddPeer(p, proto)
	}
	if t.tracer == nil {
		return
	}
	pr := string(proto)
	t.traceMessage(pb.TraceEvent_ADD_PEER, "", "", p, func(evt *pb.TraceEvent) {
		evt.AddPeer = &pb.TraceEvent_AddPeer{PeerID: []byte(p), Proto: &pr}
	})
}

func (t *pubsubTracer) RemovePeer(p peer.ID) {
	if t == nil {
		return
	}
	if t.score != nil {
		t.score.RemovePeer(p)
	}
	if t.tracer == nil {
		return
	}
	t.traceMessage(pb.TraceEvent_REMOVE_PEER, "", "", p, func(evt *pb.TraceEvent) {
		evt.RemovePeer = &pb.TraceEvent_RemovePeer{PeerID: []byte(p)}
	})
}

func (t *pubsubTracer) RecvRPC(rpc *RPC) {
	if t == nil || t.tracer == nil {
		return
	}
	t.traceMessage(pb.TraceEvent_RECV_RPC, "", "", rpc.from, func(evt *pb.TraceEvent) {
		evt.RecvRPC = &pb.TraceEvent_RecvRPC{ReceivedFrom: []byte(rpc.from)}
	})
}

func (t *pubsubTracer) SendRPC(rpc *RPC, p peer.ID) {
	if t == nil || t.tracer == nil {
		return
	}
	t.traceMessage(pb.TraceEvent_SEND_RPC, "", "", p, func(evt *pb.TraceEvent) {
		evt.SendRPC = &pb.TraceEvent_SendRPC{SendTo: []byte(p)}
	})
}

func (t *pubsubTracer) DropRPC(rpc *RPC, p peer.ID) {
	if t == nil || t.tracer == nil {
		return
	}
	t.traceMessage(pb.TraceEvent_DROP_RPC, "", "", p, func(evt *pb.TraceEvent) {
		evt.DropRPC = &pb.TraceEvent_DropRPC{SendTo: []byte(p)}
	})
}

func (t *pubsubTracer) Join(topic string) {
	if t == nil {
		return
	}
	if t.score != nil {
		t.score.Join(topic)
	}
	if t.tracer == nil {
		return
	}
	tp := topic
	t.traceMessage(pb.TraceEvent_JOIN, topic, "", "", func(evt *pb.TraceEvent) {
		evt.Join = &pb.TraceEvent_Join{Topic: &tp}
	})
}

func (t *pubsubTracer) Leave(topic string) {
	if t == nil {
		return
	}
	if t.score != nil {
		t.score.Leave(topic)
	}
	if t.tracer == nil {
		return
	}
	tp := topic
	t.traceMessage(pb.TraceEvent_LEAVE, topic, "", "", func(evt *pb.TraceEvent) {
		evt.Leave = &pb.TraceEvent_Leave{Topic: &tp}
	})
}

func (t *pubsubTracer) Graft(p peer.ID, topic string) {
	if t == nil {
		return
	}
	if t.score != nil {
		t.score.Graft(p, topic)
	}
	if t.tracer == nil {
		return
	}
	tp := topic
	t.traceMessage(pb.TraceEvent_GRAFT, topic, "", p, func(evt *pb.TraceEvent) {
		evt.Graft = &pb.TraceEvent_Graft{PeerID: []byte(p), Topic: &tp}
	})
}

func (t *pubsubTracer) Prune(p peer.ID, topic string) {
	if t == nil {
		return
	}
	if t.score != nil {
		t.score.Prune(p, topic)
	}
	if t.tracer == nil {
		return
	}
	tp := topic
	t.traceMessage(pb.TraceEvent_PRUNE, topic, "", p, func(evt *pb.TraceEvent) {
		evt.Prune = &pb.TraceEvent_Prune{PeerID: []byte(p), Topic: &tp}
	})
}
