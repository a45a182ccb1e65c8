package pubsub

import (
	"context"
	"testing"

	pb "github.com/waku-org/go-gossipsub/pb"
)

type rejectCapture struct {
	reasons []string
}

func (c *rejectCapture) Trace(evt *pb.TraceEvent) {
	if evt.GetType() == pb.TraceEvent_REJECT_MESSAGE && evt.RejectMessage != nil {
		c.reasons = append(c.reasons, evt.RejectMessage.GetReason())
	}
}

func (c *rejectCapture) contains(reason string) bool {
	for _, r := range c.reasons {
		if r == reason {
			return true
		}
	}
	return false
}

// TestPublishSelfOriginSkipsPublishedIDsWhenAuthorExternal pins the
// published_message_ids open question: with allow_self_origin=true and a
// signer that stamps our own peer id as From, pushMsg must skip tracking
// the id for later self-origin rejection. A loop-back copy of such a
// message is still caught, but by the pre-existing identity check (From
// equals our id yet it arrived from elsewhere), not by an id-cache entry.
func TestPublishSelfOriginSkipsPublishedIDsWhenAuthorExternal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hosts := getNetHosts(t, ctx, 1)
	ps, err := NewGossipSub(ctx, hosts[0],
		WithAllowSelfOrigin(true),
		WithMessageSigning(false),
		WithStrictSignatureVerification(false),
		WithMessageValidationPolicy(PermissiveValidator{}),
	)
	if err != nil {
		t.Fatal(err)
	}

	self := hosts[0].ID()
	identMsg := &Message{
		Message: &pb.Message{
			Data:     []byte("identified"),
			TopicIDs: []string{"selforigin"},
			From:     []byte(self),
			Seqno:    []byte{1},
		},
		ReceivedFrom: self,
	}
	id := ps.msgID(identMsg.Message)
	ps.pushMsg(identMsg)

	if ps.selfPublished(id) {
		t.Fatal("expected published_message_ids insert to be skipped when From identifies us and allow_self_origin is true")
	}
}

// TestPublishSelfOriginTracksAnonymousPublish pins the complementary case:
// when the signer omits an identifiable author, pushMsg tracks the
// published id regardless of allow_self_origin, since nothing else would
// ever recognize a loop-back copy of it as our own.
func TestPublishSelfOriginTracksAnonymousPublish(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hosts := getNetHosts(t, ctx, 1)
	ps, err := NewGossipSub(ctx, hosts[0],
		WithAllowSelfOrigin(true),
		WithMessageSigning(false),
		WithStrictSignatureVerification(false),
		WithMessageValidationPolicy(PermissiveValidator{}),
	)
	if err != nil {
		t.Fatal(err)
	}

	self := hosts[0].ID()
	anonMsg := &Message{
		Message: &pb.Message{
			Data:     []byte("anonymous"),
			TopicIDs: []string{"selforigin-anon"},
			Seqno:    []byte{2},
		},
		ReceivedFrom: self,
	}
	id := ps.msgID(anonMsg.Message)
	ps.pushMsg(anonMsg)

	if !ps.selfPublished(id) {
		t.Fatal("expected published_message_ids to track an anonymously-authored self publish")
	}
}

// TestPublishSelfOriginRejectsTrackedIdFromAnotherPeer exercises the
// rejection gate published_message_ids exists for: once an id is tracked
// as self-published, a message carrying that id arriving from a different
// peer (one the duplicate cache does not hold) is rejected as self-origin
// rather than accepted.
func TestPublishSelfOriginRejectsTrackedIdFromAnotherPeer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hosts := getNetHosts(t, ctx, 2)
	capture := &rejectCapture{}
	ps, err := NewGossipSub(ctx, hosts[0],
		WithMessageSigning(false),
		WithStrictSignatureVerification(false),
		WithMessageValidationPolicy(PermissiveValidator{}),
		WithEventTracer(capture),
	)
	if err != nil {
		t.Fatal(err)
	}

	other := hosts[1].ID()
	msg := &pb.Message{
		Data:     []byte("anonymous"),
		TopicIDs: []string{"selforigin-replay"},
		Seqno:    []byte{3},
	}
	id := ps.msgID(msg)
	ps.trackPublished(id)

	ps.pushMsg(&Message{Message: msg, ReceivedFrom: other})

	if !capture.contains(rejectSelfOrigin) {
		t.Fatal("expected a message carrying a tracked published id from another peer to be rejected as self-origin")
	}
}
