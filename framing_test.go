package pubsub

import (
	"testing"

	pb "github.com/waku-org/go-gossipsub/pb"
)

func TestFragmentRPCUnderLimitPassesThrough(t *testing.T) {
	rpc := rpcWithMessages(&pb.Message{Data: []byte("small")})

	frames, err := fragmentRPC(rpc, 1<<20)
	if err != nil {
		t.Fatalf("fragmentRPC: %s", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if frames[0] != rpc {
		t.Fatalf("expected the original RPC to be returned unchanged")
	}
}

func TestFragmentRPCSplitsOversizedPublish(t *testing.T) {
	var msgs []*pb.Message
	for i := 0; i < 20; i++ {
		msgs = append(msgs, &pb.Message{
			From: []byte("peer"),
			Data: make([]byte, 100),
		})
	}
	rpc := rpcWithMessages(msgs...)

	frames, err := fragmentRPC(rpc, 512)
	if err != nil {
		t.Fatalf("fragmentRPC: %s", err)
	}
	if len(frames) < 2 {
		t.Fatalf("expected fragmentation into multiple frames, got %d", len(frames))
	}

	var total int
	for _, f := range frames {
		if f.RPC.Size() > 512 {
			t.Fatalf("fragment exceeds max size: %d", f.RPC.Size())
		}
		total += len(f.RPC.Publish)
	}
	if total != len(msgs) {
		t.Fatalf("expected %d total messages across fragments, got %d", len(msgs), total)
	}
}

func TestFragmentRPCRejectsUnfragmentableItem(t *testing.T) {
	rpc := rpcWithMessages(&pb.Message{Data: make([]byte, 1000)})

	_, err := fragmentRPC(rpc, 10)
	if err == nil {
		t.Fatal("expected an error for a message too large to fragment")
	}
}

func TestFragmentRPCSplitsControlMessages(t *testing.T) {
	var ihave []*pb.ControlIHave
	for i := 0; i < 20; i++ {
		ihave = append(ihave, &pb.ControlIHave{
			TopicID:    strPtrForTest("topic"),
			MessageIDs: []string{"0123456789abcdef0123456789abcdef"},
		})
	}
	rpc := rpcWithControl(nil, ihave, nil, nil, nil)

	frames, err := fragmentRPC(rpc, 256)
	if err != nil {
		t.Fatalf("fragmentRPC: %s", err)
	}
	if len(frames) < 2 {
		t.Fatalf("expected fragmentation into multiple frames, got %d", len(frames))
	}

	var total int
	for _, f := range frames {
		if f.RPC.Control != nil {
			total += len(f.RPC.Control.Ihave)
		}
	}
	if total != len(ihave) {
		t.Fatalf("expected %d total ihave entries across fragments, got %d", len(ihave), total)
	}
}

func strPtrForTest(s string) *string { return &s }
