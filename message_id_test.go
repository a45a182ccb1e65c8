package pubsub

import (
	"context"
	"testing"

	"github.com/mr-tron/base58"

	pb "github.com/waku-org/go-gossipsub/pb"
)

// TestSimpleMsgIdFnFormat pins the raw router's default message id scheme:
// base58(source) concatenated with the decimal encoding of the sequence
// number.
func TestSimpleMsgIdFnFormat(t *testing.T) {
	from := []byte("QmTestPeerID")
	seqno := []byte{0x01, 0x02, 0x03}

	got := SimpleMsgIdFn(&pb.Message{From: from, Seqno: seqno})
	want := base58.Encode(from) + "66051" // 0x010203
	if got != want {
		t.Fatalf("SimpleMsgIdFn = %q, want %q", got, want)
	}
}

// TestNewPubSubDefaultsToSimpleMsgIdFn pins that a PubSub constructed
// without WithMessageIdFn computes ids the spec-mandated way rather than
// through the raw byte-concatenation DefaultMsgIdFn alternative.
func TestNewPubSubDefaultsToSimpleMsgIdFn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hosts := getNetHosts(t, ctx, 1)
	ps, err := NewGossipSub(ctx, hosts[0],
		WithMessageSigning(false),
		WithStrictSignatureVerification(false),
		WithMessageValidationPolicy(PermissiveValidator{}),
	)
	if err != nil {
		t.Fatal(err)
	}

	msg := &pb.Message{From: []byte("QmAnotherPeer"), Seqno: []byte{0x2a}}
	got := ps.msgID(msg)
	want := SimpleMsgIdFn(msg)
	if got != want {
		t.Fatalf("PubSub.msgID = %q, want %q (SimpleMsgIdFn)", got, want)
	}

	if got == DefaultMsgIdFn(msg) {
		t.Fatalf("default msgID unexpectedly matches DefaultMsgIdFn's raw concatenation scheme")
	}
}
