// Package waku implements a thin relay adapter over the raw gossip router:
// a WakuMessage envelope, the RFC 14 deterministic content-addressed
// message id, and a Relay type that wires both into a *pubsub.PubSub
// configured for anonymous Waku relay semantics.
package waku

import (
	pubsub "github.com/waku-org/go-gossipsub"
	"github.com/waku-org/go-gossipsub/pb"
)

// RelayProtocolID is the libp2p protocol id Waku relay speaks; distinct
// from the raw router's GossipSubID_v10/GossipSubID_v11 so a Waku deployment never accidentally
// joins a generic gossipsub swarm.
const RelayProtocolID = "/vac/waku/relay/2.0.0"

// Message is the WakuMessage envelope (RFC 14/WAKU2-MESSAGE), carried as
// the raw router's opaque payload.
type Message struct {
	Payload        []byte
	ContentTopic   string
	Version        uint32
	Timestamp      int64
	HasTimestamp   bool
	Meta           []byte
	Ephemeral      bool
	RateLimitProof *RateLimitProof
}

// RateLimitProof is the 17/WAKU-RLN-RELAY proof attached to rate-limited
// messages.
type RateLimitProof struct {
	Proof      []byte
	MerkleRoot []byte
	Epoch      []byte
	ShareX     []byte
	ShareY     []byte
	Nullifier  []byte
}

// Encode marshals the envelope to its protobuf wire form.
func (m *Message) Encode() ([]byte, error) {
	return m.toProto().Marshal()
}

// DecodeMessage unmarshals a WakuMessage envelope from its protobuf wire
// form.
func DecodeMessage(data []byte) (*Message, error) {
	var wm pb.WakuMessage
	if err := wm.Unmarshal(data); err != nil {
		return nil, err
	}
	return fromProto(&wm), nil
}

func (m *Message) toProto() *pb.WakuMessage {
	wm := &pb.WakuMessage{
		Payload:      m.Payload,
		ContentTopic: m.ContentTopic,
		Version:      m.Version,
		Meta:         m.Meta,
		Ephemeral:    m.Ephemeral,
	}
	if m.HasTimestamp {
		ts := m.Timestamp
		wm.Timestamp = &ts
	}
	if m.RateLimitProof != nil {
		wm.RateLimitProof = &pb.RateLimitProof{
			Proof:      m.RateLimitProof.Proof,
			MerkleRoot: m.RateLimitProof.MerkleRoot,
			Epoch:      m.RateLimitProof.Epoch,
			ShareX:     m.RateLimitProof.ShareX,
			ShareY:     m.RateLimitProof.ShareY,
			Nullifier:  m.RateLimitProof.Nullifier,
		}
	}
	return wm
}

func fromProto(wm *pb.WakuMessage) *Message {
	m := &Message{
		Payload:      wm.GetPayload(),
		ContentTopic: wm.GetContentTopic(),
		Version:      wm.GetVersion(),
		Meta:         wm.GetMeta(),
		Ephemeral:    wm.GetEphemeral(),
	}
	if wm.Timestamp != nil {
		m.HasTimestamp = true
		m.Timestamp = wm.GetTimestamp()
	}
	if wm.RateLimitProof != nil {
		m.RateLimitProof = &RateLimitProof{
			Proof:      wm.RateLimitProof.GetProof(),
			MerkleRoot: wm.RateLimitProof.GetMerkleRoot(),
			Epoch:      wm.RateLimitProof.GetEpoch(),
			ShareX:     wm.RateLimitProof.GetShareX(),
			ShareY:     wm.RateLimitProof.GetShareY(),
			Nullifier:  wm.RateLimitProof.GetNullifier(),
		}
	}
	return m
}

// ReceivedMessage pairs a decoded envelope with the underlying
// *pubsub.Message, for callers that need router-level metadata
// (ReceivedFrom, ValidatorData) alongside the decoded fields.
type ReceivedMessage struct {
	*Message
	Raw *pubsub.Message
}
