package waku

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/protocol"

	pubsub "github.com/waku-org/go-gossipsub"
	"github.com/waku-org/go-gossipsub/pb"
)

// fastIDCacheTTL mirrors the raw router's default duplicate-cache window
// (pubsub.TimeCacheDuration), so a Waku-level duplicate is forgotten no
// sooner than the router itself would forget it.
const fastIDCacheTTL = 120 * time.Second

// Relay wraps the raw gossip router with Waku relay semantics: a fixed
// protocol id, content-addressed message ids computed from the decoded
// WakuMessage envelope, and anonymous (unsigned) messages, all grounded on
// original_source/waku-relay's gossipsub configuration of rust-libp2p's
// gossipsub.
type Relay struct {
	ps *pubsub.PubSub

	fastIDs *fastIDCache

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// NewRelay constructs a Waku relay node: a *pubsub.PubSub running the
// gossipsub v1.1 router restricted to RelayProtocolID, with message ids
// computed per RFC 14 and anonymous signing/validation policy (Waku relay
// carries no libp2p pubsub signature; authenticity, where wanted, is a
// content-topic-level concern above this layer).
func NewRelay(ctx context.Context, h host.Host, opts ...pubsub.Option) (*Relay, error) {
	fullOpts := append([]pubsub.Option{
		pubsub.WithGossipSubProtocols([]protocol.ID{protocol.ID(RelayProtocolID)}),
		pubsub.WithMessageIdFn(messageIDFn),
		pubsub.WithMessageSigning(false),
		pubsub.WithMessageValidationPolicy(pubsub.AnonymousValidator{}),
	}, opts...)

	ps, err := pubsub.NewGossipSub(ctx, h, fullOpts...)
	if err != nil {
		return nil, err
	}

	return &Relay{
		ps:      ps,
		fastIDs: newFastIDCache(fastIDCacheTTL),
		topics:  make(map[string]*pubsub.Topic),
	}, nil
}

// messageIDFn adapts MessageIDFn/FallbackMessageIDFn to the raw router's
// MsgIdFunction signature: it decodes the envelope to compute the RFC 14
// hash, falling back to hashing the raw bytes when decoding fails.
func messageIDFn(pmsg *pb.Message) string {
	var topic string
	if len(pmsg.GetTopicIDs()) > 0 {
		topic = pmsg.GetTopicIDs()[0]
	}

	m, err := DecodeMessage(pmsg.GetData())
	if err != nil {
		return string(FallbackMessageIDFn(pmsg.GetData()))
	}
	return string(MessageIDFn(topic, m))
}

func (r *Relay) topic(pubsubTopic string) (*pubsub.Topic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.topics[pubsubTopic]; ok {
		return t, nil
	}

	t, err := r.ps.Join(pubsubTopic)
	if err != nil {
		return nil, err
	}
	r.topics[pubsubTopic] = t
	return t, nil
}

// Publish encodes msg as a WakuMessage envelope and publishes it on
// pubsubTopic, returning its RFC 14 deterministic message id.
func (r *Relay) Publish(ctx context.Context, pubsubTopic string, msg *Message) ([]byte, error) {
	t, err := r.topic(pubsubTopic)
	if err != nil {
		return nil, err
	}

	data, err := msg.Encode()
	if err != nil {
		return nil, fmt.Errorf("waku: encode message: %w", err)
	}

	id := MessageIDFn(pubsubTopic, msg)
	if err := t.Publish(ctx, data, pubsub.WithSigner(pubsub.NoopSigner{})); err != nil {
		return nil, err
	}
	return id, nil
}

// Subscribe opens a subscription to decoded WakuMessage envelopes on
// pubsubTopic.
func (r *Relay) Subscribe(pubsubTopic string, opts ...pubsub.SubOpt) (*Subscription, error) {
	t, err := r.topic(pubsubTopic)
	if err != nil {
		return nil, err
	}

	sub, err := t.Subscribe(opts...)
	if err != nil {
		return nil, err
	}
	return &Subscription{sub: sub, fastIDs: r.fastIDs, pubsubTopic: pubsubTopic}, nil
}

// Subscription delivers decoded WakuMessage envelopes for a joined topic.
type Subscription struct {
	sub         *pubsub.Subscription
	fastIDs     *fastIDCache
	pubsubTopic string
}

// Next blocks until the next message arrives, decodes it, and returns it
// alongside the raw router message. A fast-id cache lets a caller recognize
// a duplicate by its raw bytes before paying for envelope decode + RFC 14
// hashing on every delivery.
func (s *Subscription) Next(ctx context.Context) (*ReceivedMessage, error) {
	for {
		raw, err := s.sub.Next(ctx)
		if err != nil {
			return nil, err
		}

		fastID := string(FallbackMessageIDFn(raw.GetData()))
		if _, ok := s.fastIDs.Get(fastID); ok {
			continue
		}

		m, err := DecodeMessage(raw.GetData())
		if err != nil {
			continue
		}

		realID := string(MessageIDFn(s.pubsubTopic, m))
		s.fastIDs.Put(fastID, realID)

		return &ReceivedMessage{Message: m, Raw: raw}, nil
	}
}

// Cancel closes the subscription.
func (s *Subscription) Cancel() {
	s.sub.Cancel()
}
