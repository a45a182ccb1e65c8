package pubsub

import (
	"context"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"

	pb "github.com/waku-org/go-gossipsub/pb"
)

// Topic is a handle to a joined pubsub topic (C1). Only one Topic handle
// should exist per topic name within a given PubSub; use PubSub.Join to
// obtain one.
type Topic struct {
	p     *PubSub
	topic string

	evtHandlerMu sync.RWMutex
	evtHandlers  map[*TopicEventHandler]struct{}

	mux sync.RWMutex
	// closed marks the Topic closed; set by Close.
	closed bool
}

// String returns the topic name.
func (t *Topic) String() string {
	return t.topic
}

// PeerEventType enumerates the two notifications a TopicEventHandler
// receives.
type PeerEventType int

const (
	PeerJoin PeerEventType = iota
	PeerLeave
)

// PeerEvent describes a peer joining or leaving the topic mesh, as seen
// through subscription announcements (not mesh GRAFT/PRUNE, which is an
// internal router concern).
type PeerEvent struct {
	Type PeerEventType
	Peer peer.ID
}

// TopicEventHandler delivers PeerJoin/PeerLeave notifications for a topic.
type TopicEventHandler struct {
	topic *Topic

	evtLock sync.Mutex
	evtLog  map[peer.ID]EventType
	evtQ    chan PeerEvent

	done chan struct{}
}

// EventType mirrors PeerEventType but is exported as a stable small enum
// for handlers that care only about the most recent state of a peer.
type EventType int

const (
	PeerJoined EventType = iota
	PeerLeft
)

// TopicEventHandlerOpt configures a TopicEventHandler.
type TopicEventHandlerOpt func(t *TopicEventHandler) error

// EventHandler creates a handle that receives join/leave notifications for
// peers of this topic.
func (t *Topic) EventHandler(opts ...TopicEventHandlerOpt) (*TopicEventHandler, error) {
	h := &TopicEventHandler{
		topic:  t,
		evtLog: make(map[peer.ID]EventType),
		evtQ:   make(chan PeerEvent, 32),
		done:   make(chan struct{}),
	}

	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, err
		}
	}

	t.evtHandlerMu.Lock()
	t.evtHandlers[h] = struct{}{}
	t.evtHandlerMu.Unlock()

	for _, pid := range t.p.ListPeers(t.topic) {
		h.evtLog[pid] = PeerJoined
	}

	return h, nil
}

// sendNotification fans a PeerEvent out to every registered
// TopicEventHandler for this topic. Only called from processLoop.
func (t *Topic) sendNotification(evt PeerEvent) {
	t.evtHandlerMu.RLock()
	defer t.evtHandlerMu.RUnlock()

	for h := range t.evtHandlers {
		h.sendNotification(evt)
	}
}

func (h *TopicEventHandler) sendNotification(evt PeerEvent) {
	h.evtLock.Lock()
	et := PeerJoined
	if evt.Type == PeerLeave {
		et = PeerLeft
	}
	if h.evtLog[evt.Peer] == et {
		h.evtLock.Unlock()
		return
	}
	h.evtLog[evt.Peer] = et
	h.evtLock.Unlock()

	select {
	case h.evtQ <- evt:
	default:
		log.Debugf("dropping topic event for peer %s; event handler too slow", evt.Peer)
	}
}

// Next blocks until a peer join/leave event is available, the handler is
// cancelled, or ctx is done.
func (h *TopicEventHandler) Next(ctx context.Context) (PeerEvent, error) {
	select {
	case evt := <-h.evtQ:
		return evt, nil
	case <-h.done:
		return PeerEvent{}, fmt.Errorf("topic event handler cancelled")
	case <-ctx.Done():
		return PeerEvent{}, ctx.Err()
	}
}

// Cancel detaches the handler from its topic.
func (h *TopicEventHandler) Cancel() {
	t := h.topic
	t.evtHandlerMu.Lock()
	delete(t.evtHandlers, h)
	t.evtHandlerMu.Unlock()
	close(h.done)
}

// PublishOptions bundles the per-call options accepted by Topic.Publish.
type PublishOptions struct {
	customValidators []Validator
	transform        func([]byte) ([]byte, error)
	readiness        func(topic string) bool
	signer           MessageSigner
	local            bool
}

// PubOpt configures an individual Topic.Publish call.
type PubOpt func(*PublishOptions) error

// WithReadiness gates publication on a readiness check (e.g. enough mesh
// peers) before attempting to send.
func WithReadiness(r func(topic string) bool) PubOpt {
	return func(opts *PublishOptions) error {
		opts.readiness = r
		return nil
	}
}

// WithLocalPublication marks a message as locally originated even if the
// router would otherwise treat it as unauthored; currently informational,
// kept for symmetry with WithReadiness.
func WithLocalPublication(local bool) PubOpt {
	return func(opts *PublishOptions) error {
		opts.local = local
		return nil
	}
}

// WithSigner overrides the MessageSigner used for this single publish,
// regardless of the PubSub-wide signing configuration. This is how C4's
// four signer policies (Anonymous/RandomAuthor/AuthorOnly/KeyedSigner) are
// selected per call.
func WithSigner(s MessageSigner) PubOpt {
	return func(opts *PublishOptions) error {
		opts.signer = s
		return nil
	}
}

// WithTransform registers a function applied to the payload before signing
// and framing, e.g. compression or envelope wrapping. A transform error
// aborts the publish with ErrTransformFailed rather than sending partially
// transformed data.
func WithTransform(fn func([]byte) ([]byte, error)) PubOpt {
	return func(opts *PublishOptions) error {
		opts.transform = fn
		return nil
	}
}

// PublishError classifies why Topic.Publish failed to hand a message off
// to the router (spec C1/operation Publish).
type PublishError struct {
	Reason string
}

func (e *PublishError) Error() string { return "publish error: " + e.Reason }

var (
	// ErrTopicClosed is returned when publishing to or subscribing on a
	// topic whose handle has already been closed.
	ErrTopicClosed = fmt.Errorf("this Topic is closed, try using topic, err := ps.Join() to re-join")
	// ErrMessageTooLarge is returned when a message exceeds maxMessageSize.
	ErrMessageTooLarge = &PublishError{Reason: "message too large"}
	// ErrSigningRequiredNoKey is returned when signing is required but no
	// private key is available for the configured author.
	ErrSigningRequiredNoKey = &PublishError{Reason: "signing required but no private key available"}
	// ErrTransformFailed is returned when a registered transform fails to
	// apply to the payload before signing.
	ErrTransformFailed = &PublishError{Reason: "outbound transform failed"}
)

// Publish publishes data to topic.
func (t *Topic) Publish(ctx context.Context, data []byte, opts ...PubOpt) error {
	t.mux.RLock()
	closed := t.closed
	t.mux.RUnlock()
	if closed {
		return ErrTopicClosed
	}

	pub := &PublishOptions{}
	for _, opt := range opts {
		if err := opt(pub); err != nil {
			return err
		}
	}

	if pub.transform != nil {
		transformed, err := pub.transform(data)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrTransformFailed, err)
		}
		data = transformed
	}

	if len(data) > t.p.maxMessageSize {
		return ErrMessageTooLarge
	}

	if pub.readiness != nil && !pub.readiness(t.topic) {
		return fmt.Errorf("pubsub: not ready to publish to topic %s", t.topic)
	}

	m := &pb.Message{
		Data:     data,
		TopicIDs: []string{t.topic},
	}

	m.Seqno = t.p.nextSeqno()

	signer := pub.signer
	if signer == nil {
		signer = t.p.messageSigner()
	}
	if err := signer.Sign(t.p.signID, t.p.signKey, m); err != nil {
		return err
	}

	return t.p.publishMessageValue(ctx, &Message{Message: m})
}

// publishMessageValue hands a fully-constructed message to the main loop
// for validation and forwarding.
func (p *PubSub) publishMessageValue(ctx context.Context, msg *Message) error {
	if msg.ReceivedFrom == "" {
		msg.ReceivedFrom = p.host.ID()
	}

	select {
	case p.publish <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

// messageSigner derives the default MessageSigner from the PubSub-wide
// signing configuration set by WithMessageSigning/WithStrictSignatureVerification.
func (p *PubSub) messageSigner() MessageSigner {
	if p.signKey != nil {
		return NewKeyedSigner()
	}
	return NewAuthorOnlySigner()
}

// Subscribe returns a new Subscription for the topic, registering it with
// the main loop.
func (t *Topic) Subscribe(opts ...SubOpt) (*Subscription, error) {
	t.mux.RLock()
	closed := t.closed
	t.mux.RUnlock()
	if closed {
		return nil, ErrTopicClosed
	}

	sub := &Subscription{
		topic: t.topic,
		ch:    make(chan *Message, 32),
		p:     t.p,
	}

	for _, opt := range opts {
		if err := opt(sub); err != nil {
			return nil, err
		}
	}

	out := make(chan *Subscription, 1)
	select {
	case t.p.addSub <- &addSubReq{sub: sub, resp: out}:
	case <-t.p.ctx.Done():
		return nil, t.p.ctx.Err()
	}

	return <-out, nil
}

// Close closes the Topic handle, failing if there are any active event
// handlers or subscriptions.
func (t *Topic) Close() error {
	t.mux.Lock()
	t.closed = true
	t.mux.Unlock()

	req := &rmTopicReq{topic: t, resp: make(chan error, 1)}
	select {
	case t.p.rmTopic <- req:
	case <-t.p.ctx.Done():
		return t.p.ctx.Err()
	}
	return <-req.resp
}

// ListPeers lists the peers we know are subscribed to this topic.
func (t *Topic) ListPeers() []peer.ID {
	return t.p.ListPeers(t.topic)
}

// Subscription is a reference to a particular topic subscription (C1).
type Subscription struct {
	topic string
	ch    chan *Message
	p     *PubSub

	cancelCh chan<- *Subscription
	err      error

	closeOnce sync.Once
}

// Topic returns the topic this subscription is for.
func (s *Subscription) Topic() string { return s.topic }

// Next blocks until a new message is available or the subscription is
// cancelled / ctx is done.
func (s *Subscription) Next(ctx context.Context) (*Message, error) {
	select {
	case msg, ok := <-s.ch:
		if !ok {
			return nil, s.err
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel closes the subscription; any further messages addressed to it are
// dropped.
func (s *Subscription) Cancel() {
	s.closeOnce.Do(func() {
		select {
		case s.cancelCh <- s:
		case <-s.p.ctx.Done():
		}
	})
}

func (s *Subscription) close() {
	close(s.ch)
}
