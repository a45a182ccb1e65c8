package pubsub

import (
	"fmt"
	"regexp"

	pb "github.com/waku-org/go-gossipsub/pb"
)

// TopicSubscriptionFilter decides whether to honor an incoming SUBSCRIBE
// announcement for a topic, and how many such subscriptions to accept from
// a single peer per RPC. Grounded on
// original_source/waku-relay/src/gossipsub/subscription_filter.rs (C9).
type TopicSubscriptionFilter interface {
	// CanSubscribe returns whether we should accept a peer's subscription
	// to topic.
	CanSubscribe(topic string) bool
	// FilterIncomingSubscriptions trims subs down to the ones we're
	// willing to honor, erroring only if the peer is abusing us (e.g.
	// announcing more distinct topics in one RPC than allowed).
	FilterIncomingSubscriptions(subs []*pb.RPC_SubOpts, subscribed map[string]bool) ([]*pb.RPC_SubOpts, error)
}

// AllowAllSubscriptionFilter accepts every subscription; the default when
// no filter is configured.
type AllowAllSubscriptionFilter struct{}

func (AllowAllSubscriptionFilter) CanSubscribe(string) bool { return true }

func (f AllowAllSubscriptionFilter) FilterIncomingSubscriptions(subs []*pb.RPC_SubOpts, _ map[string]bool) ([]*pb.RPC_SubOpts, error) {
	return subs, nil
}

// WhitelistSubscriptionFilter only allows subscriptions to a fixed,
// pre-approved set of topics.
type WhitelistSubscriptionFilter map[string]struct{}

func NewWhitelistSubscriptionFilter(topics ...string) WhitelistSubscriptionFilter {
	f := make(WhitelistSubscriptionFilter, len(topics))
	for _, t := range topics {
		f[t] = struct{}{}
	}
	return f
}

func (f WhitelistSubscriptionFilter) CanSubscribe(topic string) bool {
	_, ok := f[topic]
	return ok
}

func (f WhitelistSubscriptionFilter) FilterIncomingSubscriptions(subs []*pb.RPC_SubOpts, subscribed map[string]bool) ([]*pb.RPC_SubOpts, error) {
	return filterSubscriptions(f, subs, subscribed)
}

// MaxCountSubscriptionFilter caps the number of distinct topics a single
// peer may be subscribed to with us at once, optionally delegating the
// topic-level decision to an inner filter.
type MaxCountSubscriptionFilter struct {
	Filter   TopicSubscriptionFilter
	MaxCount int
}

func (f *MaxCountSubscriptionFilter) CanSubscribe(topic string) bool {
	if f.Filter != nil {
		return f.Filter.CanSubscribe(topic)
	}
	return true
}

func (f *MaxCountSubscriptionFilter) FilterIncomingSubscriptions(subs []*pb.RPC_SubOpts, subscribed map[string]bool) ([]*pb.RPC_SubOpts, error) {
	if len(subs)+len(subscribed) > f.MaxCount {
		return nil, fmt.Errorf("pubsub: too many subscriptions: %d exceeds limit of %d", len(subs)+len(subscribed), f.MaxCount)
	}
	return filterSubscriptions(f, subs, subscribed)
}

// CombinedSubscriptionFilters requires every inner filter to allow a topic.
type CombinedSubscriptionFilters []TopicSubscriptionFilter

func (f CombinedSubscriptionFilters) CanSubscribe(topic string) bool {
	for _, inner := range f {
		if !inner.CanSubscribe(topic) {
			return false
		}
	}
	return true
}

func (f CombinedSubscriptionFilters) FilterIncomingSubscriptions(subs []*pb.RPC_SubOpts, subscribed map[string]bool) ([]*pb.RPC_SubOpts, error) {
	return filterSubscriptions(f, subs, subscribed)
}

// CallbackSubscriptionFilter adapts a plain function to TopicSubscriptionFilter.
type CallbackSubscriptionFilter func(topic string) bool

func (f CallbackSubscriptionFilter) CanSubscribe(topic string) bool { return f(topic) }

func (f CallbackSubscriptionFilter) FilterIncomingSubscriptions(subs []*pb.RPC_SubOpts, subscribed map[string]bool) ([]*pb.RPC_SubOpts, error) {
	return filterSubscriptions(f, subs, subscribed)
}

// RegexSubscriptionFilter allows any topic matching a regular expression.
// Grounded on subscription_filter.rs's regex-based namespacing filter;
// there is no ecosystem regex engine in the reference pack that improves
// on the standard library's regexp, so this one component uses it
// directly (see DESIGN.md).
type RegexSubscriptionFilter struct {
	Regex *regexp.Regexp
}

func NewRegexSubscriptionFilter(expr string) (*RegexSubscriptionFilter, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	return &RegexSubscriptionFilter{Regex: re}, nil
}

func (f *RegexSubscriptionFilter) CanSubscribe(topic string) bool {
	return f.Regex.MatchString(topic)
}

func (f *RegexSubscriptionFilter) FilterIncomingSubscriptions(subs []*pb.RPC_SubOpts, subscribed map[string]bool) ([]*pb.RPC_SubOpts, error) {
	return filterSubscriptions(f, subs, subscribed)
}

func filterSubscriptions(f TopicSubscriptionFilter, subs []*pb.RPC_SubOpts, _ map[string]bool) ([]*pb.RPC_SubOpts, error) {
	accepted := subs[:0]
	for _, sub := range subs {
		if f.CanSubscribe(sub.GetTopicid()) {
			accepted = append(accepted, sub)
		}
	}
	return accepted, nil
}
