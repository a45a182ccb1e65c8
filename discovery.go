package pubsub

import (
	"context"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/discovery"
	"github.com/libp2p/go-libp2p/core/peer"
)

// defaultDiscoveryPollInterval is how often we re-advertise and look for
// peers for each topic we're interested in when no other interval is
// configured.
const defaultDiscoveryPollInterval = time.Minute

// discoverOptions configures a discover instance; populated by DiscoverOpt
// functions passed to WithDiscovery.
type discoverOptions struct {
	connFactory func(context.Context, peer.AddrInfo) error
	opts        []discovery.Option
}

func defaultDiscoverOptions() *discoverOptions {
	return &discoverOptions{}
}

// DiscoverOpt configures the discovery subsystem installed by WithDiscovery.
type DiscoverOpt func(*discoverOptions) error

// WithDiscoverConnector overrides how discovered peers get dialed; the
// default dials each discovered peer directly with host.Connect.
func WithDiscoverConnector(connect func(context.Context, peer.AddrInfo) error) DiscoverOpt {
	return func(opts *discoverOptions) error {
		opts.connFactory = connect
		return nil
	}
}

// pubSubDiscovery narrows a discovery.Discovery down to the options bound
// at WithDiscovery time, so callers don't have to repeat them at every
// Advertise/FindPeers call site.
type pubSubDiscovery struct {
	discovery.Discovery
	opts []discovery.Option
}

func (d *pubSubDiscovery) Advertise(ctx context.Context, ns string, opts ...discovery.Option) (time.Duration, error) {
	return d.Discovery.Advertise(ctx, ns, append(opts, d.opts...)...)
}

func (d *pubSubDiscovery) FindPeers(ctx context.Context, ns string, opts ...discovery.Option) (<-chan peer.AddrInfo, error) {
	return d.Discovery.FindPeers(ctx, ns, append(opts, d.opts...)...)
}

// discover is the optional peer-discovery sidecar: advertising our
// subscribed topics and eagerly connecting to peers advertising the same
// topic, outside of the pubsub mesh-maintenance heartbeat itself.
type discover struct {
	p *PubSub

	discovery *pubSubDiscovery
	options   *discoverOptions

	mu        sync.Mutex
	advertise map[string]context.CancelFunc
}

// Start wires the discover sidecar to the owning PubSub. A no-op when no
// discovery mechanism was configured via WithDiscovery.
func (d *discover) Start(p *PubSub) error {
	if d.discovery == nil {
		return nil
	}

	d.p = p
	d.advertise = make(map[string]context.CancelFunc)
	return nil
}

// Advertise begins re-advertising `topic` on the discovery backend and
// connecting to peers discovered through it, until StopAdvertise is called
// or the PubSub context is cancelled.
func (d *discover) Advertise(topic string) {
	if d.discovery == nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.advertise[topic]; ok {
		return
	}

	ctx, cancel := context.WithCancel(d.p.ctx)
	d.advertise[topic] = cancel
	go d.advertiseLoop(ctx, topic)
	go d.discoverLoop(ctx, topic)
}

// StopAdvertise cancels advertising and discovery for a topic we're no
// longer interested in.
func (d *discover) StopAdvertise(topic string) {
	if d.discovery == nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if cancel, ok := d.advertise[topic]; ok {
		cancel()
		delete(d.advertise, topic)
	}
}

func (d *discover) advertiseLoop(ctx context.Context, topic string) {
	next, err := d.discovery.Advertise(ctx, topic)
	if err != nil {
		log.Debugf("bootstrap discovery: error advertising topic %s: %s", topic, err)
		next = defaultDiscoveryPollInterval
	}

	t := time.NewTimer(next)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			next, err = d.discovery.Advertise(ctx, topic)
			if err != nil {
				log.Debugf("bootstrap discovery: error advertising topic %s: %s", topic, err)
				next = defaultDiscoveryPollInterval
			}
			t.Reset(next)
		case <-ctx.Done():
			return
		}
	}
}

func (d *discover) discoverLoop(ctx context.Context, topic string) {
	for {
		peerCh, err := d.discovery.FindPeers(ctx, topic)
		if err != nil {
			log.Debugf("bootstrap discovery: error finding peers for topic %s: %s", topic, err)
			select {
			case <-time.After(defaultDiscoveryPollInterval):
				continue
			case <-ctx.Done():
				return
			}
		}

		channelOpen := true
		for channelOpen {
			select {
			case pi, ok := <-peerCh:
				if !ok {
					channelOpen = false
					break
				}
				if pi.ID != d.p.host.ID() {
					d.connect(ctx, pi)
				}
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-time.After(defaultDiscoveryPollInterval):
		case <-ctx.Done():
			return
		}
	}
}

func (d *discover) connect(ctx context.Context, pi peer.AddrInfo) {
	connect := d.options.connFactory
	if connect == nil {
		connect = func(ctx context.Context, pi peer.AddrInfo) error {
			return d.p.host.Connect(ctx, pi)
		}
	}

	go func() {
		if err := connect(ctx, pi); err != nil {
			log.Debugf("bootstrap discovery: error connecting to peer %s: %s", pi.ID, err)
		}
	}()
}
