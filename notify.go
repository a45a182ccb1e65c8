package pubsub

import (
	"github.com/libp2p/go-libp2p/core/network"
	ma "github.com/multiformats/go-multiaddr"
)

var _ network.Notifiee = (*PubSubNotif)(nil)

// PubSubNotif adapts *PubSub to network.Notifiee: it's the channel by
// which the libp2p swarm tells us about new connections so we can feed them
// into processLoop. Disconnected does nothing; dead peers are detected by
// the stream handlers in comm.go.
type PubSubNotif PubSub

func (p *PubSubNotif) Connected(n network.Network, c network.Conn) {
	// ignore transient (relayed, unconfirmed) connections until they're
	// promoted, mirroring libp2p's own dial-back upgrade semantics.
	if c.Stat().Limited {
		return
	}

	select {
	case p.newPeers <- c.RemotePeer():
	case <-p.ctx.Done():
	}
}

func (p *PubSubNotif) Disconnected(n network.Network, c network.Conn) {
}

func (p *PubSubNotif) Listen(n network.Network, _ ma.Multiaddr) {}

func (p *PubSubNotif) ListenClose(n network.Network, _ ma.Multiaddr) {}
