package pubsub

import (
	"bufio"
	"context"
	"io"

	ggio "github.com/gogo/protobuf/io"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"

	pb "github.com/waku-org/go-gossipsub/pb"
)

// rpcWithSubs wraps a set of subscription options in an RPC envelope; used
// for both the initial hello packet and incremental (un)subscribe
// announcements.
func rpcWithSubs(subs ...*pb.RPC_SubOpts) *RPC {
	return &RPC{
		RPC: pb.RPC{
			Subscriptions: subs,
		},
	}
}

// rpcWithMessages wraps a set of published messages in an RPC envelope.
func rpcWithMessages(msgs ...*pb.Message) *RPC {
	return &RPC{RPC: pb.RPC{Publish: msgs}}
}

// rpcWithControl wraps a control message, optionally alongside payload
// messages, in an RPC envelope. Used by the router to attach GRAFT/PRUNE/
// IHAVE/IWANT to an outgoing frame.
func rpcWithControl(msgs []*pb.Message,
	ihave []*pb.ControlIHave,
	iwant []*pb.ControlIWant,
	graft []*pb.ControlGraft,
	prune []*pb.ControlPrune) *RPC {
	return &RPC{
		RPC: pb.RPC{
			Publish: msgs,
			Control: &pb.ControlMessage{
				Ihave: ihave,
				Iwant: iwant,
				Graft: graft,
				Prune: prune,
			},
		},
	}
}

// getHelloPacket builds the subscription announcement sent to a peer as
// soon as we open a stream to them: tells them everything we're currently
// subscribed to.
func (p *PubSub) getHelloPacket() *RPC {
	var subs []*pb.RPC_SubOpts

	for t := range p.mySubs {
		as := true
		subs = append(subs, &pb.RPC_SubOpts{
			Topicid:   topicStrPtr(t),
			Subscribe: &as,
		})
	}

	return rpcWithSubs(subs...)
}

func topicStrPtr(t string) *string {
	s := t
	return &s
}

// handleNewStream reads RPCs off an inbound stream from a peer and feeds
// them to the main event loop until the stream closes or errors.
func (p *PubSub) handleNewStream(s network.Stream) {
	peer := s.Conn().RemotePeer()

	r := ggio.NewDelimitedReader(s, p.maxMessageSize)
	for {
		rpc := new(RPC)
		err := r.ReadMsg(&rpc.RPC)
		if err != nil {
			if err != io.EOF {
				s.Reset()
			} else {
				s.Close()
			}

			select {
			case p.peerDead <- peer:
			case <-p.ctx.Done():
			}
			return
		}

		rpc.from = peer
		select {
		case p.incoming <- rpc:
		case <-p.ctx.Done():
			s.Reset()
			return
		}
	}
}

// handleNewPeer drains a peer's outbound queue onto a freshly opened
// stream, opening it once and reporting the peer through newPeerError if
// the stream cannot be opened.
func (p *PubSub) handleNewPeer(ctx context.Context, pid peer.ID, outgoing chan *RPC) {
	s, err := p.host.NewStream(p.ctx, pid, p.rt.Protocols()...)
	if err != nil {
		log.Debugf("opening new stream to peer: %s failed: %s", pid, err)

		select {
		case p.newPeerError <- pid:
		case <-ctx.Done():
		}
		return
	}

	go p.handleSendingMessages(ctx, s, outgoing)
	go p.handlePeerDead(s)

	select {
	case p.newPeerStream <- s:
	case <-ctx.Done():
	}
}

// handlePeerDead watches a stream for the remote side closing it and
// reports the peer as dead to the main loop.
func (p *PubSub) handlePeerDead(s network.Stream) {
	pid := s.Conn().RemotePeer()

	_, err := s.Read(make([]byte, 1))
	if err == nil {
		log.Debugf("unexpected message from %s", pid)
	}

	s.Reset()
	select {
	case p.peerDead <- pid:
	case <-p.ctx.Done():
	}
}

// handleSendingMessages writes whatever arrives on outgoing to the stream
// until the channel is closed or the context is cancelled.
func (p *PubSub) handleSendingMessages(ctx context.Context, s network.Stream, outgoing chan *RPC) {
	bufw := bufio.NewWriter(s)
	wc := ggio.NewDelimitedWriter(bufw)

	writeRpc := func(rpc *RPC) error {
		err := wc.WriteMsg(&rpc.RPC)
		if err != nil {
			return err
		}
		return bufw.Flush()
	}

	defer s.Close()
	for {
		select {
		case rpc, ok := <-outgoing:
			if !ok {
				return
			}

			frames, err := fragmentRPC(rpc, p.maxMessageSize)
			if err != nil {
				log.Debugf("dropping oversized outbound RPC to %s: %s", s.Conn().RemotePeer(), err)
				continue
			}

			for _, frame := range frames {
				if err := writeRpc(frame); err != nil {
					s.Reset()
					return
				}
			}

		case <-ctx.Done():
			return
		}
	}
}
