package pubsub

import (
	"fmt"

	pb "github.com/waku-org/go-gossipsub/pb"
)

// fragmentOverheadFactor is the slack budgeted per item for its length-prefix
// and protobuf framing bytes when deciding whether adding it would overflow
// maxSize; mirrors fragmentation.rs's 5% allowance.
const fragmentOverheadFactor = 1.05

func marshalLen(m interface{ Marshal() ([]byte, error) }) int {
	b, err := m.Marshal()
	if err != nil {
		return 0
	}
	return len(b)
}

// fragmentRPC splits rpc into one or more RPCs that each, once marshalled,
// should fit within maxSize. If rpc already fits, it is returned unchanged
// as a single-element slice. An individual message/control item that alone
// exceeds maxSize cannot be fragmented further and is reported as an error,
// since every message admitted to the router has already been size-checked
// on the way in.
//
// Grounded on original_source/waku-relay/src/gossipsub/rpc/fragmentation.rs,
// adapted from prost's encoded_len() to this package's pb.*.Size()/Marshal().
func fragmentRPC(rpc *RPC, maxSize int) ([]*RPC, error) {
	if rpc.RPC.Size() < maxSize {
		return []*RPC{rpc}, nil
	}

	rpcs := []*pb.RPC{{}}

	nonEmpty := func(r *pb.RPC) bool {
		return len(r.Publish) > 0 || len(r.Subscriptions) > 0 || r.Control != nil
	}

	oversize := 0
	ensureRoom := func(itemSize int) {
		if itemSize+2 > maxSize && oversize == 0 {
			oversize = itemSize
		}
		last := rpcs[len(rpcs)-1]
		if nonEmpty(last) && last.Size()+int(float64(itemSize)*fragmentOverheadFactor) > maxSize {
			rpcs = append(rpcs, &pb.RPC{})
		}
	}

	for _, m := range rpc.RPC.Publish {
		size := m.Size()
		if size+2 > maxSize {
			return nil, fmt.Errorf("pubsub: message too large to fragment (%d bytes > %d byte limit)", size, maxSize)
		}
		ensureRoom(size)
		last := rpcs[len(rpcs)-1]
		last.Publish = append(last.Publish, m)
	}

	for _, s := range rpc.RPC.Subscriptions {
		size := marshalLen(s)
		if size+2 > maxSize {
			return nil, fmt.Errorf("pubsub: subscription announcement too large to fragment (%d bytes > %d byte limit)", size, maxSize)
		}
		ensureRoom(size)
		last := rpcs[len(rpcs)-1]
		last.Subscriptions = append(last.Subscriptions, s)
	}

	if ctl := rpc.RPC.Control; ctl != nil {
		if ctl.Size()+2 > maxSize {
			for _, ihave := range ctl.Ihave {
				ensureRoom(marshalLen(ihave))
				last := rpcs[len(rpcs)-1]
				if last.Control == nil {
					last.Control = &pb.ControlMessage{}
				}
				last.Control.Ihave = append(last.Control.Ihave, ihave)
			}
			for _, iwant := range ctl.Iwant {
				ensureRoom(marshalLen(iwant))
				last := rpcs[len(rpcs)-1]
				if last.Control == nil {
					last.Control = &pb.ControlMessage{}
				}
				last.Control.Iwant = append(last.Control.Iwant, iwant)
			}
			for _, graft := range ctl.Graft {
				ensureRoom(marshalLen(graft))
				last := rpcs[len(rpcs)-1]
				if last.Control == nil {
					last.Control = &pb.ControlMessage{}
				}
				last.Control.Graft = append(last.Control.Graft, graft)
			}
			for _, prune := range ctl.Prune {
				ensureRoom(marshalLen(prune))
				last := rpcs[len(rpcs)-1]
				if last.Control == nil {
					last.Control = &pb.ControlMessage{}
				}
				last.Control.Prune = append(last.Control.Prune, prune)
			}
		} else {
			ensureRoom(ctl.Size())
			rpcs[len(rpcs)-1].Control = ctl
		}
	}
	if oversize > 0 {
		return nil, fmt.Errorf("pubsub: control message too large to fragment (%d bytes > %d byte limit)", oversize, maxSize)
	}

	out := make([]*RPC, len(rpcs))
	for i, r := range rpcs {
		out[i] = &RPC{RPC: *r, from: rpc.from}
	}
	return out, nil
}
