package pubsub

import (
	"strconv"

	"github.com/mr-tron/base58"

	pb "github.com/waku-org/go-gossipsub/pb"
)

// SimpleMsgIdFn is the default raw-router message id scheme: base58(source)
// concatenated with the decimal encoding of the sequence number. Grounded on
// original_source/waku-relay/src/gossipsub/message_id.rs.
func SimpleMsgIdFn(pmsg *pb.Message) string {
	return base58.Encode(pmsg.GetFrom()) + seqnoToDecimal(pmsg.GetSeqno())
}

func seqnoToDecimal(seqno []byte) string {
	var n uint64
	for _, b := range seqno {
		n = (n << 8) | uint64(b)
	}
	return strconv.FormatUint(n, 10)
}
