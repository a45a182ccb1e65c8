package pb

// TraceEvent is the payload delivered to an EventTracer. Unlike the RPC wire
// types, it never crosses the network in this repo, so it carries plain Go
// getters without a wire codec.
type TraceEvent struct {
	Type          *TraceEvent_Type
	PeerID        []byte
	Timestamp     *int64
	PublishMessage *TraceEvent_PublishMessage
	RejectMessage  *TraceEvent_RejectMessage
	DuplicateMessage *TraceEvent_DuplicateMessage
	DeliverMessage *TraceEvent_DeliverMessage
	AddPeer       *TraceEvent_AddPeer
	RemovePeer    *TraceEvent_RemovePeer
	RecvRPC       *TraceEvent_RecvRPC
	SendRPC       *TraceEvent_SendRPC
	DropRPC       *TraceEvent_DropRPC
	Join          *TraceEvent_Join
	Leave         *TraceEvent_Leave
	Graft         *TraceEvent_Graft
	Prune         *TraceEvent_Prune
}

func (m *TraceEvent) GetType() TraceEvent_Type {
	if m != nil && m.Type != nil {
		return *m.Type
	}
	return TraceEvent_PUBLISH_MESSAGE
}

func (m *TraceEvent) GetPeerID() []byte {
	if m != nil {
		return m.PeerID
	}
	return nil
}

func (m *TraceEvent) GetTimestamp() int64 {
	if m != nil && m.Timestamp != nil {
		return *m.Timestamp
	}
	return 0
}

type TraceEvent_Type int32

const (
	TraceEvent_PUBLISH_MESSAGE   TraceEvent_Type = 0
	TraceEvent_REJECT_MESSAGE    TraceEvent_Type = 1
	TraceEvent_DUPLICATE_MESSAGE TraceEvent_Type = 2
	TraceEvent_DELIVER_MESSAGE   TraceEvent_Type = 3
	TraceEvent_ADD_PEER          TraceEvent_Type = 4
	TraceEvent_REMOVE_PEER       TraceEvent_Type = 5
	TraceEvent_RECV_RPC          TraceEvent_Type = 6
	TraceEvent_SEND_RPC          TraceEvent_Type = 7
	TraceEvent_DROP_RPC          TraceEvent_Type = 8
	TraceEvent_JOIN              TraceEvent_Type = 9
	TraceEvent_LEAVE             TraceEvent_Type = 10
	TraceEvent_GRAFT             TraceEvent_Type = 11
	TraceEvent_PRUNE             TraceEvent_Type = 12
)

func (t TraceEvent_Type) String() string {
	switch t {
	case TraceEvent_PUBLISH_MESSAGE:
		return "PUBLISH_MESSAGE"
	case TraceEvent_REJECT_MESSAGE:
		return "REJECT_MESSAGE"
	case TraceEvent_DUPLICATE_MESSAGE:
		return "DUPLICATE_MESSAGE"
	case TraceEvent_DELIVER_MESSAGE:
		return "DELIVER_MESSAGE"
	case TraceEvent_ADD_PEER:
		return "ADD_PEER"
	case TraceEvent_REMOVE_PEER:
		return "REMOVE_PEER"
	case TraceEvent_RECV_RPC:
		return "RECV_RPC"
	case TraceEvent_SEND_RPC:
		return "SEND_RPC"
	case TraceEvent_DROP_RPC:
		return "DROP_RPC"
	case TraceEvent_JOIN:
		return "JOIN"
	case TraceEvent_LEAVE:
		return "LEAVE"
	case TraceEvent_GRAFT:
		return "GRAFT"
	case TraceEvent_PRUNE:
		return "PRUNE"
	default:
		return "UNKNOWN"
	}
}

type TraceEvent_PublishMessage struct {
	MessageID []byte
	Topic     *string
}

func (m *TraceEvent_PublishMessage) GetMessageID() []byte {
	if m != nil {
		return m.MessageID
	}
	return nil
}

type TraceEvent_RejectMessage struct {
	MessageID []byte
	ReceivedFrom []byte
	Reason       *string
	Topic        *string
}

func (m *TraceEvent_RejectMessage) GetReason() string {
	if m != nil && m.Reason != nil {
		return *m.Reason
	}
	return ""
}

type TraceEvent_DuplicateMessage struct {
	MessageID    []byte
	ReceivedFrom []byte
	Topic        *string
}

type TraceEvent_DeliverMessage struct {
	MessageID []byte
	Topic     *string
}

type TraceEvent_AddPeer struct {
	PeerID []byte
	Proto  *string
}

type TraceEvent_RemovePeer struct {
	PeerID []byte
}

type TraceEvent_RecvRPC struct {
	ReceivedFrom []byte
	Meta         *TraceEvent_RPCMeta
}

type TraceEvent_SendRPC struct {
	SendTo []byte
	Meta   *TraceEvent_RPCMeta
}

type TraceEvent_DropRPC struct {
	SendTo []byte
	Meta   *TraceEvent_RPCMeta
}

type TraceEvent_RPCMeta struct {
	Messages      []*TraceEvent_MessageMeta
	Subscription  []*TraceEvent_SubMeta
	Control       *TraceEvent_ControlMeta
}

type TraceEvent_MessageMeta struct {
	MessageID []byte
	Topic     *string
}

type TraceEvent_SubMeta struct {
	Subscribe *bool
	Topic     *string
}

type TraceEvent_ControlMeta struct {
	Ihave []*TraceEvent_ControlIHaveMeta
	Iwant []*TraceEvent_ControlIWantMeta
	Graft []*TraceEvent_ControlGraftMeta
	Prune []*TraceEvent_ControlPruneMeta
}

type TraceEvent_ControlIHaveMeta struct {
	Topic      *string
	MessageIDs [][]byte
}

type TraceEvent_ControlIWantMeta struct {
	MessageIDs [][]byte
}

type TraceEvent_ControlGraftMeta struct {
	Topic *string
}

type TraceEvent_ControlPruneMeta struct {
	Topic      *string
	PeerCount  *uint64
}

type TraceEvent_Join struct {
	Topic *string
}

type TraceEvent_Leave struct {
	Topic *string
}

type TraceEvent_Graft struct {
	PeerID []byte
	Topic  *string
}

type TraceEvent_Prune struct {
	PeerID []byte
	Topic  *string
}
