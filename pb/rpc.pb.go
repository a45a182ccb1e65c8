package pb

// RPC is the envelope exchanged between two gossipsub peers: zero or more
// subscription changes, zero or more published messages, and an optional
// control message carrying IHAVE/IWANT/GRAFT/PRUNE.
type RPC struct {
	Subscriptions []*RPC_SubOpts
	Publish       []*Message
	Control       *ControlMessage
}

func (m *RPC) GetSubscriptions() []*RPC_SubOpts {
	if m != nil {
		return m.Subscriptions
	}
	return nil
}

func (m *RPC) GetPublish() []*Message {
	if m != nil {
		return m.Publish
	}
	return nil
}

func (m *RPC) GetControl() *ControlMessage {
	if m != nil {
		return m.Control
	}
	return nil
}

func (m *RPC) Marshal() ([]byte, error) {
	var buf []byte
	for _, s := range m.Subscriptions {
		b, err := s.Marshal()
		if err != nil {
			return nil, err
		}
		buf = appendBytesField(buf, 1, b)
	}
	for _, p := range m.Publish {
		b, err := p.Marshal()
		if err != nil {
			return nil, err
		}
		buf = appendBytesField(buf, 2, b)
	}
	if m.Control != nil {
		b, err := m.Control.Marshal()
		if err != nil {
			return nil, err
		}
		buf = appendBytesField(buf, 3, b)
	}
	return buf, nil
}

func (m *RPC) Size() int {
	n := 0
	for _, s := range m.Subscriptions {
		n += sizeBytesField(1, mustMarshal(s))
	}
	for _, p := range m.Publish {
		n += sizeBytesField(2, mustMarshal(p))
	}
	if m.Control != nil {
		n += sizeBytesField(3, mustMarshal(m.Control))
	}
	return n
}

func (m *RPC) Unmarshal(data []byte) error {
	d := newDecoder(data)
	for !d.done() {
		field, wire, err := d.key()
		if err != nil {
			return err
		}
		switch field {
		case 1:
			b, err := d.bytes()
			if err != nil {
				return err
			}
			s := &RPC_SubOpts{}
			if err := s.Unmarshal(b); err != nil {
				return err
			}
			m.Subscriptions = append(m.Subscriptions, s)
		case 2:
			b, err := d.bytes()
			if err != nil {
				return err
			}
			p := &Message{}
			if err := p.Unmarshal(b); err != nil {
				return err
			}
			m.Publish = append(m.Publish, p)
		case 3:
			b, err := d.bytes()
			if err != nil {
				return err
			}
			c := &ControlMessage{}
			if err := c.Unmarshal(b); err != nil {
				return err
			}
			m.Control = c
		default:
			if err := d.skip(wire); err != nil {
				return err
			}
		}
	}
	return nil
}

type RPC_SubOpts struct {
	Subscribe *bool
	Topicid   *string
}

func (m *RPC_SubOpts) GetSubscribe() bool {
	if m != nil && m.Subscribe != nil {
		return *m.Subscribe
	}
	return false
}

func (m *RPC_SubOpts) GetTopicid() string {
	if m != nil && m.Topicid != nil {
		return *m.Topicid
	}
	return ""
}

func (m *RPC_SubOpts) Marshal() ([]byte, error) {
	var buf []byte
	if m.Subscribe != nil {
		buf = appendBoolField(buf, 1, *m.Subscribe)
	}
	if m.Topicid != nil {
		buf = appendStringField(buf, 2, *m.Topicid)
	}
	return buf, nil
}

func (m *RPC_SubOpts) Unmarshal(data []byte) error {
	d := newDecoder(data)
	for !d.done() {
		field, wire, err := d.key()
		if err != nil {
			return err
		}
		switch field {
		case 1:
			v, err := d.varint()
			if err != nil {
				return err
			}
			m.Subscribe = boolPtr(v != 0)
		case 2:
			b, err := d.bytes()
			if err != nil {
				return err
			}
			m.Topicid = strPtr(string(b))
		default:
			if err := d.skip(wire); err != nil {
				return err
			}
		}
	}
	return nil
}

// Message is a single published gossipsub message.
type Message struct {
	From      []byte
	Data      []byte
	Seqno     []byte
	TopicIDs  []string
	Signature []byte
	Key       []byte
}

func (m *Message) GetFrom() []byte {
	if m != nil {
		return m.From
	}
	return nil
}

func (m *Message) GetData() []byte {
	if m != nil {
		return m.Data
	}
	return nil
}

func (m *Message) GetSeqno() []byte {
	if m != nil {
		return m.Seqno
	}
	return nil
}

func (m *Message) GetTopicIDs() []string {
	if m != nil {
		return m.TopicIDs
	}
	return nil
}

func (m *Message) GetSignature() []byte {
	if m != nil {
		return m.Signature
	}
	return nil
}

func (m *Message) GetKey() []byte {
	if m != nil {
		return m.Key
	}
	return nil
}

func (m *Message) Marshal() ([]byte, error) {
	var buf []byte
	if m.From != nil {
		buf = appendBytesField(buf, 1, m.From)
	}
	if m.Data != nil {
		buf = appendBytesField(buf, 2, m.Data)
	}
	if m.Seqno != nil {
		buf = appendBytesField(buf, 3, m.Seqno)
	}
	for _, t := range m.TopicIDs {
		buf = appendStringField(buf, 4, t)
	}
	if m.Signature != nil {
		buf = appendBytesField(buf, 5, m.Signature)
	}
	if m.Key != nil {
		buf = appendBytesField(buf, 6, m.Key)
	}
	return buf, nil
}

func (m *Message) Size() int {
	n := 0
	if m.From != nil {
		n += sizeBytesField(1, m.From)
	}
	if m.Data != nil {
		n += sizeBytesField(2, m.Data)
	}
	if m.Seqno != nil {
		n += sizeBytesField(3, m.Seqno)
	}
	for _, t := range m.TopicIDs {
		n += sizeStringField(4, t)
	}
	if m.Signature != nil {
		n += sizeBytesField(5, m.Signature)
	}
	if m.Key != nil {
		n += sizeBytesField(6, m.Key)
	}
	return n
}

// SignatureClearedCopy returns a shallow copy of m with Signature and Key
// cleared, as required by the libp2p-pubsub signing scheme (sign/verify is
// computed over the message with these two fields unset).
func (m *Message) SignatureClearedCopy() *Message {
	cp := *m
	cp.Signature = nil
	cp.Key = nil
	return &cp
}

func (m *Message) Unmarshal(data []byte) error {
	d := newDecoder(data)
	for !d.done() {
		field, wire, err := d.key()
		if err != nil {
			return err
		}
		switch field {
		case 1:
			b, err := d.bytes()
			if err != nil {
				return err
			}
			m.From = b
		case 2:
			b, err := d.bytes()
			if err != nil {
				return err
			}
			m.Data = b
		case 3:
			b, err := d.bytes()
			if err != nil {
				return err
			}
			m.Seqno = b
		case 4:
			b, err := d.bytes()
			if err != nil {
				return err
			}
			m.TopicIDs = append(m.TopicIDs, string(b))
		case 5:
			b, err := d.bytes()
			if err != nil {
				return err
			}
			m.Signature = b
		case 6:
			b, err := d.bytes()
			if err != nil {
				return err
			}
			m.Key = b
		default:
			if err := d.skip(wire); err != nil {
				return err
			}
		}
	}
	return nil
}

func mustMarshal(m interface{ Marshal() ([]byte, error) }) []byte {
	b, err := m.Marshal()
	if err != nil {
		return nil
	}
	return b
}
