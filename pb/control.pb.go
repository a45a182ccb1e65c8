package pb

// ControlMessage carries the gossipsub mesh-maintenance protocol: membership
// announcements (GRAFT/PRUNE) and gossip (IHAVE/IWANT).
type ControlMessage struct {
	Ihave []*ControlIHave
	Iwant []*ControlIWant
	Graft []*ControlGraft
	Prune []*ControlPrune
}

func (m *ControlMessage) GetIhave() []*ControlIHave {
	if m != nil {
		return m.Ihave
	}
	return nil
}

func (m *ControlMessage) GetIwant() []*ControlIWant {
	if m != nil {
		return m.Iwant
	}
	return nil
}

func (m *ControlMessage) GetGraft() []*ControlGraft {
	if m != nil {
		return m.Graft
	}
	return nil
}

func (m *ControlMessage) GetPrune() []*ControlPrune {
	if m != nil {
		return m.Prune
	}
	return nil
}

func (m *ControlMessage) Marshal() ([]byte, error) {
	var buf []byte
	for _, x := range m.Ihave {
		buf = appendBytesField(buf, 1, mustMarshal(x))
	}
	for _, x := range m.Iwant {
		buf = appendBytesField(buf, 2, mustMarshal(x))
	}
	for _, x := range m.Graft {
		buf = appendBytesField(buf, 3, mustMarshal(x))
	}
	for _, x := range m.Prune {
		buf = appendBytesField(buf, 4, mustMarshal(x))
	}
	return buf, nil
}

func (m *ControlMessage) Size() int {
	return len(mustMarshal(m))
}

func (m *ControlMessage) Unmarshal(data []byte) error {
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
			x := &ControlIHave{}
			if err := x.Unmarshal(b); err != nil {
				return err
			}
			m.Ihave = append(m.Ihave, x)
		case 2:
			b, err := d.bytes()
			if err != nil {
				return err
			}
			x := &ControlIWant{}
			if err := x.Unmarshal(b); err != nil {
				return err
			}
			m.Iwant = append(m.Iwant, x)
		case 3:
			b, err := d.bytes()
			if err != nil {
				return err
			}
			x := &ControlGraft{}
			if err := x.Unmarshal(b); err != nil {
				return err
			}
			m.Graft = append(m.Graft, x)
		case 4:
			b, err := d.bytes()
			if err != nil {
				return err
			}
			x := &ControlPrune{}
			if err := x.Unmarshal(b); err != nil {
				return err
			}
			m.Prune = append(m.Prune, x)
		default:
			if err := d.skip(wire); err != nil {
				return err
			}
		}
	}
	return nil
}

type ControlIHave struct {
	TopicID    *string
	MessageIDs []string
}

func (m *ControlIHave) GetTopicID() string {
	if m != nil && m.TopicID != nil {
		return *m.TopicID
	}
	return ""
}

func (m *ControlIHave) GetMessageIDs() []string {
	if m != nil {
		return m.MessageIDs
	}
	return nil
}

func (m *ControlIHave) Marshal() ([]byte, error) {
	var buf []byte
	if m.TopicID != nil {
		buf = appendStringField(buf, 1, *m.TopicID)
	}
	for _, id := range m.MessageIDs {
		buf = appendStringField(buf, 2, id)
	}
	return buf, nil
}

func (m *ControlIHave) Unmarshal(data []byte) error {
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
			m.TopicID = strPtr(string(b))
		case 2:
			b, err := d.bytes()
			if err != nil {
				return err
			}
			m.MessageIDs = append(m.MessageIDs, string(b))
		default:
			if err := d.skip(wire); err != nil {
				return err
			}
		}
	}
	return nil
}

type ControlIWant struct {
	MessageIDs []string
}

func (m *ControlIWant) GetMessageIDs() []string {
	if m != nil {
		return m.MessageIDs
	}
	return nil
}

func (m *ControlIWant) Marshal() ([]byte, error) {
	var buf []byte
	for _, id := range m.MessageIDs {
		buf = appendStringField(buf, 1, id)
	}
	return buf, nil
}

func (m *ControlIWant) Unmarshal(data []byte) error {
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
			m.MessageIDs = append(m.MessageIDs, string(b))
		default:
			if err := d.skip(wire); err != nil {
				return err
			}
		}
	}
	return nil
}

type ControlGraft struct {
	TopicID *string
}

func (m *ControlGraft) GetTopicID() string {
	if m != nil && m.TopicID != nil {
		return *m.TopicID
	}
	return ""
}

func (m *ControlGraft) Marshal() ([]byte, error) {
	var buf []byte
	if m.TopicID != nil {
		buf = appendStringField(buf, 1, *m.TopicID)
	}
	return buf, nil
}

func (m *ControlGraft) Unmarshal(data []byte) error {
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
			m.TopicID = strPtr(string(b))
		default:
			if err := d.skip(wire); err != nil {
				return err
			}
		}
	}
	return nil
}

type ControlPrune struct {
	TopicID *string
	Peers   []*PeerInfo
	Backoff *uint64
}

func (m *ControlPrune) GetTopicID() string {
	if m != nil && m.TopicID != nil {
		return *m.TopicID
	}
	return ""
}

func (m *ControlPrune) GetPeers() []*PeerInfo {
	if m != nil {
		return m.Peers
	}
	return nil
}

func (m *ControlPrune) GetBackoff() uint64 {
	if m != nil && m.Backoff != nil {
		return *m.Backoff
	}
	return 0
}

func (m *ControlPrune) Marshal() ([]byte, error) {
	var buf []byte
	if m.TopicID != nil {
		buf = appendStringField(buf, 1, *m.TopicID)
	}
	for _, p := range m.Peers {
		buf = appendBytesField(buf, 2, mustMarshal(p))
	}
	if m.Backoff != nil {
		buf = appendVarintField(buf, 3, *m.Backoff)
	}
	return buf, nil
}

func (m *ControlPrune) Unmarshal(data []byte) error {
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
			m.TopicID = strPtr(string(b))
		case 2:
			b, err := d.bytes()
			if err != nil {
				return err
			}
			p := &PeerInfo{}
			if err := p.Unmarshal(b); err != nil {
				return err
			}
			m.Peers = append(m.Peers, p)
		case 3:
			v, err := d.varint()
			if err != nil {
				return err
			}
			m.Backoff = u64Ptr(v)
		default:
			if err := d.skip(wire); err != nil {
				return err
			}
		}
	}
	return nil
}

// PeerInfo is carried in PRUNE messages for Peer eXchange: a bare peer id,
// optionally accompanied by a signed peer record envelope.
type PeerInfo struct {
	PeerID           []byte
	SignedPeerRecord []byte
}

func (m *PeerInfo) GetPeerID() []byte {
	if m != nil {
		return m.PeerID
	}
	return nil
}

func (m *PeerInfo) GetSignedPeerRecord() []byte {
	if m != nil {
		return m.SignedPeerRecord
	}
	return nil
}

func (m *PeerInfo) Marshal() ([]byte, error) {
	var buf []byte
	if m.PeerID != nil {
		buf = appendBytesField(buf, 1, m.PeerID)
	}
	if m.SignedPeerRecord != nil {
		buf = appendBytesField(buf, 2, m.SignedPeerRecord)
	}
	return buf, nil
}

func (m *PeerInfo) Unmarshal(data []byte) error {
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
			m.PeerID = b
		case 2:
			b, err := d.bytes()
			if err != nil {
				return err
			}
			m.SignedPeerRecord = b
		default:
			if err := d.skip(wire); err != nil {
				return err
			}
		}
	}
	return nil
}
