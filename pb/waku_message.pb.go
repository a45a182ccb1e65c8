package pb

// WakuMessage is the RFC 14/WAKU2-MESSAGE envelope, field tags grounded on
// original_source/waku-core/src/proto/gen/waku.message.v1.rs (payload,
// content_topic, version, timestamp, rate_limit_proof, ephemeral) plus meta
// (tag 11), which that generated snippet omits but which the domain type in
// original_source/waku-core/src/message/message.rs and the test vectors in
// original_source/waku-relay/src/message_id.rs both require.
type WakuMessage struct {
	Payload        []byte
	ContentTopic   string
	Version        uint32
	Timestamp      *int64
	Meta           []byte
	RateLimitProof *RateLimitProof
	Ephemeral      bool
}

func (m *WakuMessage) GetPayload() []byte {
	if m != nil {
		return m.Payload
	}
	return nil
}

func (m *WakuMessage) GetContentTopic() string {
	if m != nil {
		return m.ContentTopic
	}
	return ""
}

func (m *WakuMessage) GetVersion() uint32 {
	if m != nil {
		return m.Version
	}
	return 0
}

func (m *WakuMessage) GetTimestamp() int64 {
	if m != nil && m.Timestamp != nil {
		return *m.Timestamp
	}
	return 0
}

func (m *WakuMessage) GetMeta() []byte {
	if m != nil {
		return m.Meta
	}
	return nil
}

func (m *WakuMessage) GetEphemeral() bool {
	if m != nil {
		return m.Ephemeral
	}
	return false
}

func (m *WakuMessage) Marshal() ([]byte, error) {
	var buf []byte
	if m.Payload != nil {
		buf = appendBytesField(buf, 1, m.Payload)
	}
	if m.ContentTopic != "" {
		buf = appendStringField(buf, 2, m.ContentTopic)
	}
	if m.Version != 0 {
		buf = appendVarintField(buf, 3, uint64(m.Version))
	}
	if m.Meta != nil {
		buf = appendBytesField(buf, 11, m.Meta)
	}
	if m.Timestamp != nil {
		buf = appendVarintField(buf, 10, uint64(*m.Timestamp))
	}
	if m.RateLimitProof != nil {
		b, err := m.RateLimitProof.Marshal()
		if err != nil {
			return nil, err
		}
		buf = appendBytesField(buf, 21, b)
	}
	if m.Ephemeral {
		buf = appendBoolField(buf, 31, m.Ephemeral)
	}
	return buf, nil
}

func (m *WakuMessage) Size() int {
	n := 0
	if m.Payload != nil {
		n += sizeBytesField(1, m.Payload)
	}
	if m.ContentTopic != "" {
		n += sizeStringField(2, m.ContentTopic)
	}
	if m.Version != 0 {
		n += sizeVarintField(3, uint64(m.Version))
	}
	if m.Meta != nil {
		n += sizeBytesField(11, m.Meta)
	}
	if m.Timestamp != nil {
		n += sizeVarintField(10, uint64(*m.Timestamp))
	}
	if m.RateLimitProof != nil {
		n += sizeBytesField(21, mustMarshal(m.RateLimitProof))
	}
	if m.Ephemeral {
		n += sizeBoolField(31)
	}
	return n
}

func (m *WakuMessage) Unmarshal(data []byte) error {
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
			m.Payload = b
		case 2:
			b, err := d.bytes()
			if err != nil {
				return err
			}
			m.ContentTopic = string(b)
		case 3:
			v, err := d.varint()
			if err != nil {
				return err
			}
			m.Version = uint32(v)
		case 10:
			v, err := d.varint()
			if err != nil {
				return err
			}
			ts := int64(v)
			m.Timestamp = &ts
		case 11:
			b, err := d.bytes()
			if err != nil {
				return err
			}
			m.Meta = b
		case 21:
			b, err := d.bytes()
			if err != nil {
				return err
			}
			rlp := &RateLimitProof{}
			if err := rlp.Unmarshal(b); err != nil {
				return err
			}
			m.RateLimitProof = rlp
		case 31:
			v, err := d.varint()
			if err != nil {
				return err
			}
			m.Ephemeral = v != 0
		default:
			if err := d.skip(wire); err != nil {
				return err
			}
		}
	}
	return nil
}

// RateLimitProof is the 17/WAKU-RLN-RELAY proof attached to rate-limited
// messages, grounded on the same generated schema.
type RateLimitProof struct {
	Proof      []byte
	MerkleRoot []byte
	Epoch      []byte
	ShareX     []byte
	ShareY     []byte
	Nullifier  []byte
}

func (m *RateLimitProof) GetProof() []byte {
	if m != nil {
		return m.Proof
	}
	return nil
}

func (m *RateLimitProof) GetMerkleRoot() []byte {
	if m != nil {
		return m.MerkleRoot
	}
	return nil
}

func (m *RateLimitProof) GetEpoch() []byte {
	if m != nil {
		return m.Epoch
	}
	return nil
}

func (m *RateLimitProof) GetShareX() []byte {
	if m != nil {
		return m.ShareX
	}
	return nil
}

func (m *RateLimitProof) GetShareY() []byte {
	if m != nil {
		return m.ShareY
	}
	return nil
}

func (m *RateLimitProof) GetNullifier() []byte {
	if m != nil {
		return m.Nullifier
	}
	return nil
}

func (m *RateLimitProof) Marshal() ([]byte, error) {
	var buf []byte
	if m.Proof != nil {
		buf = appendBytesField(buf, 1, m.Proof)
	}
	if m.MerkleRoot != nil {
		buf = appendBytesField(buf, 2, m.MerkleRoot)
	}
	if m.Epoch != nil {
		buf = appendBytesField(buf, 3, m.Epoch)
	}
	if m.ShareX != nil {
		buf = appendBytesField(buf, 4, m.ShareX)
	}
	if m.ShareY != nil {
		buf = appendBytesField(buf, 5, m.ShareY)
	}
	if m.Nullifier != nil {
		buf = appendBytesField(buf, 6, m.Nullifier)
	}
	return buf, nil
}

func (m *RateLimitProof) Size() int {
	n := 0
	if m.Proof != nil {
		n += sizeBytesField(1, m.Proof)
	}
	if m.MerkleRoot != nil {
		n += sizeBytesField(2, m.MerkleRoot)
	}
	if m.Epoch != nil {
		n += sizeBytesField(3, m.Epoch)
	}
	if m.ShareX != nil {
		n += sizeBytesField(4, m.ShareX)
	}
	if m.ShareY != nil {
		n += sizeBytesField(5, m.ShareY)
	}
	if m.Nullifier != nil {
		n += sizeBytesField(6, m.Nullifier)
	}
	return n
}

func (m *RateLimitProof) Unmarshal(data []byte) error {
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
			m.Proof = b
		case 2:
			b, err := d.bytes()
			if err != nil {
				return err
			}
			m.MerkleRoot = b
		case 3:
			b, err := d.bytes()
			if err != nil {
				return err
			}
			m.Epoch = b
		case 4:
			b, err := d.bytes()
			if err != nil {
				return err
			}
			m.ShareX = b
		case 5:
			b, err := d.bytes()
			if err != nil {
				return err
			}
			m.ShareY = b
		case 6:
			b, err := d.bytes()
			if err != nil {
				return err
			}
			m.Nullifier = b
		default:
			if err := d.skip(wire); err != nil {
				return err
			}
		}
	}
	return nil
}
