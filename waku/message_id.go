package waku

import (
	sha256 "github.com/minio/sha256-simd"
)

// MessageIDFn computes the RFC 14/WAKU2-MESSAGE deterministic message hash:
//
//	message_hash = sha256(concat(pubsub_topic, payload, content_topic, meta))
//
// meta is omitted from the hash entirely when absent, not hashed as an empty
// string. Grounded on
// original_source/waku-relay/src/message_id.rs:compute_deterministic_message_hash,
// verified against its four RFC test vectors.
func MessageIDFn(pubsubTopic string, m *Message) []byte {
	h := sha256.New()
	h.Write([]byte(pubsubTopic))
	h.Write(m.Payload)
	h.Write([]byte(m.ContentTopic))
	if m.Meta != nil {
		h.Write(m.Meta)
	}
	return h.Sum(nil)
}

// FallbackMessageIDFn hashes the raw, undecoded payload directly. Used when
// the router hands us bytes that fail to parse as a WakuMessage envelope, so
// a message id can still be produced. Grounded on
// original_source/waku-relay/src/message_id.rs:fallback_message_id_fn.
func FallbackMessageIDFn(data []byte) []byte {
	h := sha256.New()
	h.Write(data)
	return h.Sum(nil)
}
