package waku

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageEncodeDecodeRoundTrip(t *testing.T) {
	ts := int64(1693699200000000000)
	m := &Message{
		Payload:      []byte("hello waku"),
		ContentTopic: "/waku/2/default-content/proto",
		Version:      1,
		Timestamp:    ts,
		HasTimestamp: true,
		Meta:         []byte("meta-bytes"),
		Ephemeral:    true,
		RateLimitProof: &RateLimitProof{
			Proof:      []byte("proof"),
			MerkleRoot: []byte("root"),
			Epoch:      []byte("epoch"),
			ShareX:     []byte("x"),
			ShareY:     []byte("y"),
			Nullifier:  []byte("null"),
		},
	}

	data, err := m.Encode()
	require.NoError(t, err)

	got, err := DecodeMessage(data)
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestMessageEncodeDecodeRoundTripNoOptionalFields(t *testing.T) {
	m := &Message{
		Payload:      []byte("payload only"),
		ContentTopic: "/waku/2/default-content/proto",
	}

	data, err := m.Encode()
	require.NoError(t, err)

	got, err := DecodeMessage(data)
	require.NoError(t, err)
	require.Equal(t, m, got)
}
