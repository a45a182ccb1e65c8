package waku

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

// Test vectors from https://rfc.vac.dev/spec/14/#test-vectors, transcribed
// from original_source/waku-relay/src/message_id.rs.
func TestMessageIDFnRFCVectors(t *testing.T) {
	const pubsubTopic = "/waku/2/default-waku/proto"
	const contentTopic = "/waku/2/default-content/proto"

	cases := []struct {
		name    string
		payload string
		meta    string
		want    string
	}{
		{
			name:    "rfc1_12bytes_meta",
			payload: "010203045445535405060708",
			meta:    "73757065722d736563726574",
			want:    "4fdde1099c9f77f6dae8147b6b3179aba1fc8e14a7bf35203fc253ee479f135f",
		},
		{
			name:    "rfc2_64bytes_meta",
			payload: "010203045445535405060708",
			meta: "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f" +
				"202122232425262728292a2b2c2d2e2f303132333435363738393a3b3c3d3e3f",
			want: "c32ed3b51f0c432be1c7f50880110e1a1a60f6067cd8193ca946909efe1b26ad",
		},
		{
			name:    "rfc3_not_present_meta",
			payload: "010203045445535405060708",
			meta:    "",
			want:    "87619d05e563521d9126749b45bd4cc2430df0607e77e23572d874ed9c1aaa62",
		},
		{
			name:    "rfc4_empty_payload",
			payload: "",
			meta:    "73757065722d736563726574",
			want:    "e1a9596237dbe2cc8aaf4b838c46a7052df6bc0d42ba214b998a8bfdbe8487d6",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			payload, err := hex.DecodeString(c.payload)
			require.NoError(t, err)

			m := &Message{
				Payload:      payload,
				ContentTopic: contentTopic,
			}
			if c.meta != "" {
				meta, err := hex.DecodeString(c.meta)
				require.NoError(t, err)
				m.Meta = meta
			}

			got := hex.EncodeToString(MessageIDFn(pubsubTopic, m))
			require.Equal(t, c.want, got)
		})
	}
}

func TestFallbackMessageIDFn(t *testing.T) {
	a := FallbackMessageIDFn([]byte("hello"))
	b := FallbackMessageIDFn([]byte("hello"))
	require.Equal(t, a, b)

	c := FallbackMessageIDFn([]byte("world"))
	require.NotEqual(t, a, c)
}
