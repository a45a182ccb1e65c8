package pubsub

import (
	"context"
	"testing"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
)

// getNetHosts spins up n bare libp2p hosts listening on localhost with
// ephemeral ports, for use as gossipsub peers in a test.
func getNetHosts(t *testing.T, ctx context.Context, n int) []host.Host {
	t.Helper()

	var out []host.Host
	for i := 0; i < n; i++ {
		h, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { h.Close() })
		out = append(out, h)
	}
	return out
}

// connect dials b from a and waits for the connection to complete.
func connect(t *testing.T, a, b host.Host) {
	t.Helper()

	pi := peer.AddrInfo{ID: b.ID(), Addrs: b.Addrs()}
	if err := a.Connect(context.Background(), pi); err != nil {
		t.Fatal(err)
	}
}
