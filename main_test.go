package pubsub

import (
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// the libp2p swarm/transport stack spins up long-lived background
		// goroutines of its own that outlive an individual host.Close();
		// this package's own heartbeat/processLoop/handler goroutines are
		// what this check actually guards.
		goleak.IgnoreTopFunction("github.com/libp2p/go-libp2p/p2p/host/basic.(*BasicHost).background"),
		goleak.IgnoreTopFunction("github.com/libp2p/go-libp2p/p2p/net/swarm.(*Swarm).Close.func1"),
	)
}
