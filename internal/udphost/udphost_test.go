package udphost_test

import (
	"errors"
	"testing"
	"time"

	"github.com/blukai/circlesync/internal/transport"
	"github.com/blukai/circlesync/internal/udphost"
	"github.com/matryer/is"
)

var testTimeouts = transport.Timeouts{
	Limit:   4,
	Minimum: 100 * time.Millisecond,
	Maximum: 400 * time.Millisecond,
}

// pump services every host in turn until want returns true for an event
// of target or the deadline passes.
func pump(t *testing.T, target *udphost.Host, want func(transport.Event) bool, others ...*udphost.Host) transport.Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, other := range others {
			_, _, err := other.Service(time.Millisecond)
			if err != nil {
				t.Fatalf("could not service: %v", err)
			}
		}

		ev, ok, err := target.Service(time.Millisecond)
		if err != nil {
			t.Fatalf("could not service: %v", err)
		}
		if ok && want(ev) {
			return ev
		}
	}

	t.Fatal("timed out waiting for event")
	return transport.Event{}
}

func ofType(typ transport.EventType) func(transport.Event) bool {
	return func(ev transport.Event) bool { return ev.Type == typ }
}

func listen(t *testing.T, maxPeers int) *udphost.Host {
	t.Helper()

	server, err := udphost.Listen("udp4", "127.0.0.1:0", maxPeers, testTimeouts, nil)
	if err != nil {
		t.Fatalf("could not listen: %v", err)
	}
	t.Cleanup(func() { server.Close() })
	return server
}

func connect(t *testing.T, server *udphost.Host) *udphost.Host {
	t.Helper()

	client, err := udphost.Connect("udp4", server.Addr().String(), testTimeouts, nil)
	if err != nil {
		t.Fatalf("could not connect: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestConnectAndExchange(t *testing.T) {
	is := is.New(t)

	server := listen(t, 4)
	client := connect(t, server)

	ev := pump(t, server, ofType(transport.EventConnected), client)
	is.Equal(ev.Peer, transport.PeerID(1))

	ev = pump(t, client, ofType(transport.EventConnected), server)
	is.Equal(ev.Peer, transport.PeerID(0))

	is.NoErr(client.Send(0, transport.DefaultChannel, []byte{1, 2, 3, 4, 5}, true))
	is.NoErr(client.Flush())

	ev = pump(t, server, ofType(transport.EventReceived), client)
	is.Equal(ev.Peer, transport.PeerID(1))
	is.Equal(ev.Data, []byte{1, 2, 3, 4, 5})

	is.NoErr(server.Broadcast(transport.DefaultChannel, []byte{9}, false))
	is.NoErr(server.Flush())

	ev = pump(t, client, ofType(transport.EventReceived), server)
	is.Equal(ev.Data, []byte{9})
}

func TestReliableOrdered(t *testing.T) {
	is := is.New(t)

	server := listen(t, 4)
	client := connect(t, server)
	pump(t, server, ofType(transport.EventConnected), client)
	pump(t, client, ofType(transport.EventConnected), server)

	const count = 64
	for i := 0; i < count; i++ {
		is.NoErr(client.Send(0, transport.DefaultChannel, []byte{byte(i)}, true))
	}
	is.NoErr(client.Flush())

	for i := 0; i < count; i++ {
		ev := pump(t, server, ofType(transport.EventReceived), client)
		is.Equal(ev.Data, []byte{byte(i)})
	}
}

func TestDisconnect(t *testing.T) {
	is := is.New(t)

	server := listen(t, 4)
	client := connect(t, server)
	pump(t, server, ofType(transport.EventConnected), client)
	pump(t, client, ofType(transport.EventConnected), server)

	is.NoErr(client.Close())

	ev := pump(t, server, ofType(transport.EventDisconnected))
	is.Equal(ev.Peer, transport.PeerID(1))

	err := server.Send(1, transport.DefaultChannel, []byte{1}, true)
	is.True(errors.Is(err, transport.ErrUnknownPeer))
}

func TestTimeout(t *testing.T) {
	is := is.New(t)

	server := listen(t, 4)
	client := connect(t, server)
	pump(t, server, ofType(transport.EventConnected), client)
	pump(t, client, ofType(transport.EventConnected), server)

	// client goes silent: nobody services it anymore
	started := time.Now()
	ev := pump(t, server, ofType(transport.EventTimedOut))
	is.Equal(ev.Peer, transport.PeerID(1))
	is.True(time.Since(started) >= testTimeouts.Minimum)
}

func TestRefuseWhenFull(t *testing.T) {
	is := is.New(t)

	server := listen(t, 1)
	first := connect(t, server)
	pump(t, server, ofType(transport.EventConnected), first)

	second := connect(t, server)
	ev := pump(t, second, ofType(transport.EventDisconnected), server, first)
	is.Equal(ev.Peer, transport.PeerID(0))
}

func TestIDsAreReused(t *testing.T) {
	is := is.New(t)

	server := listen(t, 4)
	first := connect(t, server)
	pump(t, server, ofType(transport.EventConnected), first)
	is.NoErr(first.Close())
	pump(t, server, ofType(transport.EventDisconnected))

	second := connect(t, server)
	ev := pump(t, server, ofType(transport.EventConnected), second)
	is.Equal(ev.Peer, transport.PeerID(1))
}

func TestListenFailure(t *testing.T) {
	is := is.New(t)

	server := listen(t, 1)

	_, err := udphost.Listen("udp4", server.Addr().String(), 1, testTimeouts, nil)
	is.True(errors.Is(err, transport.ErrTransportFailure))

	_, err = udphost.Listen("udp4", "not an address", 1, testTimeouts, nil)
	is.True(errors.Is(err, transport.ErrTransportFailure))
}

func TestPayloadTooLarge(t *testing.T) {
	is := is.New(t)

	server := listen(t, 4)
	client := connect(t, server)
	pump(t, server, ofType(transport.EventConnected), client)

	err := server.Send(1, transport.DefaultChannel, make([]byte, udphost.MaxPayload+1), false)
	is.True(err != nil)
}

func TestClosed(t *testing.T) {
	is := is.New(t)

	server := listen(t, 4)
	is.NoErr(server.Close())
	is.NoErr(server.Close())

	_, _, err := server.Service(time.Millisecond)
	is.True(errors.Is(err, transport.ErrClosed))
}
