package memtransport_test

import (
	"errors"
	"testing"
	"time"

	"github.com/blukai/circlesync/internal/transport"
	"github.com/blukai/circlesync/internal/transport/memtransport"
	"github.com/matryer/is"
)

func TestConnectSendDrop(t *testing.T) {
	is := is.New(t)

	hub := memtransport.NewHub()
	server := hub.Listen(1)

	client, err := hub.Connect()
	is.NoErr(err)

	ev, ok := server.CheckEvents()
	is.True(ok)
	is.Equal(ev, transport.Event{Type: transport.EventConnected, Peer: 1})

	ev, ok = client.CheckEvents()
	is.True(ok)
	is.Equal(ev, transport.Event{Type: transport.EventConnected, Peer: 0})

	is.NoErr(client.Send(0, transport.DefaultChannel, []byte{1, 2, 3}, true))
	ev, ok, err = server.Service(time.Millisecond)
	is.NoErr(err)
	is.True(ok)
	is.Equal(ev.Type, transport.EventReceived)
	is.Equal(ev.Peer, transport.PeerID(1))
	is.Equal(ev.Data, []byte{1, 2, 3})

	// server is full
	second, err := hub.Connect()
	is.NoErr(err)
	ev, ok = second.CheckEvents()
	is.True(ok)
	is.Equal(ev.Type, transport.EventDisconnected)

	server.Drop(1, true)
	ev, ok = client.CheckEvents()
	is.True(ok)
	is.Equal(ev, transport.Event{Type: transport.EventTimedOut, Peer: 0})

	err = client.Send(0, transport.DefaultChannel, []byte{1}, false)
	is.True(errors.Is(err, transport.ErrUnknownPeer))
}

func TestServiceTimesOut(t *testing.T) {
	is := is.New(t)

	server := memtransport.NewHub().Listen(4)

	_, ok, err := server.Service(time.Millisecond)
	is.NoErr(err)
	is.True(!ok)

	is.NoErr(server.Close())
	_, _, err = server.Service(time.Millisecond)
	is.True(errors.Is(err, transport.ErrClosed))
}
