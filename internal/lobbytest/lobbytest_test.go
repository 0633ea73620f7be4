package lobbytest_test

import (
	"context"
	"testing"
	"time"

	"github.com/blukai/circlesync/internal/lobbyclient"
	"github.com/blukai/circlesync/internal/lobbyserver"
	"github.com/blukai/circlesync/internal/protocol"
	"github.com/blukai/circlesync/internal/transport"
	"github.com/blukai/circlesync/internal/transport/memtransport"
	"github.com/blukai/circlesync/internal/udphost"
	"github.com/matryer/is"
)

type player struct {
	host   transport.Host
	roster *lobbyclient.Roster
	client *lobbyclient.LobbyClient
	pos    protocol.Position
}

func newPlayer(host transport.Host) *player {
	roster := lobbyclient.NewRoster()
	return &player{
		host:   host,
		roster: roster,
		client: lobbyclient.NewLobbyClient(host, roster, lobbyclient.Config{}, nil),
	}
}

// tickUntil ticks every player until cond holds.
func tickUntil(t *testing.T, cond func() bool, players ...*player) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, p := range players {
			if err := p.client.Tick(p.pos); err != nil {
				t.Fatalf("could not tick: %v", err)
			}
		}
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func loggedIn(p *player) func() bool {
	return func() bool {
		_, ok := p.client.ID()
		return ok
	}
}

func TestTwoPlayers(t *testing.T) {
	is := is.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverHost, err := udphost.Listen("udp4", "127.0.0.1:0", 100, transport.DefaultTimeouts(), nil)
	is.NoErr(err)
	ls := lobbyserver.NewLobbyServer(serverHost, nil, lobbyserver.WithPollTimeout(time.Millisecond))

	done := make(chan error, 1)
	go func() {
		done <- ls.Run(ctx)
	}()

	connect := func() *player {
		host, err := udphost.Connect("udp4", serverHost.Addr().String(), transport.DefaultTimeouts(), nil)
		is.NoErr(err)
		t.Cleanup(func() { host.Close() })
		return newPlayer(host)
	}

	// player one logs in and moves

	one := connect()
	tickUntil(t, loggedIn(one), one)

	oneID, _ := one.client.ID()
	is.Equal(oneID, uint32(1))

	one.pos = protocol.Position{X: 10, Y: -2}
	tickUntil(t, func() bool {
		s, ok := ls.Sessions().Get(oneID)
		return ok && s.Position == one.pos
	}, one)

	// player two joins late and catches up

	two := connect()
	tickUntil(t, func() bool {
		p, ok := two.roster.Get(oneID)
		return ok && p.Position == one.pos
	}, one, two)

	twoID, _ := two.client.ID()
	is.Equal(twoID, uint32(2))

	// and player one learns about player two, but never about itself

	two.pos = protocol.Position{X: -3, Y: 3}
	tickUntil(t, func() bool {
		p, ok := one.roster.Get(twoID)
		return ok && p.Position == two.pos
	}, one, two)
	is.True(!one.roster.Has(oneID))
	is.True(!two.roster.Has(twoID))

	// player one leaves

	is.NoErr(one.host.Close())
	tickUntil(t, func() bool {
		return !two.roster.Has(oneID)
	}, two)
	is.True(!ls.Sessions().Has(oneID))

	cancel()
	is.NoErr(<-done)
}

func TestEventualConsistency(t *testing.T) {
	is := is.New(t)

	hub := memtransport.NewHub()
	ls := lobbyserver.NewLobbyServer(hub.Listen(100), nil, lobbyserver.WithPollTimeout(time.Millisecond))

	step := func() {
		t.Helper()
		if err := ls.Step(); err != nil {
			t.Fatalf("could not step: %v", err)
		}
	}

	var players []*player
	for i := 0; i < 4; i++ {
		host, err := hub.Connect()
		is.NoErr(err)
		players = append(players, newPlayer(host))
	}

	// everyone wanders around for a while, joining at different times
	for round := 0; round < 30; round++ {
		for i, p := range players {
			if round < i*5 {
				continue
			}
			p.pos = protocol.Position{X: float32(round * i), Y: float32(-round)}
			is.NoErr(p.client.Tick(p.pos))
		}
		step()
	}

	// then stands still until the last updates have landed
	for round := 0; round < 6; round++ {
		for _, p := range players {
			is.NoErr(p.client.Tick(p.pos))
		}
		step()
	}

	sessions := ls.Sessions().Snapshot()
	is.Equal(len(sessions), len(players))

	for _, p := range players {
		self, ok := p.client.ID()
		is.True(ok)

		remote := p.roster.Players()
		is.Equal(len(remote), len(sessions)-1)
		for _, r := range remote {
			is.True(r.ID != self)
			s, ok := ls.Sessions().Get(r.ID)
			is.True(ok)
			is.Equal(r.Position, s.Position)
		}
	}
}
