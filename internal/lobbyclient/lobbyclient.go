package lobbyclient

import (
	"errors"
	"fmt"
	"time"

	"github.com/blukai/circlesync/internal/logging"
	"github.com/blukai/circlesync/internal/protocol"
	"github.com/blukai/circlesync/internal/transport"
	"github.com/phuslu/log"
)

var (
	// ErrUnknownPeer is what position events for players we never heard
	// about end up as. it happens when an unreliable position overtakes
	// the reliable login event.
	ErrUnknownPeer = errors.New("unknown peer")
	// ErrConnectionLost is returned by Tick once the server went away.
	ErrConnectionLost = errors.New("connection lost")
)

// NOTE(blukai): clients only ever talk to one peer, the server.
const ServerPeer transport.PeerID = 0

const DefaultSendEveryTicks = 3

type Config struct {
	// SendEveryTicks is how many ticks pass between two position updates.
	SendEveryTicks int
	// PollTimeout is how long a tick may wait for network events. zero
	// means don't wait.
	PollTimeout time.Duration
}

type LobbyClient struct {
	host   transport.Host
	logger *log.Logger
	actors Actors

	sendEveryTicks int
	pollTimeout    time.Duration
	tick           int

	connected bool
	loggedIn  bool
	id        uint32
	// spawned tracks proxies we created, so that they can be torn down
	// when the connection goes away.
	spawned map[uint32]struct{}
}

func NewLobbyClient(host transport.Host, actors Actors, config Config, logger *log.Logger) *LobbyClient {
	if config.SendEveryTicks < 1 {
		config.SendEveryTicks = DefaultSendEveryTicks
	}

	return &LobbyClient{
		host:   host,
		logger: logging.OrDiscard(logger),
		actors: actors,

		sendEveryTicks: config.SendEveryTicks,
		pollTimeout:    config.PollTimeout,

		spawned: make(map[uint32]struct{}),
	}
}

// ID returns identity assigned by the server, if logged in.
func (lc *LobbyClient) ID() (uint32, bool) {
	return lc.id, lc.loggedIn
}

func (lc *LobbyClient) Connected() bool {
	return lc.connected
}

// Tick is one fixed simulation step: handle everything the network has,
// send local position every SendEveryTicks ticks, flush.
func (lc *LobbyClient) Tick(local protocol.Position) error {
	lost := false

	serviced := false
	for {
		ev, ok := lc.host.CheckEvents()
		if !ok {
			if serviced {
				break
			}
			serviced = true

			var err error
			ev, ok, err = lc.host.Service(lc.pollTimeout)
			if err != nil {
				return fmt.Errorf("could not service host: %w", err)
			}
			if !ok {
				break
			}
		}

		if lc.handleEvent(ev) {
			lost = true
		}
	}

	lc.tick++
	if lc.tick >= lc.sendEveryTicks {
		lc.tick = 0
		if lc.loggedIn {
			lc.send(&protocol.PositionUpdate{ID: lc.id, Position: local})
		}
	}

	if err := lc.host.Flush(); err != nil {
		return fmt.Errorf("could not flush host: %w", err)
	}

	if lost {
		return ErrConnectionLost
	}
	return nil
}

func (lc *LobbyClient) send(msg protocol.Message) {
	err := lc.host.Send(ServerPeer, transport.DefaultChannel, protocol.Encode(msg), msg.Kind().Reliable())
	if err != nil {
		lc.logger.Error().
			Msgf("could not send %s: %v", msg.Kind(), err)
	}
}

// handleEvent reports whether connection to the server was lost.
func (lc *LobbyClient) handleEvent(ev transport.Event) bool {
	switch ev.Type {
	case transport.EventConnected:
		lc.connected = true
		lc.logger.Info().Msg("connected to server")
		lc.send(&protocol.Login{})
	case transport.EventDisconnected, transport.EventTimedOut:
		lc.logger.Info().
			Str("reason", ev.Type.String()).
			Msg("lost connection to server")
		lc.reset()
		return true
	case transport.EventReceived:
		lc.handleData(ev.Data)
	}
	return false
}

func (lc *LobbyClient) reset() {
	for id := range lc.spawned {
		lc.actors.Despawn(id)
	}
	clear(lc.spawned)

	lc.connected = false
	lc.loggedIn = false
	lc.id = 0
	lc.tick = 0
}

func (lc *LobbyClient) isSelf(id uint32) bool {
	return lc.loggedIn && id == lc.id
}

func (lc *LobbyClient) handleData(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		lc.logger.Warn().
			Str("bytes", fmt.Sprintf("%v", data)).
			Msgf("could not decode message: %v", err)
		return
	}

	switch msg := msg.(type) {
	case *protocol.LoginAck:
		lc.id = msg.ID
		lc.loggedIn = true
		// a login event about ourselves could only have arrived out of
		// order, before we knew who we are.
		if _, ok := lc.spawned[msg.ID]; ok {
			lc.despawn(msg.ID)
		}
		lc.logger.Info().
			Uint32("id", msg.ID).
			Msg("logged in")
	case *protocol.LoginEvent:
		if lc.isSelf(msg.ID) {
			return
		}
		if _, ok := lc.spawned[msg.ID]; ok {
			return
		}
		lc.spawned[msg.ID] = struct{}{}
		lc.actors.Spawn(msg.ID)
		lc.logger.Debug().
			Uint32("id", msg.ID).
			Msg("spawned remote player")
	case *protocol.PositionEvent:
		if lc.isSelf(msg.ID) {
			return
		}
		if _, ok := lc.spawned[msg.ID]; !ok {
			lc.logger.Debug().Msgf("dropped: %v", fmt.Errorf("%w: position of %d", ErrUnknownPeer, msg.ID))
			return
		}
		lc.actors.Move(msg.ID, msg.Position)
	case *protocol.LogoutEvent:
		if _, ok := lc.spawned[msg.ID]; ok {
			lc.despawn(msg.ID)
		}
	default:
		lc.logger.Warn().
			Str("kind", msg.Kind().String()).
			Msg("unexpected message from server")
	}
}

func (lc *LobbyClient) despawn(id uint32) {
	delete(lc.spawned, id)
	lc.actors.Despawn(id)
	lc.logger.Debug().
		Uint32("id", id).
		Msg("despawned remote player")
}
