package lobbyserver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blukai/circlesync/internal/logging"
	"github.com/blukai/circlesync/internal/metrics"
	"github.com/blukai/circlesync/internal/protocol"
	"github.com/blukai/circlesync/internal/session"
	"github.com/blukai/circlesync/internal/transport"
	"github.com/hashicorp/go-multierror"
	"github.com/phuslu/log"
)

// ErrUnknownPeer is what messages from peers without a session end up as.
// it's an expected race around connect/disconnect, never worth more than a
// debug line.
var ErrUnknownPeer = errors.New("unknown peer")

var ErrKickQueueFull = errors.New("too many pending kicks")

const DefaultPollTimeout = 15 * time.Millisecond

// Observer is told about presence changes right after they were applied
// to the session table. it's called from the dispatch loop and must not
// block.
type Observer interface {
	Joined(id uint32)
	Moved(id uint32, pos protocol.Position)
	Left(id uint32)
}

type nopObserver struct{}

func (nopObserver) Joined(uint32)                    {}
func (nopObserver) Moved(uint32, protocol.Position) {}
func (nopObserver) Left(uint32)                      {}

type Option func(*LobbyServer)

func WithPollTimeout(timeout time.Duration) Option {
	return func(ls *LobbyServer) { ls.pollTimeout = timeout }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(ls *LobbyServer) { ls.metrics = m }
}

func WithObserver(o Observer) Option {
	return func(ls *LobbyServer) { ls.observer = o }
}

// LobbyServer is the single authority over who is online and where. all
// of its state is owned by the goroutine that calls Run (or Step).
type LobbyServer struct {
	host        transport.Host
	pollTimeout time.Duration

	logger   *log.Logger
	metrics  *metrics.Metrics
	observer Observer

	sessions *session.Table
	kickCh   chan kick

	// generations tell logins apart when an id gets reused, so that a
	// kick never reaches a connection it wasn't meant for.
	genLock     sync.Mutex
	generations map[uint32]uint64
	nextGen     uint64
}

type kick struct {
	id  uint32
	gen uint64
}

func NewLobbyServer(host transport.Host, logger *log.Logger, opts ...Option) *LobbyServer {
	ls := &LobbyServer{
		host:        host,
		pollTimeout: DefaultPollTimeout,

		logger:   logging.OrDiscard(logger),
		observer: nopObserver{},

		sessions: session.NewTable(),
		kickCh:   make(chan kick, 64),

		generations: make(map[uint32]uint64),
	}
	for _, opt := range opts {
		opt(ls)
	}
	if ls.metrics == nil {
		ls.metrics = metrics.New()
	}
	return ls
}

// Sessions is safe to read from any goroutine.
func (ls *LobbyServer) Sessions() *session.Table {
	return ls.sessions
}

func (ls *LobbyServer) Metrics() *metrics.Metrics {
	return ls.metrics
}

// RequestKick asks the dispatch loop to disconnect a logged in peer on
// its next iteration. safe to call from any goroutine. the kick is bound to
// the login that holds id right now; if that session is gone by the time
// the loop gets to it, nothing happens.
func (ls *LobbyServer) RequestKick(id uint32) error {
	gen, ok := ls.generation(id)
	if !ok {
		return fmt.Errorf("%w: %d is not logged in", ErrUnknownPeer, id)
	}

	select {
	case ls.kickCh <- kick{id: id, gen: gen}:
		return nil
	default:
		return ErrKickQueueFull
	}
}

func (ls *LobbyServer) generation(id uint32) (uint64, bool) {
	ls.genLock.Lock()
	defer ls.genLock.Unlock()

	gen, ok := ls.generations[id]
	return gen, ok
}

// Run steps until ctx is done, then closes the host.
func (ls *LobbyServer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ls.host.Close()
		default:
			if err := ls.Step(); err != nil {
				ls.host.Close()
				return err
			}
		}
	}
}

// Step is one iteration of the dispatch loop: apply pending kicks, drain
// every queued transport event, wait for more at most once (for
// pollTimeout), then flush outgoing data once.
func (ls *LobbyServer) Step() error {
	ls.processKicks()

	serviced := false
	for {
		ev, ok := ls.host.CheckEvents()
		if !ok {
			if serviced {
				break
			}
			serviced = true

			var err error
			ev, ok, err = ls.host.Service(ls.pollTimeout)
			if err != nil {
				return fmt.Errorf("could not service host: %w", err)
			}
			if !ok {
				break
			}
		}

		ls.handleEvent(ev)
	}

	ls.metrics.Iterations.Inc()
	if err := ls.host.Flush(); err != nil {
		return fmt.Errorf("could not flush host: %w", err)
	}
	return nil
}

func (ls *LobbyServer) processKicks() {
	for {
		select {
		case k := <-ls.kickCh:
			if gen, ok := ls.generation(k.id); !ok || gen != k.gen {
				ls.logger.Debug().
					Uint32("peer", k.id).
					Msg("dropped stale kick")
				continue
			}
			ls.host.Disconnect(transport.PeerID(k.id))
			ls.logout(transport.PeerID(k.id), "kicked")
		default:
			return
		}
	}
}

func (ls *LobbyServer) handleEvent(ev transport.Event) {
	switch ev.Type {
	case transport.EventConnected:
		ls.metrics.IncConnection("connected")
		ls.logger.Info().
			Uint32("peer", uint32(ev.Peer)).
			Msg("peer connected")
	case transport.EventDisconnected:
		ls.metrics.IncConnection("disconnected")
		ls.logout(ev.Peer, "disconnected")
	case transport.EventTimedOut:
		ls.metrics.IncConnection("timed_out")
		ls.logout(ev.Peer, "timed out")
	case transport.EventReceived:
		ls.handleData(ev.Peer, ev.Data)
	}
}

func (ls *LobbyServer) handleData(peer transport.PeerID, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		ls.metrics.Malformed.Inc()
		ls.logger.Warn().
			Uint32("peer", uint32(peer)).
			Str("bytes", fmt.Sprintf("%v", data)).
			Msgf("could not decode message: %v", err)
		return
	}
	ls.metrics.IncReceived(msg.Kind())

	if msg.Kind() != protocol.KindPositionUpdate {
		ls.logger.Debug().
			Uint32("peer", uint32(peer)).
			Str("kind", msg.Kind().String()).
			Msg("recv")
	}

	switch msg := msg.(type) {
	case *protocol.Login:
		err = ls.handleLogin(peer)
	case *protocol.PositionUpdate:
		err = ls.handlePositionUpdate(peer, msg)
	default:
		ls.logger.Warn().
			Uint32("peer", uint32(peer)).
			Str("kind", msg.Kind().String()).
			Msg("unexpected message from client")
		return
	}

	if errors.Is(err, ErrUnknownPeer) {
		ls.metrics.UnknownPeer.Inc()
		ls.logger.Debug().Msgf("dropped: %v", err)
		return
	}
	if err != nil {
		ls.logger.Error().
			Uint32("peer", uint32(peer)).
			Msgf("error handling %s: %v", msg.Kind(), err)
	}
}

func (ls *LobbyServer) sendWith(peer transport.PeerID, msg protocol.Message, reliable bool) error {
	err := ls.host.Send(peer, transport.DefaultChannel, protocol.Encode(msg), reliable)
	if err != nil {
		ls.metrics.SendErrors.Inc()
		return fmt.Errorf("could not send %s to %d: %w", msg.Kind(), peer, err)
	}
	ls.metrics.IncSent(msg.Kind())
	return nil
}

func (ls *LobbyServer) send(peer transport.PeerID, msg protocol.Message) error {
	return ls.sendWith(peer, msg, msg.Kind().Reliable())
}

func (ls *LobbyServer) broadcast(msg protocol.Message) error {
	err := ls.host.Broadcast(transport.DefaultChannel, protocol.Encode(msg), msg.Kind().Reliable())
	if err != nil {
		ls.metrics.SendErrors.Inc()
		return fmt.Errorf("could not broadcast %s: %w", msg.Kind(), err)
	}
	ls.metrics.IncSent(msg.Kind())
	return nil
}

// handleLogin registers peer under its transport id. a login from a peer
// that is already logged in only gets its ack again: its position is kept
// and nobody hears about it twice.
func (ls *LobbyServer) handleLogin(peer transport.PeerID) error {
	id := uint32(peer)

	if ls.sessions.Has(id) {
		ls.logger.Debug().
			Uint32("peer", id).
			Msg("duplicate login, re-sending ack")
		return ls.send(peer, &protocol.LoginAck{ID: id})
	}

	var errs error
	if err := ls.send(peer, &protocol.LoginAck{ID: id}); err != nil {
		errs = multierror.Append(errs, err)
	}

	existing := ls.sessions.Snapshot()

	// tell everyone who is already here about the newcomer
	for _, s := range existing {
		if err := ls.send(transport.PeerID(s.ID), &protocol.LoginEvent{ID: id}); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	// and the newcomer about everyone who is already here. positions go
	// reliably so that they land after the matching login events.
	for _, s := range existing {
		if err := ls.send(peer, &protocol.LoginEvent{ID: s.ID}); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	for _, s := range existing {
		err := ls.sendWith(peer, &protocol.PositionEvent{ID: s.ID, Position: s.Position}, true)
		if err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	ls.genLock.Lock()
	ls.nextGen++
	ls.generations[id] = ls.nextGen
	ls.genLock.Unlock()

	ls.sessions.Upsert(id, protocol.Position{})
	ls.metrics.Sessions.Set(float64(ls.sessions.Len()))
	ls.observer.Joined(id)

	ls.logger.Info().
		Uint32("peer", id).
		Int("sessions", ls.sessions.Len()).
		Msg("peer logged in")

	return errs
}

func (ls *LobbyServer) handlePositionUpdate(peer transport.PeerID, msg *protocol.PositionUpdate) error {
	id := uint32(peer)

	if !ls.sessions.Has(id) {
		return fmt.Errorf("%w: %d sent %s before login", ErrUnknownPeer, id, msg.Kind())
	}
	if msg.ID != id {
		return fmt.Errorf("%w: %d claims to be %d", ErrUnknownPeer, id, msg.ID)
	}

	ls.sessions.Upsert(id, msg.Position)
	ls.observer.Moved(id, msg.Position)

	// everyone, the sender included. clients ignore their own echo.
	return ls.broadcast(&protocol.PositionEvent{ID: id, Position: msg.Position})
}

func (ls *LobbyServer) logout(peer transport.PeerID, reason string) {
	id := uint32(peer)

	if !ls.sessions.Remove(id) {
		ls.logger.Debug().
			Uint32("peer", id).
			Str("reason", reason).
			Msg("no session to remove")
		return
	}
	ls.genLock.Lock()
	delete(ls.generations, id)
	ls.genLock.Unlock()

	ls.metrics.Sessions.Set(float64(ls.sessions.Len()))
	ls.observer.Left(id)

	ls.logger.Info().
		Uint32("peer", id).
		Str("reason", reason).
		Int("sessions", ls.sessions.Len()).
		Msg("peer logged out")

	if err := ls.broadcast(&protocol.LogoutEvent{ID: id}); err != nil {
		ls.logger.Error().
			Uint32("peer", id).
			Msgf("%v", err)
	}
}
