// Package memtransport is an in-process transport.Host used to drive the
// lobby server and client in tests without sockets. delivery is
// immediate, lossless and ordered.
package memtransport

import (
	"fmt"
	"sync"
	"time"

	"github.com/blukai/circlesync/internal/transport"
	"github.com/hashicorp/go-multierror"
)

type link struct {
	remote *Host
	// remoteID is how remote knows us
	remoteID transport.PeerID
}

// Hub connects hosts with each other.
type Hub struct {
	mu     sync.Mutex
	server *Host
}

func NewHub() *Hub {
	return &Hub{}
}

// Listen creates the server side host. peers get ids 1..maxPeers.
func (h *Hub) Listen(maxPeers int) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()

	host := newHost(h, maxPeers)
	h.server = host
	return host
}

// Connect creates a client host connected to the listening host. the
// server is known to the client as peer 0. both sides get a Connected
// event; if the server is full the client gets Disconnected instead.
func (h *Hub) Connect() (*Host, error) {
	h.mu.Lock()
	server := h.server
	h.mu.Unlock()

	if server == nil {
		return nil, fmt.Errorf("%w: nobody is listening", transport.ErrTransportFailure)
	}

	client := newHost(h, 1)

	server.mu.Lock()
	id, ok := server.freeID()
	if ok {
		server.peers[id] = &link{remote: client, remoteID: 0}
	}
	server.mu.Unlock()

	if !ok {
		client.push(transport.Event{Type: transport.EventDisconnected, Peer: 0})
		return client, nil
	}

	client.mu.Lock()
	client.peers[0] = &link{remote: server, remoteID: id}
	client.mu.Unlock()

	server.push(transport.Event{Type: transport.EventConnected, Peer: id})
	client.push(transport.Event{Type: transport.EventConnected, Peer: 0})
	return client, nil
}

type Host struct {
	hub      *Hub
	maxPeers int

	mu      sync.Mutex
	queue   []transport.Event
	notify  chan struct{}
	peers   map[transport.PeerID]*link
	closed  bool
	flushes int
}

var _ transport.Host = (*Host)(nil)

func newHost(hub *Hub, maxPeers int) *Host {
	return &Host{
		hub:      hub,
		maxPeers: maxPeers,
		notify:   make(chan struct{}, 1),
		peers:    make(map[transport.PeerID]*link),
	}
}

// freeID must be called with mu held.
func (h *Host) freeID() (transport.PeerID, bool) {
	for id := transport.PeerID(1); int(id) <= h.maxPeers; id++ {
		if _, taken := h.peers[id]; !taken {
			return id, true
		}
	}
	return 0, false
}

func (h *Host) push(ev transport.Event) {
	h.mu.Lock()
	h.queue = append(h.queue, ev)
	h.mu.Unlock()

	select {
	case h.notify <- struct{}{}:
	default:
	}
}

// Inject queues an arbitrary event, e.g. a duplicate TimedOut after a
// Disconnected.
func (h *Host) Inject(ev transport.Event) {
	h.push(ev)
}

// Drop severs the link to peer as if the network went away. both ends see
// Disconnected, or TimedOut when timedOut is set.
func (h *Host) Drop(peer transport.PeerID, timedOut bool) {
	typ := transport.EventDisconnected
	if timedOut {
		typ = transport.EventTimedOut
	}

	h.mu.Lock()
	l, ok := h.peers[peer]
	delete(h.peers, peer)
	h.mu.Unlock()
	if !ok {
		return
	}

	l.remote.mu.Lock()
	delete(l.remote.peers, l.remoteID)
	l.remote.mu.Unlock()

	h.push(transport.Event{Type: typ, Peer: peer})
	l.remote.push(transport.Event{Type: typ, Peer: l.remoteID})
}

// Flushes returns how many times Flush was called.
func (h *Host) Flushes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.flushes
}

// Pending returns number of queued events.
func (h *Host) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queue)
}

// Peers returns number of connected peers.
func (h *Host) Peers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *Host) CheckEvents() (transport.Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.queue) == 0 {
		return transport.Event{}, false
	}
	ev := h.queue[0]
	h.queue = h.queue[1:]
	return ev, true
}

func (h *Host) Service(timeout time.Duration) (transport.Event, bool, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return transport.Event{}, false, transport.ErrClosed
	}

	if ev, ok := h.CheckEvents(); ok {
		return ev, true, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.notify:
		ev, ok := h.CheckEvents()
		return ev, ok, nil
	case <-timer.C:
		return transport.Event{}, false, nil
	}
}

func (h *Host) Send(peer transport.PeerID, channel uint8, data []byte, reliable bool) error {
	h.mu.Lock()
	l, ok := h.peers[peer]
	closed := h.closed
	h.mu.Unlock()

	if closed {
		return transport.ErrClosed
	}
	if !ok {
		return fmt.Errorf("%w: %d", transport.ErrUnknownPeer, peer)
	}

	l.remote.push(transport.Event{
		Type:    transport.EventReceived,
		Peer:    l.remoteID,
		Channel: channel,
		Data:    append([]byte(nil), data...),
	})
	return nil
}

func (h *Host) Broadcast(channel uint8, data []byte, reliable bool) error {
	h.mu.Lock()
	ids := make([]transport.PeerID, 0, len(h.peers))
	for id := range h.peers {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	var errs error
	for _, id := range ids {
		if err := h.Send(id, channel, data, reliable); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs
}

func (h *Host) Flush() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return transport.ErrClosed
	}
	h.flushes++
	return nil
}

func (h *Host) Disconnect(peer transport.PeerID) {
	h.mu.Lock()
	l, ok := h.peers[peer]
	delete(h.peers, peer)
	h.mu.Unlock()
	if !ok {
		return
	}

	l.remote.mu.Lock()
	delete(l.remote.peers, l.remoteID)
	l.remote.mu.Unlock()

	l.remote.push(transport.Event{Type: transport.EventDisconnected, Peer: l.remoteID})
}

func (h *Host) Close() error {
	h.mu.Lock()
	ids := make([]transport.PeerID, 0, len(h.peers))
	for id := range h.peers {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		h.Disconnect(id)
	}

	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return nil
}
