package udphost

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/blukai/circlesync/internal/byteorder"
	"github.com/blukai/circlesync/internal/debug"
	"github.com/blukai/circlesync/internal/logging"
	"github.com/blukai/circlesync/internal/transport"
	"github.com/hashicorp/go-multierror"
	"github.com/phuslu/log"
)

// NOTE(blukai): a client host knows exactly one peer, the server, and it's
// always 0.
const serverPeer transport.PeerID = 0

const (
	readTimeout    = 250 * time.Millisecond
	serviceTick    = 10 * time.Millisecond
	datagramBuffer = 1024
)

type datagram struct {
	addr *net.UDPAddr
	data []byte
}

// Host implements transport.Host over a plain udp socket: connection
// handshake, keep alive pings, reliable ordered and unreliable sequenced
// delivery, timeouts.
//
// a Host is owned by one goroutine. the only other goroutine is the socket
// reader, which hands copies of datagrams over a channel.
type Host struct {
	conn   *net.UDPConn
	logger *log.Logger

	timeouts transport.Timeouts
	maxPeers int
	client   bool
	epoch    time.Time

	peers  map[transport.PeerID]*peer
	byAddr map[addrKey]*peer
	events []transport.Event

	datagrams chan datagram
	done      chan struct{}
	wg        sync.WaitGroup
	closed    bool
}

var _ transport.Host = (*Host)(nil)

func newHost(conn *net.UDPConn, maxPeers int, timeouts transport.Timeouts, logger *log.Logger) *Host {
	h := &Host{
		conn:   conn,
		logger: logging.OrDiscard(logger),

		timeouts: timeouts,
		maxPeers: maxPeers,
		epoch:    time.Now(),

		peers:  make(map[transport.PeerID]*peer),
		byAddr: make(map[addrKey]*peer),

		datagrams: make(chan datagram, datagramBuffer),
		done:      make(chan struct{}),
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.runRecv()
	}()

	return h
}

// Listen binds a server host. failures wrap transport.ErrTransportFailure.
func Listen(network, address string, maxPeers int, timeouts transport.Timeouts, logger *log.Logger) (*Host, error) {
	debug.Assert(maxPeers > 0)

	addr, err := net.ResolveUDPAddr(network, address)
	if err != nil {
		return nil, fmt.Errorf("%w: could not resolve udp addr: %w", transport.ErrTransportFailure, err)
	}

	conn, err := net.ListenUDP(network, addr)
	if err != nil {
		return nil, fmt.Errorf("%w: could not listen udp: %w", transport.ErrTransportFailure, err)
	}

	return newHost(conn, maxPeers, timeouts, logger), nil
}

// Connect creates a client host and starts connecting to address. the
// outcome is reported as a Connected or Disconnected event for peer 0.
func Connect(network, address string, timeouts transport.Timeouts, logger *log.Logger) (*Host, error) {
	addr, err := net.ResolveUDPAddr(network, address)
	if err != nil {
		return nil, fmt.Errorf("%w: could not resolve udp addr: %w", transport.ErrTransportFailure, err)
	}

	conn, err := net.ListenUDP(network, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: could not listen udp: %w", transport.ErrTransportFailure, err)
	}

	h := newHost(conn, 1, timeouts, logger)
	h.client = true

	now := time.Now()
	server := newPeer(serverPeer, addr, now)
	server.lastConnect = now
	server.queue(packet(header{typ: packetConnect}, nil))
	h.addPeer(server)

	return h, nil
}

// Addr can be useful to retreive host's address when it was created with
// ":0".
func (h *Host) Addr() *net.UDPAddr {
	return h.conn.LocalAddr().(*net.UDPAddr)
}

func (h *Host) runRecv() {
	buf := make([]byte, MaxSize)

	for {
		select {
		case <-h.done:
			return
		default:
		}

		err := h.conn.SetReadDeadline(time.Now().Add(readTimeout))
		if err != nil {
			// only fails on a closed conn
			return
		}

		n, addr, err := h.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}

			h.logger.Error().
				Msgf("could not read from udp: %v", err)
			continue
		}

		// the buffer is reused, hand over exactly what was received
		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case h.datagrams <- datagram{addr: addr, data: data}:
		case <-h.done:
			return
		}
	}
}

func (h *Host) addPeer(p *peer) {
	h.peers[p.id] = p
	h.byAddr[p.key] = p
}

func (h *Host) removePeer(p *peer) {
	delete(h.peers, p.id)
	delete(h.byAddr, p.key)
}

func (h *Host) micros(now time.Time) uint32 {
	return uint32(now.Sub(h.epoch) / time.Microsecond)
}

func (h *Host) pushEvent(ev transport.Event) {
	h.events = append(h.events, ev)
}

// freeID returns lowest unused id in [1, maxPeers].
func (h *Host) freeID() (transport.PeerID, bool) {
	for id := transport.PeerID(1); int(id) <= h.maxPeers; id++ {
		if _, taken := h.peers[id]; !taken {
			return id, true
		}
	}
	return 0, false
}

func (h *Host) CheckEvents() (transport.Event, bool) {
	if len(h.events) == 0 {
		return transport.Event{}, false
	}
	ev := h.events[0]
	h.events[0] = transport.Event{}
	h.events = h.events[1:]
	return ev, true
}

func (h *Host) Service(timeout time.Duration) (transport.Event, bool, error) {
	if h.closed {
		return transport.Event{}, false, transport.ErrClosed
	}
	if ev, ok := h.CheckEvents(); ok {
		return ev, true, nil
	}

	deadline := time.Now().Add(timeout)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		h.drainDatagrams()
		h.serviceTimers(time.Now())
		if err := h.Flush(); err != nil {
			h.logger.Warn().Msgf("could not flush: %v", err)
		}

		if ev, ok := h.CheckEvents(); ok {
			return ev, true, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return transport.Event{}, false, nil
		}

		wait := min(remaining, serviceTick)
		if timer == nil {
			timer = time.NewTimer(wait)
		} else {
			timer.Reset(wait)
		}

		select {
		case d := <-h.datagrams:
			if !timer.Stop() {
				<-timer.C
			}
			h.handleDatagram(d, time.Now())
		case <-timer.C:
		}
	}
}

func (h *Host) drainDatagrams() {
	for {
		select {
		case d := <-h.datagrams:
			h.handleDatagram(d, time.Now())
		default:
			return
		}
	}
}

func (h *Host) serviceTimers(now time.Time) {
	for _, p := range h.peers {
		if p.state == stateConnecting {
			if now.Sub(p.connectingSince) >= h.timeouts.Maximum {
				h.logger.Debug().
					Str("addr", p.addr.String()).
					Msg("could not connect")
				h.removePeer(p)
				h.pushEvent(transport.Event{Type: transport.EventDisconnected, Peer: p.id})
				continue
			}
			if now.Sub(p.lastConnect) >= connectInterval {
				p.lastConnect = now
				p.queue(packet(header{typ: packetConnect}, nil))
			}
			continue
		}

		if h.timeouts.Expired(now.Sub(p.lastSeen), p.rtt) {
			h.logger.Debug().
				Uint32("peer", uint32(p.id)).
				Dur("silence", now.Sub(p.lastSeen)).
				Dur("rtt", p.rtt).
				Msg("peer timed out")
			h.removePeer(p)
			h.pushEvent(transport.Event{Type: transport.EventTimedOut, Peer: p.id})
			continue
		}

		rto := p.retransmitTimeout()
		for _, out := range p.unacked {
			if now.Sub(out.sentAt) >= rto {
				out.sentAt = now
				out.retries++
				p.queue(out.datagram)
			}
		}

		if now.Sub(p.lastPing) >= pingInterval {
			p.lastPing = now
			payload := byteorder.AppendU32(nil, h.micros(now))
			p.queue(packet(header{typ: packetPing}, payload))
		}
	}
}

func (h *Host) handleDatagram(d datagram, now time.Time) {
	hdr, payload, err := parseHeader(d.data)
	if err != nil {
		h.logger.Debug().
			Str("addr", d.addr.String()).
			Msgf("dropped datagram: %v", err)
		return
	}

	p := h.byAddr[makeAddrKey(d.addr)]

	if hdr.typ == packetConnect {
		h.handleConnect(p, d.addr, now)
		return
	}
	if p == nil {
		// NOTE(blukai): not an error, could be a late packet from a
		// peer that has timed out
		h.logger.Debug().
			Str("addr", d.addr.String()).
			Str("type", hdr.typ.String()).
			Msg("datagram from unknown addr")
		return
	}

	if p.state == stateConnecting {
		switch hdr.typ {
		case packetRefuse, packetDisconnect:
			h.removePeer(p)
			h.pushEvent(transport.Event{Type: transport.EventDisconnected, Peer: p.id})
			return
		default:
			// anything from the server, accept or not, means we're in;
			// the accept itself may have been lost.
			h.markConnected(p, now)
		}
	}

	p.lastSeen = now

	switch hdr.typ {
	case packetAccept, packetRefuse:
		// already connected, nothing to do
	case packetDisconnect:
		h.removePeer(p)
		h.pushEvent(transport.Event{Type: transport.EventDisconnected, Peer: p.id})
	case packetPing:
		p.queue(packet(header{typ: packetPong}, payload))
	case packetPong:
		if len(payload) == 4 {
			// microseconds since epoch, wraps every ~71 minutes which
			// unsigned subtraction doesn't care about
			elapsed := h.micros(now) - byteorder.U32(payload)
			p.sampleRTT(time.Duration(elapsed) * time.Microsecond)
		}
	case packetAck:
		if out, ok := p.unacked[hdr.seq]; ok {
			if out.retries == 0 {
				p.sampleRTT(now.Sub(out.sentAt))
			}
			delete(p.unacked, hdr.seq)
		}
	case packetReliable:
		p.queue(packet(header{typ: packetAck, channel: hdr.channel, seq: hdr.seq}, nil))
		for _, ready := range p.acceptReliable(hdr.seq, payload) {
			h.pushReceived(p, hdr.channel, ready)
		}
	case packetUnreliable:
		if p.acceptUnreliable(hdr.seq) {
			h.pushReceived(p, hdr.channel, payload)
		}
	}
}

func (h *Host) pushReceived(p *peer, channel uint8, data []byte) {
	h.pushEvent(transport.Event{
		Type:    transport.EventReceived,
		Peer:    p.id,
		Channel: channel,
		Data:    data,
	})
}

func (h *Host) markConnected(p *peer, now time.Time) {
	p.state = stateConnected
	p.lastSeen = now
	p.lastPing = now
	h.pushEvent(transport.Event{Type: transport.EventConnected, Peer: p.id})
}

func (h *Host) handleConnect(p *peer, addr *net.UDPAddr, now time.Time) {
	if h.client {
		return
	}

	if p != nil {
		// our accept got lost, say it again
		p.lastSeen = now
		p.queue(packet(header{typ: packetAccept}, nil))
		return
	}

	id, ok := h.freeID()
	if !ok {
		h.logger.Warn().
			Str("addr", addr.String()).
			Int("max_peers", h.maxPeers).
			Msg("refusing connection, host is full")
		if _, err := h.conn.WriteToUDP(packet(header{typ: packetRefuse}, nil), addr); err != nil {
			h.logger.Error().Msgf("could not write refusal to %s: %v", addr, err)
		}
		return
	}

	p = newPeer(id, addr, now)
	h.addPeer(p)
	p.queue(packet(header{typ: packetAccept}, nil))
	h.markConnected(p, now)

	h.logger.Debug().
		Uint32("peer", uint32(id)).
		Str("addr", addr.String()).
		Msg("accepted connection")
}

func (h *Host) Send(peerID transport.PeerID, channel uint8, data []byte, reliable bool) error {
	if h.closed {
		return transport.ErrClosed
	}
	if len(data) > MaxPayload {
		return fmt.Errorf("payload too large (got %d; want <= %d)", len(data), MaxPayload)
	}

	p, ok := h.peers[peerID]
	if !ok || p.state != stateConnected {
		return fmt.Errorf("%w: %d", transport.ErrUnknownPeer, peerID)
	}

	if reliable {
		seq := p.nextReliable
		p.nextReliable++
		datagram := packet(header{typ: packetReliable, channel: channel, seq: seq}, data)
		p.unacked[seq] = &outgoing{datagram: datagram, sentAt: time.Now()}
		p.queue(datagram)
		return nil
	}

	seq := p.nextUnreliable
	p.nextUnreliable++
	p.queue(packet(header{typ: packetUnreliable, channel: channel, seq: seq}, data))
	return nil
}

func (h *Host) Broadcast(channel uint8, data []byte, reliable bool) error {
	var errs error
	for id, p := range h.peers {
		if p.state != stateConnected {
			continue
		}
		if err := h.Send(id, channel, data, reliable); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs
}

func (h *Host) Flush() error {
	if h.closed {
		return transport.ErrClosed
	}

	var errs error
	for _, p := range h.peers {
		for _, datagram := range p.outbox {
			if _, err := h.conn.WriteToUDP(datagram, p.addr); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("could not write to %s: %w", p.addr, err))
			}
		}
		clear(p.outbox)
		p.outbox = p.outbox[:0]
	}
	return errs
}

func (h *Host) Disconnect(peerID transport.PeerID) {
	p, ok := h.peers[peerID]
	if !ok {
		return
	}
	h.removePeer(p)

	if _, err := h.conn.WriteToUDP(packet(header{typ: packetDisconnect}, nil), p.addr); err != nil {
		h.logger.Warn().Msgf("could not write disconnect to %s: %v", p.addr, err)
	}
}

func (h *Host) Close() error {
	if h.closed {
		return nil
	}

	for id := range h.peers {
		h.Disconnect(id)
	}

	h.closed = true
	close(h.done)
	err := h.conn.Close()
	h.wg.Wait()
	return err
}
