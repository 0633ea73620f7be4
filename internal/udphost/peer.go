package udphost

import (
	"net"
	"time"

	"github.com/blukai/circlesync/internal/transport"
	"github.com/cespare/xxhash/v2"
)

type addrKey uint64

func makeAddrKey(addr *net.UDPAddr) addrKey {
	return addrKey(xxhash.Sum64String(addr.String()))
}

const (
	initialRTT       = 500 * time.Millisecond
	minRetransmit    = 100 * time.Millisecond
	pingInterval     = 500 * time.Millisecond
	connectInterval  = 500 * time.Millisecond
	maxPendingInputs = 1024
)

type peerState uint8

const (
	stateConnecting peerState = iota
	stateConnected
)

type outgoing struct {
	datagram []byte
	sentAt   time.Time
	retries  int
}

type peer struct {
	id    transport.PeerID
	addr  *net.UDPAddr
	key   addrKey
	state peerState

	connectingSince time.Time
	lastSeen        time.Time
	lastPing        time.Time
	lastConnect     time.Time
	rtt             time.Duration

	// reliable, outgoing
	nextReliable uint16
	unacked      map[uint16]*outgoing
	// reliable, incoming
	expected uint16
	pending  map[uint16][]byte

	// unreliable sequenced
	nextUnreliable uint16
	lastUnreliable uint16
	seenUnreliable bool

	outbox [][]byte
}

func newPeer(id transport.PeerID, addr *net.UDPAddr, now time.Time) *peer {
	return &peer{
		id:              id,
		addr:            addr,
		key:             makeAddrKey(addr),
		connectingSince: now,
		lastSeen:        now,
		lastPing:        now,
		rtt:             initialRTT,
		unacked:         make(map[uint16]*outgoing),
		pending:         make(map[uint16][]byte),
	}
}

func (p *peer) queue(datagram []byte) {
	p.outbox = append(p.outbox, datagram)
}

func (p *peer) sampleRTT(sample time.Duration) {
	if sample < 0 {
		return
	}
	// NOTE(blukai): same smoothing as tcp's srtt, 1/8 gain
	p.rtt += (sample - p.rtt) / 8
}

func (p *peer) retransmitTimeout() time.Duration {
	return max(2*p.rtt, minRetransmit)
}

// acceptReliable stores an incoming reliable payload and returns every
// payload that is now deliverable in order.
func (p *peer) acceptReliable(seq uint16, payload []byte) [][]byte {
	if seq != p.expected {
		if seqNewer(seq, p.expected) && len(p.pending) < maxPendingInputs {
			p.pending[seq] = payload
		}
		// duplicates of already delivered packets fall through here
		return nil
	}

	ready := [][]byte{payload}
	p.expected++
	for {
		next, ok := p.pending[p.expected]
		if !ok {
			return ready
		}
		delete(p.pending, p.expected)
		ready = append(ready, next)
		p.expected++
	}
}

// acceptUnreliable reports whether an unreliable packet is newer than
// anything seen before. stale ones are dropped.
func (p *peer) acceptUnreliable(seq uint16) bool {
	if p.seenUnreliable && !seqNewer(seq, p.lastUnreliable) {
		return false
	}
	p.seenUnreliable = true
	p.lastUnreliable = seq
	return true
}
