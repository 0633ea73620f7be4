package transport

import (
	"errors"
	"fmt"
	"time"
)

// ErrTransportFailure wraps anything that prevents a host from being
// created (resolve, bind). it is fatal at startup.
var ErrTransportFailure = errors.New("transport failure")

// ErrClosed is returned by hosts that were closed.
var ErrClosed = errors.New("host closed")

// ErrUnknownPeer is returned when sending to a peer that isn't connected.
var ErrUnknownPeer = errors.New("unknown peer")

// PeerID identifies one connection for its lifetime. ids are reused after
// disconnect, don't hold on to them across Disconnected/TimedOut events.
type PeerID uint32

// Channel 0 is the only one the lobby protocol uses.
const DefaultChannel uint8 = 0

type EventType uint8

const (
	EventNone EventType = iota
	EventConnected
	EventDisconnected
	EventTimedOut
	EventReceived
)

func (t EventType) String() string {
	switch t {
	case EventNone:
		return "none"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventTimedOut:
		return "timed out"
	case EventReceived:
		return "received"
	default:
		return fmt.Sprintf("EventType(%d)", uint8(t))
	}
}

type Event struct {
	Type    EventType
	Peer    PeerID
	Channel uint8
	// Data is set for EventReceived only, its length is exactly the
	// number of bytes that were received.
	Data []byte
}

// Host is a connection-oriented datagram endpoint. it is not safe for
// concurrent use, one goroutine owns it.
type Host interface {
	// CheckEvents returns an already queued event without doing any
	// network work.
	CheckEvents() (Event, bool)
	// Service does network work and waits up to timeout for an event.
	// no event is the normal outcome of an idle network. the network work
	// may include flushing queued data, possibly more than once while
	// waiting, so an explicit Flush is the guaranteed flush point rather
	// than the only one.
	Service(timeout time.Duration) (Event, bool, error)
	// Send queues data for peer. queued data leaves on Flush (or during
	// Service).
	Send(peer PeerID, channel uint8, data []byte, reliable bool) error
	// Broadcast queues data for every connected peer.
	Broadcast(channel uint8, data []byte, reliable bool) error
	Flush() error
	// Disconnect drops a peer without emitting an event for it locally.
	Disconnect(peer PeerID)
	Close() error
}

// Timeouts controls when a silent peer is considered gone. a peer times
// out once it's been silent for Maximum, or for at least Minimum and Limit
// round trips, whichever comes first.
type Timeouts struct {
	Limit   uint32
	Minimum time.Duration
	Maximum time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Limit:   32,
		Minimum: time.Second,
		Maximum: 4 * time.Second,
	}
}

// Expired reports whether a peer that has been silent for silence with
// the given smoothed round trip time should be timed out.
func (t Timeouts) Expired(silence, rtt time.Duration) bool {
	if silence >= t.Maximum {
		return true
	}
	return silence >= t.Minimum && silence >= time.Duration(t.Limit)*rtt
}
