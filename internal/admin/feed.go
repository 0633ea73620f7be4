package admin

import (
	"encoding/json"
	"sync"

	"github.com/blukai/circlesync/internal/debug"
	"github.com/blukai/circlesync/internal/protocol"
)

const subscriberBuffer = 256

type FeedEvent struct {
	Type string  `json:"type"`
	ID   uint32  `json:"id"`
	X    float32 `json:"x"`
	Y    float32 `json:"y"`
}

// Feed fans presence changes out to watchers. it plugs into the lobby
// server as its observer, so publishing never blocks: a watcher that
// can't keep up is dropped.
type Feed struct {
	lock sync.Mutex
	subs map[chan []byte]struct{}
}

func NewFeed() *Feed {
	return &Feed{
		subs: make(map[chan []byte]struct{}),
	}
}

func (f *Feed) Joined(id uint32) {
	f.publish(FeedEvent{Type: "joined", ID: id})
}

func (f *Feed) Moved(id uint32, pos protocol.Position) {
	f.publish(FeedEvent{Type: "moved", ID: id, X: pos.X, Y: pos.Y})
}

func (f *Feed) Left(id uint32) {
	f.publish(FeedEvent{Type: "left", ID: id})
}

// Subscribe returns a channel of json encoded FeedEvents. the channel is
// closed when the subscriber falls behind or unsubscribe is called.
func (f *Feed) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)

	f.lock.Lock()
	f.subs[ch] = struct{}{}
	f.lock.Unlock()

	unsubscribe := func() {
		f.lock.Lock()
		defer f.lock.Unlock()
		if _, ok := f.subs[ch]; ok {
			delete(f.subs, ch)
			close(ch)
		}
	}
	return ch, unsubscribe
}

func (f *Feed) Subscribers() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return len(f.subs)
}

func (f *Feed) publish(ev FeedEvent) {
	data, err := json.Marshal(ev)
	debug.Assert(err == nil)

	f.lock.Lock()
	defer f.lock.Unlock()

	for ch := range f.subs {
		select {
		case ch <- data:
		default:
			delete(f.subs, ch)
			close(ch)
		}
	}
}
