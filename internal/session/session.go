package session

import (
	"sync"

	"github.com/blukai/circlesync/internal/protocol"
	"github.com/google/btree"
)

const btreeDegree = 8

type Session struct {
	ID       uint32
	Position protocol.Position
}

func less(a, b Session) bool {
	return a.ID < b.ID
}

// Table holds the last known position of every logged in peer. the lobby
// server is the only writer; readers (the admin endpoints) may run on
// other goroutines.
type Table struct {
	lock  sync.RWMutex
	items *btree.BTreeG[Session]
}

func NewTable() *Table {
	return &Table{
		items: btree.NewG(btreeDegree, less),
	}
}

// Upsert inserts a session or overwrites its position. it reports whether
// the session already existed.
func (t *Table) Upsert(id uint32, pos protocol.Position) bool {
	t.lock.Lock()
	defer t.lock.Unlock()

	_, existed := t.items.ReplaceOrInsert(Session{ID: id, Position: pos})
	return existed
}

func (t *Table) Remove(id uint32) bool {
	t.lock.Lock()
	defer t.lock.Unlock()

	_, removed := t.items.Delete(Session{ID: id})
	return removed
}

func (t *Table) Get(id uint32) (Session, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()

	return t.items.Get(Session{ID: id})
}

func (t *Table) Has(id uint32) bool {
	t.lock.RLock()
	defer t.lock.RUnlock()

	return t.items.Has(Session{ID: id})
}

func (t *Table) Len() int {
	t.lock.RLock()
	defer t.lock.RUnlock()

	return t.items.Len()
}

// Snapshot copies all sessions out in ascending id order.
func (t *Table) Snapshot() []Session {
	t.lock.RLock()
	defer t.lock.RUnlock()

	sessions := make([]Session, 0, t.items.Len())
	t.items.Ascend(func(s Session) bool {
		sessions = append(sessions, s)
		return true
	})
	return sessions
}
