package lobbyclient

import (
	"sort"
	"sync"

	"github.com/blukai/circlesync/internal/protocol"
)

// Actors are the local stand-ins for remote peers.
type Actors interface {
	Spawn(id uint32)
	Move(id uint32, pos protocol.Position)
	Despawn(id uint32)
}

type Player struct {
	ID       uint32
	Position protocol.Position
}

// Roster keeps remote players in memory. it may be read from other
// goroutines while the client ticks.
type Roster struct {
	lock    sync.RWMutex
	players map[uint32]*Player
}

var _ Actors = (*Roster)(nil)

func NewRoster() *Roster {
	return &Roster{
		players: make(map[uint32]*Player),
	}
}

func (r *Roster) Spawn(id uint32) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.players[id]; !ok {
		r.players[id] = &Player{ID: id}
	}
}

func (r *Roster) Move(id uint32, pos protocol.Position) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if player, ok := r.players[id]; ok {
		player.Position = pos
	}
}

func (r *Roster) Despawn(id uint32) {
	r.lock.Lock()
	defer r.lock.Unlock()

	delete(r.players, id)
}

func (r *Roster) Has(id uint32) bool {
	r.lock.RLock()
	defer r.lock.RUnlock()

	_, ok := r.players[id]
	return ok
}

func (r *Roster) Get(id uint32) (Player, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	player, ok := r.players[id]
	if !ok {
		return Player{}, false
	}
	return *player, true
}

// Players returns copies of all remote players ordered by id.
func (r *Roster) Players() []Player {
	r.lock.RLock()
	defer r.lock.RUnlock()

	players := make([]Player, 0, len(r.players))
	for _, player := range r.players {
		players = append(players, *player)
	}
	sort.Slice(players, func(i, j int) bool {
		return players[i].ID < players[j].ID
	})
	return players
}
