package relay

import (
	"sync"

	"github.com/meshmeet/meshmeet/pkg/com"
)

type (
	// Registry owns the room membership and the connection directory.
	// All mutations are serialized with a single mutex since joins,
	// leaves, and the sweep timer race on the same maps.
	Registry struct {
		mu    sync.Mutex
		rooms map[string]map[string]struct{} // room -> participant set
		conns map[com.Uid]binding            // connection -> (room, participant)
		index map[string]com.Uid             // participant -> its current connection
	}
	binding struct {
		room        string
		participant string
	}
	// Departure describes a detached room-participant binding and
	// the connections that should hear about it.
	Departure struct {
		RoomId        string
		ParticipantId string
		Notify        []com.Uid
	}
	// JoinResult carries everything the relay needs to answer a join:
	// the full member list for the joiner, the connections to notify,
	// and the previous binding when the connection switched rooms.
	JoinResult struct {
		Members []string
		Notify  []com.Uid
		Prev    *Departure
	}
)

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[string]struct{}),
		conns: make(map[com.Uid]binding),
		index: make(map[string]com.Uid),
	}
}

// Join binds the connection to (roomId, participantId), creating the room
// when absent. A connection holds at most one binding, so any previous
// one is detached first.
func (r *Registry) Join(conn com.Uid, roomId string, participantId string) JoinResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res JoinResult
	if prev, ok := r.conns[conn]; ok && (prev.room != roomId || prev.participant != participantId) {
		res.Prev = r.detach(conn, prev)
	}

	room, ok := r.rooms[roomId]
	if !ok {
		room = make(map[string]struct{})
		r.rooms[roomId] = room
	}
	room[participantId] = struct{}{}
	r.conns[conn] = binding{room: roomId, participant: participantId}
	// a re-join under a fresh connection steals the id from the stale one
	r.index[participantId] = conn

	res.Members = make([]string, 0, len(room))
	for id := range room {
		res.Members = append(res.Members, id)
	}
	res.Notify = r.others(roomId, participantId)
	return res
}

// Leave detaches the connection's binding, if any. Deleting the room on
// the last leave happens under the same lock, so no reader ever observes
// an empty room.
func (r *Registry) Leave(conn com.Uid) (Departure, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.conns[conn]
	if !ok {
		return Departure{}, false
	}
	d := r.detach(conn, prev)
	if d == nil {
		return Departure{}, false
	}
	return *d, true
}

// detach removes the binding under the held lock. A stale connection
// whose participant id was stolen by a newer connection produces no
// departure: the participant is still joined and nobody should hear
// otherwise.
func (r *Registry) detach(conn com.Uid, b binding) *Departure {
	delete(r.conns, conn)
	if cur, ok := r.index[b.participant]; !ok || cur != conn {
		return nil
	}
	delete(r.index, b.participant)
	if room, ok := r.rooms[b.room]; ok {
		delete(room, b.participant)
		if len(room) == 0 {
			delete(r.rooms, b.room)
		}
	}
	return &Departure{RoomId: b.room, ParticipantId: b.participant, Notify: r.others(b.room, b.participant)}
}

// others lists the connections of everyone in the room except the given
// participant. Must be called under the lock.
func (r *Registry) others(roomId string, exceptParticipant string) []com.Uid {
	room, ok := r.rooms[roomId]
	if !ok {
		return nil
	}
	targets := make([]com.Uid, 0, len(room))
	for id := range room {
		if id == exceptParticipant {
			continue
		}
		if conn, ok := r.index[id]; ok {
			targets = append(targets, conn)
		}
	}
	return targets
}

// Others lists the connections of everyone in the room except the
// given participant.
func (r *Registry) Others(roomId string, exceptParticipant string) []com.Uid {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.others(roomId, exceptParticipant)
}

// Lookup returns the connection currently bound to the participant.
func (r *Registry) Lookup(participantId string) (com.Uid, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.index[participantId]
	return conn, ok
}

// RoomOf returns the room the connection is currently bound to.
func (r *Registry) RoomOf(conn com.Uid) (string, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.conns[conn]
	return b.room, b.participant, ok
}

// SweepEmptyRooms drops rooms with no participants left behind by a
// directory desync. Idempotent; never touches a non-empty room.
func (r *Registry) SweepEmptyRooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, room := range r.rooms {
		if len(room) == 0 {
			delete(r.rooms, id)
			n++
		}
	}
	return n
}

func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

func (r *Registry) ParticipantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.index)
}
