package signaling

import (
	"sort"
	"sync"

	"github.com/Carthicc/karlynn/internal/protocol"
)

// Endpoint is one connected participant as seen by the registry.
type Endpoint interface {
	// ID is the server-assigned connection identifier.
	ID() string

	// Send queues a message for the endpoint without blocking. It reports
	// false when the message was dropped.
	Send(msg *protocol.Message) bool
}

// Registry maps room IDs to the endpoints currently in them. A room exists
// only while it has members.
type Registry struct {
	mu sync.RWMutex

	// rooms maps room ID -> endpoint ID -> endpoint.
	rooms map[string]map[string]Endpoint

	// memberOf maps endpoint ID -> room ID.
	memberOf map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:    make(map[string]map[string]Endpoint),
		memberOf: make(map[string]string),
	}
}

// Join adds ep to the room and sends user-joined to every other member. An
// endpoint already in a different room leaves it first. Joining the room the
// endpoint is already in changes nothing and reports false.
func (r *Registry) Join(ep Endpoint, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := ep.ID()
	if current, ok := r.memberOf[id]; ok {
		if current == roomID {
			return false
		}
		r.removeLocked(id, current)
	}

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]Endpoint)
		r.rooms[roomID] = members
	}

	notice := protocol.MustMessage(protocol.EventUserJoined, id)
	for _, other := range members {
		other.Send(notice)
	}

	members[id] = ep
	r.memberOf[id] = roomID
	return true
}

// Leave removes the endpoint from its room, if any, and sends peer-left to
// the remaining members. It returns the room that was left.
func (r *Registry) Leave(endpointID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, ok := r.memberOf[endpointID]
	if !ok {
		return "", false
	}
	r.removeLocked(endpointID, roomID)
	return roomID, true
}

func (r *Registry) removeLocked(endpointID, roomID string) {
	delete(r.memberOf, endpointID)

	members := r.rooms[roomID]
	delete(members, endpointID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
		return
	}

	notice := protocol.MustMessage(protocol.EventPeerLeft, endpointID)
	for _, other := range members {
		other.Send(notice)
	}
}

// RoomOf returns the room the endpoint is in.
func (r *Registry) RoomOf(endpointID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID, ok := r.memberOf[endpointID]
	return roomID, ok
}

// Recipients returns the members of roomID other than senderID. A non-empty
// target narrows the result to that member, if it is in the room.
func (r *Registry) Recipients(roomID, senderID, target string) []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomID]
	if target != "" {
		if ep, ok := members[target]; ok && target != senderID {
			return []Endpoint{ep}
		}
		return nil
	}

	out := make([]Endpoint, 0, len(members))
	for id, ep := range members {
		if id != senderID {
			out = append(out, ep)
		}
	}
	return out
}

// Members returns the sorted endpoint IDs in the room.
func (r *Registry) Members(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedIDs(r.rooms[roomID])
}

// Snapshot returns every room with its sorted member IDs.
func (r *Registry) Snapshot() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]string, len(r.rooms))
	for roomID, members := range r.rooms {
		out[roomID] = sortedIDs(members)
	}
	return out
}

// Len returns the number of rooms and of endpoints in a room.
func (r *Registry) Len() (rooms, members int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms), len(r.memberOf)
}

func sortedIDs(members map[string]Endpoint) []string {
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
