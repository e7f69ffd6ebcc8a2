package signaling

import (
	"reflect"
	"testing"

	"github.com/Carthicc/karlynn/internal/protocol"
)

// fakeEndpoint records every message queued for it.
type fakeEndpoint struct {
	id    string
	inbox []*protocol.Message
	full  bool
}

func newEndpoint(id string) *fakeEndpoint {
	return &fakeEndpoint{id: id}
}

func (e *fakeEndpoint) ID() string { return e.id }

func (e *fakeEndpoint) Send(msg *protocol.Message) bool {
	if e.full {
		return false
	}
	e.inbox = append(e.inbox, msg)
	return true
}

func (e *fakeEndpoint) events() []string {
	out := make([]string, len(e.inbox))
	for i, m := range e.inbox {
		out[i] = m.Event
	}
	return out
}

func (e *fakeEndpoint) last(t *testing.T) *protocol.Message {
	t.Helper()
	if len(e.inbox) == 0 {
		t.Fatalf("%s received nothing", e.id)
	}
	return e.inbox[len(e.inbox)-1]
}

func TestJoinNotifiesExistingMembersOnly(t *testing.T) {
	reg := NewRegistry()
	a, b := newEndpoint("A"), newEndpoint("B")

	reg.Join(a, "movie42")
	if got := reg.Members("movie42"); !reflect.DeepEqual(got, []string{"A"}) {
		t.Fatalf("members = %v, want [A]", got)
	}
	if len(a.inbox) != 0 {
		t.Fatalf("first joiner must not be notified, got %v", a.events())
	}

	reg.Join(b, "movie42")
	if got := reg.Members("movie42"); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Fatalf("members = %v, want [A B]", got)
	}
	msg := a.last(t)
	if msg.Event != protocol.EventUserJoined {
		t.Fatalf("A got %s, want user-joined", msg.Event)
	}
	if peer, _ := protocol.DecodeString(msg); peer != "B" {
		t.Errorf("user-joined carried %q, want B", peer)
	}
	if len(b.inbox) != 0 {
		t.Errorf("joiner must receive nothing, got %v", b.events())
	}
}

func TestRejoinSameRoomIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	a, b := newEndpoint("A"), newEndpoint("B")
	reg.Join(a, "r")
	reg.Join(b, "r")

	if reg.Join(b, "r") {
		t.Error("second join of the same room reported a change")
	}
	if n := len(a.inbox); n != 1 {
		t.Errorf("A notified %d times, want 1", n)
	}
	if _, members := reg.Len(); members != 2 {
		t.Errorf("members = %d, want 2", members)
	}
}

func TestLeaveRemovesMemberAndNotifiesRemaining(t *testing.T) {
	reg := NewRegistry()
	a, b := newEndpoint("A"), newEndpoint("B")
	reg.Join(a, "movie42")
	reg.Join(b, "movie42")

	room, ok := reg.Leave("A")
	if !ok || room != "movie42" {
		t.Fatalf("Leave = %q %v", room, ok)
	}
	if got := reg.Members("movie42"); !reflect.DeepEqual(got, []string{"B"}) {
		t.Fatalf("members = %v, want [B]", got)
	}
	msg := b.last(t)
	if msg.Event != protocol.EventPeerLeft {
		t.Fatalf("B got %s, want peer-left", msg.Event)
	}

	reg.Leave("B")
	if snap := reg.Snapshot(); len(snap) != 0 {
		t.Errorf("empty room retained: %v", snap)
	}
	if _, ok := reg.Leave("B"); ok {
		t.Error("leaving twice reported a room")
	}
}

func TestJoinOtherRoomLeavesPrevious(t *testing.T) {
	reg := NewRegistry()
	a, b := newEndpoint("A"), newEndpoint("B")
	reg.Join(a, "one")
	reg.Join(b, "one")

	reg.Join(b, "two")

	if room, _ := reg.RoomOf("B"); room != "two" {
		t.Errorf("B is in %q, want two", room)
	}
	if got := reg.Members("one"); !reflect.DeepEqual(got, []string{"A"}) {
		t.Errorf("room one = %v", got)
	}
	if a.last(t).Event != protocol.EventPeerLeft {
		t.Errorf("A should see peer-left, got %v", a.events())
	}
}

func TestMembershipMatchesJoinedMinusDisconnected(t *testing.T) {
	reg := NewRegistry()
	eps := map[string]*fakeEndpoint{}
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		eps[id] = newEndpoint(id)
	}
	reg.Join(eps["a"], "x")
	reg.Join(eps["b"], "x")
	reg.Join(eps["c"], "y")
	reg.Join(eps["d"], "x")
	reg.Leave("b")
	reg.Join(eps["e"], "y")
	reg.Leave("c")

	want := map[string][]string{
		"x": {"a", "d"},
		"y": {"e"},
	}
	if got := reg.Snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("snapshot = %v, want %v", got, want)
	}
}

func TestRecipientsExcludeSender(t *testing.T) {
	reg := NewRegistry()
	for _, id := range []string{"a", "b", "c"} {
		reg.Join(newEndpoint(id), "r")
	}

	if got := reg.Recipients("r", "a", ""); len(got) != 2 {
		t.Fatalf("recipients = %d, want 2", len(got))
	}
	for _, ep := range reg.Recipients("r", "a", "") {
		if ep.ID() == "a" {
			t.Error("sender among recipients")
		}
	}
	if got := reg.Recipients("r", "a", "c"); len(got) != 1 || got[0].ID() != "c" {
		t.Errorf("targeted recipients = %v", got)
	}
	if got := reg.Recipients("r", "a", "a"); len(got) != 0 {
		t.Error("sender targeted itself")
	}
	if got := reg.Recipients("nope", "a", ""); len(got) != 0 {
		t.Error("unknown room has recipients")
	}
}
