package signaling

import (
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Carthicc/karlynn/internal/metrics"
	"github.com/Carthicc/karlynn/internal/protocol"
)

func newTestHub() (*Hub, *metrics.Relay) {
	m := metrics.NewRelay(prometheus.NewRegistry())
	return NewHub(nil, m), m
}

func join(h *Hub, ep Endpoint, room string) {
	h.dispatch(ep, protocol.MustMessage(protocol.EventJoinRoom, room))
}

func candidateSignal(room, candidate string) *protocol.Message {
	data, _ := json.Marshal(map[string]any{"candidate": map[string]string{"candidate": candidate}})
	return protocol.MustMessage(protocol.EventSignal, protocol.SignalRequest{RoomID: room, SignalData: data})
}

func TestRelayReachesEveryOtherMemberButNotSender(t *testing.T) {
	h, m := newTestHub()
	a, b, c := newEndpoint("a"), newEndpoint("b"), newEndpoint("c")
	join(h, a, "r")
	join(h, b, "r")
	join(h, c, "r")
	a.inbox, b.inbox, c.inbox = nil, nil, nil

	h.dispatch(a, candidateSignal("r", "cand-1"))

	if len(a.inbox) != 0 {
		t.Errorf("sender received %v", a.events())
	}
	for _, ep := range []*fakeEndpoint{b, c} {
		msg := ep.last(t)
		sender, data, err := protocol.DecodeSignalRelay(msg)
		if err != nil {
			t.Fatalf("%s: decode: %v", ep.id, err)
		}
		if sender != "a" {
			t.Errorf("%s: sender = %q, want a", ep.id, sender)
		}
		if data.Candidate == nil || data.Candidate.Candidate != "cand-1" {
			t.Errorf("%s: payload altered: %+v", ep.id, data)
		}
	}
	if got := testutil.ToFloat64(m.Relayed.WithLabelValues(protocol.EventSignal)); got != 2 {
		t.Errorf("forwarded counter = %v, want 2", got)
	}
}

func TestRelayPreservesPerSenderOrder(t *testing.T) {
	h, _ := newTestHub()
	a, b := newEndpoint("a"), newEndpoint("b")
	join(h, a, "r")
	join(h, b, "r")

	for _, c := range []string{"c1", "c2", "c3"} {
		h.dispatch(a, candidateSignal("r", c))
	}

	var got []string
	for _, msg := range b.inbox {
		_, data, err := protocol.DecodeSignalRelay(msg)
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, data.Candidate.Candidate)
	}
	if len(got) != 3 || got[0] != "c1" || got[1] != "c2" || got[2] != "c3" {
		t.Errorf("order = %v", got)
	}
}

func TestTargetedSignal(t *testing.T) {
	h, _ := newTestHub()
	a, b, c := newEndpoint("a"), newEndpoint("b"), newEndpoint("c")
	join(h, a, "r")
	join(h, b, "r")
	join(h, c, "r")
	b.inbox, c.inbox = nil, nil

	msg := protocol.MustMessage(protocol.EventSignal, protocol.SignalRequest{
		RoomID:     "r",
		SignalData: []byte(`{"candidate":{"candidate":"x"}}`),
		Target:     "c",
	})
	h.dispatch(a, msg)

	if len(b.inbox) != 0 {
		t.Errorf("untargeted member received %v", b.events())
	}
	if len(c.inbox) != 1 {
		t.Errorf("target received %d messages", len(c.inbox))
	}
}

func TestSignalToDepartedMemberIsDropped(t *testing.T) {
	h, m := newTestHub()
	a, b, c := newEndpoint("a"), newEndpoint("b"), newEndpoint("c")
	join(h, a, "r")
	join(h, b, "r")
	join(h, c, "r")
	h.leave("c")
	a.inbox, b.inbox, c.inbox = nil, nil, nil

	h.dispatch(a, protocol.MustMessage(protocol.EventSignal, protocol.SignalRequest{
		RoomID:     "r",
		SignalData: []byte(`{"sdp":{"type":"offer","sdp":"v=0 for c"}}`),
		Target:     "c",
	}))

	if len(b.inbox) != 0 {
		t.Errorf("offer addressed to c delivered to b: %v", b.events())
	}
	if len(c.inbox) != 0 {
		t.Errorf("departed member received %v", c.events())
	}
	if got := testutil.ToFloat64(m.Dropped.WithLabelValues(metrics.ReasonNoRecipient)); got != 1 {
		t.Errorf("no_recipient drops = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Relayed.WithLabelValues(protocol.EventSignal)); got != 0 {
		t.Errorf("forwarded counter = %v, want 0", got)
	}
}

func TestPlayPauseSyncRelayShapes(t *testing.T) {
	h, _ := newTestHub()
	a, b := newEndpoint("a"), newEndpoint("b")
	join(h, a, "movie42")
	join(h, b, "movie42")

	h.dispatch(a, protocol.MustMessage(protocol.EventPlay, "movie42"))
	h.dispatch(a, protocol.MustMessage(protocol.EventPause, "movie42"))
	h.dispatch(a, protocol.MustMessage(protocol.EventSync, protocol.SyncRequest{RoomID: "movie42", CurrentTime: 100}))

	if got := b.events(); len(got) != 3 || got[0] != "play" || got[1] != "pause" || got[2] != "sync" {
		t.Fatalf("events = %v", got)
	}
	if len(b.inbox[0].Data) != 0 || len(b.inbox[1].Data) != 0 {
		t.Error("play/pause must carry no data")
	}
	if ct, err := protocol.DecodeCurrentTime(b.inbox[2]); err != nil || ct != 100 {
		t.Errorf("sync payload = %v %v", ct, err)
	}
}

func TestMessagesFromNonMembersAreDropped(t *testing.T) {
	h, m := newTestHub()
	a, b, stranger := newEndpoint("a"), newEndpoint("b"), newEndpoint("s")
	join(h, a, "r")
	join(h, b, "r")
	a.inbox, b.inbox = nil, nil

	h.dispatch(stranger, protocol.MustMessage(protocol.EventPlay, "r"))
	if len(a.inbox)+len(b.inbox) != 0 {
		t.Error("message from a non-member was relayed")
	}
	if got := testutil.ToFloat64(m.Dropped.WithLabelValues(metrics.ReasonNotMember)); got != 1 {
		t.Errorf("not_member drops = %v", got)
	}

	// Member addressing a room it is not in.
	h.dispatch(a, protocol.MustMessage(protocol.EventPlay, "other"))
	if len(b.inbox) != 0 {
		t.Error("message for another room was relayed")
	}
	if got := testutil.ToFloat64(m.Dropped.WithLabelValues(metrics.ReasonRoomMismatch)); got != 1 {
		t.Errorf("room_mismatch drops = %v", got)
	}
}

func TestPlayAfterPeerDisconnectReachesNobody(t *testing.T) {
	h, m := newTestHub()
	a, b := newEndpoint("A"), newEndpoint("B")
	join(h, a, "movie42")
	join(h, b, "movie42")

	h.leave("A")
	if got := h.Registry().Members("movie42"); len(got) != 1 || got[0] != "B" {
		t.Fatalf("members = %v, want [B]", got)
	}

	b.inbox = nil
	if n := h.forward(b, "movie42", "", &protocol.Message{Event: protocol.EventPlay}); n != 0 {
		t.Errorf("play delivered to %d endpoints", n)
	}
	if len(b.inbox) != 0 {
		t.Errorf("sender got %v", b.events())
	}
	if got := testutil.ToFloat64(m.Dropped.WithLabelValues(metrics.ReasonNoRecipient)); got != 1 {
		t.Errorf("no_recipient drops = %v", got)
	}
}

func TestInvalidAndUnknownMessagesDropped(t *testing.T) {
	h, m := newTestHub()
	a := newEndpoint("a")

	h.dispatch(a, protocol.MustMessage(protocol.EventJoinRoom, ""))
	h.dispatch(a, &protocol.Message{Event: "teleport"})

	if _, ok := h.Registry().RoomOf("a"); ok {
		t.Error("empty room id was joined")
	}
	if got := testutil.ToFloat64(m.Dropped.WithLabelValues(metrics.ReasonInvalid)); got != 1 {
		t.Errorf("invalid drops = %v", got)
	}
	if got := testutil.ToFloat64(m.Dropped.WithLabelValues(metrics.ReasonUnknownEvent)); got != 1 {
		t.Errorf("unknown drops = %v", got)
	}
}

func TestFullBufferDropsWithoutBlocking(t *testing.T) {
	h, m := newTestHub()
	a, b := newEndpoint("a"), newEndpoint("b")
	join(h, a, "r")
	join(h, b, "r")
	b.full = true

	if n := h.forward(a, "r", "", &protocol.Message{Event: protocol.EventPause}); n != 0 {
		t.Errorf("delivered = %d", n)
	}
	if got := testutil.ToFloat64(m.Dropped.WithLabelValues(metrics.ReasonBufferFull)); got != 1 {
		t.Errorf("buffer_full drops = %v", got)
	}
}
