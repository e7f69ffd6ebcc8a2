package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/Carthicc/karlynn/internal/media"
	"github.com/Carthicc/karlynn/internal/negotiation"
	"github.com/Carthicc/karlynn/internal/protocol"
	"github.com/Carthicc/karlynn/internal/rtc"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type sent struct {
	event  string
	room   string
	target string
	data   *protocol.SignalData
	pos    float64
}

type fakeTransport struct {
	incoming  chan *protocol.Message
	connected int

	mu        sync.Mutex
	out       []sent
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{incoming: make(chan *protocol.Message, 16)}
}

func (f *fakeTransport) Connect(context.Context) error {
	f.connected++
	return nil
}

func (f *fakeTransport) Incoming() <-chan *protocol.Message { return f.incoming }

func (f *fakeTransport) record(s sent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, s)
	return nil
}

func (f *fakeTransport) JoinRoom(roomID string) error {
	return f.record(sent{event: protocol.EventJoinRoom, room: roomID})
}

func (f *fakeTransport) Signal(roomID, target string, data *protocol.SignalData) error {
	return f.record(sent{event: protocol.EventSignal, room: roomID, target: target, data: data})
}

func (f *fakeTransport) Play(roomID string) error {
	return f.record(sent{event: protocol.EventPlay, room: roomID})
}

func (f *fakeTransport) Pause(roomID string) error {
	return f.record(sent{event: protocol.EventPause, room: roomID})
}

func (f *fakeTransport) Sync(roomID string, currentTime float64) error {
	return f.record(sent{event: protocol.EventSync, room: roomID, pos: currentTime})
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.incoming) })
	return nil
}

func (f *fakeTransport) messages() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.out...)
}

// waitSent polls until a message matching match was sent.
func (f *fakeTransport) waitSent(t *testing.T, match func(sent) bool) sent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, s := range f.messages() {
			if match(s) {
				return s
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no matching message sent; got %+v", f.messages())
	return sent{}
}

func (f *fakeTransport) deliver(t *testing.T, event string, payload any) {
	t.Helper()
	f.incoming <- protocol.MustMessage(event, payload)
}

type fakeMedia struct {
	err    error
	stream *media.Stream
}

func (m *fakeMedia) Capture(ctx context.Context) (*media.Stream, error) {
	if m.err != nil {
		return nil, m.err
	}
	s, err := media.Capturer{Audio: true, Video: true}.Capture(ctx)
	m.stream = s
	return s, err
}

// fakePC accepts everything except SDP "garbage".
type fakePC struct {
	mu     sync.Mutex
	closed bool
	remote bool
}

func (pc *fakePC) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}, nil
}

func (pc *fakePC) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (pc *fakePC) SetLocalDescription(webrtc.SessionDescription) error { return nil }

func (pc *fakePC) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if desc.SDP == "garbage" {
		return errors.New("malformed sdp")
	}
	pc.mu.Lock()
	pc.remote = true
	pc.mu.Unlock()
	return nil
}

func (pc *fakePC) AddICECandidate(webrtc.ICECandidateInit) error { return nil }

func (pc *fakePC) Close() error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.closed = true
	return nil
}

func (pc *fakePC) isClosed() bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.closed
}

type fakePeers struct {
	mu       sync.Mutex
	err      error
	pcs      map[int]*fakePC
	handlers []rtc.Handlers
}

func (f *fakePeers) new(_ []webrtc.TrackLocal, h rtc.Handlers) (negotiation.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.pcs == nil {
		f.pcs = make(map[int]*fakePC)
	}
	pc := &fakePC{}
	f.pcs[len(f.pcs)] = pc
	f.handlers = append(f.handlers, h)
	return pc, nil
}

func (f *fakePeers) get(i int) (*fakePC, rtc.Handlers) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pcs[i], f.handlers[i]
}

type harness struct {
	s     *Session
	tr    *fakeTransport
	media *fakeMedia
	peers *fakePeers
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{tr: newFakeTransport(), media: &fakeMedia{}, peers: &fakePeers{}}
	h.s = New(Config{
		Transport:      h.tr,
		Media:          h.media,
		NewPeer:        h.peers.new,
		SyncInterval:   10 * time.Millisecond,
		DriftTolerance: 0.5,
		Logger:         quiet,
	})
	t.Cleanup(func() { h.s.Leave() })
	return h
}

func (h *harness) join(t *testing.T, localID string) {
	t.Helper()
	if err := h.s.Join(context.Background(), "movie42"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	h.tr.deliver(t, protocol.EventWelcome, localID)
}

func nextEvent(t *testing.T, s *Session, kind EventKind) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				t.Fatalf("events closed while waiting for %s", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func writeVideo(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "movie.mp4")
	if err := os.WriteFile(p, []byte("frames"), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func relay(sender string, data *protocol.SignalData) protocol.SignalRelay {
	raw, _ := json.Marshal(data)
	return protocol.SignalRelay{SignalData: raw, Sender: sender}
}

func TestJoinRequiresLocalMedia(t *testing.T) {
	h := newHarness(t)
	h.media.err = media.ErrNoDevices

	err := h.s.Join(context.Background(), "movie42")
	if !errors.Is(err, ErrMediaUnavailable) {
		t.Fatalf("Join = %v, want ErrMediaUnavailable", err)
	}
	if !errors.Is(err, media.ErrNoDevices) {
		t.Fatalf("Join = %v, capture cause lost", err)
	}
	if h.tr.connected != 0 || len(h.tr.messages()) != 0 {
		t.Fatalf("transport used before media: connected=%d sent=%v", h.tr.connected, h.tr.messages())
	}
	if err := h.s.Play(); !errors.Is(err, ErrNotJoined) {
		t.Fatalf("Play before join = %v", err)
	}
}

func TestJoinKeepsCaptureCancellation(t *testing.T) {
	h := newHarness(t)
	h.media.err = context.Canceled

	err := h.s.Join(context.Background(), "movie42")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Join = %v, want context.Canceled in chain", err)
	}
	var serr *Error
	if !errors.As(err, &serr) || serr.Op != "join" {
		t.Fatalf("Join = %#v, want *Error for join", err)
	}
}

func TestPeerConnectionFailureReportsNegotiationFailed(t *testing.T) {
	h := newHarness(t)
	h.peers.err = errors.New("no ice agent")
	h.join(t, "a")

	h.tr.deliver(t, protocol.EventUserJoined, "b")
	ev := nextEvent(t, h.s, EventNegotiationFailed)
	if ev.Peer != "b" {
		t.Fatalf("peer = %q, want b", ev.Peer)
	}
	if !errors.Is(ev.Err, negotiation.ErrNegotiationFailed) || !strings.Contains(ev.Err.Error(), "no ice agent") {
		t.Fatalf("err = %v", ev.Err)
	}

	offer := &protocol.SignalData{SDP: &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}}
	h.tr.deliver(t, protocol.EventSignal, relay("c", offer))
	if ev := nextEvent(t, h.s, EventNegotiationFailed); ev.Peer != "c" {
		t.Fatalf("peer = %q, want c", ev.Peer)
	}

	st, err := h.s.Status()
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Peers) != 0 {
		t.Fatalf("peers = %+v, want none", st.Peers)
	}
}

func TestJoinSendsJoinRoom(t *testing.T) {
	h := newHarness(t)
	h.join(t, "a")

	got := h.tr.waitSent(t, func(s sent) bool { return s.event == protocol.EventJoinRoom })
	if got.room != "movie42" {
		t.Fatalf("joined %q", got.room)
	}
	if err := h.s.Join(context.Background(), "movie42"); !errors.Is(err, ErrAlreadyJoined) {
		t.Fatalf("second Join = %v", err)
	}
}

func TestPeerJoinedSendsTargetedOffer(t *testing.T) {
	h := newHarness(t)
	h.join(t, "a")

	h.tr.deliver(t, protocol.EventUserJoined, "b")
	if ev := nextEvent(t, h.s, EventPeerJoined); ev.Peer != "b" {
		t.Fatalf("peer = %q", ev.Peer)
	}

	offer := h.tr.waitSent(t, func(s sent) bool { return s.event == protocol.EventSignal })
	if offer.target != "b" || offer.room != "movie42" || offer.data.SDP == nil || offer.data.SDP.Type != webrtc.SDPTypeOffer {
		t.Fatalf("offer = %+v", offer)
	}

	st, err := h.s.Status()
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Peers) != 1 || st.Peers[0].Role != negotiation.Initiator || st.Peers[0].State != negotiation.OfferSent {
		t.Fatalf("status peers = %+v", st.Peers)
	}
	if st.LocalID != "a" {
		t.Fatalf("local id = %q", st.LocalID)
	}
}

func TestOfferFromNewPeerIsAnswered(t *testing.T) {
	h := newHarness(t)
	h.join(t, "b")

	offer := &protocol.SignalData{SDP: &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}}
	h.tr.deliver(t, protocol.EventSignal, relay("a", offer))

	answer := h.tr.waitSent(t, func(s sent) bool { return s.event == protocol.EventSignal })
	if answer.target != "a" || answer.data.SDP == nil || answer.data.SDP.Type != webrtc.SDPTypeAnswer {
		t.Fatalf("answer = %+v", answer)
	}
}

func TestLocalCandidatesAreRelayed(t *testing.T) {
	h := newHarness(t)
	h.join(t, "a")
	h.tr.deliver(t, protocol.EventUserJoined, "b")
	nextEvent(t, h.s, EventPeerJoined)
	h.tr.waitSent(t, func(s sent) bool { return s.event == protocol.EventSignal })

	_, handlers := h.peers.get(0)
	handlers.OnICECandidate(&webrtc.ICECandidate{
		Foundation: "1",
		Priority:   2130706431,
		Address:    "10.0.0.1",
		Protocol:   webrtc.ICEProtocolUDP,
		Port:       50000,
		Typ:        webrtc.ICECandidateTypeHost,
		Component:  1,
	})
	handlers.OnICECandidate(nil)

	got := h.tr.waitSent(t, func(s sent) bool { return s.data != nil && s.data.Candidate != nil })
	if got.target != "b" {
		t.Fatalf("candidate target = %q", got.target)
	}
}

func TestMalformedOfferReportsNegotiationFailed(t *testing.T) {
	h := newHarness(t)
	h.join(t, "b")

	bad := &protocol.SignalData{SDP: &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "garbage"}}
	h.tr.deliver(t, protocol.EventSignal, relay("a", bad))

	ev := nextEvent(t, h.s, EventNegotiationFailed)
	if ev.Peer != "a" || !errors.Is(ev.Err, negotiation.ErrNegotiationFailed) {
		t.Fatalf("event = %+v", ev)
	}
	pc, _ := h.peers.get(0)
	if !pc.isClosed() {
		t.Fatal("failed peer connection left open")
	}
}

func TestPeerLeftClosesNegotiation(t *testing.T) {
	h := newHarness(t)
	h.join(t, "a")
	h.tr.deliver(t, protocol.EventUserJoined, "b")
	nextEvent(t, h.s, EventPeerJoined)

	h.tr.deliver(t, protocol.EventPeerLeft, "b")
	if ev := nextEvent(t, h.s, EventPeerLeft); ev.Peer != "b" {
		t.Fatalf("peer = %q", ev.Peer)
	}
	pc, _ := h.peers.get(0)
	if !pc.isClosed() {
		t.Fatal("peer connection not closed")
	}
	st, _ := h.s.Status()
	if len(st.Peers) != 0 {
		t.Fatalf("peers = %+v", st.Peers)
	}
}

func TestRemotePlaybackControl(t *testing.T) {
	h := newHarness(t)
	h.join(t, "b")
	if _, err := h.s.LoadVideo(writeVideo(t)); err != nil {
		t.Fatalf("LoadVideo: %v", err)
	}

	h.tr.deliver(t, protocol.EventPlay, nil)
	nextEvent(t, h.s, EventRemotePlay)
	if !h.s.Clock().Playing() {
		t.Fatal("remote play not applied")
	}

	h.tr.deliver(t, protocol.EventPause, nil)
	nextEvent(t, h.s, EventRemotePause)
	if h.s.Clock().Playing() {
		t.Fatal("remote pause not applied")
	}

	h.s.Clock().Seek(100.2)
	h.tr.deliver(t, protocol.EventSync, 100.0)
	h.tr.deliver(t, protocol.EventSync, 105.0)
	if ev := nextEvent(t, h.s, EventCorrected); ev.Position != 105 {
		t.Fatalf("corrected to %v, want 105", ev.Position)
	}
	if pos := h.s.Clock().Position(); pos != 105 {
		t.Fatalf("position = %v", pos)
	}
}

func TestLocalPlaybackIsRelayedAndSynced(t *testing.T) {
	h := newHarness(t)
	h.join(t, "a")

	if err := h.s.Play(); !errors.Is(err, ErrNoVideo) {
		t.Fatalf("Play without video = %v", err)
	}

	if _, err := h.s.LoadVideo(writeVideo(t)); err != nil {
		t.Fatal(err)
	}
	if err := h.s.TogglePlay(); err != nil {
		t.Fatal(err)
	}
	h.tr.waitSent(t, func(s sent) bool { return s.event == protocol.EventPlay && s.room == "movie42" })
	if err := h.s.TogglePlay(); err != nil {
		t.Fatal(err)
	}
	h.tr.waitSent(t, func(s sent) bool { return s.event == protocol.EventPause })

	// Periodic position broadcasts run while joined with a video loaded.
	h.tr.waitSent(t, func(s sent) bool { return s.event == protocol.EventSync && s.room == "movie42" })
}

func TestToggleMuteAndVideo(t *testing.T) {
	h := newHarness(t)
	h.join(t, "a")

	on, err := h.s.ToggleMute()
	if err != nil || on {
		t.Fatalf("ToggleMute = %v %v, want muted", on, err)
	}
	on, err = h.s.ToggleVideo()
	if err != nil || on {
		t.Fatalf("ToggleVideo = %v %v, want off", on, err)
	}
	st, _ := h.s.Status()
	if st.AudioOn || st.VideoOn {
		t.Fatalf("status = %+v", st)
	}
}

func TestDisconnectTearsDownEverything(t *testing.T) {
	h := newHarness(t)
	h.join(t, "a")
	if _, err := h.s.LoadVideo(writeVideo(t)); err != nil {
		t.Fatal(err)
	}
	h.tr.deliver(t, protocol.EventUserJoined, "b")
	nextEvent(t, h.s, EventPeerJoined)

	h.tr.Close()
	nextEvent(t, h.s, EventDisconnected)

	if _, ok := <-h.s.Events(); ok {
		t.Fatal("events still open after disconnect")
	}
	pc, _ := h.peers.get(0)
	if !pc.isClosed() {
		t.Fatal("peer connection not closed on disconnect")
	}
	if !h.media.stream.Closed() {
		t.Fatal("local stream not closed on disconnect")
	}
	if h.s.sync.Running() {
		t.Fatal("synchronizer still running")
	}
	if err := h.s.Play(); !errors.Is(err, ErrNotJoined) {
		t.Fatalf("Play after disconnect = %v", err)
	}
}

func TestLeaveIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.join(t, "a")
	if _, err := h.s.LoadVideo(writeVideo(t)); err != nil {
		t.Fatal(err)
	}

	h.s.Leave()
	h.s.Leave()

	if !h.media.stream.Closed() || h.s.sync.Running() {
		t.Fatal("Leave did not release the stream and timer")
	}
	for ev := range h.s.Events() {
		if ev.Kind == EventDisconnected {
			t.Fatal("voluntary leave reported as disconnect")
		}
	}
	if err := h.s.Join(context.Background(), "movie42"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Join after Leave = %v", err)
	}
}
