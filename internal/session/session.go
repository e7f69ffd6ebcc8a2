package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/Carthicc/karlynn/internal/media"
	"github.com/Carthicc/karlynn/internal/negotiation"
	"github.com/Carthicc/karlynn/internal/playback"
	"github.com/Carthicc/karlynn/internal/protocol"
	"github.com/Carthicc/karlynn/internal/rtc"
)

// Transport is the signaling connection owned by a Session.
type Transport interface {
	Connect(ctx context.Context) error
	Incoming() <-chan *protocol.Message
	JoinRoom(roomID string) error
	Signal(roomID, target string, data *protocol.SignalData) error
	Play(roomID string) error
	Pause(roomID string) error
	Sync(roomID string, currentTime float64) error
	Close() error
}

// MediaSource acquires the local stream.
type MediaSource interface {
	Capture(ctx context.Context) (*media.Stream, error)
}

// PeerFactory creates the peer connection for one remote peer.
type PeerFactory func(tracks []webrtc.TrackLocal, h rtc.Handlers) (negotiation.PeerConnection, error)

// Config wires a Session to its collaborators.
type Config struct {
	Transport Transport
	Media     MediaSource
	NewPeer   PeerFactory

	// Clock is the local playback position; nil creates one.
	Clock *playback.Clock

	SyncInterval   time.Duration
	DriftTolerance float64
	Logger         *slog.Logger
}

// Session is the client root component: it owns the transport, the local
// stream, one negotiation session per remote peer and the synchronizer.
//
// All state below the mutex line is touched only by the loop goroutine.
type Session struct {
	cfg    Config
	clock  *playback.Clock
	sync   *playback.Synchronizer
	logger *slog.Logger
	events chan Event
	ops    chan func()

	mu       sync.Mutex
	joined   bool
	left     bool
	cancel   context.CancelFunc
	loopDone chan struct{}
	leave    sync.Once

	roomID  string
	localID string
	stream  *media.Stream
	video   *media.VideoFile
	peers   map[string]*negotiation.Session
}

func New(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = playback.NewClock(nil)
	}

	s := &Session{
		cfg:      cfg,
		clock:    cfg.Clock,
		logger:   cfg.Logger.With("component", "session"),
		events:   make(chan Event, 64),
		ops:      make(chan func(), 256),
		loopDone: make(chan struct{}),
		peers:    make(map[string]*negotiation.Session),
	}
	s.sync = playback.NewSynchronizer(s.clock, roomSync{s}, playback.Options{
		Interval:  cfg.SyncInterval,
		Tolerance: cfg.DriftTolerance,
		Logger:    cfg.Logger,
	})
	return s
}

// Events delivers session events. It is closed when the session ends.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Clock exposes the local playback position.
func (s *Session) Clock() *playback.Clock {
	return s.clock
}

// Join acquires local media, connects and joins roomID. Media is acquired
// before anything is sent; without it Join fails with ErrMediaUnavailable.
func (s *Session) Join(ctx context.Context, roomID string) error {
	if roomID == "" {
		return NewError("join", errors.New("room id is empty"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.left {
		return NewError("join", ErrClosed)
	}
	if s.joined {
		return NewError("join", ErrAlreadyJoined)
	}

	stream, err := s.cfg.Media.Capture(ctx)
	if err != nil {
		return NewError("join", fmt.Errorf("%w: %w", ErrMediaUnavailable, err))
	}

	if err := s.cfg.Transport.Connect(ctx); err != nil {
		stream.Close()
		return NewError("connect", err)
	}

	s.stream = stream
	s.roomID = roomID

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.joined = true
	go s.loop(loopCtx)

	if err := s.cfg.Transport.JoinRoom(roomID); err != nil {
		return NewError("join room", err)
	}
	s.logger.Info("joined room", "room", roomID)
	return nil
}

// LoadVideo validates path, rewinds the clock and starts position broadcasts.
func (s *Session) LoadVideo(path string) (*media.VideoFile, error) {
	v, err := media.ValidateVideo(path)
	if err != nil {
		return nil, NewError("load video", err)
	}

	err = s.do(func() error {
		s.video = v
		s.clock.Reset()
		s.sync.Start(context.Background())
		s.logger.Info("video loaded", "file", v.Name, "type", v.Type)
		return nil
	})
	if err != nil {
		return nil, NewError("load video", err)
	}
	return v, nil
}

// Play starts local playback and tells the room.
func (s *Session) Play() error {
	return s.do(func() error {
		if s.video == nil {
			return NewError("play", ErrNoVideo)
		}
		s.clock.Play()
		return s.cfg.Transport.Play(s.roomID)
	})
}

// Pause stops local playback and tells the room.
func (s *Session) Pause() error {
	return s.do(func() error {
		if s.video == nil {
			return NewError("pause", ErrNoVideo)
		}
		s.clock.Pause()
		return s.cfg.Transport.Pause(s.roomID)
	})
}

// TogglePlay plays when paused and pauses when playing.
func (s *Session) TogglePlay() error {
	if s.clock.Playing() {
		return s.Pause()
	}
	return s.Play()
}

// ToggleMute flips the local audio track and reports whether audio is now on.
func (s *Session) ToggleMute() (bool, error) {
	var on bool
	err := s.do(func() error {
		on = s.stream.ToggleAudio()
		return nil
	})
	return on, err
}

// ToggleVideo flips the local video track and reports whether video is now on.
func (s *Session) ToggleVideo() (bool, error) {
	var on bool
	err := s.do(func() error {
		on = s.stream.ToggleVideo()
		return nil
	})
	return on, err
}

// PeerStatus describes one negotiation session.
type PeerStatus struct {
	ID    string
	Role  negotiation.Role
	State negotiation.State
}

// Status is a snapshot for display.
type Status struct {
	Room     string
	LocalID  string
	Peers    []PeerStatus
	Video    *media.VideoFile
	Position float64
	Playing  bool
	AudioOn  bool
	VideoOn  bool
}

func (s *Session) Status() (Status, error) {
	var st Status
	err := s.do(func() error {
		st = Status{
			Room:     s.roomID,
			LocalID:  s.localID,
			Video:    s.video,
			Position: s.clock.Position(),
			Playing:  s.clock.Playing(),
			AudioOn:  s.stream.AudioEnabled(),
			VideoOn:  s.stream.VideoEnabled(),
		}
		for id, p := range s.peers {
			st.Peers = append(st.Peers, PeerStatus{ID: id, Role: p.Role(), State: p.State()})
		}
		sort.Slice(st.Peers, func(i, j int) bool { return st.Peers[i].ID < st.Peers[j].ID })
		return nil
	})
	return st, err
}

// Leave stops the synchronizer and closes every negotiation session, the
// local stream and the transport. It is safe to call more than once.
func (s *Session) Leave() error {
	s.leave.Do(func() {
		s.mu.Lock()
		joined, cancel := s.joined, s.cancel
		s.left = true
		s.mu.Unlock()

		if !joined {
			close(s.events)
			s.cfg.Transport.Close()
			return
		}
		cancel()
		s.cfg.Transport.Close()
		<-s.loopDone
	})
	return nil
}

// do runs fn on the loop goroutine and waits for its result.
func (s *Session) do(fn func() error) error {
	s.mu.Lock()
	joined := s.joined
	s.mu.Unlock()
	if !joined {
		return ErrNotJoined
	}

	errc := make(chan error, 1)
	select {
	case s.ops <- func() { errc <- fn() }:
	case <-s.loopDone:
		return ErrNotJoined
	}

	select {
	case err := <-errc:
		return err
	case <-s.loopDone:
		select {
		case err := <-errc:
			return err
		default:
			return ErrNotJoined
		}
	}
}

// post queues fn from a pion callback goroutine.
func (s *Session) post(fn func()) {
	select {
	case s.ops <- fn:
	case <-s.loopDone:
	}
}

func (s *Session) loop(ctx context.Context) {
	defer close(s.loopDone)
	defer close(s.events)

	incoming := s.cfg.Transport.Incoming()
	for {
		select {
		case <-ctx.Done():
			s.teardown()
			s.logger.Info("left room", "room", s.roomID)
			return

		case msg, ok := <-incoming:
			if !ok {
				s.teardown()
				if ctx.Err() != nil {
					s.logger.Info("left room", "room", s.roomID)
					return
				}
				s.logger.Warn("signaling connection lost", "room", s.roomID)
				s.emit(Event{Kind: EventDisconnected})
				return
			}
			s.handle(msg)

		case fn := <-s.ops:
			fn()
		}
	}
}

func (s *Session) teardown() {
	s.sync.Stop()
	for id, p := range s.peers {
		if err := p.Close(); err != nil {
			s.logger.Debug("close peer connection", "peer", id, "err", err)
		}
		delete(s.peers, id)
	}
	if s.stream != nil {
		s.stream.Close()
	}
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("event dropped, consumer too slow", "event", ev.Kind)
	}
}

func (s *Session) handle(msg *protocol.Message) {
	switch msg.Event {
	case protocol.EventWelcome:
		id, err := protocol.DecodeString(msg)
		if err != nil {
			s.logger.Warn("bad welcome", "err", err)
			return
		}
		s.localID = id
		s.logger.Debug("endpoint id assigned", "local", id)

	case protocol.EventUserJoined:
		peerID, err := protocol.DecodeString(msg)
		if err != nil {
			s.logger.Warn("bad user-joined", "err", err)
			return
		}
		s.emit(Event{Kind: EventPeerJoined, Peer: peerID})
		p, err := s.openPeer(peerID, negotiation.Initiator)
		if err != nil {
			s.fail(peerID, err)
			return
		}
		if err := p.Start(); err != nil {
			s.fail(peerID, err)
		}

	case protocol.EventPeerLeft:
		peerID, err := protocol.DecodeString(msg)
		if err != nil {
			s.logger.Warn("bad peer-left", "err", err)
			return
		}
		s.closePeer(peerID)
		s.emit(Event{Kind: EventPeerLeft, Peer: peerID})

	case protocol.EventSignal:
		s.handleSignal(msg)

	case protocol.EventPlay:
		s.sync.HandlePlay()
		s.emit(Event{Kind: EventRemotePlay})

	case protocol.EventPause:
		s.sync.HandlePause()
		s.emit(Event{Kind: EventRemotePause})

	case protocol.EventSync:
		pos, err := protocol.DecodeCurrentTime(msg)
		if err != nil {
			s.logger.Warn("bad sync", "err", err)
			return
		}
		if s.sync.HandleSync(pos) {
			s.emit(Event{Kind: EventCorrected, Position: pos})
		}

	default:
		s.logger.Debug("unknown event ignored", "event", msg.Event)
	}
}

func (s *Session) handleSignal(msg *protocol.Message) {
	sender, data, err := protocol.DecodeSignalRelay(msg)
	if err != nil {
		s.logger.Warn("bad signal", "err", err)
		return
	}
	if sender == s.localID {
		return
	}

	p, ok := s.peers[sender]
	if !ok {
		// A peer that joined after us offers first.
		if data.SDP != nil && data.SDP.Type != webrtc.SDPTypeOffer {
			s.logger.Debug("answer from unknown peer ignored", "peer", sender)
			return
		}
		if p, err = s.openPeer(sender, negotiation.Responder); err != nil {
			s.fail(sender, err)
			return
		}
	}

	if err := p.HandleSignal(data); err != nil {
		s.fail(sender, err)
	}
}

// openPeer creates the negotiation session for peerID, replacing any previous one.
func (s *Session) openPeer(peerID string, role negotiation.Role) (*negotiation.Session, error) {
	s.closePeer(peerID)

	var ns *negotiation.Session
	current := func() *negotiation.Session {
		if ns != nil && s.peers[peerID] == ns {
			return ns
		}
		return nil
	}

	pc, err := s.cfg.NewPeer(s.stream.Tracks(), rtc.Handlers{
		OnICECandidate: func(c *webrtc.ICECandidate) {
			s.post(func() {
				if p := current(); p != nil {
					if err := p.LocalCandidate(c); err != nil {
						s.logger.Debug("candidate not sent", "peer", peerID, "err", err)
					}
				}
			})
		},
		OnTrack: func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			kind := track.Kind().String()
			s.post(func() {
				if current() != nil {
					s.emit(Event{Kind: EventTrackReceived, Peer: peerID, Track: kind})
				}
			})
		},
		OnConnectionStateChange: func(state webrtc.PeerConnectionState) {
			s.post(func() {
				if current() == nil {
					return
				}
				s.logger.Info("peer connection state", "peer", peerID, "state", state.String())
				if state == webrtc.PeerConnectionStateConnected {
					s.emit(Event{Kind: EventPeerConnected, Peer: peerID})
				}
			})
		},
	})
	if err != nil {
		// Without a peer connection there is nothing to negotiate with; report it
		// like any other negotiation failure for this peer.
		return nil, NewPeerError("create peer connection", peerID, fmt.Errorf("%w: %w", negotiation.ErrNegotiationFailed, err))
	}

	ns = negotiation.New(pc, peerSignaler{s: s, peer: peerID}, negotiation.Options{
		LocalID: s.localID,
		PeerID:  peerID,
		Role:    role,
		Logger:  s.cfg.Logger,
	})
	s.peers[peerID] = ns
	return ns, nil
}

func (s *Session) closePeer(peerID string) {
	p, ok := s.peers[peerID]
	if !ok {
		return
	}
	delete(s.peers, peerID)
	if err := p.Close(); err != nil {
		s.logger.Debug("close peer connection", "peer", peerID, "err", err)
	}
}

// fail reports a negotiation failure. The failed session stays in the map,
// closed, so the peer's later signals are ignored rather than retried.
func (s *Session) fail(peerID string, err error) {
	if !errors.Is(err, negotiation.ErrNegotiationFailed) {
		s.logger.Warn("signaling error", "peer", peerID, "err", err)
		return
	}
	if p, ok := s.peers[peerID]; ok {
		p.Close()
	}
	s.emit(Event{Kind: EventNegotiationFailed, Peer: peerID, Err: err})
}

type peerSignaler struct {
	s    *Session
	peer string
}

func (p peerSignaler) Signal(data *protocol.SignalData) error {
	if err := p.s.cfg.Transport.Signal(p.s.roomID, p.peer, data); err != nil {
		return fmt.Errorf("signal %s: %w", p.peer, err)
	}
	return nil
}

type roomSync struct {
	s *Session
}

// SendSync runs on the synchronizer goroutine. roomID is fixed once joined.
func (r roomSync) SendSync(currentTime float64) error {
	return r.s.cfg.Transport.Sync(r.s.roomID, currentTime)
}
