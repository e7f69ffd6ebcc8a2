package negotiation

import (
	"fmt"
	"log/slog"

	"github.com/pion/webrtc/v4"

	"github.com/Carthicc/karlynn/internal/protocol"
)

// State of a negotiation session.
type State int

const (
	Idle State = iota
	OfferSent
	Stable
	Failed
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case OfferSent:
		return "offer-sent"
	case Stable:
		return "stable"
	case Failed:
		return "failed"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Role is fixed when the session is created.
type Role int

const (
	// Initiator received the peer-joined notification and sends the offer.
	Initiator Role = iota
	// Responder waits for the remote offer.
	Responder
)

func (r Role) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "responder"
}

// PeerConnection is the part of *webrtc.PeerConnection a session drives.
type PeerConnection interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	Close() error
}

// Signaler carries signal data to the remote peer.
type Signaler interface {
	Signal(data *protocol.SignalData) error
}

// Options configure a Session.
type Options struct {
	// LocalID and PeerID are the relay endpoint ids; they decide which side
	// yields when both send offers at once.
	LocalID string
	PeerID  string
	Role    Role
	Logger  *slog.Logger
}

// Session negotiates one peer connection with one remote peer.
//
// ICE candidates that arrive before the remote description is set are held
// and applied, in arrival order, right after it is set. A Session is not safe
// for concurrent use; the owner serialises calls.
type Session struct {
	pc       PeerConnection
	signaler Signaler
	localID  string
	peerID   string
	role     Role
	logger   *slog.Logger

	state     State
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	err       error
}

func New(pc PeerConnection, signaler Signaler, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		pc:       pc,
		signaler: signaler,
		localID:  opts.LocalID,
		peerID:   opts.PeerID,
		role:     opts.Role,
		logger:   logger.With("peer", opts.PeerID, "role", opts.Role.String()),
	}
}

func (s *Session) PeerID() string { return s.peerID }
func (s *Session) Role() Role     { return s.role }
func (s *Session) State() State   { return s.state }

// Err returns the failure that moved the session to Failed, if any.
func (s *Session) Err() error { return s.err }

// Pending reports how many remote candidates wait for a remote description.
func (s *Session) Pending() int { return len(s.pending) }

// Polite reports whether this side rolls back its own offer on glare.
// The endpoint with the lower id is polite.
func (s *Session) Polite() bool {
	return s.localID < s.peerID
}

// Start sends the initial offer. Only an idle initiator can start.
func (s *Session) Start() error {
	if s.state == Closed || s.state == Failed {
		return ErrSessionClosed
	}
	if s.role != Initiator || s.state != Idle {
		return fmt.Errorf("cannot start a %s session in state %s", s.role, s.state)
	}

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return s.fail("create offer", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return s.fail("set local offer", err)
	}
	s.setState(OfferSent)

	if err := s.signaler.Signal(&protocol.SignalData{SDP: &offer}); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}
	return nil
}

// HandleSignal applies signal data relayed from the peer. The returned error
// wraps ErrNegotiationFailed when the session failed; a rejected candidate is
// only logged.
func (s *Session) HandleSignal(data *protocol.SignalData) error {
	if s.state == Failed || s.state == Closed {
		s.logger.Debug("signal ignored", "state", s.state)
		return nil
	}
	if err := data.Validate(); err != nil {
		s.logger.Warn("invalid signal ignored", "err", err)
		return nil
	}

	if data.Candidate != nil {
		s.handleCandidate(*data.Candidate)
		return nil
	}

	switch data.SDP.Type {
	case webrtc.SDPTypeOffer:
		return s.handleOffer(*data.SDP)
	default:
		return s.handleAnswer(*data.SDP)
	}
}

func (s *Session) handleOffer(offer webrtc.SessionDescription) error {
	if s.state == OfferSent {
		if !s.Polite() {
			s.logger.Info("glare: ignoring remote offer, waiting for answer")
			return nil
		}
		s.logger.Info("glare: rolling back local offer")
		if err := s.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
			return s.fail("rollback", err)
		}
	}

	if err := s.setRemote(offer); err != nil {
		return err
	}

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return s.fail("create answer", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return s.fail("set local answer", err)
	}
	s.setState(Stable)

	if err := s.signaler.Signal(&protocol.SignalData{SDP: &answer}); err != nil {
		return fmt.Errorf("send answer: %w", err)
	}
	return nil
}

func (s *Session) handleAnswer(answer webrtc.SessionDescription) error {
	if s.state != OfferSent {
		s.logger.Info("stale answer ignored", "state", s.state)
		return nil
	}
	if err := s.setRemote(answer); err != nil {
		return err
	}
	s.setState(Stable)
	return nil
}

// setRemote applies desc and then flushes the held candidates.
func (s *Session) setRemote(desc webrtc.SessionDescription) error {
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return s.fail("set remote "+desc.Type.String(), err)
	}
	s.remoteSet = true

	pending := s.pending
	s.pending = nil
	if len(pending) > 0 {
		s.logger.Debug("flushing buffered candidates", "count", len(pending))
	}
	for _, c := range pending {
		s.applyCandidate(c)
	}
	return nil
}

func (s *Session) handleCandidate(c webrtc.ICECandidateInit) {
	if !s.remoteSet {
		s.pending = append(s.pending, c)
		s.logger.Debug("candidate buffered", "pending", len(s.pending))
		return
	}
	s.applyCandidate(c)
}

func (s *Session) applyCandidate(c webrtc.ICECandidateInit) {
	if err := s.pc.AddICECandidate(c); err != nil {
		s.logger.Warn("candidate rejected", "candidate", c.Candidate, "err", err)
	}
}

// LocalCandidate relays a locally gathered candidate. A nil candidate marks
// the end of gathering and is not sent.
func (s *Session) LocalCandidate(c *webrtc.ICECandidate) error {
	if c == nil || s.state == Failed || s.state == Closed {
		return nil
	}
	init := c.ToJSON()
	return s.signaler.Signal(&protocol.SignalData{Candidate: &init})
}

// Close ends the session and closes the peer connection.
func (s *Session) Close() error {
	if s.state == Closed {
		return nil
	}
	s.setState(Closed)
	s.pending = nil
	return s.pc.Close()
}

func (s *Session) fail(step string, err error) error {
	s.err = &Error{Peer: s.peerID, Step: step, Err: err}
	s.pending = nil
	s.setState(Failed)
	s.logger.Error("negotiation failed", "step", step, "err", err)
	return s.err
}

func (s *Session) setState(next State) {
	if s.state == next {
		return
	}
	s.logger.Debug("state change", "from", s.state, "to", next)
	s.state = next
}
