package session

import "fmt"

// EventKind identifies what happened in a session.
type EventKind int

const (
	EventPeerJoined EventKind = iota
	EventPeerConnected
	EventTrackReceived
	EventNegotiationFailed
	EventPeerLeft
	EventRemotePlay
	EventRemotePause
	EventCorrected
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventPeerJoined:
		return "peer-joined"
	case EventPeerConnected:
		return "peer-connected"
	case EventTrackReceived:
		return "track-received"
	case EventNegotiationFailed:
		return "negotiation-failed"
	case EventPeerLeft:
		return "peer-left"
	case EventRemotePlay:
		return "remote-play"
	case EventRemotePause:
		return "remote-pause"
	case EventCorrected:
		return "corrected"
	case EventDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is delivered on Session.Events.
type Event struct {
	Kind EventKind

	// Peer is the remote endpoint id, when the event concerns one.
	Peer string

	// Position is the corrected playback position for EventCorrected.
	Position float64

	// Track is the kind of a received track ("audio" or "video").
	Track string

	Err error
}
