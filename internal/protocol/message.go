package protocol

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// Message is the envelope of every frame exchanged between a client and the relay.
// Data holds the JSON encoding of the event payload and is forwarded verbatim.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event names.
const (
	// client -> server
	EventJoinRoom = "join-room"

	// server -> client
	EventWelcome    = "welcome"
	EventUserJoined = "user-joined"
	EventPeerLeft   = "peer-left"

	// both directions
	EventSignal = "signal"
	EventPlay   = "play"
	EventPause  = "pause"
	EventSync   = "sync"
)

// SignalData carries either a session description or a single ICE candidate.
type SignalData struct {
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// SignalRequest is the client -> server form of a signal event. SignalData is opaque
// to the relay.
type SignalRequest struct {
	RoomID     string          `json:"roomId"`
	SignalData json.RawMessage `json:"signalData"`
	Target     string          `json:"target,omitempty"`
}

// SignalRelay is the server -> client form of a signal event.
type SignalRelay struct {
	SignalData json.RawMessage `json:"signalData"`
	Sender     string          `json:"sender"`
}

// SyncRequest is the client -> server form of a sync event.
type SyncRequest struct {
	RoomID      string  `json:"roomId"`
	CurrentTime float64 `json:"currentTime"`
}

// NewMessage encodes payload as the message data. A nil payload produces a
// message without data.
func NewMessage(event string, payload any) (*Message, error) {
	msg := &Message{Event: event}
	if payload == nil {
		return msg, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	msg.Data = b
	return msg, nil
}

// MustMessage is NewMessage for payloads that cannot fail to encode
// (strings, numbers and the payload structs above).
func MustMessage(event string, payload any) *Message {
	msg, err := NewMessage(event, payload)
	if err != nil {
		panic(err)
	}
	return msg
}

// Decode unmarshals the message data into v.
func (m *Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return invalid(m.Event, "missing data")
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return invalid(m.Event, err.Error())
	}
	return nil
}
