package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/pion/webrtc/v4"
)

var (
	ErrInvalidPayload = errors.New("invalid payload")
	ErrUnknownEvent   = errors.New("unknown event")
)

func invalid(event, reason string) error {
	return fmt.Errorf("%s: %w: %s", event, ErrInvalidPayload, reason)
}

// DecodeString decodes a payload made of a single non-empty string
// (join-room, play, pause, welcome, user-joined, peer-left).
func DecodeString(m *Message) (string, error) {
	var s string
	if err := m.Decode(&s); err != nil {
		return "", err
	}
	if s == "" {
		return "", invalid(m.Event, "empty string")
	}
	return s, nil
}

// DecodeSignalRequest decodes and validates a client -> server signal.
func DecodeSignalRequest(m *Message) (*SignalRequest, error) {
	var req SignalRequest
	if err := m.Decode(&req); err != nil {
		return nil, err
	}
	if req.RoomID == "" {
		return nil, invalid(m.Event, "missing roomId")
	}
	if len(req.SignalData) == 0 || string(req.SignalData) == "null" {
		return nil, invalid(m.Event, "missing signalData")
	}
	return &req, nil
}

// DecodeSignalRelay decodes a server -> client signal and its signal data.
func DecodeSignalRelay(m *Message) (string, *SignalData, error) {
	var relay SignalRelay
	if err := m.Decode(&relay); err != nil {
		return "", nil, err
	}
	if relay.Sender == "" {
		return "", nil, invalid(m.Event, "missing sender")
	}
	var data SignalData
	if len(relay.SignalData) == 0 {
		return "", nil, invalid(m.Event, "missing signalData")
	}
	if err := json.Unmarshal(relay.SignalData, &data); err != nil {
		return "", nil, invalid(m.Event, err.Error())
	}
	if err := data.Validate(); err != nil {
		return "", nil, fmt.Errorf("%s: %w", m.Event, err)
	}
	return relay.Sender, &data, nil
}

// DecodeSyncRequest decodes and validates a client -> server sync.
func DecodeSyncRequest(m *Message) (*SyncRequest, error) {
	var req SyncRequest
	if err := m.Decode(&req); err != nil {
		return nil, err
	}
	if req.RoomID == "" {
		return nil, invalid(m.Event, "missing roomId")
	}
	if err := validPosition(req.CurrentTime); err != nil {
		return nil, invalid(m.Event, err.Error())
	}
	return &req, nil
}

// DecodeCurrentTime decodes a server -> client sync payload.
func DecodeCurrentTime(m *Message) (float64, error) {
	var t float64
	if err := m.Decode(&t); err != nil {
		return 0, err
	}
	if err := validPosition(t); err != nil {
		return 0, invalid(m.Event, err.Error())
	}
	return t, nil
}

func validPosition(t float64) error {
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return errors.New("currentTime is not finite")
	}
	if t < 0 {
		return errors.New("currentTime is negative")
	}
	return nil
}

// Validate checks that exactly one of SDP or Candidate is set and that a
// description is an offer or an answer.
func (d *SignalData) Validate() error {
	switch {
	case d.SDP != nil && d.Candidate != nil:
		return fmt.Errorf("%w: both sdp and candidate set", ErrInvalidPayload)
	case d.SDP != nil:
		if d.SDP.Type != webrtc.SDPTypeOffer && d.SDP.Type != webrtc.SDPTypeAnswer {
			return fmt.Errorf("%w: unexpected sdp type %s", ErrInvalidPayload, d.SDP.Type)
		}
		return nil
	case d.Candidate != nil:
		return nil
	default:
		return fmt.Errorf("%w: empty signal data", ErrInvalidPayload)
	}
}
