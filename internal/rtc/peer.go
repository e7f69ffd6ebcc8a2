package rtc

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/Carthicc/karlynn/internal/negotiation"
)

// Handlers are installed on every peer connection the factory creates.
// Any of them may be nil. pion calls them from its own goroutines.
type Handlers struct {
	OnICECandidate          func(*webrtc.ICECandidate)
	OnTrack                 func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	OnConnectionStateChange func(webrtc.PeerConnectionState)
}

// Factory creates peer connections that share one pion API and ICE configuration.
type Factory struct {
	api        *webrtc.API
	iceServers []webrtc.ICEServer
}

// NewFactory builds the pion API with the default codecs. loggerFactory may be
// nil to keep pion's own logging.
func NewFactory(stunServers []string, loggerFactory logging.LoggerFactory) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	var s webrtc.SettingEngine
	if loggerFactory != nil {
		s.LoggerFactory = loggerFactory
	}

	var iceServers []webrtc.ICEServer
	if len(stunServers) > 0 {
		iceServers = []webrtc.ICEServer{{URLs: stunServers}}
	}

	return &Factory{
		api:        webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(s)),
		iceServers: iceServers,
	}, nil
}

// New creates a peer connection sending tracks.
func (f *Factory) New(tracks []webrtc.TrackLocal, h Handlers) (*webrtc.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{ICEServers: f.iceServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	for _, track := range tracks {
		sender, err := pc.AddTrack(track)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("add %s track: %w", track.Kind(), err)
		}
		go drainRTCP(sender)
	}

	if h.OnICECandidate != nil {
		pc.OnICECandidate(h.OnICECandidate)
	}
	if h.OnConnectionStateChange != nil {
		pc.OnConnectionStateChange(h.OnConnectionStateChange)
	}
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if h.OnTrack != nil {
			h.OnTrack(track, receiver)
		}
		go drainTrack(track)
	})

	return pc, nil
}

// NewPeer is New returning the interface a negotiation session drives.
func (f *Factory) NewPeer(tracks []webrtc.TrackLocal, h Handlers) (negotiation.PeerConnection, error) {
	pc, err := f.New(tracks, h)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

// RTCP must be read for interceptors such as NACK to work.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// Remote media is not rendered by the terminal client; reading keeps pion's
// buffers from filling up.
func drainTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}
