package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

var (
	ErrNoDevices    = errors.New("no capture device available")
	ErrStreamClosed = errors.New("local stream closed")
)

// Opus frame that decodes to 20ms of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const silenceFrame = 20 * time.Millisecond

// Stream is the local audio/video stream shared by every peer connection.
// Samples written to a disabled track are dropped.
type Stream struct {
	id    string
	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample

	mu           sync.Mutex
	audioEnabled bool
	videoEnabled bool
	closed       bool
}

// Tracks returns the local tracks to attach to a peer connection.
func (s *Stream) Tracks() []webrtc.TrackLocal {
	var tracks []webrtc.TrackLocal
	if s.audio != nil {
		tracks = append(tracks, s.audio)
	}
	if s.video != nil {
		tracks = append(tracks, s.video)
	}
	return tracks
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) AudioEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio != nil && s.audioEnabled
}

func (s *Stream) VideoEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.video != nil && s.videoEnabled
}

// ToggleAudio flips the audio track and returns whether it is now enabled.
func (s *Stream) ToggleAudio() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioEnabled = !s.audioEnabled
	return s.audio != nil && s.audioEnabled
}

// ToggleVideo flips the video track and returns whether it is now enabled.
func (s *Stream) ToggleVideo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videoEnabled = !s.videoEnabled
	return s.video != nil && s.videoEnabled
}

func (s *Stream) WriteAudio(sample pionmedia.Sample) error {
	return s.write(s.audio, &s.audioEnabled, sample)
}

func (s *Stream) WriteVideo(sample pionmedia.Sample) error {
	return s.write(s.video, &s.videoEnabled, sample)
}

func (s *Stream) write(track *webrtc.TrackLocalStaticSample, enabled *bool, sample pionmedia.Sample) error {
	s.mu.Lock()
	closed, on := s.closed, *enabled
	s.mu.Unlock()

	if closed {
		return ErrStreamClosed
	}
	if track == nil || !on {
		return nil
	}
	return track.WriteSample(sample)
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases the stream. Later writes fail with ErrStreamClosed.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Capturer acquires the local stream.
type Capturer struct {
	Audio bool
	Video bool
}

// Capture creates the local tracks. Without any device it fails with ErrNoDevices.
func (c Capturer) Capture(ctx context.Context) (*Stream, error) {
	if !c.Audio && !c.Video {
		return nil, ErrNoDevices
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := "syncwatch"
	s := &Stream{id: id, audioEnabled: c.Audio, videoEnabled: c.Video}

	var err error
	if c.Audio {
		s.audio, err = webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", id)
		if err != nil {
			return nil, fmt.Errorf("create audio track: %w", err)
		}
	}
	if c.Video {
		s.video, err = webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", id)
		if err != nil {
			return nil, fmt.Errorf("create video track: %w", err)
		}
	}
	return s, nil
}

// PumpSilence writes opus silence to the audio track until ctx is done or
// the stream is closed. It keeps the audio path alive without a microphone.
func PumpSilence(ctx context.Context, s *Stream) {
	ticker := time.NewTicker(silenceFrame)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.WriteAudio(pionmedia.Sample{Data: opusSilence, Duration: silenceFrame}); errors.Is(err, ErrStreamClosed) {
				return
			}
		}
	}
}
