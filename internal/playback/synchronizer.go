package playback

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"
)

// Player is the local transport the synchronizer reads and corrects.
type Player interface {
	Position() float64
	Seek(pos float64)
	Play()
	Pause()
}

// Sender broadcasts the local position to the room.
type Sender interface {
	SendSync(currentTime float64) error
}

// Options configure a Synchronizer.
type Options struct {
	Interval  time.Duration
	Tolerance float64
	Logger    *slog.Logger
}

// Synchronizer broadcasts the local position on a fixed interval and applies
// play, pause and sync events from the peer.
type Synchronizer struct {
	player    Player
	sender    Sender
	interval  time.Duration
	tolerance float64
	logger    *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSynchronizer(player Player, sender Sender, opts Options) *Synchronizer {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = 0.5
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Synchronizer{
		player:    player,
		sender:    sender,
		interval:  opts.Interval,
		tolerance: opts.Tolerance,
		logger:    opts.Logger.With("component", "sync"),
	}
}

// Start begins periodic broadcasts. The ticker runs until Stop or until ctx
// is done; starting a running synchronizer does nothing.
func (s *Synchronizer) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pos := s.player.Position()
				if err := s.sender.SendSync(pos); err != nil {
					s.logger.Debug("sync not sent", "err", err)
				}
			}
		}
	}()
}

// Stop cancels the broadcast ticker and waits for it to exit. It is safe to
// call more than once.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Synchronizer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// HandleSync reconciles a position reported by the peer. The local position
// is forced to remote when they differ by more than the tolerance; it reports
// whether it did so.
func (s *Synchronizer) HandleSync(remote float64) bool {
	local := s.player.Position()
	if math.Abs(local-remote) <= s.tolerance {
		return false
	}
	s.player.Seek(remote)
	s.logger.Info("drift corrected", "local", local, "remote", remote)
	return true
}

func (s *Synchronizer) HandlePlay() {
	s.player.Play()
}

func (s *Synchronizer) HandlePause() {
	s.player.Pause()
}
