package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Carthicc/karlynn/internal/config"
	"github.com/Carthicc/karlynn/internal/logging"
	"github.com/Carthicc/karlynn/internal/media"
	"github.com/Carthicc/karlynn/internal/rtc"
	"github.com/Carthicc/karlynn/internal/session"
	"github.com/Carthicc/karlynn/internal/transport"
	"github.com/Carthicc/karlynn/internal/ui"
	"github.com/spf13/cobra"
)

var (
	flagJoinServer    string
	flagJoinSTUN      string
	flagJoinWire      string
	flagJoinInterval  time.Duration
	flagJoinTolerance float64
	flagJoinNoAudio   bool
	flagJoinNoVideo   bool
	flagJoinHeadless  bool
)

var joinCmd = &cobra.Command{
	Use:     "join <room> [video-file]",
	Aliases: []string{"j"},
	Short:   "Join a watch room",
	Long: `Join a watch room, share your camera and microphone with the other
members and keep video playback in sync with them.

Examples:
  syncwatch join movie-night
  syncwatch join movie-night ~/Videos/film.mp4
  syncwatch join movie-night --server wss://watch.example.com/ws --wire msgpack`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		video := ""
		if len(args) == 2 {
			video = args[1]
		}
		return joinRoom(args[0], video)
	},
}

func init() {
	joinCmd.Flags().StringVarP(&flagJoinServer, "server", "s", "", "Signaling websocket URL (env: SIGNALING_URL)")
	joinCmd.Flags().StringVar(&flagJoinSTUN, "stun", "", "STUN server URL (env: STUN_SERVER)")
	joinCmd.Flags().StringVar(&flagJoinWire, "wire", "", "Websocket codec: json or msgpack (env: WIRE_CODEC)")
	joinCmd.Flags().DurationVar(&flagJoinInterval, "sync-interval", 0, "Playback sync period, e.g. 5s (env: SYNC_INTERVAL)")
	joinCmd.Flags().Float64Var(&flagJoinTolerance, "tolerance", 0, "Drift in seconds tolerated before correcting (env: DRIFT_TOLERANCE)")
	joinCmd.Flags().BoolVar(&flagJoinNoAudio, "no-audio", false, "Do not share a microphone track")
	joinCmd.Flags().BoolVar(&flagJoinNoVideo, "no-video", false, "Do not share a camera track")
	joinCmd.Flags().BoolVar(&flagJoinHeadless, "headless", false, "Log events instead of showing the watch screen")

	rootCmd.AddCommand(joinCmd)
}

var errDisconnected = errors.New("disconnected from signaling server")

// silentMedia keeps captured audio tracks fed with silence for the life of ctx.
type silentMedia struct {
	ctx      context.Context
	capturer media.Capturer
}

func (m silentMedia) Capture(ctx context.Context) (*media.Stream, error) {
	stream, err := m.capturer.Capture(ctx)
	if err != nil {
		return nil, err
	}
	go media.PumpSilence(m.ctx, stream)
	return stream, nil
}

func joinRoom(roomID, videoPath string) error {
	opts := config.ClientOptions{
		SignalingURL:   flagJoinServer,
		STUNServer:     flagJoinSTUN,
		Wire:           flagJoinWire,
		SyncInterval:   flagJoinInterval,
		DriftTolerance: flagJoinTolerance,
	}

	cfg, err := config.LoadClient(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flagJoinHeadless {
		logging.SetLevel(slog.LevelInfo)
	}
	logger := slog.Default()
	factory, err := rtc.NewFactory(cfg.GetSTUNServers(), logging.NewPionFactory(logger))
	if err != nil {
		return session.NewError("create peer factory", err)
	}

	sess := session.New(session.Config{
		Transport: transport.New(cfg.SignalingURL, cfg.Wire, logger),
		Media: silentMedia{
			ctx:      ctx,
			capturer: media.Capturer{Audio: !flagJoinNoAudio, Video: !flagJoinNoVideo},
		},
		NewPeer:        factory.NewPeer,
		SyncInterval:   cfg.SyncInterval,
		DriftTolerance: cfg.DriftTolerance,
		Logger:         logger,
	})
	defer sess.Leave()

	fmt.Println()
	spin := ui.NewConnectionSpinner("Connecting to " + cfg.SignalingURL + "...")
	spin.Start()
	if err := sess.Join(ctx, roomID); err != nil {
		spin.Error("Could not join room")
		return err
	}
	spin.Success(fmt.Sprintf("Joined room %s", ui.BoldStyle.Render(roomID)))

	if videoPath != "" {
		video, err := sess.LoadVideo(videoPath)
		if err != nil {
			return err
		}
		ui.PrintInfof("%s Loaded %s (%s)", ui.IconVideo, video.Name, ui.FormatSize(video.Size))
	}

	if flagJoinHeadless {
		return runHeadless(ctx, sess.Events(), logger)
	}

	disconnected, err := ui.RunWatch(sess, sess.Events())
	if err != nil {
		return err
	}
	if disconnected {
		ui.PrintWarning("Disconnected from signaling server")
	}
	return nil
}

// runHeadless logs session events until interrupted or disconnected. A
// waiting spinner runs until the first peer joins.
func runHeadless(ctx context.Context, events <-chan session.Event, logger *slog.Logger) error {
	waiting := ui.NewWaitingSpinner("Waiting for someone to join...")
	waiting.Start()
	defer waiting.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Kind == session.EventPeerJoined {
				waiting.Stop()
			}
			attrs := []any{"event", ev.Kind.String()}
			if ev.Peer != "" {
				attrs = append(attrs, "peer", ev.Peer)
			}
			switch ev.Kind {
			case session.EventTrackReceived:
				attrs = append(attrs, "track", ev.Track)
			case session.EventCorrected:
				attrs = append(attrs, "position", ev.Position)
			case session.EventNegotiationFailed:
				attrs = append(attrs, "error", ev.Err)
			}
			logger.Info("session event", attrs...)
			if ev.Kind == session.EventDisconnected {
				return errDisconnected
			}
		}
	}
}
