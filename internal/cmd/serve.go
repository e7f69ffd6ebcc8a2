package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Carthicc/karlynn/internal/config"
	"github.com/Carthicc/karlynn/internal/logging"
	"github.com/Carthicc/karlynn/internal/server"
	"github.com/spf13/cobra"
)

var (
	flagServeAddr       string
	flagServeMetrics    bool
	flagServeRate       float64
	flagServeBurst      int
	flagServeSendBuffer int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling relay",
	Long: `Run the signaling relay that groups clients into rooms and forwards
negotiation and playback messages between them.

Examples:
  syncwatch serve
  syncwatch serve --addr :8080 --metrics=false`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.SetLevel(slog.LevelInfo)

		opts := config.ServerOptions{
			Addr:       flagServeAddr,
			RateLimit:  flagServeRate,
			RateBurst:  flagServeBurst,
			SendBuffer: flagServeSendBuffer,
		}
		if cmd.Flags().Changed("metrics") {
			opts.Metrics = &flagServeMetrics
		}

		cfg, err := config.LoadServer(opts)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return server.New(cfg, slog.Default()).Run(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagServeAddr, "addr", "", "Listen address (env: ADDR, default "+config.DefaultAddr+")")
	serveCmd.Flags().BoolVar(&flagServeMetrics, "metrics", true, "Serve prometheus metrics at /metrics (env: METRICS_ENABLED)")
	serveCmd.Flags().Float64Var(&flagServeRate, "rate", 0, "Messages per second allowed per connection (env: RATE_LIMIT)")
	serveCmd.Flags().IntVar(&flagServeBurst, "burst", 0, "Message burst allowed per connection (env: RATE_BURST)")
	serveCmd.Flags().IntVar(&flagServeSendBuffer, "send-buffer", 0, "Outbound queue size per connection (env: SEND_BUFFER)")

	rootCmd.AddCommand(serveCmd)
}
