package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/Carthicc/karlynn/internal/protocol"
)

// Default configuration values
const (
	DefaultAddr       = ":3001"
	DefaultRateLimit  = 20
	DefaultRateBurst  = 40
	DefaultSendBuffer = 256

	DefaultSignalingURL   = "ws://localhost:3001/ws"
	DefaultSTUN           = "stun:stun.l.google.com:19302"
	DefaultWire           = "json"
	DefaultSyncInterval   = 5 * time.Second
	DefaultDriftTolerance = 0.5
)

// Server holds the signaling server configuration.
type Server struct {
	Addr           string
	MetricsEnabled bool
	RateLimit      float64
	RateBurst      int
	SendBuffer     int
}

// ServerOptions carries CLI flag overrides. Zero values fall through to the
// environment and then to defaults; Metrics is a pointer so false can override.
type ServerOptions struct {
	Addr       string
	Metrics    *bool
	RateLimit  float64
	RateBurst  int
	SendBuffer int
}

// LoadServer resolves the server configuration with the following priority:
// 1. CLI flags (passed via ServerOptions) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func LoadServer(opts ServerOptions) (*Server, error) {
	cfg := &Server{
		Addr:           firstString(opts.Addr, os.Getenv("ADDR"), DefaultAddr),
		MetricsEnabled: true,
		RateLimit:      DefaultRateLimit,
		RateBurst:      DefaultRateBurst,
		SendBuffer:     DefaultSendBuffer,
	}

	if opts.Metrics != nil {
		cfg.MetricsEnabled = *opts.Metrics
	} else if v, ok := lookupEnv("METRICS_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("METRICS_ENABLED: %w", err)
		}
		cfg.MetricsEnabled = b
	}

	var err error
	if cfg.RateLimit, err = floatSetting(opts.RateLimit, "RATE_LIMIT", DefaultRateLimit); err != nil {
		return nil, err
	}
	if cfg.RateBurst, err = intSetting(opts.RateBurst, "RATE_BURST", DefaultRateBurst); err != nil {
		return nil, err
	}
	if cfg.SendBuffer, err = intSetting(opts.SendBuffer, "SEND_BUFFER", DefaultSendBuffer); err != nil {
		return nil, err
	}

	if cfg.RateLimit <= 0 || cfg.RateBurst <= 0 {
		return nil, fmt.Errorf("rate limit and burst must be positive")
	}
	if cfg.SendBuffer <= 0 {
		return nil, fmt.Errorf("send buffer must be positive")
	}
	return cfg, nil
}

// Client holds the watch client configuration.
type Client struct {
	// SignalingURL is the websocket endpoint of the relay.
	SignalingURL string

	// STUNServer is the single public STUN server used for ICE.
	STUNServer string

	// Wire selects the websocket codec.
	Wire protocol.Codec

	// SyncInterval is the period of playback position broadcasts.
	SyncInterval time.Duration

	// DriftTolerance is the position difference, in seconds, tolerated before correcting.
	DriftTolerance float64
}

// ClientOptions for loading config with CLI flag overrides
type ClientOptions struct {
	SignalingURL   string
	STUNServer     string
	Wire           string
	SyncInterval   time.Duration
	DriftTolerance float64
}

// LoadClient resolves the client configuration: flags, then environment, then defaults.
func LoadClient(opts ClientOptions) (*Client, error) {
	signalingURL := firstString(opts.SignalingURL, os.Getenv("SIGNALING_URL"), DefaultSignalingURL)
	u, err := url.Parse(signalingURL)
	if err != nil {
		return nil, fmt.Errorf("invalid signaling URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("signaling URL must use ws:// or wss://, got %q", signalingURL)
	}

	wire, err := protocol.CodecByName(firstString(opts.Wire, os.Getenv("WIRE_CODEC"), DefaultWire))
	if err != nil {
		return nil, err
	}

	interval := opts.SyncInterval
	if interval == 0 {
		interval = DefaultSyncInterval
		if v, ok := lookupEnv("SYNC_INTERVAL"); ok {
			if interval, err = time.ParseDuration(v); err != nil {
				return nil, fmt.Errorf("SYNC_INTERVAL: %w", err)
			}
		}
	}
	if interval <= 0 {
		return nil, fmt.Errorf("sync interval must be positive")
	}

	tolerance, err := floatSetting(opts.DriftTolerance, "DRIFT_TOLERANCE", DefaultDriftTolerance)
	if err != nil {
		return nil, err
	}
	if tolerance <= 0 {
		return nil, fmt.Errorf("drift tolerance must be positive")
	}

	return &Client{
		SignalingURL:   u.String(),
		STUNServer:     firstString(opts.STUNServer, os.Getenv("STUN_SERVER"), DefaultSTUN),
		Wire:           wire,
		SyncInterval:   interval,
		DriftTolerance: tolerance,
	}, nil
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Client) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

func firstString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func floatSetting(flag float64, env string, def float64) (float64, error) {
	if flag != 0 {
		return flag, nil
	}
	if v, ok := lookupEnv(env); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", env, err)
		}
		return f, nil
	}
	return def, nil
}

func intSetting(flag int, env string, def int) (int, error) {
	if flag != 0 {
		return flag, nil
	}
	if v, ok := lookupEnv(env); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", env, err)
		}
		return n, nil
	}
	return def, nil
}

// lookupEnv treats an empty variable as unset.
func lookupEnv(name string) (string, bool) {
	v := os.Getenv(name)
	return v, v != ""
}
