package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Carthicc/karlynn/internal/config"
	"github.com/Carthicc/karlynn/internal/protocol"
	"github.com/Carthicc/karlynn/internal/signaling"
)

// Configure the websocket upgrader
var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024, // 64 KB
	WriteBufferSize: 64 * 1024, // 64 KB

	// Preferred first: a client offering both gets msgpack.
	Subprotocols: []string{protocol.SubprotocolMsgpack, protocol.SubprotocolJSON},

	// Rooms are unauthenticated, any origin may connect.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWs returns an http.HandlerFunc that upgrades the request and hands the
// connection to the hub.
func ServeWs(hub *signaling.Hub, cfg *config.Server, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("failed to upgrade connection", "err", err)
			return
		}

		client := signaling.NewClient(hub, conn, protocol.CodecForSubprotocol(conn.Subprotocol()), signaling.ClientOptions{
			SendBuffer: cfg.SendBuffer,
			RateLimit:  cfg.RateLimit,
			RateBurst:  cfg.RateBurst,
		})

		if !hub.Register(client) {
			conn.Close()
			return
		}

		// These methods handle the client's lifecycle
		go client.WritePump()
		go client.ReadPump()
	}
}

// Health Check endpoint
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Signaling server is healthy."))
}

// roomsHandler serves the current room membership as JSON.
func roomsHandler(registry *signaling.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(registry.Snapshot())
	}
}

// NewRouter wires the HTTP endpoints. gatherer may be nil to leave out /metrics.
func NewRouter(hub *signaling.Hub, cfg *config.Server, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthCheckHandler)
	mux.HandleFunc("GET /rooms", roomsHandler(hub.Registry()))
	mux.HandleFunc("/ws", ServeWs(hub, cfg, logger))
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}
