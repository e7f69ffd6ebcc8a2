package signaling

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Carthicc/karlynn/internal/metrics"
	"github.com/Carthicc/karlynn/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. SDP blobs fit comfortably.
	maxMessageSize = 64 * 1024
)

// ClientOptions tunes a connection.
type ClientOptions struct {
	// SendBuffer is the number of outbound messages queued before new ones are dropped.
	SendBuffer int

	// RateLimit and RateBurst bound inbound messages per second.
	RateLimit float64
	RateBurst int
}

// Client is one websocket connection (an endpoint).
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	id      string
	codec   protocol.Codec
	limiter *rate.Limiter
	logger  *slog.Logger

	// send is drained by WritePump. Only the hub goroutine writes to it or closes it.
	send chan *protocol.Message
}

// NewClient wraps conn with a fresh endpoint ID.
func NewClient(hub *Hub, conn *websocket.Conn, codec protocol.Codec, opts ClientOptions) *Client {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}

	id := uuid.NewString()
	return &Client{
		hub:     hub,
		conn:    conn,
		id:      id,
		codec:   codec,
		limiter: rate.NewLimiter(limit, opts.RateBurst),
		logger:  hub.logger.With("endpoint", id),
		send:    make(chan *protocol.Message, opts.SendBuffer),
	}
}

func (c *Client) ID() string {
	return c.id
}

// Send queues msg without blocking; a full buffer drops it.
func (c *Client) Send(msg *protocol.Message) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// ReadPump pumps messages from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("read failed", "err", err)
			}
			return
		}

		var msg protocol.Message
		if err := c.codec.Unmarshal(data, &msg); err != nil {
			c.hub.metrics.Drop(metrics.ReasonInvalid)
			c.logger.Debug("undecodable frame", "err", err)
			continue
		}

		if !c.limiter.Allow() {
			c.hub.metrics.Drop(metrics.ReasonRateLimited)
			c.logger.Debug("rate limited", "event", msg.Event)
			continue
		}

		c.hub.Submit(c, &msg)
	}
}

// WritePump pumps messages from the hub to the websocket connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			frame, err := c.codec.Marshal(msg)
			if err != nil {
				c.logger.Error("encode failed", "event", msg.Event, "err", err)
				continue
			}
			if err := c.conn.WriteMessage(c.codec.FrameType(), frame); err != nil {
				c.logger.Debug("write failed", "err", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
