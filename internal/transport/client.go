package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Carthicc/karlynn/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	queueSize = 64
)

// ErrClosed is returned by emitters once the connection is closed.
var ErrClosed = errors.New("signaling connection closed")

// Client manages the WebSocket connection to the signaling server. It is
// constructed by its owner and passed to whatever needs to emit events.
type Client struct {
	serverURL string
	codec     protocol.Codec
	logger    *slog.Logger

	conn     *websocket.Conn
	incoming chan *protocol.Message
	outgoing chan *protocol.Message
	done     chan struct{}

	mu        sync.Mutex
	connected bool
	closeOnce sync.Once
}

// New creates a client for serverURL. codec is the preferred wire codec; the
// one actually used is whatever the server negotiates.
func New(serverURL string, codec protocol.Codec, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if codec == nil {
		codec = protocol.JSON
	}
	return &Client{
		serverURL: serverURL,
		codec:     codec,
		logger:    logger.With("component", "transport"),
		incoming:  make(chan *protocol.Message, queueSize),
		outgoing:  make(chan *protocol.Message, queueSize),
		done:      make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the pumps.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     []string{c.codec.Subprotocol()},
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ip, err := lookup(ctx, host)
			if err != nil {
				return nil, fmt.Errorf("dns lookup failed: %w", err)
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ip, port))
		},
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	default:
	}
	c.connected = true
	c.mu.Unlock()

	c.conn = conn
	c.codec = protocol.CodecForSubprotocol(conn.Subprotocol())
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	c.logger.Debug("connected", "url", u.String(), "codec", c.codec.Name())

	go c.readPump()
	go c.writePump()
	return nil
}

// Codec reports the codec in use.
func (c *Client) Codec() protocol.Codec {
	return c.codec
}

// readPump reads messages from the WebSocket connection. When the connection
// ends the client is shut down, so emitters return ErrClosed, and incoming
// is closed.
func (c *Client) readPump() {
	defer func() {
		c.shutdown()
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Debug("read failed", "err", err)
			}
			return
		}

		var msg protocol.Message
		if err := c.codec.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("undecodable frame from server", "err", err)
			continue
		}

		select {
		case c.incoming <- &msg:
		case <-c.done:
			return
		}
	}
}

// writePump writes messages to the WebSocket connection and sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.outgoing:
			frame, err := c.codec.Marshal(msg)
			if err != nil {
				c.logger.Error("encode failed", "event", msg.Event, "err", err)
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(c.codec.FrameType(), frame); err != nil {
				c.logger.Debug("write failed", "err", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send queues msg for the server.
func (c *Client) Send(msg *protocol.Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func (c *Client) emit(event string, payload any) error {
	msg, err := protocol.NewMessage(event, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	return c.Send(msg)
}

func (c *Client) JoinRoom(roomID string) error {
	return c.emit(protocol.EventJoinRoom, roomID)
}

// Signal relays data to the room. A non-empty target addresses a single member.
func (c *Client) Signal(roomID, target string, data *protocol.SignalData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode signal data: %w", err)
	}
	return c.emit(protocol.EventSignal, protocol.SignalRequest{
		RoomID:     roomID,
		SignalData: raw,
		Target:     target,
	})
}

func (c *Client) Play(roomID string) error {
	return c.emit(protocol.EventPlay, roomID)
}

func (c *Client) Pause(roomID string) error {
	return c.emit(protocol.EventPause, roomID)
}

func (c *Client) Sync(roomID string, currentTime float64) error {
	return c.emit(protocol.EventSync, protocol.SyncRequest{RoomID: roomID, CurrentTime: currentTime})
}

// Incoming returns the channel of server messages. It is closed when the
// connection ends, whether by Close or by the server going away.
func (c *Client) Incoming() <-chan *protocol.Message {
	return c.incoming
}

// Close closes the WebSocket connection. It is safe to call more than once.
func (c *Client) Close() error {
	c.shutdown()
	return nil
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		close(c.done)
		// Without a read pump nobody else closes incoming.
		if !c.connected {
			close(c.incoming)
		}
	})
}
