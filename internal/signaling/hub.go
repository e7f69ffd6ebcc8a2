package signaling

import (
	"context"
	"log/slog"

	"github.com/Carthicc/karlynn/internal/metrics"
	"github.com/Carthicc/karlynn/internal/protocol"
)

type inbound struct {
	from Endpoint
	msg  *protocol.Message
}

// Hub is the signaling relay. A single goroutine (Run) owns every registry
// mutation, so messages from one sender are forwarded in the order they were read.
type Hub struct {
	registry *Registry
	metrics  *metrics.Relay
	logger   *slog.Logger

	register   chan *Client
	unregister chan *Client
	broadcast  chan inbound
	done       chan struct{}

	clients map[string]*Client
}

// NewHub creates a hub. A nil logger uses slog.Default(); nil metrics disables them.
func NewHub(logger *slog.Logger, m *metrics.Relay) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		registry:   NewRegistry(),
		metrics:    m,
		logger:     logger,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan inbound, 256),
		done:       make(chan struct{}),
		clients:    make(map[string]*Client),
	}
}

func (h *Hub) Registry() *Registry {
	return h.registry
}

// Register hands a new connection to the hub. It reports false once the hub stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Submit queues an inbound message for relaying.
func (h *Hub) Submit(from Endpoint, msg *protocol.Message) {
	select {
	case h.broadcast <- inbound{from: from, msg: msg}:
	case <-h.done:
	}
}

// Run processes registrations and messages until ctx is cancelled, then
// closes every remaining connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for _, c := range h.clients {
				close(c.send)
				c.conn.Close()
			}
			h.clients = nil
			return

		case c := <-h.register:
			h.clients[c.id] = c
			h.logger.Info("endpoint connected", "endpoint", c.id, "addr", c.conn.RemoteAddr(), "codec", c.codec.Name())
			c.Send(protocol.MustMessage(protocol.EventWelcome, c.id))
			h.updateGauges()

		case c := <-h.unregister:
			if _, ok := h.clients[c.id]; !ok {
				continue
			}
			delete(h.clients, c.id)
			h.leave(c.id)
			close(c.send)
			h.logger.Info("endpoint disconnected", "endpoint", c.id)
			h.updateGauges()

		case in := <-h.broadcast:
			h.dispatch(in.from, in.msg)
		}
	}
}

func (h *Hub) leave(endpointID string) {
	if roomID, ok := h.registry.Leave(endpointID); ok {
		h.logger.Info("left room", "endpoint", endpointID, "room", roomID)
		h.updateOccupancy()
	}
}

// dispatch applies one inbound message. Routing failures are dropped without
// telling the sender.
func (h *Hub) dispatch(from Endpoint, msg *protocol.Message) {
	switch msg.Event {
	case protocol.EventJoinRoom:
		roomID, err := protocol.DecodeString(msg)
		if err != nil {
			h.drop(from, msg, metrics.ReasonInvalid, err)
			return
		}
		if h.registry.Join(from, roomID) {
			h.logger.Info("joined room", "endpoint", from.ID(), "room", roomID)
			h.updateOccupancy()
		}

	case protocol.EventSignal:
		req, err := protocol.DecodeSignalRequest(msg)
		if err != nil {
			h.drop(from, msg, metrics.ReasonInvalid, err)
			return
		}
		out := protocol.MustMessage(protocol.EventSignal, protocol.SignalRelay{
			SignalData: req.SignalData,
			Sender:     from.ID(),
		})
		h.forward(from, req.RoomID, req.Target, out)

	case protocol.EventPlay, protocol.EventPause:
		roomID, err := protocol.DecodeString(msg)
		if err != nil {
			h.drop(from, msg, metrics.ReasonInvalid, err)
			return
		}
		h.forward(from, roomID, "", &protocol.Message{Event: msg.Event})

	case protocol.EventSync:
		req, err := protocol.DecodeSyncRequest(msg)
		if err != nil {
			h.drop(from, msg, metrics.ReasonInvalid, err)
			return
		}
		h.forward(from, req.RoomID, "", protocol.MustMessage(protocol.EventSync, req.CurrentTime))

	default:
		h.drop(from, msg, metrics.ReasonUnknownEvent, protocol.ErrUnknownEvent)
	}
}

// forward delivers out to the other members of the sender's room. It returns
// the number of endpoints the message was queued for.
func (h *Hub) forward(from Endpoint, roomID, target string, out *protocol.Message) int {
	current, ok := h.registry.RoomOf(from.ID())
	if !ok {
		h.drop(from, out, metrics.ReasonNotMember, nil)
		return 0
	}
	if current != roomID {
		h.drop(from, out, metrics.ReasonRoomMismatch, nil)
		return 0
	}

	// A target that is no longer in the room is not resolvable; the message is
	// never widened to the rest of the room.
	recipients := h.registry.Recipients(current, from.ID(), target)
	if len(recipients) == 0 {
		h.drop(from, out, metrics.ReasonNoRecipient, nil)
		return 0
	}

	delivered := 0
	for _, ep := range recipients {
		if ep.Send(out) {
			delivered++
		} else {
			h.metrics.Drop(metrics.ReasonBufferFull)
			h.logger.Warn("send buffer full, message dropped", "endpoint", ep.ID(), "event", out.Event)
		}
	}
	h.metrics.Forwarded(out.Event, delivered)
	h.logger.Debug("relayed", "event", out.Event, "from", from.ID(), "room", current, "recipients", delivered)
	return delivered
}

func (h *Hub) drop(from Endpoint, msg *protocol.Message, reason string, err error) {
	h.metrics.Drop(reason)
	h.logger.Debug("message dropped", "endpoint", from.ID(), "event", msg.Event, "reason", reason, "err", err)
}

func (h *Hub) updateOccupancy() {
	rooms, members := h.registry.Len()
	h.metrics.Occupancy(rooms, members)
}

func (h *Hub) updateGauges() {
	if h.metrics != nil {
		h.metrics.Endpoints.Set(float64(len(h.clients)))
	}
}
