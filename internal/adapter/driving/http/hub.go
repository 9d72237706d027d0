package http

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Frame is what UI clients receive over the bridge websocket.
type Frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type Client interface {
	ID() string
	Send(f Frame) error
	Close() error
}

const (
	broadcastBuffer  = 64
	stateSendTimeout = 2 * time.Second
)

// Hub tracks the connected UI clients and relays frames to all of them.
type Hub struct {
	clients    map[Client]bool
	broadcast  chan Frame
	register   chan Client
	unregister chan Client
	quit       chan struct{}
	stopped    chan struct{}
	count      atomic.Int32
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[Client]bool),
		broadcast:  make(chan Frame, broadcastBuffer),
		register:   make(chan Client),
		unregister: make(chan Client),
		quit:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// Broadcast queues f for every client. Call snapshots wait up to
// stateSendTimeout for room since a dropped one leaves the UI on a stale
// call state; every other frame is dropped when the queue is full.
func (h *Hub) Broadcast(f Frame) {
	select {
	case h.broadcast <- f:
		return
	default:
	}
	if f.Type != FrameCall {
		log.Warn().Str("type", f.Type).Msg("Broadcast channel full, dropping frame")
		return
	}

	timer := time.NewTimer(stateSendTimeout)
	defer timer.Stop()
	select {
	case h.broadcast <- f:
	case <-h.stopped:
	case <-timer.C:
		log.Error().Str("type", f.Type).Msg("Broadcast channel stuck, dropping call snapshot")
	}
}

func (h *Hub) Run() {
	defer close(h.stopped)
	for {
		select {
		case <-h.quit:
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			h.count.Store(int32(len(h.clients)))
			log.Info().Str("client_id", client.ID()).Msg("Client registered")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				h.count.Store(int32(len(h.clients)))
				client.Close()
				log.Info().Str("client_id", client.ID()).Msg("Client unregistered")
			}

		case frame := <-h.broadcast:
			for client := range h.clients {
				if err := client.Send(frame); err != nil {
					log.Error().Err(err).Str("client_id", client.ID()).Msg("Error sending frame")
					client.Close()
					delete(h.clients, client)
				}
			}
			h.count.Store(int32(len(h.clients)))
		}
	}
}

// Clients reports how many UI clients are registered.
func (h *Hub) Clients() int {
	return int(h.count.Load())
}

func (h *Hub) Register(c Client) {
	select {
	case h.register <- c:
	case <-h.stopped:
		c.Close()
	}
}

func (h *Hub) Unregister(c Client) {
	select {
	case h.unregister <- c:
	case <-h.stopped:
	}
}

func (h *Hub) Stop() {
	select {
	case <-h.quit:
	default:
		close(h.quit)
	}
	<-h.stopped
}
