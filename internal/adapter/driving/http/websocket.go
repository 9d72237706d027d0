package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/Wyydra/loopync/internal/core/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 5 * time.Second
	commandTimeout = 15 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The bridge only listens on loopback.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type WSClient struct {
	id   domain.ClientID
	conn *websocket.Conn

	wmu       sync.Mutex
	closeOnce sync.Once
}

func (c *WSClient) ID() string {
	return c.id.String()
}

func (c *WSClient) Send(f Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(f)
}

func (c *WSClient) Close() error {
	var err error
	c.closeOnce.Do(func() { err = c.conn.Close() })
	return err
}

type command struct {
	Type     string          `json:"type"`
	Query    string          `json:"query,omitempty"`
	ThreadID domain.ThreadID `json:"threadId,omitempty"`
	Reason   string          `json:"reason,omitempty"`
}

// ServeWS upgrades a UI connection, sends it the current state and then
// executes the commands it sends.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	client := &WSClient{
		id:   domain.NewClientID(),
		conn: conn,
	}

	l := log.With().Str("client_id", client.ID()).Logger()
	l.Info().Msg("New client connected")

	if err := client.Send(Frame{Type: FrameState, Payload: h.state()}); err != nil {
		l.Error().Err(err).Msg("Failed to send initial state")
		client.Close()
		return
	}
	h.Hub.Register(client)

	defer func() {
		l.Info().Msg("Client disconnected")
		h.Hub.Unregister(client)
		client.Close()
	}()

	for {
		var cmd command
		err := conn.ReadJSON(&cmd)
		if err != nil {
			if malformed(err) {
				l.Warn().Err(err).Msg("Dropping malformed command")
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Error().Err(err).Msg("Unexpected close error")
			}
			break
		}

		if err := h.execute(r.Context(), l, cmd); err != nil {
			l.Warn().Err(err).Str("command", cmd.Type).Msg("Command failed")
			_ = client.Send(Frame{Type: FrameError, Payload: errorBody{Error: err.Error()}})
		}
	}
}

func malformed(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

func (h *Handler) execute(ctx context.Context, l zerolog.Logger, cmd command) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	switch cmd.Type {
	case "typing":
		return h.Socket.EmitTyping(cmd.ThreadID)
	case "search":
		h.Search.Type(cmd.Query)
		return nil
	case "accept":
		_, err := h.Calls.Accept(ctx)
		return err
	case "reject":
		return h.Calls.Reject(ctx, cmd.Reason)
	case "hangup":
		return h.Calls.Hangup(ctx)
	case "toggle_audio":
		_, err := h.Calls.ToggleAudio(ctx)
		return err
	case "toggle_video":
		_, err := h.Calls.ToggleVideo(ctx)
		return err
	default:
		l.Debug().Str("command", cmd.Type).Msg("Ignoring unknown command")
		return nil
	}
}
