package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/Wyydra/loopync/internal/core/domain"
	"github.com/Wyydra/loopync/internal/core/port"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	eventBuffer  = 64
	writeTimeout = 10 * time.Second
)

// errServerClosed marks a session the server ended on purpose; it is not
// retried.
var errServerClosed = errors.New("server closed the connection")

type authError struct {
	msg string
}

func (e *authError) Error() string { return "connect rejected: " + e.msg }

// Conn is one logical Socket.IO connection. It survives transport drops
// according to its ReconnectPolicy.
type Conn struct {
	url    string
	token  string
	policy ReconnectPolicy
	dialer *websocket.Dialer
	log    zerolog.Logger

	events chan port.InboundEvent
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	ws    *websocket.Conn
	state domain.ConnState

	wmu       sync.Mutex
	closeOnce sync.Once
}

func newConn(u, token string, policy ReconnectPolicy, d *websocket.Dialer) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		url:    u,
		token:  token,
		policy: policy,
		dialer: d,
		log:    log.With().Str("component", "socketio").Logger(),
		events: make(chan port.InboundEvent, eventBuffer),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  domain.ConnConnecting,
	}
}

func (c *Conn) Events() <-chan port.InboundEvent {
	return c.events
}

func (c *Conn) State() domain.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Emit sends an event without acknowledgement.
func (c *Conn) Emit(event string, payload any) error {
	c.mu.Lock()
	ws, state := c.ws, c.state
	c.mu.Unlock()
	if ws == nil || state != domain.ConnConnected {
		return domain.ErrNotConnected
	}
	b, err := encodeEvent(event, payload)
	if err != nil {
		return err
	}
	return c.write(ws, b)
}

// Close disconnects and stops reconnecting. Events is closed when it
// returns.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		ws := c.ws
		c.mu.Unlock()
		if ws != nil {
			_ = c.write(ws, []byte{engineMessage, socketDisconnect})
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
		}
		c.cancel()
		if ws != nil {
			ws.Close()
		}
		<-c.done
	})
	return nil
}

func (c *Conn) write(ws *websocket.Conn, b []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return ws.WriteMessage(websocket.TextMessage, b)
}

func (c *Conn) run() {
	defer close(c.done)
	defer close(c.events)

	attempt := 0
	for {
		connected, err := c.session()
		c.setState(domain.ConnDisconnected, nil)
		if c.ctx.Err() != nil {
			return
		}

		if connected {
			attempt = 0
			c.log.Info().Err(err).Msg("Socket disconnected")
			c.publish(string(domain.EventDisconnect), domain.ConnStatus{State: domain.ConnDisconnected, Err: errString(err)})
		} else {
			c.log.Error().Err(err).Msg("Socket connect failed")
			c.publish(string(domain.EventConnectError), domain.ConnStatus{State: domain.ConnDisconnected, Err: errString(err)})
		}

		var ae *authError
		if errors.As(err, &ae) || errors.Is(err, errServerClosed) {
			return
		}
		if c.policy.MaxAttempts >= 0 && attempt >= c.policy.MaxAttempts {
			c.log.Warn().Int("attempts", attempt).Msg("Giving up reconnecting")
			return
		}
		attempt++

		wait := c.policy.Delay
		if c.policy.Jitter > 0 {
			wait += rand.N(c.policy.Jitter)
		}
		c.log.Debug().Int("attempt", attempt).Dur("wait", wait).Msg("Reconnecting")
		select {
		case <-time.After(wait):
		case <-c.ctx.Done():
			return
		}
		c.setState(domain.ConnConnecting, nil)
	}
}

// session runs one websocket from dial to drop. connected reports whether
// the Socket.IO handshake completed.
func (c *Conn) session() (connected bool, err error) {
	ws, _, err := c.dialer.DialContext(c.ctx, c.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer ws.Close()

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
	}()
	if c.ctx.Err() != nil {
		return false, c.ctx.Err()
	}

	hs, err := c.open(ws)
	if err != nil {
		return false, err
	}
	keepalive := time.Duration(hs.PingInterval+hs.PingTimeout) * time.Millisecond

	pkt, err := encodeConnect(c.token)
	if err != nil {
		return false, err
	}
	if err := c.write(ws, pkt); err != nil {
		return false, fmt.Errorf("send connect: %w", err)
	}

	for {
		if keepalive > 0 {
			ws.SetReadDeadline(time.Now().Add(keepalive))
		}
		_, data, err := ws.ReadMessage()
		if err != nil {
			return connected, fmt.Errorf("read: %w", err)
		}
		if len(data) == 0 {
			continue
		}

		switch data[0] {
		case enginePing:
			if err := c.write(ws, []byte{enginePong}); err != nil {
				return connected, fmt.Errorf("pong: %w", err)
			}
		case engineClose:
			return connected, errServerClosed
		case engineMessage:
			p, err := parseSocketPacket(data[1:])
			if err != nil {
				continue
			}
			switch p.kind {
			case socketConnect:
				connected = true
				c.setState(domain.ConnConnected, ws)
				c.log.Info().Msg("Socket connected")
				c.publish(string(domain.EventConnect), nil)
			case socketConnectError:
				var ce connectError
				_ = json.Unmarshal(p.body, &ce)
				return connected, &authError{msg: ce.Message}
			case socketDisconnect:
				return connected, errServerClosed
			case socketEvent:
				name, arg, err := decodeEvent(p.body)
				if err != nil {
					c.log.Warn().Err(err).Msg("Dropping malformed event")
					continue
				}
				c.publishRaw(name, arg)
			case socketAck:
			}
		}
	}
}

func (c *Conn) open(ws *websocket.Conn) (handshake, error) {
	ws.SetReadDeadline(time.Now().Add(c.dialer.HandshakeTimeout))
	_, data, err := ws.ReadMessage()
	if err != nil {
		return handshake{}, fmt.Errorf("read open packet: %w", err)
	}
	if len(data) == 0 || data[0] != engineOpen {
		return handshake{}, fmt.Errorf("unexpected open packet %q", data)
	}
	var hs handshake
	if err := json.Unmarshal(data[1:], &hs); err != nil {
		return handshake{}, fmt.Errorf("decode open packet: %w", err)
	}
	ws.SetReadDeadline(time.Time{})
	return hs, nil
}

func (c *Conn) setState(s domain.ConnState, ws *websocket.Conn) {
	c.mu.Lock()
	c.state = s
	if ws != nil {
		c.ws = ws
	}
	c.mu.Unlock()
}

func (c *Conn) publish(name string, v any) {
	var data json.RawMessage
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			return
		}
		data = b
	}
	c.publishRaw(name, data)
}

func (c *Conn) publishRaw(name string, data json.RawMessage) {
	select {
	case c.events <- port.InboundEvent{Name: name, Data: data}:
	case <-c.ctx.Done():
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
