package ws

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Wyydra/loopync/internal/core/port"
	"github.com/gorilla/websocket"
)

// ReconnectPolicy bounds how the transport retries after a failed or
// dropped connection. MaxAttempts 0 disables reconnection; a negative value
// retries forever.
type ReconnectPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Jitter      time.Duration
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{MaxAttempts: 5, Delay: time.Second}
}

// Dialer opens Socket.IO v4 connections over a websocket.
type Dialer struct {
	policy ReconnectPolicy
	ws     *websocket.Dialer
}

func NewDialer(policy ReconnectPolicy) *Dialer {
	return &Dialer{
		policy: policy,
		ws: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
	}
}

// Dial validates the endpoint and starts connecting in the background. The
// returned connection reports progress through connect, connect_error and
// disconnect events.
func (d *Dialer) Dial(ctx context.Context, endpoint, token string) (port.RealTimeConn, error) {
	u, err := socketURL(endpoint)
	if err != nil {
		return nil, err
	}
	c := newConn(u, token, d.policy, d.ws)
	go c.run()
	return c, nil
}

func socketURL(endpoint string) (string, error) {
	u, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	u.Path += "/socket.io/"
	q := url.Values{}
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
