package ws

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Engine.IO v4 packet types.
const (
	engineOpen    = '0'
	engineClose   = '1'
	enginePing    = '2'
	enginePong    = '3'
	engineMessage = '4'
)

// Socket.IO v4 packet types, carried inside an engine message.
const (
	socketConnect      = '0'
	socketDisconnect   = '1'
	socketEvent        = '2'
	socketAck          = '3'
	socketConnectError = '4'
)

var errEmptyPacket = errors.New("empty packet")

// handshake is the body of the engine open packet.
type handshake struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
	MaxPayload   int    `json:"maxPayload"`
}

type connectError struct {
	Message string `json:"message"`
}

// socketPacket is a decoded Socket.IO packet on the default namespace.
type socketPacket struct {
	kind byte
	body []byte
}

func parseSocketPacket(b []byte) (socketPacket, error) {
	if len(b) == 0 {
		return socketPacket{}, errEmptyPacket
	}
	p := socketPacket{kind: b[0]}
	rest := b[1:]

	// Namespaced packets look like "/chat,<body>".
	if len(rest) > 0 && rest[0] == '/' {
		i := bytes.IndexByte(rest, ',')
		if i < 0 {
			p.body = nil
			return p, nil
		}
		rest = rest[i+1:]
	}
	// Ack id digits precede the payload.
	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	p.body = rest[i:]
	return p, nil
}

// decodeEvent splits an event body ["name", arg, ...] into its name and
// first argument.
func decodeEvent(body []byte) (string, json.RawMessage, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(body, &parts); err != nil {
		return "", nil, fmt.Errorf("decode event: %w", err)
	}
	if len(parts) == 0 {
		return "", nil, errors.New("decode event: missing name")
	}
	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return "", nil, fmt.Errorf("decode event name: %w", err)
	}
	if len(parts) == 1 {
		return name, nil, nil
	}
	return name, parts[1], nil
}

func encodeEvent(name string, payload any) ([]byte, error) {
	args := []any{name}
	if payload != nil {
		args = append(args, payload)
	}
	b, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", name, err)
	}
	return append([]byte{engineMessage, socketEvent}, b...), nil
}

func encodeConnect(token string) ([]byte, error) {
	b, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return nil, err
	}
	return append([]byte{engineMessage, socketConnect}, b...), nil
}
