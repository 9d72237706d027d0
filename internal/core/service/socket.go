package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Wyydra/loopync/internal/core/domain"
	"github.com/Wyydra/loopync/internal/core/port"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const presenceTimeout = 3 * time.Second

// SocketService owns the single realtime connection of the signed-in user
// and fans its events out to subscribers.
type SocketService struct {
	endpoint string
	dialer   port.RealTimeDialer
	notifier port.Notifier
	presence port.PresenceStore
	fanout   *FanOut
	now      func() time.Time

	mu              sync.Mutex
	handle          *SocketHandle
	session         domain.Session
	connected       bool
	friendRequests  []domain.FriendRequest
	messages        []domain.Message
	permissionAsked bool
}

// SocketHandle controls one started connection. Stop is idempotent.
type SocketHandle struct {
	svc      *SocketService
	conn     port.RealTimeConn
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	err      error
}

// Stop closes the connection exactly once and returns after the last event
// of this connection has been delivered.
func (h *SocketHandle) Stop() error {
	if h == nil || h.conn == nil {
		return nil
	}
	h.stopOnce.Do(func() {
		close(h.stop)
		h.err = h.conn.Close()
		<-h.done
		h.svc.detach(h)
	})
	return h.err
}

// Live reports whether the handle owns a connection.
func (h *SocketHandle) Live() bool {
	return h != nil && h.conn != nil
}

func NewSocketService(endpoint string, dialer port.RealTimeDialer, notifier port.Notifier, presence port.PresenceStore, fanout *FanOut) *SocketService {
	return &SocketService{
		endpoint: endpoint,
		dialer:   dialer,
		notifier: notifier,
		presence: presence,
		fanout:   fanout,
		now:      time.Now,
	}
}

// Start connects for sess. Without a token or a configured endpoint it logs a
// warning and returns an inert handle: realtime features stay off.
func (s *SocketService) Start(ctx context.Context, sess domain.Session) (*SocketHandle, error) {
	if !sess.Valid() {
		log.Info().Msg("No token found, skipping realtime connection")
		return &SocketHandle{}, nil
	}
	if s.endpoint == "" {
		log.Warn().Msg("Backend URL is not set, skipping realtime connection")
		return &SocketHandle{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != nil {
		return nil, domain.ErrAlreadyStarted
	}

	s.requestPermissionLocked()

	conn, err := s.dialer.Dial(ctx, s.endpoint, sess.Token)
	if err != nil {
		log.Error().Err(err).Str("endpoint", s.endpoint).Msg("Realtime connection failed")
		return nil, fmt.Errorf("dial realtime: %w", err)
	}

	h := &SocketHandle{
		svc:  s,
		conn: conn,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	s.handle = h
	s.session = sess
	s.connected = conn.State() == domain.ConnConnected

	go s.pump(h)

	log.Info().Str("user_id", sess.UserID.String()).Msg("Realtime connection started")
	return h, nil
}

// Stop tears down the current connection, if any.
func (s *SocketService) Stop() error {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()
	return h.Stop()
}

func (s *SocketService) detach(h *SocketHandle) {
	s.mu.Lock()
	if s.handle != h {
		s.mu.Unlock()
		return
	}
	s.handle = nil
	wasConnected := s.connected
	s.connected = false
	userID := s.session.UserID
	s.mu.Unlock()

	if wasConnected {
		s.setPresence(userID, domain.ConnDisconnected)
	}
}

func (s *SocketService) requestPermissionLocked() {
	if s.permissionAsked || s.notifier == nil {
		return
	}
	s.permissionAsked = true
	if s.notifier.Permission() == port.PermissionDefault {
		p := s.notifier.RequestPermission()
		log.Debug().Str("permission", string(p)).Msg("Notification permission requested")
	}
}

func (s *SocketService) pump(h *SocketHandle) {
	defer close(h.done)
	events := h.conn.Events()
	for {
		select {
		case <-h.stop:
			return
		case ev, ok := <-events:
			if !ok {
				// Transport gave up reconnecting; allow a fresh Start.
				go s.detach(h)
				return
			}
			s.dispatch(ev)
		}
	}
}

func (s *SocketService) dispatch(ev port.InboundEvent) {
	kind := domain.EventKind(ev.Name)
	l := log.With().Str("event", ev.Name).Logger()

	var payload any
	switch kind {
	case domain.EventConnect:
		s.setConnected(true)
		l.Info().Msg("Realtime connected")
		payload = domain.ConnStatus{State: domain.ConnConnected}

	case domain.EventDisconnect:
		s.setConnected(false)
		l.Info().Msg("Realtime disconnected")
		payload = domain.ConnStatus{State: domain.ConnDisconnected}

	case domain.EventConnectError:
		var status domain.ConnStatus
		_ = json.Unmarshal(ev.Data, &status)
		status.State = domain.ConnDisconnected
		l.Error().Str("error", status.Err).Msg("Realtime connection error")
		payload = status

	case domain.EventFriendRequest:
		var req domain.FriendRequest
		if !decode(l, ev.Data, &req) {
			return
		}
		s.mu.Lock()
		s.friendRequests = append([]domain.FriendRequest{req}, s.friendRequests...)
		s.mu.Unlock()
		l.Info().Msg("New friend request")
		if req.FromUser != nil {
			s.notify(port.Notification{
				Title: "New Friend Request",
				Body:  req.FromUser.Name + " sent you a friend request",
				Icon:  req.FromUser.Avatar,
			})
		}
		payload = req

	case domain.EventFriendEvent:
		var fe domain.FriendEvent
		if !decode(l, ev.Data, &fe) {
			return
		}
		l.Info().Str("type", fe.Type).Msg("Friend event")
		if fe.Type == domain.FriendAccepted && fe.Peer != nil {
			s.notify(port.Notification{
				Title: "Friend Request Accepted",
				Body:  fe.Peer.Name + " accepted your friend request",
				Icon:  fe.Peer.Avatar,
			})
		}
		payload = fe

	case domain.EventMessage:
		var me domain.MessageEvent
		if !decode(l, ev.Data, &me) {
			return
		}
		if me.Message != nil {
			s.mu.Lock()
			s.messages = append(s.messages, *me.Message)
			s.mu.Unlock()
			n := port.Notification{Title: "New message", Body: me.Message.Preview()}
			if sender := me.Message.Sender; sender != nil {
				n.Title = "Message from " + sender.Name
				n.Icon = sender.Avatar
			}
			s.notify(n)
		}
		l.Debug().Str("thread_id", me.Thread().String()).Msg("New message")
		payload = me

	case domain.EventTyping:
		var te domain.TypingEvent
		if !decode(l, ev.Data, &te) {
			return
		}
		l.Debug().Str("thread_id", te.ThreadID.String()).Msg("User typing")
		payload = te

	case domain.EventRead:
		var rr domain.ReadReceipt
		if !decode(l, ev.Data, &rr) {
			return
		}
		l.Debug().Str("thread_id", rr.ThreadID.String()).Msg("Message read")
		payload = rr

	case domain.EventIncomingCall:
		var offer domain.IncomingCallOffer
		if !decode(l, ev.Data, &offer) {
			return
		}
		l.Info().Str("call_id", offer.CallID.String()).Str("caller", offer.CallerName).Msg("Incoming call received")
		payload = offer

	case domain.EventCallCancelled:
		var cc domain.CallCancelled
		if !decode(l, ev.Data, &cc) {
			return
		}
		payload = cc

	default:
		l.Debug().Msg("Ignoring unknown realtime event")
		return
	}

	s.fanout.Publish(domain.Event{Kind: kind, Payload: payload, ReceivedAt: s.now()})
}

func decode(l zerolog.Logger, data json.RawMessage, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		l.Warn().Err(err).Msg("Dropping malformed realtime event")
		return false
	}
	return true
}

func (s *SocketService) setConnected(c bool) {
	s.mu.Lock()
	changed := s.connected != c
	s.connected = c
	userID := s.session.UserID
	s.mu.Unlock()

	if !changed {
		return
	}
	if c {
		s.setPresence(userID, domain.ConnConnected)
	} else {
		s.setPresence(userID, domain.ConnDisconnected)
	}
}

func (s *SocketService) setPresence(userID domain.UserID, state domain.ConnState) {
	if s.presence == nil || userID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := s.presence.SetState(ctx, userID, state); err != nil {
		log.Warn().Err(err).Str("user_id", userID.String()).Msg("Failed to update presence")
	}
}

func (s *SocketService) notify(n port.Notification) {
	if s.notifier == nil || s.notifier.Permission() != port.PermissionGranted {
		return
	}
	if err := s.notifier.Notify(n); err != nil {
		log.Warn().Err(err).Str("title", n.Title).Msg("Notification failed")
	}
}

// Emit sends a named event without waiting for an acknowledgement.
func (s *SocketService) Emit(event string, payload any) error {
	s.mu.Lock()
	h, connected := s.handle, s.connected
	s.mu.Unlock()

	if !h.Live() || !connected {
		return domain.ErrNotConnected
	}
	return h.conn.Emit(event, payload)
}

func (s *SocketService) EmitTyping(threadID domain.ThreadID) error {
	return s.Emit(domain.EmitTyping, map[string]string{"threadId": threadID.String()})
}

func (s *SocketService) Subscribe(kinds ...domain.EventKind) (<-chan domain.Event, func()) {
	return s.fanout.Subscribe(kinds...)
}

func (s *SocketService) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *SocketService) FriendRequests() []domain.FriendRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.FriendRequest, len(s.friendRequests))
	copy(out, s.friendRequests)
	return out
}

func (s *SocketService) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *SocketService) ClearFriendRequests() {
	s.mu.Lock()
	s.friendRequests = nil
	s.mu.Unlock()
}

func (s *SocketService) ClearMessages() {
	s.mu.Lock()
	s.messages = nil
	s.mu.Unlock()
}

// DropFriendRequest removes the pending request sent by fromID.
func (s *SocketService) DropFriendRequest(fromID domain.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.friendRequests[:0]
	for _, r := range s.friendRequests {
		if r.FromUser != nil && r.FromUser.ID == fromID {
			continue
		}
		kept = append(kept, r)
	}
	s.friendRequests = kept
}
