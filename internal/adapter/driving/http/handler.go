package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Wyydra/loopync/internal/adapter/driven/backend/rest"
	"github.com/Wyydra/loopync/internal/core/domain"
	"github.com/Wyydra/loopync/internal/core/port"
	"github.com/Wyydra/loopync/internal/core/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// Frame types pushed to UI clients besides the realtime event kinds.
const (
	FrameState        = "state"
	FrameCall         = "call"
	FrameThread       = "thread"
	FrameSearch       = "search_result"
	FrameNotification = "notification"
	FrameError        = "error"
)

type Handler struct {
	Session  *service.SessionService
	Socket   *service.SocketService
	Calls    *service.CallManager
	Chat     *service.ChatService
	Friends  *service.FriendService
	Search   *service.Searcher
	Presence port.PresenceStore
	Hub      *Hub
}

// NewHandler wires call and thread changes to the hub.
func NewHandler(session *service.SessionService, socket *service.SocketService, calls *service.CallManager, chat *service.ChatService, friends *service.FriendService, search *service.Searcher, presence port.PresenceStore, hub *Hub) *Handler {
	h := &Handler{
		Session:  session,
		Socket:   socket,
		Calls:    calls,
		Chat:     chat,
		Friends:  friends,
		Search:   search,
		Presence: presence,
		Hub:      hub,
	}
	calls.OnChange(func(s service.CallSnapshot) {
		hub.Broadcast(Frame{Type: FrameCall, Payload: s})
	})
	chat.OnUpdate(func(id domain.ThreadID, msgs []domain.Message) {
		hub.Broadcast(Frame{Type: FrameThread, Payload: threadView{ThreadID: id, Messages: msgs}})
	})
	return h
}

// Forward relays every realtime event to the UI clients until ctx is done.
func (h *Handler) Forward(ctx context.Context, events service.EventSource) {
	ch, cancel := events.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			h.Hub.Broadcast(Frame{Type: string(ev.Kind), Payload: ev.Payload})
		}
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ws", h.ServeWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.getState)

		r.Post("/session/login", h.login)
		r.Delete("/session", h.logout)

		r.Post("/calls", h.initiateCall)
		r.Post("/calls/accept", h.acceptCall)
		r.Post("/calls/reject", h.rejectCall)
		r.Post("/calls/hangup", h.hangup)
		r.Post("/calls/audio", h.toggleAudio)
		r.Post("/calls/video", h.toggleVideo)

		r.Post("/typing", h.typing)
		r.Get("/presence/{userID}", h.presence)

		r.Post("/threads", h.openThread)
		r.Get("/threads/{threadID}", h.thread)
		r.Post("/threads/{threadID}/messages", h.sendMessage)

		r.Post("/friends/{friendID}/accept", h.acceptFriend)
		r.Post("/friends/{friendID}/reject", h.rejectFriend)
	})

	return r
}

type stateView struct {
	User           *domain.User           `json:"user,omitempty"`
	Connected      bool                   `json:"connected"`
	Call           service.CallSnapshot   `json:"call"`
	FriendRequests []domain.FriendRequest `json:"friendRequests"`
	Messages       []domain.Message       `json:"messages"`
}

type threadView struct {
	ThreadID domain.ThreadID  `json:"threadId"`
	Messages []domain.Message `json:"messages"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (h *Handler) state() stateView {
	v := stateView{
		Connected:      h.Socket.Connected(),
		Call:           h.Calls.Snapshot(),
		FriendRequests: h.Socket.FriendRequests(),
		Messages:       h.Socket.Messages(),
	}
	if s := h.Session.Current(); s != nil {
		v.User = s.User
	}
	return v
}

func (h *Handler) getState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.state())
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	sess, err := h.Session.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"userId": sess.UserID, "user": sess.User})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Session.Logout(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) initiateCall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RecipientID domain.UserID   `json:"recipientId"`
		PeerName    string          `json:"peerName"`
		CallType    domain.CallType `json:"callType"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if req.RecipientID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "recipientId is required"})
		return
	}
	if req.CallType == "" {
		req.CallType = domain.CallAudio
	}
	if !req.CallType.Valid() {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "callType must be audio or video"})
		return
	}
	self, ok := h.self(w)
	if !ok {
		return
	}
	c, err := h.Calls.Initiate(r.Context(), self, req.RecipientID, req.PeerName, req.CallType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c.Call())
}

func (h *Handler) acceptCall(w http.ResponseWriter, r *http.Request) {
	c, err := h.Calls.Accept(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Call())
}

func (h *Handler) rejectCall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength > 0 && !readJSON(w, r, &req) {
		return
	}
	if err := h.Calls.Reject(r.Context(), req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Calls.Snapshot())
}

func (h *Handler) hangup(w http.ResponseWriter, r *http.Request) {
	if err := h.Calls.Hangup(r.Context()); err != nil {
		// Teardown failures are logged by the call; the call is over either way.
		if errors.Is(err, domain.ErrNoActiveCall) {
			writeError(w, err)
			return
		}
		log.Warn().Err(err).Msg("Call ended with cleanup errors")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) toggleAudio(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.Calls.ToggleAudio)
}

func (h *Handler) toggleVideo(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.Calls.ToggleVideo)
}

func (h *Handler) toggle(w http.ResponseWriter, r *http.Request, fn func(context.Context) (bool, error)) {
	enabled, err := fn(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": enabled})
}

func (h *Handler) typing(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ThreadID domain.ThreadID `json:"threadId"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if err := h.Socket.EmitTyping(req.ThreadID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) presence(w http.ResponseWriter, r *http.Request) {
	userID := domain.UserID(chi.URLParam(r, "userID"))
	state, err := h.Presence.State(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"userId": userID, "state": state})
}

func (h *Handler) openThread(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PeerID domain.UserID `json:"peerUserId"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	self, ok := h.self(w)
	if !ok {
		return
	}
	th, err := h.Chat.ThreadWith(r.Context(), self, req.PeerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, th)
}

// thread answers from the local snapshot unless ?refresh=1 asks for a fetch.
func (h *Handler) thread(w http.ResponseWriter, r *http.Request) {
	id := domain.ThreadID(chi.URLParam(r, "threadID"))
	var (
		msgs []domain.Message
		err  error
	)
	if r.URL.Query().Get("refresh") == "1" {
		msgs, err = h.Chat.Refresh(r.Context(), id)
	} else {
		msgs, err = h.Chat.Messages(r.Context(), id)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, threadView{ThreadID: id, Messages: msgs})
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text     string `json:"text"`
		MediaURL string `json:"mediaUrl"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	self, ok := h.self(w)
	if !ok {
		return
	}
	id := domain.ThreadID(chi.URLParam(r, "threadID"))
	msg, err := h.Chat.Send(r.Context(), id, self, req.Text, req.MediaURL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *Handler) acceptFriend(w http.ResponseWriter, r *http.Request) {
	h.friendAction(w, r, h.Friends.Accept)
}

func (h *Handler) rejectFriend(w http.ResponseWriter, r *http.Request) {
	h.friendAction(w, r, h.Friends.Reject)
}

func (h *Handler) friendAction(w http.ResponseWriter, r *http.Request, fn func(context.Context, domain.UserID, domain.UserID) error) {
	self, ok := h.self(w)
	if !ok {
		return
	}
	friendID := domain.UserID(chi.URLParam(r, "friendID"))
	if err := fn(r.Context(), self, friendID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) self(w http.ResponseWriter) (domain.UserID, bool) {
	id := h.Session.UserID()
	if id == "" {
		writeError(w, domain.ErrNoSession)
		return "", false
	}
	return id, true
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody{Error: err.Error()})
}

func statusFor(err error) int {
	var apiErr *rest.APIError
	switch {
	case errors.Is(err, domain.ErrNoSession):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNoPendingOffer),
		errors.Is(err, domain.ErrNoActiveCall),
		errors.Is(err, domain.ErrCallInProgress),
		errors.Is(err, domain.ErrCallEnded):
		return http.StatusConflict
	case errors.Is(err, domain.ErrEmptyMessage),
		errors.Is(err, domain.ErrInvalidOffer):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotConnected),
		errors.Is(err, domain.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.As(err, &apiErr):
		if apiErr.Status == http.StatusUnauthorized {
			return http.StatusUnauthorized
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
