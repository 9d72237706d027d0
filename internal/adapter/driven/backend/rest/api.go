package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/Wyydra/loopync/internal/core/domain"
)

func (c *Client) InitiateCall(ctx context.Context, callerID, recipientID domain.UserID, callType domain.CallType) (domain.CallInvitation, error) {
	q := url.Values{}
	q.Set("callerId", callerID.String())
	q.Set("recipientId", recipientID.String())
	q.Set("callType", string(callType))

	var inv domain.CallInvitation
	if err := c.do(ctx, http.MethodPost, "/calls/initiate", q, nil, &inv); err != nil {
		return domain.CallInvitation{}, err
	}
	if inv.CallID == "" || inv.ChannelName == "" || inv.CallerToken == "" {
		return domain.CallInvitation{}, errors.New("initiate call: incomplete invitation")
	}
	return inv, nil
}

func (c *Client) EndCall(ctx context.Context, callID domain.CallID) error {
	return c.do(ctx, http.MethodPost, "/calls/"+url.PathEscape(callID.String())+"/end", nil, nil, nil)
}

func (c *Client) SearchUsers(ctx context.Context, query string) ([]domain.UserSummary, error) {
	q := url.Values{}
	q.Set("q", query)
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/users/search", q, nil, &raw); err != nil {
		return nil, err
	}
	return decodeList[domain.UserSummary](raw, "users", "items")
}

func (c *Client) OpenThread(ctx context.Context, userID, peerID domain.UserID) (domain.Thread, error) {
	q := url.Values{}
	q.Set("userId", userID.String())
	q.Set("peerUserId", peerID.String())
	var resp struct {
		ThreadID domain.ThreadID `json:"threadId"`
		Peer     *domain.User    `json:"peer"`
	}
	if err := c.do(ctx, http.MethodPost, "/dm/thread", q, nil, &resp); err != nil {
		return domain.Thread{}, err
	}
	if resp.ThreadID == "" {
		return domain.Thread{}, errors.New("open thread: missing threadId")
	}
	return domain.Thread{ID: resp.ThreadID, PeerID: peerID, Peer: resp.Peer}, nil
}

func (c *Client) ThreadMessages(ctx context.Context, threadID domain.ThreadID) ([]domain.Message, error) {
	var raw json.RawMessage
	path := "/dm/threads/" + url.PathEscape(threadID.String()) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &raw); err != nil {
		return nil, err
	}
	msgs, err := decodeList[domain.Message](raw, "messages", "items")
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		if msgs[i].ThreadID == "" {
			msgs[i].ThreadID = threadID
		}
	}
	return msgs, nil
}

func (c *Client) SendMessage(ctx context.Context, threadID domain.ThreadID, senderID domain.UserID, text, mediaURL string) (domain.Message, error) {
	q := url.Values{}
	q.Set("userId", senderID.String())
	body := struct {
		Text     string `json:"text,omitempty"`
		MediaURL string `json:"mediaUrl,omitempty"`
	}{text, mediaURL}

	var msg domain.Message
	path := "/dm/threads/" + url.PathEscape(threadID.String()) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, q, body, &msg); err != nil {
		return domain.Message{}, err
	}
	if msg.ThreadID == "" {
		msg.ThreadID = threadID
	}
	return msg, nil
}

func (c *Client) AcceptFriend(ctx context.Context, userID, friendID domain.UserID) error {
	return c.friendAction(ctx, "/friends/accept", userID, friendID)
}

func (c *Client) RejectFriend(ctx context.Context, userID, friendID domain.UserID) error {
	return c.friendAction(ctx, "/friends/reject", userID, friendID)
}

func (c *Client) friendAction(ctx context.Context, path string, userID, friendID domain.UserID) error {
	q := url.Values{}
	q.Set("userId", userID.String())
	q.Set("friendId", friendID.String())
	return c.do(ctx, http.MethodPost, path, q, nil, nil)
}

func (c *Client) Login(ctx context.Context, email, password string) (domain.Session, error) {
	body := map[string]string{"email": email, "password": password}
	var resp struct {
		Token string       `json:"token"`
		User  *domain.User `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, body, &resp); err != nil {
		return domain.Session{}, err
	}
	if resp.Token == "" {
		return domain.Session{}, errors.New("login: response carries no token")
	}
	return domain.NewSession(resp.Token, resp.User), nil
}
