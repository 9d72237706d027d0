package domain

// Storage keys shared with the web client.
const (
	TokenKey = "loopync_token"
	UserKey  = "loopync_user"
)

type User struct {
	ID      UserID   `json:"id"`
	Name    string   `json:"name"`
	Handle  string   `json:"handle,omitempty"`
	Email   string   `json:"email,omitempty"`
	Avatar  string   `json:"avatar,omitempty"`
	Friends []UserID `json:"friends,omitempty"`
}

// Session is the authenticated user of this client and their bearer token.
type Session struct {
	UserID UserID
	Token  string
	User   *User
}

func NewSession(token string, user *User) Session {
	s := Session{Token: token, User: user}
	if user != nil {
		s.UserID = user.ID
	}
	return s
}

func (s Session) Valid() bool {
	return s.Token != ""
}

type ConnState string

const (
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	ConnDisconnected ConnState = "disconnected"
)
