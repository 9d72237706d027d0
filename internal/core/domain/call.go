package domain

type CallType string

const (
	CallAudio CallType = "audio"
	CallVideo CallType = "video"
)

func (t CallType) Valid() bool {
	return t == CallAudio || t == CallVideo
}

type CallState string

const (
	CallInitializing CallState = "initializing"
	CallRinging      CallState = "ringing"
	CallConnected    CallState = "connected"
	CallEnded        CallState = "ended"
)

// IncomingCallOffer is pushed by the backend to the recipient of a call.
// Token and CalleeUID are the recipient's own join credentials.
type IncomingCallOffer struct {
	CallID       CallID   `json:"callId"`
	ChannelName  string   `json:"channelName"`
	AppID        string   `json:"appId"`
	Token        string   `json:"token"`
	CalleeUID    uint32   `json:"uid"`
	CallerID     UserID   `json:"callerId"`
	CallerName   string   `json:"callerName"`
	CallerAvatar string   `json:"callerAvatar,omitempty"`
	CallType     CallType `json:"callType"`
}

func (o IncomingCallOffer) Validate() error {
	if o.CallID == "" || o.ChannelName == "" || o.AppID == "" || o.Token == "" {
		return ErrInvalidOffer
	}
	return nil
}

// Accept promotes the offer into the callee's ActiveCall.
func (o IncomingCallOffer) Accept() ActiveCall {
	callType := o.CallType
	if !callType.Valid() {
		callType = CallAudio
	}
	return ActiveCall{
		CallID:      o.CallID,
		ChannelName: o.ChannelName,
		AppID:       o.AppID,
		JoinToken:   o.Token,
		LocalUID:    o.CalleeUID,
		CallType:    callType,
		PeerName:    o.CallerName,
		IsInitiator: false,
		State:       CallInitializing,
	}
}

// CallInvitation is the backend answer to an outgoing call request. It
// carries credentials for both participants.
type CallInvitation struct {
	CallID         CallID `json:"callId"`
	ChannelName    string `json:"channelName"`
	AppID          string `json:"appId"`
	CallerToken    string `json:"callerToken"`
	CallerUID      uint32 `json:"callerUid"`
	RecipientToken string `json:"recipientToken"`
	RecipientUID   uint32 `json:"recipientUid"`
}

// Outgoing builds the caller's ActiveCall.
func (inv CallInvitation) Outgoing(peerName string, callType CallType) ActiveCall {
	return ActiveCall{
		CallID:      inv.CallID,
		ChannelName: inv.ChannelName,
		AppID:       inv.AppID,
		JoinToken:   inv.CallerToken,
		LocalUID:    inv.CallerUID,
		CallType:    callType,
		PeerName:    peerName,
		IsInitiator: true,
		State:       CallInitializing,
	}
}

type ActiveCall struct {
	CallID      CallID    `json:"callId"`
	ChannelName string    `json:"channelName"`
	AppID       string    `json:"appId"`
	JoinToken   string    `json:"-"`
	LocalUID    uint32    `json:"uid"`
	CallType    CallType  `json:"callType"`
	PeerName    string    `json:"peerName"`
	IsInitiator bool      `json:"isInitiator"`
	State       CallState `json:"state"`
}

func (c ActiveCall) HasVideo() bool {
	return c.CallType == CallVideo
}

// CallCancelled is sent when the caller gives up before an answer.
type CallCancelled struct {
	CallID CallID `json:"callId"`
	Reason string `json:"reason,omitempty"`
}

// CallRejection is emitted back to the caller when signalling is enabled.
type CallRejection struct {
	CallID CallID `json:"callId"`
	Reason string `json:"reason"`
}

const (
	RejectDeclined = "declined"
	RejectBusy     = "busy"
)

type EndReason string

const (
	EndHangup     EndReason = "hangup"
	EndPeerLeft   EndReason = "peer_left"
	EndInitFailed EndReason = "init_failed"
	EndShutdown   EndReason = "shutdown"
)
