package port

import (
	"context"

	"github.com/Wyydra/loopync/internal/core/domain"
)

type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

type JoinParams struct {
	AppID   string
	Channel string
	Token   string
	UID     uint32
}

// MediaEngine creates one client per call.
type MediaEngine interface {
	NewClient() (MediaClient, error)
}

type MediaClient interface {
	Join(ctx context.Context, params JoinParams) error
	CreateMicrophoneTrack(ctx context.Context) (LocalTrack, error)
	CreateCameraTrack(ctx context.Context) (LocalTrack, error)
	Publish(ctx context.Context, tracks ...LocalTrack) error
	Subscribe(ctx context.Context, uid uint32, kind MediaKind) (RemoteTrack, error)
	Leave(ctx context.Context) error
	Events() <-chan MediaEvent
}

type LocalTrack interface {
	Kind() MediaKind
	SetEnabled(enabled bool) error
	Close() error
}

type RemoteTrack interface {
	Kind() MediaKind
	// Play starts rendering the track until ctx is done or the track ends.
	Play(ctx context.Context) error
}

type MediaEventType string

const (
	RemotePublished   MediaEventType = "user-published"
	RemoteUnpublished MediaEventType = "user-unpublished"
	RemoteLeft        MediaEventType = "user-left"
)

type MediaEvent struct {
	Type MediaEventType
	UID  uint32
	Kind MediaKind
}

// CallBackend is the REST surface the call layer needs.
type CallBackend interface {
	InitiateCall(ctx context.Context, callerID, recipientID domain.UserID, callType domain.CallType) (domain.CallInvitation, error)
	EndCall(ctx context.Context, callID domain.CallID) error
}
