package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/Wyydra/loopync/internal/adapter/driven/media"
	"github.com/Wyydra/loopync/internal/core/port"
	"github.com/rs/zerolog/log"
)

var ErrNotJoined = errors.New("not joined to a channel")

// Engine is a loopback media engine: it joins nothing, and remote activity
// is injected by the caller. It backs the client when no media server is
// configured, and serves as the fake in tests.
type Engine struct {
	mu      sync.Mutex
	clients []*Client

	// Failure knobs applied to every client created afterwards.
	JoinErr   error
	MicErr    error
	CameraErr error
	LeaveErr  error

	// Hooks run inside Join and track acquisition; tests block in them to
	// interleave a hang-up.
	JoinHook    func()
	AcquireHook func(kind port.MediaKind)
}

func NewEngine() *Engine {
	return &Engine{}
}

func (e *Engine) NewClient() (port.MediaClient, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := &Client{
		events:    make(chan port.MediaEvent, 16),
		joinErr:   e.JoinErr,
		micErr:    e.MicErr,
		cameraErr: e.CameraErr,
		leaveErr:  e.LeaveErr,
		joinHook:  e.JoinHook,
		acquire:   e.AcquireHook,
	}
	e.clients = append(e.clients, c)
	return c, nil
}

// Last returns the most recently created client.
func (e *Engine) Last() *Client {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.clients) == 0 {
		return nil
	}
	return e.clients[len(e.clients)-1]
}

type Client struct {
	mu        sync.Mutex
	params    port.JoinParams
	joined    bool
	left      int
	published []port.LocalTrack
	tracks    []*Track
	events    chan port.MediaEvent

	joinErr, micErr, cameraErr, leaveErr error
	joinHook                             func()
	acquire                              func(kind port.MediaKind)
}

func (c *Client) Join(ctx context.Context, params port.JoinParams) error {
	if c.joinHook != nil {
		c.joinHook()
	}
	if c.joinErr != nil {
		return c.joinErr
	}
	c.mu.Lock()
	c.params = params
	c.joined = true
	c.mu.Unlock()
	log.Debug().Str("channel", params.Channel).Uint32("uid", params.UID).Msg("Joined loopback channel")
	return nil
}

func (c *Client) CreateMicrophoneTrack(ctx context.Context) (port.LocalTrack, error) {
	if c.micErr != nil {
		return nil, c.micErr
	}
	return c.newTrack(port.MediaAudio), nil
}

func (c *Client) CreateCameraTrack(ctx context.Context) (port.LocalTrack, error) {
	if c.cameraErr != nil {
		return nil, c.cameraErr
	}
	return c.newTrack(port.MediaVideo), nil
}

func (c *Client) newTrack(kind port.MediaKind) *Track {
	if c.acquire != nil {
		c.acquire(kind)
	}
	t := &Track{kind: kind, enabled: true}
	c.mu.Lock()
	c.tracks = append(c.tracks, t)
	c.mu.Unlock()
	return t
}

func (c *Client) Publish(ctx context.Context, tracks ...port.LocalTrack) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.joined {
		return ErrNotJoined
	}
	c.published = append(c.published, tracks...)
	return nil
}

func (c *Client) Subscribe(ctx context.Context, uid uint32, kind port.MediaKind) (port.RemoteTrack, error) {
	return media.NewSilentTrack(kind), nil
}

func (c *Client) Leave(ctx context.Context) error {
	c.mu.Lock()
	c.joined = false
	c.left++
	c.mu.Unlock()
	return c.leaveErr
}

func (c *Client) Events() <-chan port.MediaEvent {
	return c.events
}

// Inject delivers a remote media event as if the channel produced it.
func (c *Client) Inject(ev port.MediaEvent) {
	c.events <- ev
}

func (c *Client) Params() port.JoinParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params
}

func (c *Client) Joined() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined
}

// LeaveCount reports how many times Leave was called.
func (c *Client) LeaveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.left
}

func (c *Client) Published() []port.LocalTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]port.LocalTrack(nil), c.published...)
}

func (c *Client) Tracks() []*Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Track(nil), c.tracks...)
}

type Track struct {
	mu       sync.Mutex
	kind     port.MediaKind
	enabled  bool
	closed   int
	CloseErr error
	// ClosePanic makes Close panic with the given value.
	ClosePanic any
	EnableErr  error
}

func (t *Track) Kind() port.MediaKind { return t.kind }

func (t *Track) SetEnabled(enabled bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.EnableErr != nil {
		return t.EnableErr
	}
	t.enabled = enabled
	return nil
}

func (t *Track) Close() error {
	t.mu.Lock()
	t.closed++
	p, err := t.ClosePanic, t.CloseErr
	t.mu.Unlock()
	if p != nil {
		panic(p)
	}
	return err
}

func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *Track) CloseCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
