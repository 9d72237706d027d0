package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Wyydra/loopync/internal/core/domain"
	"github.com/Wyydra/loopync/internal/core/port"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const peerLeftNotifyTimeout = 10 * time.Second

// CallClient binds one ActiveCall to a media client.
type CallClient struct {
	engine  port.MediaEngine
	backend port.CallBackend
	clock   clock.Clock
	log     zerolog.Logger

	onChange func(domain.ActiveCall)
	onEnded  func(*CallClient, domain.EndReason)

	mu       sync.Mutex
	call     domain.ActiveCall
	media    port.MediaClient
	audio    port.LocalTrack
	video    port.LocalTrack
	audioOn  bool
	videoOn  bool
	elapsed  int
	ticker   *clock.Ticker
	tickStop chan struct{}

	ctx     context.Context
	cancel  context.CancelFunc
	endOnce sync.Once
	endErr  error
	ended   chan struct{}
}

type CallClientOption func(*CallClient)

func WithClock(c clock.Clock) CallClientOption {
	return func(cc *CallClient) { cc.clock = c }
}

func WithStateListener(fn func(domain.ActiveCall)) CallClientOption {
	return func(cc *CallClient) { cc.onChange = fn }
}

func WithEndListener(fn func(*CallClient, domain.EndReason)) CallClientOption {
	return func(cc *CallClient) { cc.onEnded = fn }
}

func NewCallClient(call domain.ActiveCall, engine port.MediaEngine, backend port.CallBackend, opts ...CallClientOption) *CallClient {
	ctx, cancel := context.WithCancel(context.Background())
	call.State = domain.CallInitializing
	c := &CallClient{
		engine:  engine,
		backend: backend,
		clock:   clock.New(),
		log:     log.With().Str("call_id", call.CallID.String()).Str("channel", call.ChannelName).Logger(),
		call:    call,
		audioOn: true,
		videoOn: call.HasVideo(),
		ctx:     ctx,
		cancel:  cancel,
		ended:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize joins the channel and publishes the local tracks. On failure
// everything acquired so far is released and the call is ended.
func (c *CallClient) Initialize(ctx context.Context) error {
	mc, err := c.engine.NewClient()
	if err != nil {
		return c.abort(fmt.Errorf("create media client: %w", err))
	}
	c.mu.Lock()
	c.media = mc
	call := c.call
	c.mu.Unlock()

	go c.watch(mc)

	if err := mc.Join(ctx, port.JoinParams{
		AppID:   call.AppID,
		Channel: call.ChannelName,
		Token:   call.JoinToken,
		UID:     call.LocalUID,
	}); err != nil {
		return c.abort(fmt.Errorf("join channel: %w", err))
	}
	if c.isEnded() {
		// Hung up while joining: the teardown's leave may have raced the join.
		if err := mc.Leave(context.Background()); err != nil {
			c.log.Warn().Err(err).Msg("Failed to leave channel joined after hang-up")
		}
		return domain.ErrCallEnded
	}
	c.log.Info().Uint32("uid", call.LocalUID).Msg("Joined media channel")

	audio, err := mc.CreateMicrophoneTrack(ctx)
	if err != nil {
		return c.abort(fmt.Errorf("acquire microphone: %w", err))
	}
	if !c.adopt(&c.audio, audio) {
		return domain.ErrCallEnded
	}
	tracks := []port.LocalTrack{audio}

	if call.HasVideo() {
		video, err := mc.CreateCameraTrack(ctx)
		if err != nil {
			return c.abort(fmt.Errorf("acquire camera: %w", err))
		}
		if !c.adopt(&c.video, video) {
			return domain.ErrCallEnded
		}
		tracks = append(tracks, video)
	}

	if err := mc.Publish(ctx, tracks...); err != nil {
		return c.abort(fmt.Errorf("publish local tracks: %w", err))
	}
	c.log.Info().Int("tracks", len(tracks)).Msg("Published local tracks")

	if call.IsInitiator {
		c.transition(domain.CallInitializing, domain.CallRinging)
	}
	return nil
}

func (c *CallClient) isEnded() bool {
	return c.State() == domain.CallEnded
}

// adopt stores a freshly acquired track unless the call ended meanwhile, in
// which case the track is released at once.
func (c *CallClient) adopt(slot *port.LocalTrack, t port.LocalTrack) bool {
	c.mu.Lock()
	if c.call.State == domain.CallEnded {
		c.mu.Unlock()
		if err := t.Close(); err != nil {
			c.log.Warn().Err(err).Msg("Failed to release track acquired after hang-up")
		}
		return false
	}
	*slot = t
	c.mu.Unlock()
	return true
}

func (c *CallClient) abort(err error) error {
	c.log.Error().Err(err).Msg("Failed to initialize call")
	c.endOnce.Do(func() {
		c.endErr = c.teardown(context.Background(), domain.EndInitFailed, false)
	})
	return err
}

func (c *CallClient) watch(mc port.MediaClient) {
	events := mc.Events()
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case port.RemotePublished:
				c.onRemotePublished(mc, ev)
			case port.RemoteUnpublished:
				c.log.Debug().Uint32("uid", ev.UID).Str("kind", string(ev.Kind)).Msg("Remote user unpublished")
			case port.RemoteLeft:
				c.log.Info().Uint32("uid", ev.UID).Msg("Remote user left the channel")
				ctx, cancel := context.WithTimeout(context.Background(), peerLeftNotifyTimeout)
				_ = c.End(ctx, domain.EndPeerLeft)
				cancel()
				return
			}
		}
	}
}

func (c *CallClient) onRemotePublished(mc port.MediaClient, ev port.MediaEvent) {
	l := c.log.With().Uint32("uid", ev.UID).Str("kind", string(ev.Kind)).Logger()
	track, err := mc.Subscribe(c.ctx, ev.UID, ev.Kind)
	if err != nil {
		l.Error().Err(err).Msg("Failed to subscribe to remote track")
		return
	}
	go func() {
		if err := track.Play(c.ctx); err != nil && !errors.Is(err, context.Canceled) {
			l.Warn().Err(err).Msg("Remote track playback stopped")
		}
	}()
	c.markConnected()
}

// markConnected starts the elapsed counter on the first remote media.
func (c *CallClient) markConnected() {
	c.mu.Lock()
	if c.call.State == domain.CallConnected || c.call.State == domain.CallEnded {
		c.mu.Unlock()
		return
	}
	c.ticker = c.clock.Ticker(time.Second)
	c.tickStop = make(chan struct{})
	c.call.State = domain.CallConnected
	ticker, stop, call := c.ticker, c.tickStop, c.call
	c.mu.Unlock()

	go c.tick(ticker, stop)
	c.log.Info().Msg("Call connected")
	c.changed(call)
}

func (c *CallClient) tick(t *clock.Ticker, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			c.mu.Lock()
			if c.call.State == domain.CallConnected {
				c.elapsed++
			}
			c.mu.Unlock()
		}
	}
}

func (c *CallClient) transition(from, to domain.CallState) {
	c.mu.Lock()
	if c.call.State != from {
		c.mu.Unlock()
		return
	}
	c.call.State = to
	call := c.call
	c.mu.Unlock()
	c.changed(call)
}

func (c *CallClient) changed(call domain.ActiveCall) {
	if c.onChange != nil {
		c.onChange(call)
	}
}

// ToggleAudio flips the microphone and returns whether it is now enabled.
func (c *CallClient) ToggleAudio(ctx context.Context) (bool, error) {
	return c.toggle(&c.audio, &c.audioOn, "Microphone")
}

// ToggleVideo flips the camera and returns whether it is now enabled.
func (c *CallClient) ToggleVideo(ctx context.Context) (bool, error) {
	return c.toggle(&c.video, &c.videoOn, "Camera")
}

func (c *CallClient) toggle(track *port.LocalTrack, on *bool, what string) (bool, error) {
	c.mu.Lock()
	t, cur := *track, *on
	if c.call.State == domain.CallEnded {
		c.mu.Unlock()
		return cur, domain.ErrCallEnded
	}
	c.mu.Unlock()

	if t == nil {
		return cur, nil
	}
	if err := t.SetEnabled(!cur); err != nil {
		return cur, fmt.Errorf("toggle %s: %w", what, err)
	}

	c.mu.Lock()
	*on = !cur
	c.mu.Unlock()
	c.log.Debug().Bool("enabled", !cur).Msg(what + " toggled")
	c.changed(c.Call())
	return !cur, nil
}

// End tears the call down once. Every cleanup step runs even when an
// earlier one fails; the failures are joined.
func (c *CallClient) End(ctx context.Context, reason domain.EndReason) error {
	c.endOnce.Do(func() {
		c.endErr = c.teardown(ctx, reason, true)
	})
	return c.endErr
}

func (c *CallClient) teardown(ctx context.Context, reason domain.EndReason, notify bool) error {
	c.mu.Lock()
	c.call.State = domain.CallEnded
	ticker, stop := c.ticker, c.tickStop
	audio, video, mc := c.audio, c.video, c.media
	call := c.call
	c.mu.Unlock()

	c.cancel()

	errs := []error{
		c.step("stop timer", func() error {
			if ticker != nil {
				ticker.Stop()
				close(stop)
			}
			return nil
		}),
		c.step("release audio track", func() error { return closeTrack(audio) }),
		c.step("release video track", func() error { return closeTrack(video) }),
		c.step("leave channel", func() error {
			if mc == nil {
				return nil
			}
			return mc.Leave(ctx)
		}),
	}
	if notify && call.CallID != "" {
		errs = append(errs, c.step("notify backend", func() error {
			return c.backend.EndCall(ctx, call.CallID)
		}))
	}

	err := errors.Join(errs...)
	c.log.Info().Str("reason", string(reason)).Int("elapsed", c.ElapsedSeconds()).Bool("clean", err == nil).Msg("Call ended")

	close(c.ended)
	c.changed(call)
	if c.onEnded != nil {
		c.onEnded(c, reason)
	}
	return err
}

// step runs one cleanup action inside its own failure boundary.
func (c *CallClient) step(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", name, r)
		}
		if err != nil {
			c.log.Error().Err(err).Str("step", name).Msg("Call cleanup step failed")
		}
	}()
	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func closeTrack(t port.LocalTrack) error {
	if t == nil {
		return nil
	}
	return t.Close()
}

func (c *CallClient) Call() domain.ActiveCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.call
}

func (c *CallClient) State() domain.CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.call.State
}

func (c *CallClient) ElapsedSeconds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsed
}

func (c *CallClient) Elapsed() time.Duration {
	return time.Duration(c.ElapsedSeconds()) * time.Second
}

func (c *CallClient) AudioEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audioOn
}

func (c *CallClient) VideoEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.videoOn
}

// Done is closed once the call has been torn down.
func (c *CallClient) Done() <-chan struct{} {
	return c.ended
}
