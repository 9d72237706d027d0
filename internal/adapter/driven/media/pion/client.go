package pion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/Wyydra/loopync/internal/core/port"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// UIDHeader carries the numeric channel uid on the join request.
const UIDHeader = "X-Loopync-Uid"

var (
	ErrNotJoined      = errors.New("media client has not joined a channel")
	ErrLeftDuringJoin = errors.New("media client left while joining")
)

const deleteTimeout = 5 * time.Second

type remoteKey struct {
	uid  uint32
	kind port.MediaKind
}

// Client is the media side of one call.
type Client struct {
	engine *Engine
	log    zerolog.Logger
	events chan port.MediaEvent
	done   chan struct{}

	mu       sync.Mutex
	pc       *webrtc.PeerConnection
	audioTx  *webrtc.RTPTransceiver
	videoTx  *webrtc.RTPTransceiver
	token    string
	location string
	streamID string
	remotes  map[remoteKey]*webrtc.TrackRemote
	leaving  bool

	leaveOnce sync.Once
	leaveErr  error
}

func newClient(e *Engine) *Client {
	return &Client{
		engine:   e,
		log:      log.With().Str("component", "pion").Logger(),
		events:   make(chan port.MediaEvent, 16),
		done:     make(chan struct{}),
		streamID: uuid.NewString(),
		remotes:  make(map[remoteKey]*webrtc.TrackRemote),
	}
}

func (c *Client) Events() <-chan port.MediaEvent {
	return c.events
}

func (c *Client) emit(ev port.MediaEvent) {
	select {
	case <-c.done:
	case c.events <- ev:
	default:
		c.log.Warn().Str("type", string(ev.Type)).Msg("Media event buffer full, dropping event")
	}
}

func (c *Client) Join(ctx context.Context, params port.JoinParams) error {
	pc, err := c.engine.api.NewPeerConnection(c.engine.configuration())
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}
	fail := func(err error) error {
		c.mu.Lock()
		c.leaving = true
		c.mu.Unlock()
		pc.Close()
		return err
	}

	audioTx, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	})
	if err != nil {
		return fail(err)
	}
	videoTx, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	})
	if err != nil {
		return fail(err)
	}

	c.mu.Lock()
	c.pc, c.audioTx, c.videoTx, c.token = pc, audioTx, videoTx, params.Token
	c.log = c.log.With().Str("channel", params.Channel).Uint32("uid", params.UID).Logger()
	c.mu.Unlock()

	pc.OnTrack(c.onTrack)
	pc.OnConnectionStateChange(c.onConnectionState)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fail(err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fail(err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return fail(ctx.Err())
	}

	answer, location, err := c.negotiate(ctx, params, pc.LocalDescription().SDP)
	if err != nil {
		return fail(err)
	}

	// A Leave that ran during the POST had no location to delete yet.
	c.mu.Lock()
	if c.leaving {
		c.mu.Unlock()
		pc.Close()
		if location != "" {
			dctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
			defer cancel()
			if err := c.deleteSession(dctx, location, params.Token); err != nil {
				c.log.Warn().Err(err).Msg("Failed to end media session created after leave")
			}
		}
		return ErrLeftDuringJoin
	}
	c.location = location
	c.mu.Unlock()

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		return fail(fmt.Errorf("set answer: %w", err))
	}
	c.log.Debug().Str("location", location).Msg("Media session negotiated")
	return nil
}

func (c *Client) negotiate(ctx context.Context, params port.JoinParams, sdp string) (string, string, error) {
	endpoint := fmt.Sprintf("%s/channels/%s/%s", c.engine.cfg.BaseURL,
		url.PathEscape(params.AppID), url.PathEscape(params.Channel))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(sdp))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/sdp")
	req.Header.Set("Authorization", "Bearer "+params.Token)
	req.Header.Set(UIDHeader, strconv.FormatUint(uint64(params.UID), 10))

	resp, err := c.engine.http.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("join channel: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", "", fmt.Errorf("read answer: %w", err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("join channel: status %s: %s", resp.Status, bytes.TrimSpace(body))
	}

	location := resp.Header.Get("Location")
	if location != "" {
		if ref, err := url.Parse(location); err == nil {
			location = resp.Request.URL.ResolveReference(ref).String()
		}
	}
	return string(body), location, nil
}

func (c *Client) CreateMicrophoneTrack(ctx context.Context) (port.LocalTrack, error) {
	return c.newLocalTrack(port.MediaAudio, webrtc.RTPCodecCapability{
		MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2,
	})
}

func (c *Client) CreateCameraTrack(ctx context.Context) (port.LocalTrack, error) {
	return c.newLocalTrack(port.MediaVideo, webrtc.RTPCodecCapability{
		MimeType: webrtc.MimeTypeVP8, ClockRate: 90000,
	})
}

func (c *Client) newLocalTrack(kind port.MediaKind, capability webrtc.RTPCodecCapability) (*LocalTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(capability, string(kind)+"-"+uuid.NewString(), c.streamID)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", kind, err)
	}
	return newLocalTrack(kind, track), nil
}

// Publish attaches the tracks to the pre-negotiated transceivers; no
// renegotiation is needed.
func (c *Client) Publish(ctx context.Context, tracks ...port.LocalTrack) error {
	c.mu.Lock()
	audioTx, videoTx := c.audioTx, c.videoTx
	c.mu.Unlock()
	if audioTx == nil {
		return ErrNotJoined
	}

	for _, t := range tracks {
		lt, ok := t.(*LocalTrack)
		if !ok {
			return fmt.Errorf("publish: foreign track type %T", t)
		}
		tx := audioTx
		if lt.Kind() == port.MediaVideo {
			tx = videoTx
		}
		if err := tx.Sender().ReplaceTrack(lt.track); err != nil {
			return fmt.Errorf("publish %s: %w", lt.Kind(), err)
		}
	}
	return nil
}

func (c *Client) Subscribe(ctx context.Context, uid uint32, kind port.MediaKind) (port.RemoteTrack, error) {
	c.mu.Lock()
	track, ok := c.remotes[remoteKey{uid, kind}]
	pc := c.pc
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no %s track from uid %d", kind, uid)
	}
	return &RemoteTrack{kind: kind, uid: uid, track: track, pc: pc, client: c}, nil
}

func (c *Client) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	kind := port.MediaAudio
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		kind = port.MediaVideo
	}
	uid := parseUID(track.StreamID())

	c.mu.Lock()
	c.remotes[remoteKey{uid, kind}] = track
	c.mu.Unlock()

	c.log.Debug().Uint32("remote_uid", uid).Str("kind", string(kind)).Msg("Remote track arrived")
	c.emit(port.MediaEvent{Type: port.RemotePublished, UID: uid, Kind: kind})
}

func (c *Client) onConnectionState(state webrtc.PeerConnectionState) {
	c.log.Debug().Str("state", state.String()).Msg("Peer connection state changed")
	if state != webrtc.PeerConnectionStateFailed && state != webrtc.PeerConnectionStateClosed {
		return
	}

	c.mu.Lock()
	leaving := c.leaving
	var uid uint32
	for k := range c.remotes {
		uid = k.uid
		break
	}
	c.mu.Unlock()
	if leaving {
		return
	}
	c.emit(port.MediaEvent{Type: port.RemoteLeft, UID: uid})
}

func (c *Client) Leave(ctx context.Context) error {
	c.leaveOnce.Do(func() {
		c.mu.Lock()
		c.leaving = true
		pc, location, token := c.pc, c.location, c.token
		c.mu.Unlock()
		close(c.done)

		var errs []error
		if pc != nil {
			if err := pc.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close peer connection: %w", err))
			}
		}
		if location != "" {
			if err := c.deleteSession(ctx, location, token); err != nil {
				errs = append(errs, err)
			}
		}
		c.leaveErr = errors.Join(errs...)
	})
	return c.leaveErr
}

func (c *Client) deleteSession(ctx context.Context, location, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, location, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.engine.http.Do(req)
	if err != nil {
		return fmt.Errorf("end media session: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode/100 != 2 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("end media session: status %s", resp.Status)
	}
	return nil
}

// parseUID reads the numeric uid the media server puts in the stream id.
func parseUID(streamID string) uint32 {
	n, err := strconv.ParseUint(streamID, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}
