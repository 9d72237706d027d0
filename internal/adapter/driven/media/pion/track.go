package pion

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Wyydra/loopync/internal/core/port"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

const pliInterval = 3 * time.Second

var ErrTrackClosed = errors.New("track is closed")

// LocalTrack is a captured microphone or camera. Samples written while the
// track is disabled are dropped, which mutes it for the remote side.
type LocalTrack struct {
	kind    port.MediaKind
	track   *webrtc.TrackLocalStaticSample
	enabled atomic.Bool
	closed  atomic.Bool
}

func newLocalTrack(kind port.MediaKind, track *webrtc.TrackLocalStaticSample) *LocalTrack {
	t := &LocalTrack{kind: kind, track: track}
	t.enabled.Store(true)
	return t
}

func (t *LocalTrack) Kind() port.MediaKind { return t.kind }

func (t *LocalTrack) SetEnabled(enabled bool) error {
	if t.closed.Load() {
		return ErrTrackClosed
	}
	t.enabled.Store(enabled)
	return nil
}

func (t *LocalTrack) Enabled() bool { return t.enabled.Load() }

// WriteSample feeds captured media into the track.
func (t *LocalTrack) WriteSample(s media.Sample) error {
	if t.closed.Load() {
		return ErrTrackClosed
	}
	if !t.enabled.Load() {
		return nil
	}
	return t.track.WriteSample(s)
}

func (t *LocalTrack) Close() error {
	t.closed.Store(true)
	return nil
}

// RemoteTrack drains one incoming track. Rendering is left to whatever
// consumes the RTP stream; for video a keyframe is requested periodically.
type RemoteTrack struct {
	kind   port.MediaKind
	uid    uint32
	track  *webrtc.TrackRemote
	pc     *webrtc.PeerConnection
	client *Client

	mu      sync.Mutex
	packets int
}

func (t *RemoteTrack) Kind() port.MediaKind { return t.kind }

// Packets reports how many RTP packets have been read.
func (t *RemoteTrack) Packets() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.packets
}

func (t *RemoteTrack) Play(ctx context.Context) error {
	if t.kind == port.MediaVideo {
		go t.requestKeyframes(ctx)
	}

	errc := make(chan error, 1)
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := t.track.Read(buf); err != nil {
				errc <- err
				return
			}
			t.mu.Lock()
			t.packets++
			t.mu.Unlock()
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errc:
		if errors.Is(err, io.EOF) {
			t.client.emit(port.MediaEvent{Type: port.RemoteUnpublished, UID: t.uid, Kind: t.kind})
			return nil
		}
		return err
	}
}

func (t *RemoteTrack) requestKeyframes(ctx context.Context) {
	sendPLI := func() {
		_ = t.pc.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(t.track.SSRC())},
		})
	}
	sendPLI()

	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sendPLI()
		}
	}
}
