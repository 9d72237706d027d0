// Package media holds pieces shared by the media engine adapters.
package media

import (
	"context"

	"github.com/Wyydra/loopync/internal/core/port"
)

// SilentTrack is a remote track with nothing to render. Play blocks until
// the call context ends.
type SilentTrack struct {
	kind port.MediaKind
}

func NewSilentTrack(kind port.MediaKind) *SilentTrack {
	return &SilentTrack{kind: kind}
}

func (t *SilentTrack) Kind() port.MediaKind { return t.kind }

func (t *SilentTrack) Play(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}
