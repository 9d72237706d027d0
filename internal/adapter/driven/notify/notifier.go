package notify

import (
	"errors"
	"sync"

	"github.com/Wyydra/loopync/internal/core/port"
	"github.com/rs/zerolog/log"
)

var ErrNotPermitted = errors.New("notifications are not permitted")

// Notifier surfaces desktop-style notifications as log lines and forwards
// them to any registered sink (the bridge pushes them to the UI). Whether
// permission is granted on request is decided by configuration.
type Notifier struct {
	allow bool

	mu         sync.Mutex
	permission port.Permission
	sinks      []func(port.Notification)
}

func New(allow bool) *Notifier {
	return &Notifier{allow: allow, permission: port.PermissionDefault}
}

func (n *Notifier) Permission() port.Permission {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.permission
}

// RequestPermission decides once; later calls return the stored answer.
func (n *Notifier) RequestPermission() port.Permission {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.permission == port.PermissionDefault {
		if n.allow {
			n.permission = port.PermissionGranted
		} else {
			n.permission = port.PermissionDenied
		}
	}
	return n.permission
}

func (n *Notifier) AddSink(fn func(port.Notification)) {
	n.mu.Lock()
	n.sinks = append(n.sinks, fn)
	n.mu.Unlock()
}

func (n *Notifier) Notify(note port.Notification) error {
	n.mu.Lock()
	granted := n.permission == port.PermissionGranted
	sinks := make([]func(port.Notification), len(n.sinks))
	copy(sinks, n.sinks)
	n.mu.Unlock()

	if !granted {
		return ErrNotPermitted
	}
	log.Info().Str("title", note.Title).Str("body", note.Body).Msg("Notification")
	for _, fn := range sinks {
		fn(note)
	}
	return nil
}
