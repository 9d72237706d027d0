package service

import (
	"github.com/Wyydra/loopync/internal/core/domain"
	"github.com/rs/zerolog/log"
)

const defaultSubscriberBuffer = 32

type subscriber struct {
	kinds map[domain.EventKind]bool
	ch    chan domain.Event
}

func (s *subscriber) wants(kind domain.EventKind) bool {
	return len(s.kinds) == 0 || s.kinds[kind]
}

type publication struct {
	evt  domain.Event
	done chan struct{}
}

// FanOut distributes events to any number of subscribers. A subscriber whose
// buffer is full misses the event instead of stalling the others.
type FanOut struct {
	subs       map[*subscriber]bool
	broadcast  chan publication
	register   chan *subscriber
	unregister chan *subscriber
	quit       chan struct{}
	stopped    chan struct{}
	bufSize    int
}

func NewFanOut(bufSize int) *FanOut {
	if bufSize <= 0 {
		bufSize = defaultSubscriberBuffer
	}
	return &FanOut{
		subs:       make(map[*subscriber]bool),
		broadcast:  make(chan publication),
		register:   make(chan *subscriber),
		unregister: make(chan *subscriber),
		quit:       make(chan struct{}),
		stopped:    make(chan struct{}),
		bufSize:    bufSize,
	}
}

// Subscribe returns a channel receiving the given kinds (all kinds when none
// are given) and a cancel func that closes it.
func (f *FanOut) Subscribe(kinds ...domain.EventKind) (<-chan domain.Event, func()) {
	s := &subscriber{ch: make(chan domain.Event, f.bufSize)}
	if len(kinds) > 0 {
		s.kinds = make(map[domain.EventKind]bool, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = true
		}
	}

	select {
	case f.register <- s:
	case <-f.quit:
		close(s.ch)
		return s.ch, func() {}
	}

	cancel := func() {
		select {
		case f.unregister <- s:
		case <-f.quit:
		}
	}
	return s.ch, cancel
}

// Publish returns once the event has been handed to every interested
// subscriber.
func (f *FanOut) Publish(evt domain.Event) {
	p := publication{evt: evt, done: make(chan struct{})}
	select {
	case f.broadcast <- p:
		<-p.done
	case <-f.quit:
	}
}

func (f *FanOut) Stop() {
	select {
	case <-f.quit:
		return
	default:
		close(f.quit)
	}
	<-f.stopped
}

func (f *FanOut) Run() {
	defer close(f.stopped)
	for {
		select {
		case <-f.quit:
			log.Debug().Int("count", len(f.subs)).Msg("Stopping fan-out, closing subscribers")
			for s := range f.subs {
				close(s.ch)
				delete(f.subs, s)
			}
			return

		case s := <-f.register:
			f.subs[s] = true
			log.Debug().Int("count", len(f.subs)).Msg("Subscriber registered")

		case s := <-f.unregister:
			if _, ok := f.subs[s]; ok {
				delete(f.subs, s)
				close(s.ch)
				log.Debug().Int("count", len(f.subs)).Msg("Subscriber unregistered")
			}

		case p := <-f.broadcast:
			for s := range f.subs {
				if !s.wants(p.evt.Kind) {
					continue
				}
				select {
				case s.ch <- p.evt:
				default:
					log.Warn().Str("kind", string(p.evt.Kind)).Msg("Subscriber buffer full, dropping event")
				}
			}
			close(p.done)
		}
	}
}
