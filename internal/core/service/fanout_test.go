package service

import (
	"testing"
	"time"

	"github.com/Wyydra/loopync/internal/core/domain"
)

func TestFanOutFiltersByKind(t *testing.T) {
	f := NewFanOut(4)
	go f.Run()
	defer f.Stop()

	calls, cancelCalls := f.Subscribe(domain.EventIncomingCall)
	defer cancelCalls()
	all, cancelAll := f.Subscribe()
	defer cancelAll()

	f.Publish(domain.Event{Kind: domain.EventTyping})
	f.Publish(domain.Event{Kind: domain.EventIncomingCall})

	if ev := <-calls; ev.Kind != domain.EventIncomingCall {
		t.Errorf("filtered subscriber got %q", ev.Kind)
	}
	select {
	case ev := <-calls:
		t.Errorf("filtered subscriber got extra %q", ev.Kind)
	default:
	}
	if len(all) != 2 {
		t.Errorf("unfiltered subscriber buffered %d events, want 2", len(all))
	}
}

func TestFanOutSlowSubscriberDoesNotBlock(t *testing.T) {
	f := NewFanOut(1)
	go f.Run()
	defer f.Stop()

	slow, cancel := f.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			f.Publish(domain.Event{Kind: domain.EventTyping})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if len(slow) != 1 {
		t.Errorf("slow subscriber holds %d events, want 1", len(slow))
	}
}

func TestFanOutCancelAndStopCloseChannels(t *testing.T) {
	f := NewFanOut(0)
	go f.Run()

	a, cancelA := f.Subscribe()
	b, _ := f.Subscribe()

	cancelA()
	if _, ok := <-a; ok {
		t.Error("cancelled subscription still open")
	}

	f.Stop()
	if _, ok := <-b; ok {
		t.Error("subscription open after Stop")
	}

	late, cancel := f.Subscribe()
	cancel()
	if _, ok := <-late; ok {
		t.Error("subscription after Stop should be closed")
	}
}
