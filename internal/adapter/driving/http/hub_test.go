package http

import (
	"testing"
	"time"
)

func fillQueue(h *Hub) {
	for i := 0; i < broadcastBuffer; i++ {
		h.Broadcast(Frame{Type: "typing"})
	}
}

func TestHubDropsOrdinaryFramesWhenFull(t *testing.T) {
	h := NewHub()
	fillQueue(h)

	done := make(chan struct{})
	go func() {
		h.Broadcast(Frame{Type: "typing"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast() blocked on a full queue for an ordinary frame")
	}
	if got := len(h.broadcast); got != broadcastBuffer {
		t.Errorf("queue length = %d, want %d", got, broadcastBuffer)
	}
}

func TestHubWaitsForRoomForCallSnapshot(t *testing.T) {
	h := NewHub()
	fillQueue(h)

	done := make(chan struct{})
	go func() {
		h.Broadcast(Frame{Type: FrameCall, Payload: "ended"})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("call snapshot returned before the queue had room")
	case <-time.After(50 * time.Millisecond):
	}

	<-h.broadcast
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("call snapshot never queued after room was made")
	}

	var last Frame
	for len(h.broadcast) > 0 {
		last = <-h.broadcast
	}
	if last.Type != FrameCall || last.Payload != "ended" {
		t.Errorf("last queued frame = %+v, want the call snapshot", last)
	}
}
