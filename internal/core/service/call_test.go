package service

import (
	"context"
	"errors"
	"testing"

	"github.com/Wyydra/loopync/internal/adapter/driven/media/memory"
	"github.com/Wyydra/loopync/internal/core/domain"
	"github.com/benbjohnson/clock"
)

func newTestManager(cfg CallConfig) (*CallManager, *memory.Engine, *fakeCallBackend, *fakeEmitter) {
	engine := memory.NewEngine()
	backend := &fakeCallBackend{}
	emitter := &fakeEmitter{}
	m := NewCallManager(cfg, nil, emitter, engine, backend, clock.NewMock())
	return m, engine, backend, emitter
}

func TestCallManagerHandleOffer(t *testing.T) {
	tests := []struct {
		name    string
		offers  []domain.IncomingCallOffer
		wantErr error
		wantIDs []domain.CallID
	}{
		{
			name:    "single offer rings",
			offers:  []domain.IncomingCallOffer{testOffer("c1", domain.CallAudio)},
			wantIDs: []domain.CallID{"c1"},
		},
		{
			name:    "offers queue in arrival order",
			offers:  []domain.IncomingCallOffer{testOffer("c1", domain.CallAudio), testOffer("c2", domain.CallVideo)},
			wantIDs: []domain.CallID{"c1", "c2"},
		},
		{
			name:    "repeated call id replaces in place",
			offers:  []domain.IncomingCallOffer{testOffer("c1", domain.CallAudio), testOffer("c2", domain.CallAudio), testOffer("c1", domain.CallVideo)},
			wantIDs: []domain.CallID{"c1", "c2"},
		},
		{
			name:    "offer without token is refused",
			offers:  []domain.IncomingCallOffer{{CallID: "c1", ChannelName: "ch", AppID: "a1"}},
			wantErr: domain.ErrInvalidOffer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _, _ := newTestManager(CallConfig{})
			var err error
			for _, o := range tt.offers {
				if e := m.HandleOffer(o); e != nil {
					err = e
				}
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("HandleOffer() error = %v, want %v", err, tt.wantErr)
			}
			snap := m.Snapshot()
			if len(snap.Pending) != len(tt.wantIDs) {
				t.Fatalf("pending = %d offers, want %d", len(snap.Pending), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if snap.Pending[i].CallID != id {
					t.Errorf("pending[%d] = %q, want %q", i, snap.Pending[i].CallID, id)
				}
			}
		})
	}
}

func TestCallManagerReplacedOfferKeepsLatestFields(t *testing.T) {
	m, _, _, _ := newTestManager(CallConfig{})
	m.HandleOffer(testOffer("c1", domain.CallAudio))
	m.HandleOffer(testOffer("c1", domain.CallVideo))

	p, ok := m.Pending()
	if !ok || p.CallType != domain.CallVideo {
		t.Errorf("Pending() = %+v, %v; want the video offer", p, ok)
	}
}

func TestCallManagerOverflowDeclinesBusy(t *testing.T) {
	m, _, _, emitter := newTestManager(CallConfig{MaxPending: 1, SignalReject: true})
	m.HandleOffer(testOffer("c1", domain.CallAudio))
	if err := m.HandleOffer(testOffer("c2", domain.CallAudio)); err != nil {
		t.Fatalf("HandleOffer() error = %v", err)
	}

	if got := len(m.Snapshot().Pending); got != 1 {
		t.Errorf("pending = %d, want 1", got)
	}
	sent := emitter.Sent()
	if len(sent) != 1 || sent[0].event != domain.EmitCallRejected {
		t.Fatalf("emitted %+v, want one %s", sent, domain.EmitCallRejected)
	}
	rej := sent[0].payload.(domain.CallRejection)
	if rej.CallID != "c2" || rej.Reason != domain.RejectBusy {
		t.Errorf("rejection = %+v, want c2/busy", rej)
	}
}

func TestCallManagerReplacePendingKeepsNewest(t *testing.T) {
	tests := []struct {
		name       string
		signal     bool
		wantEmits  int
		wantPendID domain.CallID
	}{
		{name: "silent", wantPendID: "c3"},
		{name: "signalled", signal: true, wantEmits: 2, wantPendID: "c3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _, emitter := newTestManager(CallConfig{ReplacePending: true, SignalReject: tt.signal})
			for _, id := range []string{"c1", "c2", "c3"} {
				if err := m.HandleOffer(testOffer(id, domain.CallAudio)); err != nil {
					t.Fatalf("HandleOffer(%s) error = %v", id, err)
				}
			}

			pending, ok := m.Pending()
			if !ok || pending.CallID != tt.wantPendID {
				t.Errorf("Pending() = %v/%v, want %s", pending.CallID, ok, tt.wantPendID)
			}
			if got := len(m.Snapshot().Pending); got != 1 {
				t.Errorf("pending = %d, want 1", got)
			}
			if got := len(emitter.Sent()); got != tt.wantEmits {
				t.Errorf("emitted %d rejections, want %d", got, tt.wantEmits)
			}
		})
	}
}

func TestCallManagerReject(t *testing.T) {
	t.Run("silent by default", func(t *testing.T) {
		m, _, _, emitter := newTestManager(CallConfig{})
		m.HandleOffer(testOffer("c1", domain.CallAudio))
		m.HandleOffer(testOffer("c2", domain.CallAudio))

		if err := m.Reject(context.Background(), ""); err != nil {
			t.Fatalf("Reject() error = %v", err)
		}
		if p, _ := m.Pending(); p.CallID != "c2" {
			t.Errorf("Pending() = %q, want c2", p.CallID)
		}
		if got := len(emitter.Sent()); got != 0 {
			t.Errorf("emitted %d events, want 0", got)
		}
	})

	t.Run("signals when enabled", func(t *testing.T) {
		m, _, _, emitter := newTestManager(CallConfig{SignalReject: true})
		m.HandleOffer(testOffer("c1", domain.CallAudio))
		m.Reject(context.Background(), "")

		sent := emitter.Sent()
		if len(sent) != 1 {
			t.Fatalf("emitted %d events, want 1", len(sent))
		}
		if rej := sent[0].payload.(domain.CallRejection); rej.Reason != domain.RejectDeclined {
			t.Errorf("reason = %q, want %q", rej.Reason, domain.RejectDeclined)
		}
		if m.State() != StateIdle {
			t.Errorf("State() = %q, want idle", m.State())
		}
	})

	t.Run("nothing ringing", func(t *testing.T) {
		m, _, _, _ := newTestManager(CallConfig{})
		if err := m.Reject(context.Background(), ""); !errors.Is(err, domain.ErrNoPendingOffer) {
			t.Errorf("Reject() error = %v, want %v", err, domain.ErrNoPendingOffer)
		}
	})
}

func TestCallManagerAcceptAndHangup(t *testing.T) {
	ctx := context.Background()
	m, engine, backend, _ := newTestManager(CallConfig{})
	m.HandleOffer(testOffer("c1", domain.CallVideo))
	m.HandleOffer(testOffer("c2", domain.CallAudio))

	client, err := m.Accept(ctx)
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	if got := client.Call().CallID; got != "c1" {
		t.Errorf("accepted %q, want c1", got)
	}
	if got := engine.Last().Params().Token; got != "tok-callee" {
		t.Errorf("joined with token %q, want the callee token", got)
	}
	if m.State() != StateCallActive {
		t.Errorf("State() = %q, want call_active", m.State())
	}

	if _, err := m.Accept(ctx); !errors.Is(err, domain.ErrCallInProgress) {
		t.Errorf("second Accept() error = %v, want %v", err, domain.ErrCallInProgress)
	}

	if err := m.Hangup(ctx); err != nil {
		t.Fatalf("Hangup() error = %v", err)
	}
	if got := backend.Ended(); len(got) != 1 || got[0] != "c1" {
		t.Errorf("backend ended %v, want [c1]", got)
	}
	if m.Active() != nil {
		t.Error("active call not cleared after hang-up")
	}
	if m.State() != StateRingingIncoming {
		t.Errorf("State() = %q, want ringing_incoming for c2", m.State())
	}
	if err := m.Hangup(ctx); !errors.Is(err, domain.ErrNoActiveCall) {
		t.Errorf("Hangup() without call error = %v, want %v", err, domain.ErrNoActiveCall)
	}
}

func TestCallManagerAcceptWithoutOffer(t *testing.T) {
	m, _, _, _ := newTestManager(CallConfig{})
	if _, err := m.Accept(context.Background()); !errors.Is(err, domain.ErrNoPendingOffer) {
		t.Errorf("Accept() error = %v, want %v", err, domain.ErrNoPendingOffer)
	}
}

func TestCallManagerAcceptFailureReturnsToIdle(t *testing.T) {
	m, engine, _, _ := newTestManager(CallConfig{})
	engine.JoinErr = errBoom
	m.HandleOffer(testOffer("c1", domain.CallAudio))

	if _, err := m.Accept(context.Background()); !errors.Is(err, errBoom) {
		t.Fatalf("Accept() error = %v, want %v", err, errBoom)
	}
	if m.State() != StateIdle {
		t.Errorf("State() = %q, want idle", m.State())
	}
}

func TestCallManagerCancel(t *testing.T) {
	m, _, _, _ := newTestManager(CallConfig{})
	m.HandleOffer(testOffer("c1", domain.CallAudio))
	m.HandleOffer(testOffer("c2", domain.CallAudio))

	m.Cancel(domain.CallCancelled{CallID: "c1"})

	snap := m.Snapshot()
	if len(snap.Pending) != 1 || snap.Pending[0].CallID != "c2" {
		t.Errorf("pending = %+v, want only c2", snap.Pending)
	}
}

func TestCallManagerInitiate(t *testing.T) {
	ctx := context.Background()
	m, engine, backend, _ := newTestManager(CallConfig{})
	backend.invitation = domain.CallInvitation{
		CallID: "c9", ChannelName: "ch9", AppID: "a1",
		CallerToken: "tok-caller", CallerUID: 7,
		RecipientToken: "tok-callee", RecipientUID: 8,
	}

	client, err := m.Initiate(ctx, "u1", "u2", "Maya", domain.CallVideo)
	if err != nil {
		t.Fatalf("Initiate() error = %v", err)
	}
	defer m.Close(ctx)

	if got := client.State(); got != domain.CallRinging {
		t.Errorf("State() = %q, want ringing", got)
	}
	p := engine.Last().Params()
	if p.Token != "tok-caller" || p.UID != 7 {
		t.Errorf("joined as %+v, want caller credentials", p)
	}
	if _, err := m.Initiate(ctx, "u1", "u3", "Lee", domain.CallAudio); !errors.Is(err, domain.ErrCallInProgress) {
		t.Errorf("second Initiate() error = %v, want %v", err, domain.ErrCallInProgress)
	}
	if _, err := m.Initiate(ctx, "u1", "u3", "Lee", "fax"); err == nil {
		t.Error("Initiate() with unknown call type succeeded")
	}
}

func TestCallManagerRunConsumesEvents(t *testing.T) {
	fanout := NewFanOut(0)
	go fanout.Run()
	defer fanout.Stop()

	m := NewCallManager(CallConfig{}, fanout, nil, memory.NewEngine(), &fakeCallBackend{}, clock.NewMock())
	snaps := make(chan CallSnapshot, 8)
	m.OnChange(func(s CallSnapshot) {
		select {
		case snaps <- s:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	subscribed := make(chan struct{})
	go func() {
		close(subscribed)
		m.Run(ctx)
	}()
	<-subscribed

	waitFor(t, "incoming offer", func() bool {
		fanout.Publish(domain.Event{Kind: domain.EventIncomingCall, Payload: testOffer("c1", domain.CallAudio)})
		_, ok := m.Pending()
		return ok
	})

	snap := <-snaps
	if snap.State != StateRingingIncoming {
		t.Errorf("snapshot state = %q, want ringing_incoming", snap.State)
	}

	fanout.Publish(domain.Event{Kind: domain.EventCallCancelled, Payload: domain.CallCancelled{CallID: "c1"}})
	waitFor(t, "cancellation", func() bool { return m.State() == StateIdle })
}
