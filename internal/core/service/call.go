package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/Wyydra/loopync/internal/core/domain"
	"github.com/Wyydra/loopync/internal/core/port"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
)

type ManagerState string

const (
	StateIdle            ManagerState = "idle"
	StateRingingIncoming ManagerState = "ringing_incoming"
	StateCallActive      ManagerState = "call_active"
)

const defaultMaxPending = 4

type CallConfig struct {
	// MaxPending bounds the queue of ringing offers; overflow is declined as busy.
	MaxPending int
	// SignalReject emits call_rejected to the backend on reject and overflow.
	SignalReject bool
	// ReplacePending keeps only the newest offer: a new call replaces the
	// ringing one instead of queueing behind it.
	ReplacePending bool
}

// CallSnapshot is what observers and the bridge see of the manager.
type CallSnapshot struct {
	State          ManagerState               `json:"state"`
	Pending        []domain.IncomingCallOffer `json:"pending"`
	Active         *domain.ActiveCall         `json:"active,omitempty"`
	ElapsedSeconds int                        `json:"elapsedSeconds"`
	AudioEnabled   bool                       `json:"audioEnabled"`
	VideoEnabled   bool                       `json:"videoEnabled"`
}

type EventSource interface {
	Subscribe(kinds ...domain.EventKind) (<-chan domain.Event, func())
}

type Emitter interface {
	Emit(event string, payload any) error
}

// CallManager turns incoming offers into accept/reject decisions and owns
// the single active call.
type CallManager struct {
	cfg     CallConfig
	events  EventSource
	emitter Emitter
	engine  port.MediaEngine
	backend port.CallBackend
	clock   clock.Clock

	mu        sync.Mutex
	queue     []domain.IncomingCallOffer
	active    *CallClient
	observers []func(CallSnapshot)
}

func NewCallManager(cfg CallConfig, events EventSource, emitter Emitter, engine port.MediaEngine, backend port.CallBackend, clk clock.Clock) *CallManager {
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = defaultMaxPending
	}
	if clk == nil {
		clk = clock.New()
	}
	return &CallManager{
		cfg:     cfg,
		events:  events,
		emitter: emitter,
		engine:  engine,
		backend: backend,
		clock:   clk,
	}
}

// OnChange registers an observer fired after every state change.
func (m *CallManager) OnChange(fn func(CallSnapshot)) {
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

// Run consumes call events until ctx is done.
func (m *CallManager) Run(ctx context.Context) {
	ch, cancel := m.events.Subscribe(domain.EventIncomingCall, domain.EventCallCancelled)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			switch p := ev.Payload.(type) {
			case domain.IncomingCallOffer:
				if err := m.HandleOffer(p); err != nil {
					log.Warn().Err(err).Str("call_id", p.CallID.String()).Msg("Ignoring incoming call")
				}
			case domain.CallCancelled:
				m.Cancel(p)
			}
		}
	}
}

// HandleOffer queues an offer. An offer repeating a queued callId replaces
// it in place.
func (m *CallManager) HandleOffer(offer domain.IncomingCallOffer) error {
	if err := offer.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	for i := range m.queue {
		if m.queue[i].CallID == offer.CallID {
			m.queue[i] = offer
			m.mu.Unlock()
			m.notify()
			return nil
		}
	}
	if m.cfg.ReplacePending && len(m.queue) > 0 {
		displaced := m.queue
		m.queue = []domain.IncomingCallOffer{offer}
		m.mu.Unlock()
		for _, o := range displaced {
			log.Info().Str("call_id", o.CallID.String()).Str("replaced_by", offer.CallID.String()).Msg("Ringing call replaced by a newer one")
			m.signalReject(o.CallID, domain.RejectBusy)
		}
		m.notify()
		return nil
	}
	if len(m.queue) >= m.cfg.MaxPending {
		m.mu.Unlock()
		log.Warn().Str("call_id", offer.CallID.String()).Int("pending", m.cfg.MaxPending).Msg("Too many ringing calls, declining as busy")
		m.signalReject(offer.CallID, domain.RejectBusy)
		return nil
	}
	m.queue = append(m.queue, offer)
	m.mu.Unlock()

	log.Info().
		Str("call_id", offer.CallID.String()).
		Str("call_type", string(offer.CallType)).
		Str("caller", offer.CallerName).
		Msg("Incoming call ringing")
	m.notify()
	return nil
}

// Cancel drops a queued offer the caller gave up on.
func (m *CallManager) Cancel(cc domain.CallCancelled) {
	m.mu.Lock()
	removed := false
	kept := m.queue[:0]
	for _, o := range m.queue {
		if o.CallID == cc.CallID {
			removed = true
			continue
		}
		kept = append(kept, o)
	}
	m.queue = kept
	m.mu.Unlock()

	if removed {
		log.Info().Str("call_id", cc.CallID.String()).Str("reason", cc.Reason).Msg("Caller cancelled")
		m.notify()
	}
}

// Accept answers the oldest ringing offer with the callee's credentials.
func (m *CallManager) Accept(ctx context.Context) (*CallClient, error) {
	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		return nil, domain.ErrCallInProgress
	}
	if len(m.queue) == 0 {
		m.mu.Unlock()
		return nil, domain.ErrNoPendingOffer
	}
	offer := m.queue[0]
	m.queue = m.queue[1:]
	client := m.newClient(offer.Accept())
	m.active = client
	m.mu.Unlock()

	log.Info().Str("call_id", offer.CallID.String()).Msg("Call accepted")
	m.notify()

	if err := client.Initialize(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// Reject declines the oldest ringing offer.
func (m *CallManager) Reject(ctx context.Context, reason string) error {
	if reason == "" {
		reason = domain.RejectDeclined
	}
	m.mu.Lock()
	if len(m.queue) == 0 {
		m.mu.Unlock()
		return domain.ErrNoPendingOffer
	}
	offer := m.queue[0]
	m.queue = m.queue[1:]
	m.mu.Unlock()

	log.Info().Str("call_id", offer.CallID.String()).Str("reason", reason).Msg("Call declined")
	m.signalReject(offer.CallID, reason)
	m.notify()
	return nil
}

// Initiate places an outgoing call.
func (m *CallManager) Initiate(ctx context.Context, callerID, recipientID domain.UserID, peerName string, callType domain.CallType) (*CallClient, error) {
	if !callType.Valid() {
		return nil, fmt.Errorf("unsupported call type %q", callType)
	}
	m.mu.Lock()
	busy := m.active != nil
	m.mu.Unlock()
	if busy {
		return nil, domain.ErrCallInProgress
	}

	inv, err := m.backend.InitiateCall(ctx, callerID, recipientID, callType)
	if err != nil {
		return nil, fmt.Errorf("initiate call: %w", err)
	}

	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		return nil, domain.ErrCallInProgress
	}
	client := m.newClient(inv.Outgoing(peerName, callType))
	m.active = client
	m.mu.Unlock()

	log.Info().Str("call_id", inv.CallID.String()).Str("recipient", recipientID.String()).Msg("Outgoing call")
	m.notify()

	if err := client.Initialize(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

func (m *CallManager) Hangup(ctx context.Context) error {
	c := m.Active()
	if c == nil {
		return domain.ErrNoActiveCall
	}
	return c.End(ctx, domain.EndHangup)
}

func (m *CallManager) ToggleAudio(ctx context.Context) (bool, error) {
	c := m.Active()
	if c == nil {
		return false, domain.ErrNoActiveCall
	}
	return c.ToggleAudio(ctx)
}

func (m *CallManager) ToggleVideo(ctx context.Context) (bool, error) {
	c := m.Active()
	if c == nil {
		return false, domain.ErrNoActiveCall
	}
	return c.ToggleVideo(ctx)
}

func (m *CallManager) Active() *CallClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Pending returns the offer that is ringing now.
func (m *CallManager) Pending() (domain.IncomingCallOffer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return domain.IncomingCallOffer{}, false
	}
	return m.queue[0], true
}

func (m *CallManager) State() ManagerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *CallManager) stateLocked() ManagerState {
	switch {
	case m.active != nil:
		return StateCallActive
	case len(m.queue) > 0:
		return StateRingingIncoming
	default:
		return StateIdle
	}
}

func (m *CallManager) Snapshot() CallSnapshot {
	m.mu.Lock()
	snap := CallSnapshot{
		State:   m.stateLocked(),
		Pending: append([]domain.IncomingCallOffer(nil), m.queue...),
	}
	active := m.active
	m.mu.Unlock()

	if active != nil {
		call := active.Call()
		snap.Active = &call
		snap.ElapsedSeconds = active.ElapsedSeconds()
		snap.AudioEnabled = active.AudioEnabled()
		snap.VideoEnabled = active.VideoEnabled()
	}
	return snap
}

// Close ends the active call and forgets ringing offers.
func (m *CallManager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.queue = nil
	active := m.active
	m.mu.Unlock()

	if active == nil {
		m.notify()
		return nil
	}
	return active.End(ctx, domain.EndShutdown)
}

func (m *CallManager) newClient(call domain.ActiveCall) *CallClient {
	return NewCallClient(call, m.engine, m.backend,
		WithClock(m.clock),
		WithStateListener(func(domain.ActiveCall) { m.notify() }),
		WithEndListener(m.release),
	)
}

func (m *CallManager) release(c *CallClient, reason domain.EndReason) {
	m.mu.Lock()
	if m.active != c {
		m.mu.Unlock()
		return
	}
	m.active = nil
	m.mu.Unlock()
	m.notify()
}

func (m *CallManager) signalReject(callID domain.CallID, reason string) {
	if !m.cfg.SignalReject || m.emitter == nil {
		return
	}
	err := m.emitter.Emit(domain.EmitCallRejected, domain.CallRejection{CallID: callID, Reason: reason})
	if err != nil {
		log.Warn().Err(err).Str("call_id", callID.String()).Msg("Failed to signal rejection")
	}
}

func (m *CallManager) notify() {
	m.mu.Lock()
	observers := make([]func(CallSnapshot), len(m.observers))
	copy(observers, m.observers)
	m.mu.Unlock()
	if len(observers) == 0 {
		return
	}

	snap := m.Snapshot()
	for _, fn := range observers {
		fn(snap)
	}
}
