// Package call relays peer-to-peer call negotiation (invite, SDP
// offer/answer, connectivity candidates, teardown) between two live
// connections. Sessions are ephemeral and never persisted; a process
// restart drops all call state along with the connections themselves.
package call

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/presence"
	"chatrelay/pkg/telemetry"
	"chatrelay/pkg/utils"
)

type State string

const (
	StateRinging     State = "ringing"
	StateAccepted    State = "accepted"
	StateNegotiating State = "negotiating"
	StateActive      State = "active"
	StateEnded       State = "ended"
	StateRejected    State = "rejected"
	StateTimedOut    State = "timed_out"
	StateFailed      State = "failed"
)

var (
	// ErrOffline means the call target has no live connection.
	ErrOffline = errors.New("call: target offline")
	// ErrNotFound means the call id references no tracked session.
	ErrNotFound = errors.New("call: unknown call")
	// ErrBadState means the operation is not legal in the session's
	// current state.
	ErrBadState = errors.New("call: bad state")
)

// DefaultRingTimeout bounds how long an invite may ring unanswered.
const DefaultRingTimeout = 45 * time.Second

type candidate struct {
	from    string
	payload json.RawMessage
}

type session struct {
	id       string
	callerID string
	calleeID string
	callType string
	state    State

	timer *time.Timer

	// remote-description bookkeeping for candidate buffering: relayed
	// candidates are held until both sides have a remote description,
	// then flushed in arrival order.
	callerDescSet bool
	calleeDescSet bool
	flushed       bool
	pending       []candidate
}

func (s *session) counterpart(userID string) string {
	if userID == s.callerID {
		return s.calleeID
	}
	return s.callerID
}

func (s *session) participant(userID string) bool {
	return userID == s.callerID || userID == s.calleeID
}

// Relay is the stateless-per-call signaling forwarder. It only depends
// on the registry to find the counterpart connection.
type Relay struct {
	mu          sync.Mutex
	calls       map[string]*session
	reg         *presence.Registry
	ringTimeout time.Duration
}

func NewRelay(reg *presence.Registry, ringTimeout time.Duration) *Relay {
	if ringTimeout <= 0 {
		ringTimeout = DefaultRingTimeout
	}
	return &Relay{
		calls:       make(map[string]*session),
		reg:         reg,
		ringTimeout: ringTimeout,
	}
}

// Initiate starts a new call. The callee must be online: signaling has
// no mailbox, an unreachable callee fails the invite immediately.
func (r *Relay) Initiate(callerID, calleeID, callType string) (string, error) {
	calleeConn, ok := r.reg.Resolve(calleeID)
	if !ok {
		return "", ErrOffline
	}

	s := &session{
		id:       utils.GenCallID(),
		callerID: callerID,
		calleeID: calleeID,
		callType: callType,
		state:    StateRinging,
	}
	r.mu.Lock()
	r.calls[s.id] = s
	n := len(r.calls)
	s.timer = time.AfterFunc(r.ringTimeout, func() { r.timeout(s.id) })
	r.mu.Unlock()
	telemetry.ActiveCalls.Set(float64(n))

	err := calleeConn.Send(models.EvCallIncoming, map[string]string{
		"call_id":   s.id,
		"caller_id": callerID,
		"call_type": callType,
	})
	if err != nil {
		r.drop(s.id)
		return "", ErrOffline
	}
	logger.Info("call_initiated", "call", s.id, "caller", callerID, "callee", calleeID, "type", callType)
	return s.id, nil
}

func (r *Relay) timeout(callID string) {
	r.mu.Lock()
	s, ok := r.calls[callID]
	if !ok || s.state != StateRinging {
		r.mu.Unlock()
		return
	}
	s.state = StateTimedOut
	delete(r.calls, callID)
	n := len(r.calls)
	r.mu.Unlock()
	telemetry.ActiveCalls.Set(float64(n))

	if c, ok := r.reg.Resolve(s.callerID); ok {
		_ = c.Send(models.EvCallTimeout, map[string]string{"call_id": callID, "callee_id": s.calleeID})
	}
	logger.Info("call_timed_out", "call", callID)
}

// Accept transitions Ringing -> Accepted and cancels the invite timer.
func (r *Relay) Accept(callID, userID string) error {
	r.mu.Lock()
	s, ok := r.calls[callID]
	if !ok || !s.participant(userID) {
		r.mu.Unlock()
		return ErrNotFound
	}
	if s.state != StateRinging {
		r.mu.Unlock()
		return ErrBadState
	}
	s.state = StateAccepted
	if s.timer != nil {
		s.timer.Stop()
	}
	r.mu.Unlock()

	return r.relay(s, userID, models.EvCallAccepted, map[string]string{"call_id": callID})
}

// Reject transitions Ringing -> Rejected and tears the session down.
func (r *Relay) Reject(callID, userID string) error {
	r.mu.Lock()
	s, ok := r.calls[callID]
	if !ok || !s.participant(userID) {
		r.mu.Unlock()
		return ErrNotFound
	}
	if s.state != StateRinging {
		r.mu.Unlock()
		return ErrBadState
	}
	s.state = StateRejected
	if s.timer != nil {
		s.timer.Stop()
	}
	delete(r.calls, callID)
	n := len(r.calls)
	r.mu.Unlock()
	telemetry.ActiveCalls.Set(float64(n))

	logger.Info("call_rejected", "call", callID, "by", userID)
	return r.relay(s, userID, models.EvCallRejected, map[string]string{"call_id": callID})
}

// Offer relays an SDP offer to the counterpart. Payload contents are not
// inspected beyond presence.
func (r *Relay) Offer(callID, userID string, sdp json.RawMessage) error {
	r.mu.Lock()
	s, ok := r.calls[callID]
	if !ok || !s.participant(userID) {
		r.mu.Unlock()
		return ErrNotFound
	}
	if s.state == StateAccepted {
		s.state = StateNegotiating
	}
	// the counterpart receives the offer as its remote description
	if userID == s.callerID {
		s.calleeDescSet = true
	} else {
		s.callerDescSet = true
	}
	r.mu.Unlock()

	return r.relay(s, userID, models.EvCallOffer, map[string]any{"call_id": callID, "sdp": sdp})
}

// Answer relays an SDP answer; once both sides hold a remote description
// the buffered candidates are flushed in arrival order.
func (r *Relay) Answer(callID, userID string, sdp json.RawMessage) error {
	r.mu.Lock()
	s, ok := r.calls[callID]
	if !ok || !s.participant(userID) {
		r.mu.Unlock()
		return ErrNotFound
	}
	if userID == s.callerID {
		s.calleeDescSet = true
	} else {
		s.callerDescSet = true
	}
	if s.state == StateNegotiating {
		s.state = StateActive
	}
	flush := r.takePendingLocked(s)
	r.mu.Unlock()

	if err := r.relay(s, userID, models.EvCallAnswer, map[string]any{"call_id": callID, "sdp": sdp}); err != nil {
		return err
	}
	r.flushCandidates(s, flush)
	return nil
}

// Candidate relays one connectivity candidate. Candidates arriving
// before both remote descriptions are set are buffered; later ones are
// relayed immediately.
func (r *Relay) Candidate(callID, userID string, payload json.RawMessage) error {
	r.mu.Lock()
	s, ok := r.calls[callID]
	if !ok || !s.participant(userID) {
		r.mu.Unlock()
		return ErrNotFound
	}
	if !s.flushed && !(s.callerDescSet && s.calleeDescSet) {
		s.pending = append(s.pending, candidate{from: userID, payload: payload})
		r.mu.Unlock()
		return nil
	}
	flush := r.takePendingLocked(s)
	r.mu.Unlock()

	r.flushCandidates(s, flush)
	return r.relay(s, userID, models.EvCallCandidate, map[string]any{"call_id": callID, "candidate": payload})
}

// takePendingLocked claims the buffered candidates once both remote
// descriptions are in place. Caller holds r.mu.
func (r *Relay) takePendingLocked(s *session) []candidate {
	if s.flushed || !(s.callerDescSet && s.calleeDescSet) {
		return nil
	}
	s.flushed = true
	p := s.pending
	s.pending = nil
	return p
}

func (r *Relay) flushCandidates(s *session, pending []candidate) {
	for _, cand := range pending {
		_ = r.relay(s, cand.from, models.EvCallCandidate, map[string]any{"call_id": s.id, "candidate": cand.payload})
	}
}

// End relays the hangup to the counterpart and drops local state. Any
// party may end at any point after the invite.
func (r *Relay) End(callID, userID string) error {
	r.mu.Lock()
	s, ok := r.calls[callID]
	if !ok || !s.participant(userID) {
		r.mu.Unlock()
		return ErrNotFound
	}
	s.state = StateEnded
	if s.timer != nil {
		s.timer.Stop()
	}
	delete(r.calls, callID)
	n := len(r.calls)
	r.mu.Unlock()
	telemetry.ActiveCalls.Set(float64(n))

	logger.Info("call_ended", "call", callID, "by", userID)
	if c, ok := r.reg.Resolve(s.counterpart(userID)); ok {
		_ = c.Send(models.EvCallEnded, map[string]string{"call_id": callID, "ended_by": userID})
	}
	return nil
}

// DropUser fails every session a disconnecting user participates in and
// notifies the other party. Called on transport disconnect.
func (r *Relay) DropUser(userID string) {
	r.mu.Lock()
	var affected []*session
	for id, s := range r.calls {
		if s.participant(userID) {
			s.state = StateFailed
			if s.timer != nil {
				s.timer.Stop()
			}
			delete(r.calls, id)
			affected = append(affected, s)
		}
	}
	n := len(r.calls)
	r.mu.Unlock()
	telemetry.ActiveCalls.Set(float64(n))

	for _, s := range affected {
		if c, ok := r.reg.Resolve(s.counterpart(userID)); ok {
			_ = c.Send(models.EvCallFailed, map[string]string{"call_id": s.id, "reason": "peer_unreachable"})
		}
		logger.Info("call_failed", "call", s.id, "user", userID)
	}
}

// ActiveCount returns the number of tracked sessions.
func (r *Relay) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// relay forwards an event to the counterpart of userID. If the target
// became unreachable the session transitions to Failed and the sending
// party is told; the relay never attempts reconnection itself.
func (r *Relay) relay(s *session, userID, event string, payload any) error {
	target := s.counterpart(userID)
	c, ok := r.reg.Resolve(target)
	if !ok {
		r.fail(s, userID)
		return ErrOffline
	}
	if err := c.Send(event, payload); err != nil {
		r.fail(s, userID)
		return ErrOffline
	}
	return nil
}

func (r *Relay) fail(s *session, notifyUserID string) {
	r.mu.Lock()
	if cur, ok := r.calls[s.id]; ok && cur == s {
		s.state = StateFailed
		if s.timer != nil {
			s.timer.Stop()
		}
		delete(r.calls, s.id)
	}
	n := len(r.calls)
	r.mu.Unlock()
	telemetry.ActiveCalls.Set(float64(n))

	if c, ok := r.reg.Resolve(notifyUserID); ok {
		_ = c.Send(models.EvCallFailed, map[string]string{"call_id": s.id, "reason": "peer_unreachable"})
	}
	logger.Info("call_failed", "call", s.id)
}

func (r *Relay) drop(callID string) {
	r.mu.Lock()
	if s, ok := r.calls[callID]; ok {
		if s.timer != nil {
			s.timer.Stop()
		}
		delete(r.calls, callID)
	}
	n := len(r.calls)
	r.mu.Unlock()
	telemetry.ActiveCalls.Set(float64(n))
}
