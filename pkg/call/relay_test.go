package call

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"chatrelay/pkg/models"
	"chatrelay/pkg/presence"
)

type fakeConn struct {
	mu     sync.Mutex
	events []string
	loads  []any
	fail   bool
}

func (f *fakeConn) Send(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("send queue full")
	}
	f.events = append(f.events, event)
	f.loads = append(f.loads, payload)
	return nil
}

func (f *fakeConn) Close() error { return nil }

func (f *fakeConn) countOf(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e == event {
			n++
		}
	}
	return n
}

func newTestRelay(t *testing.T, ringTimeout time.Duration) (*presence.Registry, *Relay, *fakeConn, *fakeConn) {
	t.Helper()
	reg := presence.NewRegistry()
	caller := &fakeConn{}
	callee := &fakeConn{}
	reg.Register("alice", caller)
	reg.Register("bob", callee)
	return reg, NewRelay(reg, ringTimeout), caller, callee
}

func TestInitiateRequiresOnlineCallee(t *testing.T) {
	reg := presence.NewRegistry()
	reg.Register("alice", &fakeConn{})
	r := NewRelay(reg, time.Minute)

	_, err := r.Initiate("alice", "bob", "audio")
	if !errors.Is(err, ErrOffline) {
		t.Fatalf("err = %v, want ErrOffline", err)
	}
	if r.ActiveCount() != 0 {
		t.Fatal("failed invite left a tracked session")
	}
}

func TestInitiateRingsCallee(t *testing.T) {
	_, r, _, callee := newTestRelay(t, time.Minute)

	callID, err := r.Initiate("alice", "bob", "video")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if callID == "" {
		t.Fatal("empty call id")
	}
	if callee.countOf(models.EvCallIncoming) != 1 {
		t.Fatal("callee did not ring")
	}
	if r.ActiveCount() != 1 {
		t.Fatalf("active calls = %d, want 1", r.ActiveCount())
	}
}

func TestRingTimeout(t *testing.T) {
	_, r, caller, _ := newTestRelay(t, 50*time.Millisecond)

	callID, err := r.Initiate("alice", "bob", "audio")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for caller.countOf(models.EvCallTimeout) == 0 {
		select {
		case <-deadline:
			t.Fatal("ring timeout never fired")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if r.ActiveCount() != 0 {
		t.Fatal("timed-out call still tracked")
	}
	// the session is gone; further operations report unknown call
	if err := r.Accept(callID, "bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("accept after timeout = %v, want ErrNotFound", err)
	}
}

func TestAcceptCancelsTimeout(t *testing.T) {
	_, r, caller, _ := newTestRelay(t, 50*time.Millisecond)

	callID, err := r.Initiate("alice", "bob", "audio")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := r.Accept(callID, "bob"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if caller.countOf(models.EvCallAccepted) != 1 {
		t.Fatal("caller not told about accept")
	}

	time.Sleep(200 * time.Millisecond)
	if caller.countOf(models.EvCallTimeout) != 0 {
		t.Fatal("timeout fired after accept")
	}

	// accept is only legal while ringing
	if err := r.Accept(callID, "bob"); !errors.Is(err, ErrBadState) {
		t.Fatalf("second accept = %v, want ErrBadState", err)
	}
}

func TestReject(t *testing.T) {
	_, r, caller, _ := newTestRelay(t, time.Minute)

	callID, _ := r.Initiate("alice", "bob", "audio")
	if err := r.Reject(callID, "bob"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if caller.countOf(models.EvCallRejected) != 1 {
		t.Fatal("caller not told about reject")
	}
	if r.ActiveCount() != 0 {
		t.Fatal("rejected call still tracked")
	}
}

func TestCandidatesBufferedUntilBothDescriptionsSet(t *testing.T) {
	_, r, caller, callee := newTestRelay(t, time.Minute)

	callID, _ := r.Initiate("alice", "bob", "audio")
	if err := r.Accept(callID, "bob"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// offer sets the callee's remote description only; candidates from
	// both sides must buffer
	if err := r.Offer(callID, "alice", json.RawMessage(`{"sdp":"offer"}`)); err != nil {
		t.Fatalf("offer: %v", err)
	}
	if err := r.Candidate(callID, "alice", json.RawMessage(`{"c":1}`)); err != nil {
		t.Fatalf("candidate: %v", err)
	}
	if err := r.Candidate(callID, "bob", json.RawMessage(`{"c":2}`)); err != nil {
		t.Fatalf("candidate: %v", err)
	}
	if caller.countOf(models.EvCallCandidate) != 0 || callee.countOf(models.EvCallCandidate) != 0 {
		t.Fatal("candidates relayed before both descriptions were set")
	}

	// answer completes the pair; buffered candidates flush
	if err := r.Answer(callID, "bob", json.RawMessage(`{"sdp":"answer"}`)); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if callee.countOf(models.EvCallCandidate) != 1 {
		t.Fatalf("callee candidates = %d, want the buffered one from alice", callee.countOf(models.EvCallCandidate))
	}
	if caller.countOf(models.EvCallCandidate) != 1 {
		t.Fatalf("caller candidates = %d, want the buffered one from bob", caller.countOf(models.EvCallCandidate))
	}

	// later candidates relay immediately
	if err := r.Candidate(callID, "alice", json.RawMessage(`{"c":3}`)); err != nil {
		t.Fatalf("late candidate: %v", err)
	}
	if callee.countOf(models.EvCallCandidate) != 2 {
		t.Fatal("late candidate not relayed")
	}
}

func TestEndNotifiesCounterpart(t *testing.T) {
	_, r, _, callee := newTestRelay(t, time.Minute)

	callID, _ := r.Initiate("alice", "bob", "audio")
	if err := r.End(callID, "alice"); err != nil {
		t.Fatalf("end: %v", err)
	}
	if callee.countOf(models.EvCallEnded) != 1 {
		t.Fatal("callee not told about hangup")
	}
	if r.ActiveCount() != 0 {
		t.Fatal("ended call still tracked")
	}
}

func TestDropUserFailsSessions(t *testing.T) {
	reg, r, caller, callee := newTestRelay(t, time.Minute)

	callID, _ := r.Initiate("alice", "bob", "audio")
	_ = r.Accept(callID, "bob")

	reg.Unregister(callee)
	r.DropUser("bob")

	if caller.countOf(models.EvCallFailed) != 1 {
		t.Fatal("caller not told the peer went away")
	}
	if r.ActiveCount() != 0 {
		t.Fatal("dropped session still tracked")
	}
}

func TestRelayFailureOnUnreachablePeer(t *testing.T) {
	_, r, caller, callee := newTestRelay(t, time.Minute)

	callID, _ := r.Initiate("alice", "bob", "audio")
	_ = r.Accept(callID, "bob")

	// callee's queue backs up; the next relayed event fails the call
	callee.mu.Lock()
	callee.fail = true
	callee.mu.Unlock()
	err := r.Offer(callID, "alice", json.RawMessage(`{"sdp":"offer"}`))
	if !errors.Is(err, ErrOffline) {
		t.Fatalf("offer = %v, want ErrOffline", err)
	}
	if caller.countOf(models.EvCallFailed) != 1 {
		t.Fatal("caller not told the call failed")
	}
	if r.ActiveCount() != 0 {
		t.Fatal("failed call still tracked")
	}
}
