package presence

import "testing"

type fakeConn struct {
	sent   []string
	closed bool
}

func (f *fakeConn) Send(event string, payload any) error {
	f.sent = append(f.sent, event)
	return nil
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func TestRegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	c := &fakeConn{}

	if prev := r.Register("alice", c); prev != nil {
		t.Fatalf("first registration returned displaced conn")
	}
	got, ok := r.Resolve("alice")
	if !ok || got != Conn(c) {
		t.Fatal("resolve did not return the registered conn")
	}
	if _, ok := r.Resolve("bob"); ok {
		t.Fatal("unknown user resolved")
	}
	if r.OnlineCount() != 1 {
		t.Fatalf("online count = %d, want 1", r.OnlineCount())
	}
}

func TestSecondRegistrationDisplacesFirst(t *testing.T) {
	r := NewRegistry()
	first := &fakeConn{}
	second := &fakeConn{}

	r.Register("alice", first)
	prev := r.Register("alice", second)
	if prev != Conn(first) {
		t.Fatal("second registration did not return the displaced conn")
	}
	got, ok := r.Resolve("alice")
	if !ok || got != Conn(second) {
		t.Fatal("resolve should return the newest conn")
	}

	// unregistering the displaced conn must not take the user offline
	if _, ok := r.Unregister(first); ok {
		t.Fatal("displaced conn unregister reported an owner")
	}
	if _, ok := r.Resolve("alice"); !ok {
		t.Fatal("user went offline after stale unregister")
	}
}

func TestUnregisterRecordsLastSeen(t *testing.T) {
	r := NewRegistry()
	c := &fakeConn{}
	r.Register("alice", c)

	userID, ok := r.Unregister(c)
	if !ok || userID != "alice" {
		t.Fatalf("unregister = (%q, %v)", userID, ok)
	}
	online, lastSeen := r.Presence("alice")
	if online {
		t.Fatal("user still online after unregister")
	}
	if lastSeen.IsZero() {
		t.Fatal("last seen not recorded")
	}

	// never-seen users report zero last-seen
	online, lastSeen = r.Presence("stranger")
	if online || !lastSeen.IsZero() {
		t.Fatalf("stranger presence = (%v, %v)", online, lastSeen)
	}
}

func TestActiveChat(t *testing.T) {
	r := NewRegistry()
	c := &fakeConn{}
	r.Register("alice", c)

	r.SetActiveChat("alice", "alice--bob")
	if got := r.ActiveChat("alice"); got != "alice--bob" {
		t.Fatalf("active chat = %q", got)
	}
	r.SetActiveChat("alice", "")
	if got := r.ActiveChat("alice"); got != "" {
		t.Fatalf("active chat after clear = %q", got)
	}

	// disconnect clears the marker
	r.SetActiveChat("alice", "alice--bob")
	r.Unregister(c)
	if got := r.ActiveChat("alice"); got != "" {
		t.Fatalf("active chat after disconnect = %q", got)
	}
}
