// Package presence maps durable user identities to live connection
// handles. The registry is process-local and rebuilt empty on restart;
// a restarted process has no live connections anyway.
package presence

import (
	"sync"
	"time"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/telemetry"
)

// Conn is the live connection handle the routing core pushes events
// through. Implemented by the websocket client.
type Conn interface {
	// Send enqueues a server event; it must not block. An error means
	// the event was dropped (buffer full or connection closed).
	Send(event string, payload any) error
	// Close tears the underlying transport down.
	Close() error
}

type Session struct {
	UserID     string
	Conn       Conn
	Online     bool
	LastSeen   time.Time
	ActiveChat string
}

// Registry tracks one active connection per user. A new registration
// overwrites the previous handle (single-session policy).
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]*Session
	byConn map[Conn]string
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]*Session),
		byConn: make(map[Conn]string),
	}
}

// Register binds a live connection to a user, returning the previous
// handle if one was displaced so the caller can close it.
func (r *Registry) Register(userID string, c Conn) (prev Conn) {
	r.mu.Lock()
	if old, ok := r.byUser[userID]; ok && old.Conn != nil && old.Conn != c {
		prev = old.Conn
		delete(r.byConn, old.Conn)
	}
	r.byUser[userID] = &Session{UserID: userID, Conn: c, Online: true, LastSeen: time.Now().UTC()}
	r.byConn[c] = userID
	n := len(r.byConn)
	r.mu.Unlock()
	telemetry.OnlineUsers.Set(float64(n))
	logger.Info("user_registered", "user", userID, "online", n)
	return prev
}

// Resolve returns the live connection for a user. Unknown users are
// simply offline, not an error.
func (r *Registry) Resolve(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byUser[userID]
	if !ok || !s.Online || s.Conn == nil {
		return nil, false
	}
	return s.Conn, true
}

// Unregister clears the handle on transport disconnect and records the
// last-seen time. Returns the owning user id, if any. A connection that
// was already displaced by a newer registration is ignored.
func (r *Registry) Unregister(c Conn) (string, bool) {
	r.mu.Lock()
	userID, ok := r.byConn[c]
	if !ok {
		r.mu.Unlock()
		return "", false
	}
	delete(r.byConn, c)
	if s, exists := r.byUser[userID]; exists && s.Conn == c {
		s.Conn = nil
		s.Online = false
		s.ActiveChat = ""
		s.LastSeen = time.Now().UTC()
	}
	n := len(r.byConn)
	r.mu.Unlock()
	telemetry.OnlineUsers.Set(float64(n))
	logger.Info("user_unregistered", "user", userID, "online", n)
	return userID, true
}

// Presence reports online state and last-seen for a user. Users never
// seen by this process report a zero last-seen.
func (r *Registry) Presence(userID string) (bool, time.Time) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byUser[userID]
	if !ok {
		return false, time.Time{}
	}
	return s.Online, s.LastSeen
}

// SetActiveChat records the chat a user's client is currently viewing,
// consulted by the summary synchronizer for the unread flag. An empty
// chat id clears the marker.
func (r *Registry) SetActiveChat(userID, chatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byUser[userID]; ok {
		s.ActiveChat = chatID
	}
}

// ActiveChat returns the chat a user is viewing, or "".
func (r *Registry) ActiveChat(userID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.byUser[userID]; ok {
		return s.ActiveChat
	}
	return ""
}

// OnlineCount returns the number of live connections.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}
