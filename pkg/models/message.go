package models

// MessageType is the payload variant of a message.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypeVideo MessageType = "video"
	TypeAudio MessageType = "audio"
	TypeFile  MessageType = "file"
)

// Flag is a boolean status with the timestamp (ns) at which it was set.
type Flag struct {
	Flag bool  `json:"flag"`
	At   int64 `json:"at,omitempty"`
}

// Reaction is a single user's reaction to a message. A user has at most
// one entry per message; an empty Type acts as a removal marker.
type Reaction struct {
	UserID string `json:"user_id"`
	Type   string `json:"type,omitempty"`
}

type Message struct {
	ID         string      `json:"id"`
	ChatID     string      `json:"chat_id"`
	SenderID   string      `json:"sender_id"`
	ReceiverID string      `json:"receiver_id"`
	Type       MessageType `json:"type"`
	// Body holds the text content, or an opaque media descriptor for
	// non-text types (upload/storage is handled elsewhere).
	Body string `json:"body,omitempty"`
	Sent      Flag `json:"sent"`
	Delivered Flag `json:"delivered"`
	Read      Flag `json:"read"`
	Reactions []Reaction `json:"reactions,omitempty"`
	// DeletedFor lists users the message is hidden from (append-only).
	// DeletedBy is set when the author removed it for everyone.
	DeletedFor []string `json:"deleted_for,omitempty"`
	DeletedBy  string   `json:"deleted_by,omitempty"`
	CreatedTS  int64    `json:"created_ts"`
}

// ChatID derives the symmetric chat identifier for a user pair. Both
// orderings resolve to the same id.
func ChatID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "--" + b
}

// Counterpart returns the participant that is not userID. Falls back to
// the sender when userID matches neither participant.
func (m *Message) Counterpart(userID string) string {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	if m.ReceiverID == userID {
		return m.SenderID
	}
	return m.SenderID
}

// DeletedForEveryone reports whether the author removed the message for
// both participants.
func (m *Message) DeletedForEveryone() bool {
	if m.DeletedBy == "" {
		return false
	}
	var sender, receiver bool
	for _, id := range m.DeletedFor {
		if id == m.SenderID {
			sender = true
		}
		if id == m.ReceiverID {
			receiver = true
		}
	}
	return sender && receiver
}

// DeletedForUser reports whether the message is hidden from userID.
func (m *Message) DeletedForUser(userID string) bool {
	for _, id := range m.DeletedFor {
		if id == userID {
			return true
		}
	}
	return false
}

// Preview returns the chat-list preview text: the body for text
// messages, a bracketed tag otherwise.
func (m *Message) Preview() string {
	if m.Type == TypeText || m.Type == "" {
		return m.Body
	}
	return "[" + string(m.Type) + "]"
}

// NormalizeReactions collapses the slice to at most one entry per user,
// keeping the last occurrence. Entries with an empty type are removal
// markers and drop that user's reaction.
func NormalizeReactions(rs []Reaction) []Reaction {
	if len(rs) == 0 {
		return nil
	}
	last := make(map[string]string, len(rs))
	order := make([]string, 0, len(rs))
	for _, r := range rs {
		if r.UserID == "" {
			continue
		}
		if _, seen := last[r.UserID]; !seen {
			order = append(order, r.UserID)
		}
		last[r.UserID] = r.Type
	}
	out := make([]Reaction, 0, len(order))
	for _, uid := range order {
		if last[uid] == "" {
			continue
		}
		out = append(out, Reaction{UserID: uid, Type: last[uid]})
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
