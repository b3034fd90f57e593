package models

// ChatSummary is one user's preview record for a chat: peer identity,
// last message preview and the unread marker. Each participant owns an
// independent copy; deleting one side leaves the peer's intact.
type ChatSummary struct {
	ChatID        string `json:"chat_id"`
	OwnerID       string `json:"owner_id"`
	PeerID        string `json:"peer_id"`
	PeerName      string `json:"peer_name,omitempty"`
	PeerImage     string `json:"peer_image,omitempty"`
	LastMessageID string `json:"last_message_id,omitempty"`
	Preview       string `json:"preview,omitempty"`
	UpdatedTS     int64  `json:"updated_ts"`
	Unread        bool   `json:"unread,omitempty"`
}

// SyncUpdate is a queued notification that an existing message changed
// (delivery, read, reaction or deletion) while the recipient was
// offline. It is not a new message; the recipient already holds the
// original and applies the snapshot idempotently by message id.
type SyncUpdate struct {
	WhomToSend string  `json:"whom_to_send"`
	Message    Message `json:"message"`
	Synced     bool    `json:"synced,omitempty"`
	TS         int64   `json:"ts"`
}

// UserPresence is the wire shape of a presence query answer.
type UserPresence struct {
	UserID   string `json:"user_id"`
	Online   bool   `json:"online"`
	LastSeen int64  `json:"last_seen,omitempty"`
}
