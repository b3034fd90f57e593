package models

// Client → server event names. Each maps to one handler in the
// websocket router.
const (
	EvSendMessage   = "send-message"
	EvReceiveAck    = "receive-ack"
	EvUpdateMessage = "update-message"
	EvFetchHistory  = "fetch-history"
	EvMarkRead      = "mark-read"
	EvDeleteChat    = "delete-chat"
	EvChatOpen      = "chat-open"
	EvChatClose     = "chat-close"
	EvPresence      = "presence"
	EvCallInitiate  = "call-initiate"
	EvCallAccept    = "call-accept"
	EvCallReject    = "call-reject"
	EvCallOffer     = "call-offer"
	EvCallAnswer    = "call-answer"
	EvCallCandidate = "call-candidate"
	EvCallEnd       = "call-end"
)

// Server → client event names.
const (
	EvMessage       = "message"
	EvMessageSent   = "message-sent"
	EvMessageUpdate = "message-update"
	EvHistory       = "history"
	EvSummaries     = "summaries"
	EvSummaryUpdate = "summary-update"
	EvChatDeleted   = "chat-deleted"
	EvPeerOnline    = "peer-online"
	EvPeerOffline   = "peer-offline"
	EvCallIncoming  = "call-incoming"
	EvCallRinging   = "call-ringing"
	EvCallAccepted  = "call-accepted"
	EvCallRejected  = "call-rejected"
	EvCallEnded     = "call-ended"
	EvCallTimeout   = "call-timeout"
	EvCallFailed    = "call-failed"
	EvError         = "error"
)

// Error codes carried on EvError events.
const (
	CodeNotFound    = "not_found"
	CodeOffline     = "offline"
	CodePersistence = "persistence"
	CodeBadState    = "bad_state"
)

// ErrorEvent is pushed to the offending connection when an operation
// fails. Persistence failures echo the original payload so the client
// can retry; the server never retries on its own.
type ErrorEvent struct {
	Code    string `json:"code"`
	Event   string `json:"event,omitempty"`
	Message string `json:"message,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// Error lets handlers return an ErrorEvent directly; the transport
// layer forwards it to the client verbatim.
func (e *ErrorEvent) Error() string {
	if e.Message != "" {
		return e.Code + ": " + e.Message
	}
	return e.Code
}
