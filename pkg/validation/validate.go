// Package validation checks inbound event payloads against per-event
// field requirements before they reach the handlers. Malformed events
// are rejected at the edge so the core only sees well-formed input.
package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"chatrelay/pkg/models"
)

// Rules describes what a payload must carry for one event type.
type Rules struct {
	// Required names top-level fields that must be present and
	// non-empty (strings) or present (other kinds).
	Required []string
	// Enums constrains a field to a fixed value set when present.
	Enums map[string][]string
	// MaxLen bounds string fields when present.
	MaxLen map[string]int
}

var eventRules = map[string]Rules{
	models.EvSendMessage: {
		Required: []string{"receiver_id", "type"},
		Enums: map[string][]string{"type": {
			string(models.TypeText), string(models.TypeImage), string(models.TypeVideo),
			string(models.TypeAudio), string(models.TypeFile),
		}},
		MaxLen: map[string]int{"body": 64 * 1024},
	},
	models.EvReceiveAck:    {Required: []string{"message_id"}},
	models.EvUpdateMessage: {Required: []string{"message"}},
	models.EvFetchHistory:  {Required: []string{"chat_id"}},
	models.EvMarkRead:      {Required: []string{"chat_id"}},
	models.EvDeleteChat:    {Required: []string{"chat_id"}},
	models.EvChatOpen:      {Required: []string{"chat_id"}},
	models.EvChatClose:     {},
	models.EvPresence:      {Required: []string{"user_id"}},
	models.EvCallInitiate: {
		Required: []string{"callee_id", "call_type"},
		Enums:    map[string][]string{"call_type": {"audio", "video"}},
	},
	models.EvCallAccept:    {Required: []string{"call_id"}},
	models.EvCallReject:    {Required: []string{"call_id"}},
	models.EvCallOffer:     {Required: []string{"call_id", "sdp"}},
	models.EvCallAnswer:    {Required: []string{"call_id", "sdp"}},
	models.EvCallCandidate: {Required: []string{"call_id", "candidate"}},
	models.EvCallEnd:       {Required: []string{"call_id"}},
}

// SetEventRules replaces the rules for one event type. Used by tests
// and by deployments that relax payload limits.
func SetEventRules(event string, r Rules) { eventRules[event] = r }

// SetMaxBodyBytes overrides the send-message body cap, driven by the
// chat.max_body config setting at startup.
func SetMaxBodyBytes(n int) {
	if n <= 0 {
		return
	}
	r := eventRules[models.EvSendMessage]
	if r.MaxLen == nil {
		r.MaxLen = map[string]int{}
	}
	r.MaxLen["body"] = n
	eventRules[models.EvSendMessage] = r
}

// CheckEvent validates a raw payload for the given event type. Events
// without a rule set pass through unchecked.
func CheckEvent(event string, payload json.RawMessage) error {
	r, ok := eventRules[event]
	if !ok {
		return nil
	}
	if len(r.Required) == 0 && len(r.Enums) == 0 && len(r.MaxLen) == 0 {
		return nil
	}

	var fields map[string]json.RawMessage
	if len(payload) == 0 {
		fields = map[string]json.RawMessage{}
	} else if err := json.Unmarshal(payload, &fields); err != nil {
		return fmt.Errorf("payload must be a JSON object: %w", err)
	}

	var errs []string
	for _, name := range r.Required {
		raw, ok := fields[name]
		if !ok || string(raw) == "null" {
			errs = append(errs, fmt.Sprintf("missing field: %s", name))
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil && s == "" {
			errs = append(errs, fmt.Sprintf("empty field: %s", name))
		}
	}
	for name, allowed := range r.Enums {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) != nil {
			continue
		}
		if !contains(allowed, s) {
			errs = append(errs, fmt.Sprintf("invalid %s: %q", name, s))
		}
	}
	for name, max := range r.MaxLen {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil && len(s) > max {
			errs = append(errs, fmt.Sprintf("%s exceeds %d bytes", name, max))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
