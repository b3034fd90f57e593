package validation

import (
	"encoding/json"
	"strings"
	"testing"

	"chatrelay/pkg/models"
)

func TestCheckEventRequiredFields(t *testing.T) {
	err := CheckEvent(models.EvSendMessage, json.RawMessage(`{"receiver_id":"bob","type":"text","body":"hi"}`))
	if err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}

	err = CheckEvent(models.EvSendMessage, json.RawMessage(`{"body":"hi"}`))
	if err == nil {
		t.Fatal("missing required fields accepted")
	}
	if !strings.Contains(err.Error(), "receiver_id") || !strings.Contains(err.Error(), "type") {
		t.Fatalf("error does not name missing fields: %v", err)
	}

	// empty strings count as missing
	err = CheckEvent(models.EvReceiveAck, json.RawMessage(`{"message_id":""}`))
	if err == nil {
		t.Fatal("empty message_id accepted")
	}
}

func TestCheckEventEnum(t *testing.T) {
	err := CheckEvent(models.EvSendMessage, json.RawMessage(`{"receiver_id":"bob","type":"carrier-pigeon"}`))
	if err == nil {
		t.Fatal("invalid message type accepted")
	}
	err = CheckEvent(models.EvCallInitiate, json.RawMessage(`{"callee_id":"bob","call_type":"video"}`))
	if err != nil {
		t.Fatalf("valid call type rejected: %v", err)
	}
}

func TestCheckEventMaxLen(t *testing.T) {
	long := strings.Repeat("x", 64*1024+1)
	payload, _ := json.Marshal(map[string]string{"receiver_id": "bob", "type": "text", "body": long})
	if err := CheckEvent(models.EvSendMessage, payload); err == nil {
		t.Fatal("oversized body accepted")
	}
}

func TestSetMaxBodyBytes(t *testing.T) {
	t.Cleanup(func() { SetMaxBodyBytes(64 * 1024) })

	SetMaxBodyBytes(8)
	payload := json.RawMessage(`{"receiver_id":"bob","type":"text","body":"123456789"}`)
	if err := CheckEvent(models.EvSendMessage, payload); err == nil {
		t.Fatal("body over the configured cap accepted")
	}
	short := json.RawMessage(`{"receiver_id":"bob","type":"text","body":"12345678"}`)
	if err := CheckEvent(models.EvSendMessage, short); err != nil {
		t.Fatalf("body within the configured cap rejected: %v", err)
	}

	// zero and negative leave the cap alone
	SetMaxBodyBytes(0)
	if err := CheckEvent(models.EvSendMessage, payload); err == nil {
		t.Fatal("cap was cleared by a zero override")
	}
}

func TestCheckEventMalformedPayload(t *testing.T) {
	if err := CheckEvent(models.EvSendMessage, json.RawMessage(`[1,2,3]`)); err == nil {
		t.Fatal("non-object payload accepted")
	}
	// events without rules pass anything
	if err := CheckEvent("some-future-event", json.RawMessage(`[1,2,3]`)); err != nil {
		t.Fatalf("ruleless event rejected: %v", err)
	}
	// empty payload with zero requirements passes
	if err := CheckEvent(models.EvChatClose, nil); err != nil {
		t.Fatalf("chat-close with no payload rejected: %v", err)
	}
}
