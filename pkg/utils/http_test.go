package utils

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
)

func TestJSONErrorOmitsEmptyCode(t *testing.T) {
	rec := httptest.NewRecorder()
	JSONError(rec, 400, "invalid limit")
	if rec.Code != 400 {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
	var body map[string]map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["error"]["message"] != "invalid limit" {
		t.Fatalf("message = %q", body["error"]["message"])
	}
	if _, present := body["error"]["code"]; present {
		t.Fatal("empty code should be omitted")
	}
}

func TestJSONErrorCodeCarriesCode(t *testing.T) {
	rec := httptest.NewRecorder()
	JSONErrorCode(rec, 429, "rate_limited", "rate limit exceeded")
	if rec.Code != 429 {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	var body map[string]map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["error"]["code"] != "rate_limited" {
		t.Fatalf("code = %q", body["error"]["code"])
	}
	if body["error"]["message"] != "rate limit exceeded" {
		t.Fatalf("message = %q", body["error"]["message"])
	}
}

func TestJSONWriteZeroStatusSkipsWriteHeader(t *testing.T) {
	rec := httptest.NewRecorder()
	if err := JSONWrite(rec, 0, map[string]string{"ok": "yes"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["ok"] != "yes" {
		t.Fatalf("body = %v", body)
	}
}
