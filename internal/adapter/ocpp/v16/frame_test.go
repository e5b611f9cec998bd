package v16

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestParseFrameCall(t *testing.T) {
	raw := []byte(`[2,"msg-1","BootNotification",{"chargePointVendor":"ACME"}]`)
	f, ferr := ParseFrame(raw)
	if ferr != nil {
		t.Fatalf("unexpected error: %v", ferr)
	}
	if f.Type != CallMessage {
		t.Errorf("expected type %d, got %d", CallMessage, f.Type)
	}
	if f.MessageID != "msg-1" {
		t.Errorf("expected message id msg-1, got %s", f.MessageID)
	}
	if f.Action != "BootNotification" {
		t.Errorf("expected action BootNotification, got %s", f.Action)
	}

	var payload map[string]string
	if err := json.Unmarshal(f.Payload, &payload); err != nil {
		t.Fatalf("payload does not parse: %v", err)
	}
	if payload["chargePointVendor"] != "ACME" {
		t.Errorf("unexpected payload: %v", payload)
	}
}

func TestParseFrameCallResult(t *testing.T) {
	raw := []byte(`[3,"msg-2",{"status":"Accepted"}]`)
	f, ferr := ParseFrame(raw)
	if ferr != nil {
		t.Fatalf("unexpected error: %v", ferr)
	}
	if f.Type != CallResultMessage || f.MessageID != "msg-2" {
		t.Errorf("unexpected frame: %+v", f)
	}
}

func TestParseFrameCallError(t *testing.T) {
	raw := []byte(`[4,"msg-3","InternalError","boom",{}]`)
	f, ferr := ParseFrame(raw)
	if ferr != nil {
		t.Fatalf("unexpected error: %v", ferr)
	}
	if f.ErrorCode != "InternalError" || f.ErrorDescription != "boom" {
		t.Errorf("unexpected frame: %+v", f)
	}
}

func TestParseFrameNotAnArray(t *testing.T) {
	_, ferr := ParseFrame([]byte(`{"not":"an array"}`))
	if ferr == nil {
		t.Fatal("expected error")
	}
	if ferr.Code != ErrCodeFormatViolation {
		t.Errorf("expected FormatViolation, got %s", ferr.Code)
	}
	if ferr.MessageID != "" {
		t.Errorf("message id should not be recoverable, got %q", ferr.MessageID)
	}
}

func TestParseFrameRecoverableMessageID(t *testing.T) {
	// CALL with a missing payload element still carries a usable message id.
	_, ferr := ParseFrame([]byte(`[2,"msg-4","Heartbeat"]`))
	if ferr == nil {
		t.Fatal("expected error")
	}
	if ferr.MessageID != "msg-4" {
		t.Errorf("expected recovered message id msg-4, got %q", ferr.MessageID)
	}
}

func TestParseFrameUnknownType(t *testing.T) {
	_, ferr := ParseFrame([]byte(`[9,"msg-5",{}]`))
	if ferr == nil {
		t.Fatal("expected error")
	}
	if ferr.MessageID != "msg-5" {
		t.Errorf("expected message id msg-5, got %q", ferr.MessageID)
	}
}

func TestParseFrameTooLarge(t *testing.T) {
	raw := append([]byte(`[2,"big","DataTransfer",{"data":"`), bytes.Repeat([]byte("x"), MaxFrameSize)...)
	raw = append(raw, []byte(`"}]`)...)
	_, ferr := ParseFrame(raw)
	if ferr == nil {
		t.Fatal("expected error")
	}
	if ferr.Code != ErrCodeFormatViolation {
		t.Errorf("expected FormatViolation, got %s", ferr.Code)
	}
}

func TestParseFrameToleratesWeirdPayload(t *testing.T) {
	// Double-quoted JSON inside data must not fail the outer frame.
	raw := []byte(`[2,"msg-6","DataTransfer",{"vendorId":"v","data":"{\"inner\":1}"}]`)
	f, ferr := ParseFrame(raw)
	if ferr != nil {
		t.Fatalf("unexpected error: %v", ferr)
	}
	if f.Action != "DataTransfer" {
		t.Errorf("unexpected action %s", f.Action)
	}
}

func TestEncodeCallRoundTrip(t *testing.T) {
	data, err := EncodeCall("id-1", "Reset", map[string]string{"type": "Soft"})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	f, ferr := ParseFrame(data)
	if ferr != nil {
		t.Fatalf("parse failed: %v", ferr)
	}
	if f.Type != CallMessage || f.MessageID != "id-1" || f.Action != "Reset" {
		t.Errorf("round trip mismatch: %+v", f)
	}
}

func TestEncodeCallNilPayload(t *testing.T) {
	data, err := EncodeCall("id-2", "Heartbeat", nil)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	f, ferr := ParseFrame(data)
	if ferr != nil {
		t.Fatalf("parse failed: %v", ferr)
	}
	if string(f.Payload) != "{}" {
		t.Errorf("expected empty object payload, got %s", f.Payload)
	}
}

func TestEncodeCallError(t *testing.T) {
	data, err := EncodeCallError("id-3", ErrCodeNotImplemented, "nope")
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	f, ferr := ParseFrame(data)
	if ferr != nil {
		t.Fatalf("parse failed: %v", ferr)
	}
	if f.Type != CallErrorMessage || f.ErrorCode != ErrCodeNotImplemented {
		t.Errorf("unexpected frame: %+v", f)
	}
}
