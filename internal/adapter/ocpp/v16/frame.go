package v16

import (
	"encoding/json"
	"fmt"
)

// OCPP 1.6J message type codes.
const (
	CallMessage       = 2
	CallResultMessage = 3
	CallErrorMessage  = 4
)

// MaxFrameSize caps inbound text frames at 1 MiB.
const MaxFrameSize = 1 << 20

// OCPP 1.6 error codes used by the central station.
const (
	ErrCodeFormatViolation             = "FormatViolation"
	ErrCodeNotImplemented              = "NotImplemented"
	ErrCodePropertyConstraintViolation = "PropertyConstraintViolation"
	ErrCodeInternalError               = "InternalError"
)

// Frame is one parsed OCPP 1.6J message.
// CALL:       [2, MessageId, Action, Payload]
// CALLRESULT: [3, MessageId, Payload]
// CALLERROR:  [4, MessageId, ErrorCode, ErrorDescription, ErrorDetails]
type Frame struct {
	Type             int
	MessageID        string
	Action           string
	Payload          json.RawMessage
	ErrorCode        string
	ErrorDescription string
	ErrorDetails     json.RawMessage
}

// FrameError describes a malformed inbound frame. MessageID is set when the
// original id could be recovered, in which case the caller replies with a
// CALLERROR; otherwise the frame is logged and dropped.
type FrameError struct {
	MessageID   string
	Code        string
	Description string
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// ParseFrame parses a raw inbound text frame. Inner payload content is never
// validated here; vendors are known to ship double-quoted JSON inside
// DataTransfer data and the frame must survive that.
func ParseFrame(raw []byte) (*Frame, *FrameError) {
	if len(raw) > MaxFrameSize {
		return nil, &FrameError{Code: ErrCodeFormatViolation, Description: "frame exceeds 1 MiB"}
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, &FrameError{Code: ErrCodeFormatViolation, Description: "message is not a JSON array"}
	}
	if len(elems) < 3 {
		fe := &FrameError{Code: ErrCodeFormatViolation, Description: "message array too short"}
		if len(elems) >= 2 {
			fe.MessageID = recoverMessageID(elems[1])
		}
		return nil, fe
	}

	var msgType int
	if err := json.Unmarshal(elems[0], &msgType); err != nil {
		return nil, &FrameError{
			MessageID:   recoverMessageID(elems[1]),
			Code:        ErrCodeFormatViolation,
			Description: "message type is not an integer",
		}
	}

	var messageID string
	if err := json.Unmarshal(elems[1], &messageID); err != nil {
		return nil, &FrameError{Code: ErrCodeFormatViolation, Description: "message id is not a string"}
	}

	f := &Frame{Type: msgType, MessageID: messageID}

	switch msgType {
	case CallMessage:
		if len(elems) < 4 {
			return nil, &FrameError{
				MessageID:   messageID,
				Code:        ErrCodeFormatViolation,
				Description: "CALL requires 4 elements",
			}
		}
		if err := json.Unmarshal(elems[2], &f.Action); err != nil {
			return nil, &FrameError{
				MessageID:   messageID,
				Code:        ErrCodeFormatViolation,
				Description: "action is not a string",
			}
		}
		f.Payload = elems[3]
	case CallResultMessage:
		f.Payload = elems[2]
	case CallErrorMessage:
		if len(elems) < 5 {
			return nil, &FrameError{
				MessageID:   messageID,
				Code:        ErrCodeFormatViolation,
				Description: "CALLERROR requires 5 elements",
			}
		}
		if err := json.Unmarshal(elems[2], &f.ErrorCode); err != nil {
			return nil, &FrameError{
				MessageID:   messageID,
				Code:        ErrCodeFormatViolation,
				Description: "error code is not a string",
			}
		}
		json.Unmarshal(elems[3], &f.ErrorDescription)
		f.ErrorDetails = elems[4]
	default:
		return nil, &FrameError{
			MessageID:   messageID,
			Code:        ErrCodeFormatViolation,
			Description: fmt.Sprintf("unknown message type %d", msgType),
		}
	}

	return f, nil
}

func recoverMessageID(raw json.RawMessage) string {
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return ""
	}
	return id
}

// EncodeCall serializes a CALL frame.
func EncodeCall(messageID, action string, payload interface{}) ([]byte, error) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return json.Marshal([]interface{}{CallMessage, messageID, action, payload})
}

// EncodeCallResult serializes a CALLRESULT frame.
func EncodeCallResult(messageID string, payload interface{}) ([]byte, error) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return json.Marshal([]interface{}{CallResultMessage, messageID, payload})
}

// EncodeCallError serializes a CALLERROR frame.
func EncodeCallError(messageID, code, description string) ([]byte, error) {
	return json.Marshal([]interface{}{
		CallErrorMessage, messageID, code, description, map[string]interface{}{},
	})
}

// Encode serializes a parsed frame back to its wire form.
func (f *Frame) Encode() ([]byte, error) {
	switch f.Type {
	case CallMessage:
		return json.Marshal([]interface{}{f.Type, f.MessageID, f.Action, f.Payload})
	case CallResultMessage:
		return json.Marshal([]interface{}{f.Type, f.MessageID, f.Payload})
	case CallErrorMessage:
		details := f.ErrorDetails
		if details == nil {
			details = json.RawMessage("{}")
		}
		return json.Marshal([]interface{}{f.Type, f.MessageID, f.ErrorCode, f.ErrorDescription, details})
	default:
		return nil, fmt.Errorf("unknown frame type %d", f.Type)
	}
}
