// Package protocol defines the WebSocket wire format: JSON envelopes for
// control messages in both directions and the binary framing for audio.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lmikkelsen/parlance/pkg/provider/asr"
)

// Client → server message types.
const (
	TypeAuth            = "auth"
	TypeStart           = "start"
	TypeStop            = "stop"
	TypePing            = "ping"
	TypeGetCapabilities = "get_capabilities"
)

// Server → client message types.
const (
	TypeAuthOK            = "auth_ok"
	TypeAuthFail          = "auth_fail"
	TypeSessionStarted    = "session_started"
	TypeSessionStopped    = "session_stopped"
	TypeSessionBusy       = "session_busy"
	TypeVADStart          = "vad_start"
	TypeVADStop           = "vad_stop"
	TypeVADRecordingStart = "vad_recording_start"
	TypeVADRecordingStop  = "vad_recording_stop"
	TypeFinal             = "final"
	TypePreview           = "preview"
	TypePong              = "pong"
	TypeCapabilities      = "capabilities"
	TypeError             = "error"
)

// Envelope is the JSON wrapper carried by every text frame.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp float64         `json:"timestamp"`
}

// AuthRequest is the payload of an "auth" message.
type AuthRequest struct {
	Token string `json:"token"`
}

// StartRequest is the payload of a "start" message.
type StartRequest struct {
	Language string `json:"language,omitempty"`
	UseVAD   bool   `json:"use_vad,omitempty"`
}

// ClientMessage is a decoded client envelope. Exactly one payload pointer is
// set, matching Type.
type ClientMessage struct {
	Type      string
	Timestamp float64

	Auth  *AuthRequest
	Start *StartRequest
}

// DecodeClient parses a text frame from a client. Unknown message types and
// malformed payloads return an error; the caller logs and ignores them
// without closing the session.
func DecodeClient(raw []byte) (*ClientMessage, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("protocol: decode envelope: %w", err)
	}

	msg := &ClientMessage{Type: env.Type, Timestamp: env.Timestamp}
	switch env.Type {
	case TypeAuth:
		msg.Auth = &AuthRequest{}
		if err := decodeData(env.Data, msg.Auth); err != nil {
			return nil, err
		}
	case TypeStart:
		msg.Start = &StartRequest{}
		if err := decodeData(env.Data, msg.Start); err != nil {
			return nil, err
		}
	case TypeStop, TypePing, TypeGetCapabilities:
		// No payload.
	default:
		return nil, fmt.Errorf("protocol: unknown message type %q", env.Type)
	}
	return msg, nil
}

func decodeData(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("protocol: decode payload: %w", err)
	}
	return nil
}

// Encode wraps data in an envelope stamped with the current time.
func Encode(msgType string, data any) ([]byte, error) {
	return EncodeAt(msgType, data, time.Now())
}

// EncodeAt wraps data in an envelope stamped with ts.
func EncodeAt(msgType string, data any, ts time.Time) ([]byte, error) {
	env := Envelope{
		Type:      msgType,
		Timestamp: float64(ts.UnixNano()) / float64(time.Second),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("protocol: encode %s payload: %w", msgType, err)
		}
		env.Data = raw
	}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s envelope: %w", msgType, err)
	}
	return out, nil
}

// DiarizationCapability reports whether speaker diarization is offered.
type DiarizationCapability struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// Capabilities is the per-session feature set echoed in "auth_ok" and
// "capabilities" messages.
type Capabilities struct {
	SupportsVADEvents bool                  `json:"supports_vad_events"`
	SupportsPreview   bool                  `json:"supports_preview"`
	Diarization       DiarizationCapability `json:"diarization"`
}

// AuthOK is the payload of "auth_ok".
type AuthOK struct {
	ClientName   string       `json:"client_name"`
	ClientType   string       `json:"client_type"`
	Capabilities Capabilities `json:"capabilities"`
}

// AuthFail is the payload of "auth_fail".
type AuthFail struct {
	Message string `json:"message"`
}

// SessionStarted is the payload of "session_started".
type SessionStarted struct {
	VADEnabled     bool `json:"vad_enabled"`
	PreviewEnabled bool `json:"preview_enabled"`
}

// SessionBusy is the payload of "session_busy".
type SessionBusy struct {
	ActiveUser string `json:"active_user"`
}

// Final is the payload of "final": the completed transcription of one
// utterance. Words is empty unless word timestamps were produced.
type Final struct {
	Text     string     `json:"text"`
	Words    []asr.Word `json:"words"`
	Language string     `json:"language,omitempty"`
	Duration float64    `json:"duration"`
}

// Preview is the payload of "preview": best-effort partial text.
type Preview struct {
	Text string `json:"text"`
}

// ErrorMessage is the payload of "error".
type ErrorMessage struct {
	Message string `json:"message"`
}
