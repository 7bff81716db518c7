// Package wire defines the JSON messages exchanged between the relay and
// its clients over the WebSocket.
package wire

import (
	"encoding/json"
	"fmt"
)

// Inbound message types.
const (
	TypeConnect                   = "connect"
	TypeConnectGemini             = "connect_gemini"
	TypeSendText                  = "sendText"
	TypeSendTextWithFrameSequence = "sendTextWithFrameSequence"
	TypeSendAudio                 = "sendAudio"
	TypeDisconnect                = "disconnect"
	TypeDisconnectGemini          = "disconnect_gemini"
)

// Outbound event types.
const (
	EventConnected           = "connected"
	EventTextChunk           = "textChunk"
	EventTurnComplete        = "turnComplete"
	EventProcessing          = "processing"
	EventError               = "error"
	EventDisconnected        = "disconnected"
	EventInputTranscription  = "inputTranscription"
	EventOutputTranscription = "outputTranscription"
)

// FrameData is one base64 encoded frame inside sendTextWithFrameSequence.
type FrameData struct {
	Data      string `json:"data"`
	MimeType  string `json:"mimeType"`
	Timestamp int64  `json:"timestamp"`
	Size      int    `json:"size"`
}

// ConnectMessage opens the upstream session.
type ConnectMessage struct {
	Type              string `json:"type"`
	SystemInstruction string `json:"systemInstruction,omitempty"`
}

// SendTextMessage submits a text-only turn.
type SendTextMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SendFramesMessage submits text plus frames. TotalFrames and TotalSize
// are informational.
type SendFramesMessage struct {
	Type        string      `json:"type"`
	Text        string      `json:"text"`
	Frames      []FrameData `json:"frames"`
	TotalFrames int         `json:"totalFrames"`
	TotalSize   int64       `json:"totalSize"`
}

// SendAudioMessage forwards a chunk of realtime audio.
type SendAudioMessage struct {
	Type     string `json:"type"`
	Data     string `json:"data"`
	MimeType string `json:"mimeType,omitempty"`
}

// DisconnectMessage closes the upstream session.
type DisconnectMessage struct {
	Type string `json:"type"`
}

// Event is every server to client message. Text is set for textChunk and
// the transcription events, Message for the others.
type Event struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Text    string `json:"text,omitempty"`
}

// Decode parses an inbound message into its concrete type. Unknown types
// return the envelope type with a nil message and no error.
func Decode(data []byte) (string, any, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("decode envelope: %w", err)
	}
	var msg any
	switch env.Type {
	case TypeConnect, TypeConnectGemini:
		msg = &ConnectMessage{}
	case TypeSendText:
		msg = &SendTextMessage{}
	case TypeSendTextWithFrameSequence:
		msg = &SendFramesMessage{}
	case TypeSendAudio:
		msg = &SendAudioMessage{}
	case TypeDisconnect, TypeDisconnectGemini:
		msg = &DisconnectMessage{}
	default:
		return env.Type, nil, nil
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return env.Type, nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return env.Type, msg, nil
}
