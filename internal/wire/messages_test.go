package wire

import (
	"encoding/json"
	"testing"
)

func TestDecodeVariants(t *testing.T) {
	typ, msg, err := Decode([]byte(`{"type":"connect_gemini","systemInstruction":"be kind"}`))
	if err != nil || typ != TypeConnectGemini {
		t.Fatalf("connect: %q %v", typ, err)
	}
	if c := msg.(*ConnectMessage); c.SystemInstruction != "be kind" {
		t.Fatalf("instruction %q", c.SystemInstruction)
	}

	raw := `{"type":"sendTextWithFrameSequence","text":"what is this?","frames":[` +
		`{"data":"AAA=","mimeType":"image/jpeg","timestamp":1700000000000,"size":2},` +
		`{"data":"BBB=","mimeType":"image/jpeg","timestamp":1700000001000,"size":2}],"totalFrames":2,"totalSize":4}`
	_, msg, err = Decode([]byte(raw))
	if err != nil {
		t.Fatalf("frames: %v", err)
	}
	f := msg.(*SendFramesMessage)
	if f.Text != "what is this?" || len(f.Frames) != 2 || f.Frames[1].Data != "BBB=" || f.TotalSize != 4 {
		t.Fatalf("frames message %+v", f)
	}
	if f.Frames[0].Timestamp != 1700000000000 {
		t.Fatalf("timestamp %d", f.Frames[0].Timestamp)
	}
}

func TestDecodeUnknownAndMalformed(t *testing.T) {
	typ, msg, err := Decode([]byte(`{"type":"ping"}`))
	if err != nil || typ != "ping" || msg != nil {
		t.Fatalf("unknown: %q %v %v", typ, msg, err)
	}
	if _, _, err := Decode([]byte(`{not json`)); err == nil {
		t.Fatalf("malformed accepted")
	}
	if _, _, err := Decode([]byte(`{"type":"sendText","text":5}`)); err == nil {
		t.Fatalf("bad field type accepted")
	}
}

func TestEventOmitsEmptyFields(t *testing.T) {
	b, _ := json.Marshal(Event{Type: EventTurnComplete})
	if string(b) != `{"type":"turnComplete"}` {
		t.Fatalf("turnComplete encoded as %s", b)
	}
	b, _ = json.Marshal(Event{Type: EventTextChunk, Text: "Xin "})
	if string(b) != `{"type":"textChunk","text":"Xin "}` {
		t.Fatalf("textChunk encoded as %s", b)
	}
}
