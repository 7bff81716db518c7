package client

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/gaspardpetit/liverelay/internal/event"
	"github.com/gaspardpetit/liverelay/internal/frame"
	"github.com/gaspardpetit/liverelay/internal/wire"
)

type textCall struct {
	text   string
	frames []wire.FrameData
}

type fakeTransport struct {
	mu          sync.Mutex
	connected   bool
	connects    []string
	disconnects int
	texts       []string
	frameSends  []textCall
	sendErr     error
	bus         event.Bus[wire.Event]
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) ConnectUpstream(_ context.Context, instruction string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, instruction)
	return nil
}

func (f *fakeTransport) SendText(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeTransport) SendTextWithFrames(_ context.Context, text string, frames []wire.FrameData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frameSends = append(f.frameSends, textCall{text: text, frames: frames})
	return nil
}

func (f *fakeTransport) DisconnectUpstream(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeTransport) Subscribe(fn func(wire.Event)) func() { return f.bus.Subscribe(fn) }

func (f *fakeTransport) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts), len(f.frameSends)
}

func jpegFrame(ts int64) frame.Frame {
	return frame.New([]byte{0xff, 0xd8, byte(ts), 0xff, 0xd9}, frame.MimeJPEG, time.UnixMilli(ts))
}

// ready returns a coordinator with the socket and upstream session open.
func ready(t *testing.T) (*Coordinator, *fakeTransport, *frame.Buffer) {
	t.Helper()
	tr := &fakeTransport{connected: true}
	buf := frame.NewBuffer(30)
	c := NewCoordinator(tr, buf, Options{SystemInstruction: "be brief"})
	t.Cleanup(c.Close)
	tr.bus.Publish(wire.Event{Type: wire.EventConnected, Message: "connected"})
	if !c.Status().UpstreamOpen {
		t.Fatalf("upstream not open")
	}
	return c, tr, buf
}

func TestSubmitWhenNotConnectedIsNoop(t *testing.T) {
	tr := &fakeTransport{}
	c := NewCoordinator(tr, frame.NewBuffer(30), Options{})
	defer c.Close()
	if c.Submit(context.Background(), "hello") {
		t.Fatalf("submit succeeded while disconnected")
	}
	if texts, frames := tr.calls(); texts != 0 || frames != 0 {
		t.Fatalf("transport called: %d %d", texts, frames)
	}
	if err := c.Connect(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("connect err = %v", err)
	}
}

func TestSubmitGuards(t *testing.T) {
	tr := &fakeTransport{connected: true}
	c := NewCoordinator(tr, frame.NewBuffer(30), Options{})
	defer c.Close()
	if c.Submit(context.Background(), "no upstream yet") {
		t.Fatalf("submit without upstream session")
	}
	tr.bus.Publish(wire.Event{Type: wire.EventConnected, Message: "ok"})
	if c.Submit(context.Background(), "   ") {
		t.Fatalf("blank submit accepted")
	}
	if !c.Submit(context.Background(), "first") {
		t.Fatalf("valid submit rejected")
	}
	if !c.Status().Waiting {
		t.Fatalf("waiting not set")
	}
	if c.Submit(context.Background(), "second") {
		t.Fatalf("submit while waiting accepted")
	}
	if texts, _ := tr.calls(); texts != 1 {
		t.Fatalf("texts sent %d", texts)
	}
}

func TestEndToEndScenario(t *testing.T) {
	c, tr, buf := ready(t)

	if !c.Submit(context.Background(), "2+2?") {
		t.Fatalf("submit rejected")
	}
	if texts, frames := tr.calls(); texts != 1 || frames != 0 {
		t.Fatalf("text-only turn: texts=%d frames=%d", texts, frames)
	}
	tr.bus.Publish(wire.Event{Type: wire.EventTextChunk, Text: "4"})
	tr.bus.Publish(wire.Event{Type: wire.EventTurnComplete})

	buf.Append(jpegFrame(1))
	buf.Append(jpegFrame(2))
	if !c.Submit(context.Background(), "what is on screen?") {
		t.Fatalf("second submit rejected")
	}
	texts, frames := tr.calls()
	if texts != 1 || frames != 1 {
		t.Fatalf("frames turn: texts=%d frames=%d", texts, frames)
	}
	sent := tr.frameSends[0]
	if len(sent.frames) != 2 || sent.frames[0].Timestamp != 1 || sent.frames[1].Timestamp != 2 {
		t.Fatalf("frames %+v", sent.frames)
	}
	if buf.Size() != 0 {
		t.Fatalf("buffer not drained: %d", buf.Size())
	}
	last, _ := c.Transcript().Last()
	if last.Kind != KindUser || last.Frames != 2 {
		t.Fatalf("user message %+v", last)
	}
}

func TestStreamingReassembly(t *testing.T) {
	c, tr, _ := ready(t)
	c.Submit(context.Background(), "chào")
	tr.bus.Publish(wire.Event{Type: wire.EventTextChunk, Text: "Xin "})
	tr.bus.Publish(wire.Event{Type: wire.EventTextChunk, Text: "chào"})

	mid, _ := c.Transcript().Last()
	if mid.Kind != KindAI || !mid.Streaming || mid.Content != "Xin chào" {
		t.Fatalf("streaming message %+v", mid)
	}
	tr.bus.Publish(wire.Event{Type: wire.EventTurnComplete})
	done, _ := c.Transcript().Get(mid.ID)
	if done.Streaming || done.Content != "Xin chào" {
		t.Fatalf("finalized message %+v", done)
	}
	if c.Status().Waiting {
		t.Fatalf("waiting not cleared")
	}

	tr.bus.Publish(wire.Event{Type: wire.EventTextChunk, Text: "next"})
	next, _ := c.Transcript().Last()
	if next.ID == mid.ID || next.Content != "next" {
		t.Fatalf("chunk after turnComplete appended to old message: %+v", next)
	}
	if again, _ := c.Transcript().Get(mid.ID); again.Content != "Xin chào" {
		t.Fatalf("finalized message changed: %q", again.Content)
	}
}

func TestErrorEventClearsWaiting(t *testing.T) {
	c, tr, _ := ready(t)
	c.Submit(context.Background(), "hello")
	tr.bus.Publish(wire.Event{Type: wire.EventError, Message: "quota exceeded"})
	if c.Status().Waiting {
		t.Fatalf("waiting not cleared")
	}
	last, _ := c.Transcript().Last()
	if last.Kind != KindError || last.Content != "quota exceeded" {
		t.Fatalf("last message %+v", last)
	}
	if !c.Submit(context.Background(), "retry") {
		t.Fatalf("submit after error rejected")
	}
}

func TestEncodeFailuresSkipFrames(t *testing.T) {
	c, tr, buf := ready(t)
	buf.Append(frame.New(nil, frame.MimeJPEG, time.UnixMilli(1)))
	buf.Append(jpegFrame(2))
	c.Submit(context.Background(), "one good frame")
	_, frames := tr.calls()
	if frames != 1 || len(tr.frameSends[0].frames) != 1 {
		t.Fatalf("frame sends %+v", tr.frameSends)
	}
	tr.bus.Publish(wire.Event{Type: wire.EventTurnComplete})

	buf.Append(frame.New(nil, frame.MimeJPEG, time.UnixMilli(3)))
	c.Submit(context.Background(), "all bad")
	texts, frames := tr.calls()
	if texts != 1 || frames != 1 {
		t.Fatalf("expected text-only fallback: texts=%d frames=%d", texts, frames)
	}
}

func TestSendFailureResetsWaiting(t *testing.T) {
	c, tr, _ := ready(t)
	tr.sendErr = errors.New("socket closed")
	if c.Submit(context.Background(), "hi") {
		t.Fatalf("submit reported success")
	}
	if c.Status().Waiting {
		t.Fatalf("waiting stuck after send failure")
	}
	last, _ := c.Transcript().Last()
	if last.Kind != KindError {
		t.Fatalf("last message %+v", last)
	}
}

func TestSocketClosedResetsState(t *testing.T) {
	c, tr, _ := ready(t)
	c.Submit(context.Background(), "hi")
	tr.bus.Publish(wire.Event{Type: wire.EventTextChunk, Text: "partial"})
	tr.bus.Publish(wire.Event{Type: EventSocketClosed, Message: "EOF"})
	st := c.Status()
	if st.SocketConnected || st.UpstreamOpen || st.Waiting {
		t.Fatalf("status %+v", st)
	}
	for _, m := range c.Transcript().Messages() {
		if m.Streaming {
			t.Fatalf("message still streaming after socket loss: %+v", m)
		}
	}
}

func TestUpstreamDisconnected(t *testing.T) {
	c, tr, _ := ready(t)
	tr.bus.Publish(wire.Event{Type: wire.EventDisconnected, Message: "Disconnected from Gemini Live"})
	if c.Status().UpstreamOpen {
		t.Fatalf("upstream still open")
	}
	if c.Submit(context.Background(), "hi") {
		t.Fatalf("submit after upstream close")
	}
	if err := c.Disconnect(context.Background()); err != nil || tr.disconnects != 1 {
		t.Fatalf("disconnect err=%v count=%d", err, tr.disconnects)
	}
}

func TestReconnectAfterDisconnectMidTurn(t *testing.T) {
	c, tr, _ := ready(t)
	if !c.Submit(context.Background(), "2+2?") {
		t.Fatalf("submit rejected")
	}
	tr.bus.Publish(wire.Event{Type: wire.EventTextChunk, Text: "partial"})
	tr.bus.Publish(wire.Event{Type: wire.EventDisconnected, Message: "Disconnected from Gemini Live"})
	if c.Status().Waiting {
		t.Fatalf("waiting survived upstream disconnect")
	}
	for _, m := range c.Transcript().Messages() {
		if m.Streaming {
			t.Fatalf("message still streaming after disconnect: %+v", m)
		}
	}
	tr.bus.Publish(wire.Event{Type: wire.EventConnected, Message: "Connected to Gemini Live (text only)"})
	if !c.Submit(context.Background(), "hello again") {
		t.Fatalf("submit after reconnect rejected: %+v", c.Status())
	}
}

func TestConnectSendsInstruction(t *testing.T) {
	c, tr, _ := ready(t)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if len(tr.connects) != 1 || tr.connects[0] != "be brief" {
		t.Fatalf("connects %v", tr.connects)
	}
}

type brokenSurface struct{}

func (brokenSurface) Bounds() image.Rectangle    { return image.Rectangle{} }
func (brokenSurface) Grab() (image.Image, error) { return nil, errors.New("permission denied") }
func (brokenSurface) Close() error               { return nil }

func TestCaptureErrorsBecomeStatus(t *testing.T) {
	c, _, _ := ready(t)
	if err := c.StartCapture(brokenSurface{}); err == nil {
		t.Fatalf("expected capture error")
	}
	st := c.Status()
	if st.Message == "" || st.Capturing || !st.UpstreamOpen {
		t.Fatalf("status %+v", st)
	}
}

func TestStopCaptureClearsBuffer(t *testing.T) {
	c, _, buf := ready(t)
	buf.Append(jpegFrame(1))
	c.StopCapture()
	if buf.Size() != 0 {
		t.Fatalf("buffer not cleared")
	}
}

func TestTranscriptWelcomeAndCopies(t *testing.T) {
	tr := NewTranscript()
	msgs := tr.Messages()
	if len(msgs) != 1 || msgs[0].Kind != KindSystem || msgs[0].Content != WelcomeMessage {
		t.Fatalf("messages %+v", msgs)
	}
	msgs[0].Content = "mutated"
	if tr.Messages()[0].Content != WelcomeMessage {
		t.Fatalf("snapshot aliases transcript")
	}
	var seen []Message
	unsub := tr.Subscribe(func(m Message) { seen = append(seen, m) })
	m := tr.Add(KindUser, "hi")
	tr.Update(m.ID, func(m *Message) { m.Content = "hi!" })
	unsub()
	tr.Add(KindUser, "unseen")
	if len(seen) != 2 || seen[1].Content != "hi!" {
		t.Fatalf("notifications %+v", seen)
	}
	if tr.Update("missing", func(*Message) {}) {
		t.Fatalf("update of unknown id succeeded")
	}
}
