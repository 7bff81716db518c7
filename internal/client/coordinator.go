// Package client composes the relay transport, the frame buffer and the
// capturer into the chat client state machine.
package client

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gaspardpetit/liverelay/internal/capture"
	"github.com/gaspardpetit/liverelay/internal/event"
	"github.com/gaspardpetit/liverelay/internal/frame"
	"github.com/gaspardpetit/liverelay/internal/logx"
	"github.com/gaspardpetit/liverelay/internal/wire"
)

// Status is a snapshot of coordinator state for presentation.
type Status struct {
	SocketConnected bool
	UpstreamOpen    bool
	Waiting         bool
	Capturing       bool
	Frames          int
	Message         string
}

// Options configure a Coordinator.
type Options struct {
	SystemInstruction string
	Capture           capture.Options
}

// Coordinator holds the client side of one conversation.
type Coordinator struct {
	transport  Transport
	buf        *frame.Buffer
	capturer   *capture.Capturer
	transcript *Transcript
	opts       Options
	statusBus  event.Bus[Status]
	unsub      func()

	mu              sync.Mutex
	socketConnected bool
	upstreamOpen    bool
	waiting         bool
	streamingID     string
	statusMsg       string
}

// NewCoordinator wires t, buf and a capturer feeding buf. It subscribes
// to t immediately.
func NewCoordinator(t Transport, buf *frame.Buffer, opts Options) *Coordinator {
	c := &Coordinator{
		transport:  t,
		buf:        buf,
		capturer:   capture.NewCapturer(buf),
		transcript: NewTranscript(),
		opts:       opts,
	}
	c.socketConnected = t.Connected()
	c.capturer.OnError = func(err error) { c.setStatus("Capture error: " + err.Error()) }
	c.capturer.OnLargeFrame = func(f frame.Frame) {
		c.setStatus(fmt.Sprintf("Large frame captured (%d KB)", f.ByteSize/1024))
	}
	c.unsub = t.Subscribe(c.HandleEvent)
	return c
}

// Transcript returns the conversation log.
func (c *Coordinator) Transcript() *Transcript { return c.transcript }

// SubscribeStatus calls fn on every status change.
func (c *Coordinator) SubscribeStatus(fn func(Status)) (unsubscribe func()) {
	return c.statusBus.Subscribe(fn)
}

// Status returns the current state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Coordinator) statusLocked() Status {
	return Status{
		SocketConnected: c.socketConnected,
		UpstreamOpen:    c.upstreamOpen,
		Waiting:         c.waiting,
		Capturing:       c.capturer.Capturing(),
		Frames:          c.buf.Size(),
		Message:         c.statusMsg,
	}
}

func (c *Coordinator) setStatus(msg string) {
	c.mu.Lock()
	c.statusMsg = msg
	st := c.statusLocked()
	c.mu.Unlock()
	c.statusBus.Publish(st)
}

func (c *Coordinator) publishStatus() {
	c.statusBus.Publish(c.Status())
}

// Connect asks the relay to open the upstream session.
func (c *Coordinator) Connect(ctx context.Context) error {
	c.mu.Lock()
	connected := c.socketConnected
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	c.setStatus("Connecting to Gemini Live...")
	return c.transport.ConnectUpstream(ctx, c.opts.SystemInstruction)
}

// Disconnect asks the relay to close the upstream session.
func (c *Coordinator) Disconnect(ctx context.Context) error {
	if !c.transport.Connected() {
		return ErrNotConnected
	}
	return c.transport.DisconnectUpstream(ctx)
}

// Submit sends text as a user turn, with the buffered frames when there
// are any. It does nothing and returns false unless there is text, the
// upstream session is open and no response is pending.
func (c *Coordinator) Submit(ctx context.Context, text string) bool {
	text = strings.TrimSpace(text)
	c.mu.Lock()
	if text == "" || !c.socketConnected || !c.upstreamOpen || c.waiting {
		c.mu.Unlock()
		return false
	}
	c.waiting = true
	c.mu.Unlock()

	var encoded []wire.FrameData
	if c.buf.Size() > 0 {
		encoded = EncodeFrames(c.buf.DrainAll())
	}
	user := c.transcript.add(Message{Kind: KindUser, Content: text, Frames: len(encoded)})

	var err error
	if len(encoded) > 0 {
		logx.Log.Debug().Int("frames", len(encoded)).Str("message_id", user.ID).Msg("sending text with frames")
		err = c.transport.SendTextWithFrames(ctx, text, encoded)
	} else {
		err = c.transport.SendText(ctx, text)
	}
	if err != nil {
		c.mu.Lock()
		c.waiting = false
		c.mu.Unlock()
		c.transcript.Add(KindError, "Send failed: "+err.Error())
		c.publishStatus()
		return false
	}
	c.publishStatus()
	return true
}

// StartCapture begins sampling surface into the frame buffer.
func (c *Coordinator) StartCapture(s capture.Surface) error {
	if err := c.capturer.Start(s, c.opts.Capture); err != nil {
		c.setStatus("Screen capture unavailable: " + err.Error())
		return err
	}
	c.setStatus("Screen capture started")
	return nil
}

// StopCapture stops sampling and discards buffered frames.
func (c *Coordinator) StopCapture() {
	c.capturer.Stop()
	c.buf.Clear()
	c.setStatus("Screen capture stopped")
}

// HandleEvent applies one relay or socket event. Events must be delivered
// in transport order.
func (c *Coordinator) HandleEvent(ev wire.Event) {
	switch ev.Type {
	case EventSocketOpen:
		c.mu.Lock()
		c.socketConnected = true
		c.mu.Unlock()
		c.setStatus("Connected to relay server")
	case EventSocketClosed:
		c.mu.Lock()
		c.socketConnected = false
		c.upstreamOpen = false
		c.waiting = false
		id := c.streamingID
		c.streamingID = ""
		c.mu.Unlock()
		c.finish(id)
		c.setStatus("Disconnected from relay server")
	case wire.EventConnected:
		c.mu.Lock()
		c.upstreamOpen = true
		c.mu.Unlock()
		c.transcript.Add(KindSystem, ev.Message)
		c.setStatus(ev.Message)
	case wire.EventDisconnected:
		c.mu.Lock()
		c.upstreamOpen = false
		c.waiting = false
		id := c.streamingID
		c.streamingID = ""
		c.mu.Unlock()
		c.finish(id)
		c.transcript.Add(KindSystem, ev.Message)
		c.setStatus(ev.Message)
	case wire.EventProcessing:
		c.setStatus(ev.Message)
	case wire.EventTextChunk, wire.EventOutputTranscription:
		c.appendChunk(ev.Text)
	case wire.EventInputTranscription:
		c.transcript.Add(KindUser, ev.Text)
	case wire.EventTurnComplete:
		c.mu.Lock()
		id := c.streamingID
		c.streamingID = ""
		c.waiting = false
		c.mu.Unlock()
		c.finish(id)
		c.publishStatus()
	case wire.EventError:
		c.mu.Lock()
		id := c.streamingID
		c.streamingID = ""
		c.waiting = false
		c.mu.Unlock()
		c.finish(id)
		c.transcript.Add(KindError, ev.Message)
		c.setStatus("Error: " + ev.Message)
	default:
		logx.Log.Debug().Str("type", ev.Type).Msg("ignored relay event")
	}
}

func (c *Coordinator) appendChunk(text string) {
	c.mu.Lock()
	id := c.streamingID
	c.mu.Unlock()
	if id == "" || !c.transcript.Update(id, func(m *Message) { m.Content += text }) {
		m := c.transcript.add(Message{Kind: KindAI, Content: text, Streaming: true})
		c.mu.Lock()
		c.streamingID = m.ID
		c.mu.Unlock()
	}
}

func (c *Coordinator) finish(id string) {
	if id == "" {
		return
	}
	c.transcript.Update(id, func(m *Message) { m.Streaming = false })
}

// Close stops capture and detaches from the transport.
func (c *Coordinator) Close() {
	c.capturer.Stop()
	if c.unsub != nil {
		c.unsub()
	}
}
