package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/coder/websocket"

	"github.com/gaspardpetit/liverelay/internal/event"
	"github.com/gaspardpetit/liverelay/internal/logx"
	"github.com/gaspardpetit/liverelay/internal/reconnect"
	"github.com/gaspardpetit/liverelay/internal/wire"
)

// Socket status events published by transports next to relay events.
const (
	EventSocketOpen   = "socketOpen"
	EventSocketClosed = "socketClosed"
)

// ErrNotConnected is returned when the relay socket is down.
var ErrNotConnected = errors.New("not connected to relay server")

// Transport carries client requests to the relay and relay events back.
type Transport interface {
	Connected() bool
	ConnectUpstream(ctx context.Context, systemInstruction string) error
	SendText(ctx context.Context, text string) error
	SendTextWithFrames(ctx context.Context, text string, frames []wire.FrameData) error
	DisconnectUpstream(ctx context.Context) error
	Subscribe(fn func(wire.Event)) (unsubscribe func())
}

const readLimit = 4 << 20

// WSTransport is a Transport over a coder/websocket client connection.
type WSTransport struct {
	url string
	bus event.Bus[wire.Event]

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWSTransport returns a transport for the relay at url. Call Dial
// before sending.
func NewWSTransport(url string) *WSTransport {
	return &WSTransport{url: url}
}

// Subscribe registers fn for relay events and socket status events.
func (t *WSTransport) Subscribe(fn func(wire.Event)) func() { return t.bus.Subscribe(fn) }

// Dial connects, retrying on the reconnect schedule up to attempts times
// (attempts <= 0 retries until ctx ends).
func (t *WSTransport) Dial(ctx context.Context, attempts int) error {
	return reconnect.Retry(ctx, attempts, nil, func(ctx context.Context) error {
		err := t.dialOnce(ctx)
		if err != nil {
			logx.Log.Warn().Err(err).Str("url", t.url).Msg("relay dial failed")
		}
		return err
	})
}

func (t *WSTransport) dialOnce(ctx context.Context) error {
	c, _, err := websocket.Dial(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.url, err)
	}
	c.SetReadLimit(readLimit)
	rctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.mu.Lock()
	t.conn, t.cancel, t.done = c, cancel, done
	t.mu.Unlock()
	logx.Log.Info().Str("url", t.url).Msg("connected to relay")
	t.bus.Publish(wire.Event{Type: EventSocketOpen})
	go t.readLoop(rctx, c, done)
	return nil
}

func (t *WSTransport) readLoop(ctx context.Context, c *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			t.mu.Lock()
			if t.conn == c {
				t.conn = nil
			}
			t.mu.Unlock()
			logx.Log.Info().Err(err).Msg("relay connection closed")
			t.bus.Publish(wire.Event{Type: EventSocketClosed, Message: err.Error()})
			return
		}
		var ev wire.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			logx.Log.Warn().Err(err).Msg("undecodable relay event")
			continue
		}
		t.bus.Publish(ev)
	}
}

// Connected reports whether the socket is open.
func (t *WSTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

func (t *WSTransport) write(ctx context.Context, v any) error {
	t.mu.Lock()
	c := t.conn
	t.mu.Unlock()
	if c == nil {
		return ErrNotConnected
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Write(ctx, websocket.MessageText, b)
}

func (t *WSTransport) ConnectUpstream(ctx context.Context, systemInstruction string) error {
	return t.write(ctx, wire.ConnectMessage{Type: wire.TypeConnectGemini, SystemInstruction: systemInstruction})
}

func (t *WSTransport) SendText(ctx context.Context, text string) error {
	return t.write(ctx, wire.SendTextMessage{Type: wire.TypeSendText, Text: text})
}

func (t *WSTransport) SendTextWithFrames(ctx context.Context, text string, frames []wire.FrameData) error {
	var total int64
	for _, f := range frames {
		total += int64(f.Size)
	}
	return t.write(ctx, wire.SendFramesMessage{
		Type:        wire.TypeSendTextWithFrameSequence,
		Text:        text,
		Frames:      frames,
		TotalFrames: len(frames),
		TotalSize:   total,
	})
}

func (t *WSTransport) DisconnectUpstream(ctx context.Context) error {
	return t.write(ctx, wire.DisconnectMessage{Type: wire.TypeDisconnectGemini})
}

// Close closes the socket and waits for the read loop to exit.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	c, cancel, done := t.conn, t.cancel, t.done
	t.mu.Unlock()
	if c == nil && done == nil {
		return nil
	}
	var err error
	if c != nil {
		err = c.Close(websocket.StatusNormalClosure, "")
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	return err
}
