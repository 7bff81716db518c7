// Package relay implements the per-connection session state machine that
// turns client requests into upstream turns and upstream messages into
// client events.
package relay

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gaspardpetit/liverelay/internal/event"
	"github.com/gaspardpetit/liverelay/internal/frame"
	"github.com/gaspardpetit/liverelay/internal/live"
	"github.com/gaspardpetit/liverelay/internal/metrics"
	"github.com/gaspardpetit/liverelay/internal/wire"
)

// State of the upstream session.
type State int

const (
	Idle State = iota
	Connecting
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	}
	return "unknown"
}

var (
	ErrAlreadyConnecting = errors.New("upstream connection already in progress")
	ErrAlreadyOpen       = errors.New("upstream session already open")
	ErrNotConnected      = errors.New("not connected to Gemini Live")
)

// Defaults.
const (
	DefaultMaxPayloadBytes     = 15 * 1024 * 1024
	DefaultMaxFramesPerRequest = 30
	DefaultDialTimeout         = 30 * time.Second
	DefaultAudioMimeType       = "audio/pcm;rate=16000"
)

// Event messages.
const (
	MsgConnected    = "Connected to Gemini Live (text only)"
	MsgDisconnected = "Disconnected from Gemini Live"
	MsgProcessing   = "Processing message..."
	MsgTurnTimeout  = "upstream turn timed out"
)

// Options tune a Relay. Zero values select the defaults.
type Options struct {
	// MaxPayloadBytes is the frame byte ceiling above which a turn is sent
	// as text only.
	MaxPayloadBytes     int64
	MaxFramesPerRequest int
	// TurnTimeout bounds the wait for turnComplete. Zero disables it.
	TurnTimeout              time.Duration
	DialTimeout              time.Duration
	DefaultSystemInstruction string
}

func (o Options) normalized() Options {
	if o.MaxPayloadBytes <= 0 {
		o.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	if o.MaxFramesPerRequest <= 0 {
		o.MaxFramesPerRequest = DefaultMaxFramesPerRequest
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.TurnTimeout < 0 {
		o.TurnTimeout = 0
	}
	return o
}

// Relay owns at most one upstream session for one client connection.
// Its methods are safe for concurrent use.
type Relay struct {
	dialer Dialer
	opts   Options
	log    zerolog.Logger
	bus    event.Bus[wire.Event]

	mu         sync.Mutex
	state      State
	gen        uint64
	up         Upstream
	opened     bool
	cancelDial context.CancelFunc
	// turns awaiting turnComplete, oldest first; upstream answers in order
	turns []*turn
}

type turn struct {
	start   time.Time
	timer   *time.Timer
	expired bool
}

// New returns an idle Relay.
func New(d Dialer, opts Options, log zerolog.Logger) *Relay {
	return &Relay{dialer: d, opts: opts.normalized(), log: log}
}

// Subscribe registers fn for every event the relay emits.
func (r *Relay) Subscribe(fn func(wire.Event)) (unsubscribe func()) {
	return r.bus.Subscribe(fn)
}

// State returns the current state.
func (r *Relay) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Relay) emit(typ, message string) {
	r.bus.Publish(wire.Event{Type: typ, Message: message})
}

// Connect opens the upstream session. It returns ErrAlreadyConnecting or
// ErrAlreadyOpen without side effects when a session is pending or open.
// Dial failures are reported as an error event and returned.
func (r *Relay) Connect(ctx context.Context, systemInstruction string) error {
	r.mu.Lock()
	switch r.state {
	case Connecting:
		r.mu.Unlock()
		return ErrAlreadyConnecting
	case Open:
		r.mu.Unlock()
		return ErrAlreadyOpen
	}
	r.state = Connecting
	r.gen++
	g := r.gen
	r.opened = false
	dctx, cancel := context.WithTimeout(ctx, r.opts.DialTimeout)
	r.cancelDial = cancel
	r.mu.Unlock()
	defer cancel()

	if strings.TrimSpace(systemInstruction) == "" {
		systemInstruction = r.opts.DefaultSystemInstruction
	}
	r.log.Info().Msg("connecting to upstream")
	up, err := r.dialer.Dial(dctx, systemInstruction, live.Callbacks{
		OnOpen:    func() { r.onOpen(g) },
		OnMessage: func(m live.ServerMessage) { r.onMessage(g, m) },
		OnError:   func(err error) { r.onError(g, err) },
		OnClose:   func(reason string) { r.onClose(g, reason) },
	})

	r.mu.Lock()
	if g != r.gen {
		// disconnected while dialing
		r.mu.Unlock()
		if up != nil {
			_ = up.Close()
		}
		return nil
	}
	r.cancelDial = nil
	if err != nil {
		r.state = Closed
		r.mu.Unlock()
		metrics.RecordUpstreamSession("error")
		r.log.Error().Err(err).Msg("upstream connect failed")
		r.emit(wire.EventError, fmt.Sprintf("Could not connect to Gemini Live: %v", err))
		return err
	}
	if r.state == Closed {
		// the session failed between open and return; its callback already reported it
		r.mu.Unlock()
		_ = up.Close()
		return nil
	}
	r.up = up
	announce := r.opened && r.state == Connecting
	if announce {
		r.state = Open
	}
	r.mu.Unlock()
	if announce {
		r.announceOpen()
	}
	return nil
}

func (r *Relay) onOpen(g uint64) {
	r.mu.Lock()
	if g != r.gen || r.state != Connecting {
		r.mu.Unlock()
		return
	}
	r.opened = true
	announce := r.up != nil
	if announce {
		r.state = Open
	}
	r.mu.Unlock()
	if announce {
		r.announceOpen()
	}
}

func (r *Relay) announceOpen() {
	metrics.RecordUpstreamSession("open")
	r.log.Info().Msg("upstream session open")
	r.emit(wire.EventConnected, MsgConnected)
}

func (r *Relay) onMessage(g uint64, m live.ServerMessage) {
	r.mu.Lock()
	if g != r.gen {
		r.mu.Unlock()
		return
	}
	abandoned := len(r.turns) > 0 && r.turns[0].expired
	r.mu.Unlock()

	if abandoned {
		r.onAbandoned(g, m)
		return
	}
	if text, ok := m.ModelText(); ok {
		r.log.Debug().Int("chars", len(text)).Msg("text chunk")
		r.bus.Publish(wire.Event{Type: wire.EventTextChunk, Text: text})
	}
	if text, ok := m.InputTranscript(); ok && text != "" {
		r.bus.Publish(wire.Event{Type: wire.EventInputTranscription, Text: text})
	}
	if text, ok := m.OutputTranscript(); ok && text != "" {
		r.bus.Publish(wire.Event{Type: wire.EventOutputTranscription, Text: text})
	}
	if m.TurnComplete() {
		r.mu.Lock()
		if g != r.gen {
			r.mu.Unlock()
			return
		}
		t := r.popTurnLocked()
		r.mu.Unlock()
		if t != nil {
			metrics.ObserveTurnDuration(time.Since(t.start))
		}
		r.log.Debug().Msg("turn complete")
		r.bus.Publish(wire.Event{Type: wire.EventTurnComplete})
	}
}

// onAbandoned consumes output of a turn that already timed out. Its
// turnComplete retires the turn without reaching the client.
func (r *Relay) onAbandoned(g uint64, m live.ServerMessage) {
	if text, ok := m.InputTranscript(); ok && text != "" {
		r.bus.Publish(wire.Event{Type: wire.EventInputTranscription, Text: text})
	}
	if !m.TurnComplete() {
		return
	}
	r.mu.Lock()
	if g == r.gen && len(r.turns) > 0 && r.turns[0].expired {
		r.popTurnLocked()
	}
	r.mu.Unlock()
	r.log.Debug().Msg("late turn complete for timed out turn dropped")
}

// terminate moves generation g to Closed. It reports false when g is stale.
func (r *Relay) terminate(g uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g != r.gen {
		return false
	}
	r.state = Closed
	r.up = nil
	r.clearTurnsLocked()
	return true
}

func (r *Relay) onError(g uint64, err error) {
	if !r.terminate(g) {
		return
	}
	metrics.RecordUpstreamSession("error")
	r.log.Error().Err(err).Msg("upstream error")
	r.emit(wire.EventError, err.Error())
}

func (r *Relay) onClose(g uint64, reason string) {
	if !r.terminate(g) {
		return
	}
	metrics.RecordUpstreamSession("closed")
	r.log.Info().Str("reason", reason).Msg("upstream closed")
	r.emit(wire.EventDisconnected, MsgDisconnected)
}

// openSession returns the current handle when the session is open.
func (r *Relay) openSession() (Upstream, uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Open || r.up == nil {
		return nil, 0, false
	}
	return r.up, r.gen, true
}

// SendText submits a text-only turn.
func (r *Relay) SendText(ctx context.Context, text string) {
	up, g, ok := r.openSession()
	if !ok {
		r.emit(wire.EventError, ErrNotConnected.Error())
		return
	}
	r.log.Info().Int("chars", len(text)).Msg("sending text turn")
	r.emit(wire.EventProcessing, MsgProcessing)
	if r.submit(ctx, up, g, []live.Part{live.TextPart(text)}) {
		metrics.RecordTurn(metrics.TurnText, 0, 0)
	}
}

// FrameSize is the byte size accounted for one frame: the larger of the
// caller's declared size and the decoded payload length.
func FrameSize(f wire.FrameData) int64 {
	n := int64(decodedLen(f.Data))
	if int64(f.Size) > n {
		return int64(f.Size)
	}
	return n
}

func decodedLen(s string) int {
	n := len(s) * 3 / 4
	switch {
	case strings.HasSuffix(s, "=="):
		n -= 2
	case strings.HasSuffix(s, "="):
		n--
	}
	if n < 0 {
		return 0
	}
	return n
}

// SendTextWithFrames submits text followed by one inline image per frame,
// oldest first. When the frames exceed the payload ceiling the frames are
// dropped and the text is sent alone.
func (r *Relay) SendTextWithFrames(ctx context.Context, msg wire.SendFramesMessage) {
	up, g, ok := r.openSession()
	if !ok {
		r.emit(wire.EventError, ErrNotConnected.Error())
		return
	}
	var received int64
	for _, f := range msg.Frames {
		received += FrameSize(f)
	}
	if msg.TotalFrames != len(msg.Frames) || (msg.TotalSize != 0 && msg.TotalSize != received) {
		r.log.Debug().Int("declared_frames", msg.TotalFrames).Int64("declared_bytes", msg.TotalSize).
			Int("frames", len(msg.Frames)).Int64("bytes", received).Msg("frame summary mismatch")
	}
	frames := msg.Frames
	total := received
	if extra := len(frames) - r.opts.MaxFramesPerRequest; extra > 0 {
		r.log.Warn().Int("frames", len(frames)).Int("dropped", extra).Msg("too many frames, dropping oldest")
		for _, f := range frames[:extra] {
			total -= FrameSize(f)
		}
		frames = frames[extra:]
	}
	if total > r.opts.MaxPayloadBytes {
		r.log.Warn().Int("frames", len(frames)).Int64("bytes", total).Int64("limit", r.opts.MaxPayloadBytes).
			Msg("frame sequence too large, sending text only")
		r.emit(wire.EventProcessing, MsgProcessing)
		if r.submit(ctx, up, g, []live.Part{live.TextPart(msg.Text)}) {
			metrics.RecordTurn(metrics.TurnDegraded, 0, 0)
		}
		return
	}
	parts := make([]live.Part, 0, len(frames)+1)
	parts = append(parts, live.TextPart(msg.Text))
	for _, f := range frames {
		mime := f.MimeType
		if mime == "" {
			mime = frame.MimeJPEG
		}
		parts = append(parts, live.InlinePart(mime, f.Data))
	}
	r.log.Info().Int("frames", len(frames)).Int64("bytes", total).Msg("sending text with frames")
	r.emit(wire.EventProcessing, fmt.Sprintf("Processing message with %d frames...", len(frames)))
	if r.submit(ctx, up, g, parts) {
		metrics.RecordTurn(metrics.TurnFrames, len(frames), total)
	}
}

// submit registers the turn before sending so a fast turnComplete cannot
// race it. It reports whether the upstream accepted the turn.
func (r *Relay) submit(ctx context.Context, up Upstream, g uint64, parts []live.Part) bool {
	t := r.startTurn(g)
	err := up.SendContent(ctx, live.ClientContent{
		Turns:        []live.Content{{Role: "user", Parts: parts}},
		TurnComplete: true,
	})
	if err != nil {
		r.mu.Lock()
		if g == r.gen {
			r.dropTurnLocked(t)
		}
		r.mu.Unlock()
		r.sendFailed(g, err)
		return false
	}
	return true
}

func (r *Relay) sendFailed(g uint64, err error) {
	r.mu.Lock()
	stale := g != r.gen
	r.mu.Unlock()
	if stale {
		return
	}
	r.log.Error().Err(err).Msg("upstream send failed")
	r.emit(wire.EventError, fmt.Sprintf("Failed to send message: %v", err))
}

// SendAudio forwards base64 audio as realtime input.
func (r *Relay) SendAudio(ctx context.Context, data, mimeType string) {
	up, g, ok := r.openSession()
	if !ok {
		r.emit(wire.EventError, ErrNotConnected.Error())
		return
	}
	if mimeType == "" {
		mimeType = DefaultAudioMimeType
	}
	if _, err := base64.StdEncoding.DecodeString(data); err != nil {
		r.emit(wire.EventError, fmt.Sprintf("invalid audio payload: %v", err))
		return
	}
	if err := up.SendRealtimeInput(ctx, live.RealtimeInput{Audio: &live.Blob{MimeType: mimeType, Data: data}}); err != nil {
		r.sendFailed(g, err)
	}
}

func (r *Relay) startTurn(g uint64) *turn {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g != r.gen {
		return nil
	}
	t := &turn{start: time.Now()}
	if r.opts.TurnTimeout > 0 {
		t.timer = time.AfterFunc(r.opts.TurnTimeout, func() { r.turnExpired(g, t) })
	}
	r.turns = append(r.turns, t)
	return t
}

func (r *Relay) turnExpired(g uint64, t *turn) {
	r.mu.Lock()
	if g != r.gen || t.expired || !r.pendingLocked(t) {
		r.mu.Unlock()
		return
	}
	t.expired = true
	r.mu.Unlock()
	r.log.Warn().Dur("timeout", r.opts.TurnTimeout).Msg("upstream turn timed out")
	r.emit(wire.EventError, MsgTurnTimeout)
}

// The helpers below must be called with mu held.

func (r *Relay) pendingLocked(t *turn) bool {
	for _, p := range r.turns {
		if p == t {
			return true
		}
	}
	return false
}

func (r *Relay) popTurnLocked() *turn {
	if len(r.turns) == 0 {
		return nil
	}
	t := r.turns[0]
	r.turns[0] = nil
	r.turns = r.turns[1:]
	if t.timer != nil {
		t.timer.Stop()
	}
	return t
}

func (r *Relay) dropTurnLocked(t *turn) {
	for i, p := range r.turns {
		if p == t {
			if t.timer != nil {
				t.timer.Stop()
			}
			r.turns = append(r.turns[:i], r.turns[i+1:]...)
			return
		}
	}
}

func (r *Relay) clearTurnsLocked() {
	for _, t := range r.turns {
		if t.timer != nil {
			t.timer.Stop()
		}
	}
	r.turns = nil
}

// Disconnect closes the upstream session if one exists or is being
// dialed. A disconnected event is emitted in that case. Callbacks from the
// closed session are dropped.
func (r *Relay) Disconnect() {
	r.mu.Lock()
	had := r.up != nil || r.state == Connecting
	up := r.up
	cancel := r.cancelDial
	r.up = nil
	r.cancelDial = nil
	r.gen++
	r.clearTurnsLocked()
	if had {
		r.state = Closed
	}
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if up != nil {
		if err := up.Close(); err != nil {
			r.log.Debug().Err(err).Msg("upstream close")
		}
	}
	if had {
		metrics.RecordUpstreamSession("closed")
		r.log.Info().Msg("upstream disconnected")
		r.emit(wire.EventDisconnected, MsgDisconnected)
	}
}
