// Package live is a client for the Gemini Live BidiGenerateContent
// WebSocket API.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gaspardpetit/liverelay/internal/logx"
)

// DefaultURL is the public BidiGenerateContent endpoint.
const DefaultURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

const (
	defaultDialTimeout    = 30 * time.Second
	defaultSetupTimeout   = 30 * time.Second
	defaultWriteTimeout   = 10 * time.Second
	defaultMaxMessageSize = 16 * 1024 * 1024
	heartbeatInterval     = 30 * time.Second
)

// ErrSessionClosed is returned by Send methods after Close or after the
// server ended the session.
var ErrSessionClosed = errors.New("live session closed")

// Config describes one upstream session.
type Config struct {
	URL                string
	APIKey             string
	Model              string
	SystemInstruction  string
	ResponseModalities []string
	// Transcriptions asks the service for input and output speech transcripts.
	Transcriptions bool
	DialTimeout    time.Duration
	SetupTimeout   time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if len(c.ResponseModalities) == 0 {
		c.ResponseModalities = []string{ModalityText}
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.SetupTimeout <= 0 {
		c.SetupTimeout = defaultSetupTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}
	return c
}

func (c Config) setup() Setup {
	s := Setup{
		Model:            ModelPath(c.Model),
		GenerationConfig: GenerationConfig{ResponseModalities: c.ResponseModalities},
	}
	if strings.TrimSpace(c.SystemInstruction) != "" {
		s.SystemInstruction = &Content{Parts: []Part{TextPart(c.SystemInstruction)}}
	}
	if c.Transcriptions {
		s.InputAudioTranscription = &struct{}{}
		s.OutputAudioTranscription = &struct{}{}
	}
	return s
}

// Callbacks receive session events. OnMessage runs on the receive
// goroutine; after OnOpen, exactly one of OnError or OnClose is invoked
// unless the session is closed locally first.
type Callbacks struct {
	OnOpen    func()
	OnMessage func(ServerMessage)
	OnError   func(error)
	OnClose   func(reason string)
}

// Session is an open upstream session.
type Session struct {
	conn *websocket.Conn
	cb   Callbacks
	cfg  Config

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// Dial opens a session, performs the setup handshake and starts the
// receive loop. The returned session is ready for sends.
func Dial(ctx context.Context, cfg Config, cb Callbacks) (*Session, error) {
	cfg = cfg.withDefaults()
	header := http.Header{}
	if cfg.APIKey != "" {
		header.Set("x-goog-api-key", cfg.APIKey)
	}
	dialer := websocket.Dialer{HandshakeTimeout: cfg.DialTimeout}
	conn, resp, err := dialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial live api: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial live api: %w", err)
	}
	conn.SetReadLimit(cfg.MaxMessageSize)

	// abort the handshake if ctx ends before setupComplete
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	if err := handshake(conn, cfg); err != nil {
		stop()
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("live setup: %w", ctx.Err())
		}
		return nil, err
	}
	if !stop() {
		_ = conn.Close()
		return nil, fmt.Errorf("live setup: %w", ctx.Err())
	}

	s := &Session{conn: conn, cb: cb, cfg: cfg, done: make(chan struct{})}
	logx.Log.Debug().Str("model", cfg.setup().Model).Msg("live session open")
	if cb.OnOpen != nil {
		cb.OnOpen()
	}
	go s.readLoop()
	go s.heartbeat()
	return s, nil
}

func handshake(conn *websocket.Conn, cfg Config) error {
	setup := cfg.setup()
	_ = conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
	if err := conn.WriteJSON(clientMessage{Setup: &setup}); err != nil {
		return fmt.Errorf("send setup: %w", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(cfg.SetupTimeout))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return fmt.Errorf("live setup rejected: %s", closeReason(ce))
			}
			return fmt.Errorf("await setupComplete: %w", err)
		}
		var msg ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("decode setup response: %w", err)
		}
		if msg.SetupComplete != nil {
			break
		}
	}
	_ = conn.SetReadDeadline(time.Time{})
	return nil
}

func (s *Session) readLoop() {
	defer close(s.done)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.markClosed() {
				return
			}
			_ = s.conn.Close()
			var ce *websocket.CloseError
			if errors.As(err, &ce) && (ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway) {
				if s.cb.OnClose != nil {
					s.cb.OnClose(closeReason(ce))
				}
				return
			}
			if errors.As(err, &ce) {
				err = errors.New(closeReason(ce))
			}
			if s.cb.OnError != nil {
				s.cb.OnError(err)
			}
			return
		}
		var msg ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logx.Log.Warn().Err(err).Int("bytes", len(data)).Msg("undecodable live message")
			continue
		}
		if msg.GoAway != nil {
			logx.Log.Info().Str("time_left", msg.GoAway.TimeLeft).Msg("live api going away")
		}
		if s.cb.OnMessage != nil {
			s.cb.OnMessage(msg)
		}
	}
}

func (s *Session) heartbeat() {
	t := time.NewTicker(heartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func closeReason(ce *websocket.CloseError) string {
	if ce.Text != "" {
		return ce.Text
	}
	return fmt.Sprintf("closed with code %d", ce.Code)
}

// SendContent submits a clientContent message.
func (s *Session) SendContent(ctx context.Context, c ClientContent) error {
	return s.send(ctx, clientMessage{ClientContent: &c})
}

// SendRealtimeInput submits a realtimeInput message.
func (s *Session) SendRealtimeInput(ctx context.Context, in RealtimeInput) error {
	return s.send(ctx, clientMessage{RealtimeInput: &in})
}

func (s *Session) send(ctx context.Context, msg clientMessage) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline := time.Now().Add(s.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write live message: %w", err)
	}
	return nil
}

// Close ends the session. No callbacks fire afterwards. Safe to call
// more than once.
func (s *Session) Close() error {
	if !s.markClosed() {
		return nil
	}
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	return s.conn.Close()
}

// Done is closed when the receive loop exits.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// markClosed flips the closed flag and reports whether this call did it.
func (s *Session) markClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	return true
}
