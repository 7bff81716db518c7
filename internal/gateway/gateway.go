// Package gateway serves the client WebSocket. Each accepted connection
// owns one relay.Relay for its whole lifetime.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gaspardpetit/liverelay/internal/inflight"
	"github.com/gaspardpetit/liverelay/internal/logx"
	"github.com/gaspardpetit/liverelay/internal/metrics"
	"github.com/gaspardpetit/liverelay/internal/relay"
	"github.com/gaspardpetit/liverelay/internal/serverstate"
	"github.com/gaspardpetit/liverelay/internal/wire"
)

const (
	defaultSendBuffer   = 64
	defaultWriteTimeout = 10 * time.Second
	defaultPingInterval = 30 * time.Second
	// base64 inflates frames by a third; leave room above the 15 MiB ceiling
	defaultReadLimit = 32 << 20
)

// Config configures Handler.
type Config struct {
	// AllowedOrigins are host patterns accepted in the Origin header. Empty
	// means same-origin only.
	AllowedOrigins []string
	Relay          relay.Options
	SendBuffer     int
	WriteTimeout   time.Duration
	// PingInterval < 0 disables pings.
	PingInterval time.Duration
	ReadLimit    int64
	// Connections is incremented for each open connection. Defaults to
	// inflight.Connections().
	Connections *inflight.Counter
}

func (c Config) withDefaults() Config {
	if c.SendBuffer <= 0 {
		c.SendBuffer = defaultSendBuffer
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.PingInterval == 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = defaultReadLimit
	}
	if c.Connections == nil {
		c.Connections = inflight.Connections()
	}
	return c
}

// Handler accepts client WebSocket connections and relays them upstream
// through dialer.
func Handler(cfg Config, dialer relay.Dialer) http.HandlerFunc {
	cfg = cfg.withDefaults()
	return func(w http.ResponseWriter, r *http.Request) {
		if serverstate.IsDraining() {
			http.Error(w, "server draining", http.StatusServiceUnavailable)
			return
		}
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: cfg.AllowedOrigins})
		if err != nil {
			logx.Log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket accept failed")
			return
		}
		c.SetReadLimit(cfg.ReadLimit)
		serve(r.Context(), c, r.RemoteAddr, cfg, dialer)
	}
}

type conn struct {
	ws    *websocket.Conn
	cfg   Config
	log   zerolog.Logger
	relay *relay.Relay
	out   chan wire.Event
	ctx   context.Context
	wg    sync.WaitGroup
}

func serve(parent context.Context, ws *websocket.Conn, remote string, cfg Config, dialer relay.Dialer) {
	id := uuid.NewString()
	log := logx.Conn(id)
	release := cfg.Connections.Track()
	defer release()
	metrics.ConnectionOpened()
	defer metrics.ConnectionClosed()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	cn := &conn{
		ws:    ws,
		cfg:   cfg,
		log:   log,
		relay: relay.New(dialer, cfg.Relay, log),
		out:   make(chan wire.Event, cfg.SendBuffer),
		ctx:   ctx,
	}
	unsubscribe := cn.relay.Subscribe(func(ev wire.Event) {
		if send(ctx, cn.out, ev) {
			metrics.RecordEvent(ev.Type)
		}
	})
	log.Info().Str("remote_addr", remote).Msg("client connected")

	cn.wg.Add(2)
	go func() {
		defer cn.wg.Done()
		defer cancel()
		cn.writeLoop()
	}()
	go func() {
		defer cn.wg.Done()
		heartbeat(ctx, cfg.PingInterval, ws.Ping)
	}()

	err := cn.readLoop()
	status := websocket.CloseStatus(err)
	log.Info().Int("status", int(status)).Err(err).Msg("client disconnected")

	cancel()
	cn.relay.Disconnect()
	unsubscribe()
	cn.wg.Wait()
	if status == -1 {
		_ = ws.Close(websocket.StatusNormalClosure, "")
	} else {
		_ = ws.CloseNow()
	}
}

func (cn *conn) writeLoop() {
	for {
		select {
		case ev := <-cn.out:
			b, err := json.Marshal(ev)
			if err != nil {
				cn.log.Error().Err(err).Str("type", ev.Type).Msg("encode event")
				continue
			}
			wctx, cancel := context.WithTimeout(cn.ctx, cn.cfg.WriteTimeout)
			err = cn.ws.Write(wctx, websocket.MessageText, b)
			cancel()
			if err != nil {
				cn.log.Debug().Err(err).Msg("write failed")
				return
			}
		case <-cn.ctx.Done():
			return
		}
	}
}

func (cn *conn) readLoop() error {
	for {
		_, data, err := cn.ws.Read(cn.ctx)
		if err != nil {
			return err
		}
		cn.handle(data)
	}
}

func (cn *conn) emitError(msg string) {
	if send(cn.ctx, cn.out, wire.Event{Type: wire.EventError, Message: msg}) {
		metrics.RecordEvent(wire.EventError)
	}
}

func (cn *conn) handle(data []byte) {
	typ, msg, err := wire.Decode(data)
	if err != nil {
		cn.log.Warn().Err(err).Int("bytes", len(data)).Msg("invalid client message")
		cn.emitError("invalid message: " + err.Error())
		return
	}
	switch m := msg.(type) {
	case *wire.ConnectMessage:
		cn.wg.Add(1)
		go func() {
			defer cn.wg.Done()
			err := cn.relay.Connect(cn.ctx, m.SystemInstruction)
			if errors.Is(err, relay.ErrAlreadyOpen) || errors.Is(err, relay.ErrAlreadyConnecting) {
				cn.emitError(err.Error())
			}
		}()
	case *wire.SendTextMessage:
		cn.relay.SendText(cn.ctx, m.Text)
	case *wire.SendFramesMessage:
		cn.relay.SendTextWithFrames(cn.ctx, *m)
	case *wire.SendAudioMessage:
		cn.relay.SendAudio(cn.ctx, m.Data, m.MimeType)
	case *wire.DisconnectMessage:
		cn.relay.Disconnect()
	default:
		cn.log.Warn().Str("type", typ).Msg("unknown message type")
	}
}
