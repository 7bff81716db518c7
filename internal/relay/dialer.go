package relay

import (
	"context"

	"github.com/gaspardpetit/liverelay/internal/live"
)

// Upstream is an open upstream session.
type Upstream interface {
	SendContent(ctx context.Context, c live.ClientContent) error
	SendRealtimeInput(ctx context.Context, in live.RealtimeInput) error
	Close() error
}

// Dialer opens upstream sessions. Implementations call cb.OnOpen once the
// session is usable, then at most one of cb.OnError or cb.OnClose.
type Dialer interface {
	Dial(ctx context.Context, systemInstruction string, cb live.Callbacks) (Upstream, error)
}

// LiveDialer dials the Gemini Live API with Base, overriding the system
// instruction and forcing text responses.
type LiveDialer struct {
	Base live.Config
}

func (d LiveDialer) Dial(ctx context.Context, systemInstruction string, cb live.Callbacks) (Upstream, error) {
	cfg := d.Base
	cfg.SystemInstruction = systemInstruction
	cfg.ResponseModalities = []string{live.ModalityText}
	s, err := live.Dial(ctx, cfg, cb)
	if err != nil {
		return nil, err
	}
	return s, nil
}
